package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

const DefaultActivityLimit = 100

// Geocoder: внешний сервис, почтовый индекс -> координаты, город, штат.
type Geocoder interface {
	Lookup(ctx context.Context, zipcode string) (domain.Location, error)
}

type PostActivityInput struct {
	GroupName    string
	ActivityType string
	Description  string
	Contact      domain.Contact
	Location     domain.Location
}

// ActivityService: лента объявлений о помощи.
type ActivityService struct {
	activities repository.ActivityRepository
	groups     repository.GroupRepository
	geo        Geocoder
}

func NewActivityService(activities repository.ActivityRepository, groups repository.GroupRepository, geo Geocoder) *ActivityService {
	return &ActivityService{activities: activities, groups: groups, geo: geo}
}

// ValidateAddress проверяет индекс и возвращает его геокод.
func (s *ActivityService) ValidateAddress(ctx context.Context, zipcode string) (domain.Location, error) {
	zip, err := domain.NormalizeZipcode(zipcode)
	if err != nil {
		return domain.Location{}, err
	}
	if s.geo == nil {
		return domain.Location{}, fmt.Errorf("%w: geocoding is disabled", domain.ErrNotFound)
	}
	loc, err := s.geo.Lookup(ctx, zip)
	if err != nil {
		return domain.Location{}, err
	}
	loc.Zipcode = zip
	return loc, nil
}

// Post публикует активность. Координаты, пришедшие от клиента, не перепроверяются;
// без них место геокодируется по индексу.
func (s *ActivityService) Post(ctx context.Context, userID domain.UserID, in PostActivityInput) (*domain.Activity, error) {
	a, err := domain.NewActivity(userID, in.GroupName, in.ActivityType, in.Description, in.Contact, in.Location)
	if err != nil {
		return nil, err
	}
	if a.GroupName != "" {
		if err := s.checkGroup(ctx, userID, a); err != nil {
			return nil, err
		}
	}
	if !a.Location.HasCoordinates() {
		loc, err := s.ValidateAddress(ctx, a.Location.Zipcode)
		if err != nil {
			return nil, err
		}
		a.Location = loc
	}

	saved, err := s.activities.CreateActivity(ctx, a)
	if err != nil {
		return nil, err
	}
	slog.Info("activity posted",
		slog.Int64("activity_id", int64(saved.ID)),
		slog.Int64("user_id", int64(userID)),
		slog.String("type", saved.ActivityType),
		slog.String("zipcode", saved.Location.Zipcode),
	)
	return saved, nil
}

// checkGroup: объявлять можно только от своей группы; имя приводится к каноническому.
func (s *ActivityService) checkGroup(ctx context.Context, userID domain.UserID, a *domain.Activity) error {
	mine, err := s.groups.ListUserGroups(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range mine {
		if strings.EqualFold(g.Name, a.GroupName) {
			a.GroupName = g.Name
			return nil
		}
	}
	return fmt.Errorf("%w: user %d is not a member of group %q", domain.ErrForbidden, userID, a.GroupName)
}

// List: новые сначала, не больше limit (<= 0 или сверх предела: DefaultActivityLimit).
func (s *ActivityService) List(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit <= 0 || limit > DefaultActivityLimit {
		limit = DefaultActivityLimit
	}
	return s.activities.ListActivities(ctx, limit)
}
