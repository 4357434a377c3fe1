package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

const discoverLimit = 10

type CreateGroupInput struct {
	Name        string
	Description string
	Zipcode     string
}

// Discovery: группы, в которых пользователь ещё не состоит.
type Discovery struct {
	Nearby  []domain.Group
	Popular []domain.Group
}

type GroupService struct {
	groups  repository.GroupRepository
	users   repository.UserRepository
	evictor Evictor
	now     func() time.Time
}

func NewGroupService(groups repository.GroupRepository, users repository.UserRepository, evictor Evictor, now func() time.Time) *GroupService {
	if evictor == nil {
		evictor = nopEvictor{}
	}
	if now == nil {
		now = time.Now
	}
	return &GroupService{groups: groups, users: users, evictor: evictor, now: now}
}

func (s *GroupService) Create(ctx context.Context, creator domain.UserID, in CreateGroupInput) (*domain.Group, error) {
	g, err := domain.NewGroup(in.Name, in.Description, in.Zipcode, s.now())
	if err != nil {
		return nil, err
	}

	id, err := s.groups.CreateGroup(ctx, g, creator)
	if err != nil {
		return nil, err
	}

	slog.Info("group created", slog.Int64("group_id", int64(id)), slog.Int64("user_id", int64(creator)))
	return s.groups.GetGroup(ctx, id)
}

func (s *GroupService) Get(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	return s.groups.GetGroup(ctx, id)
}

func (s *GroupService) Mine(ctx context.Context, userID domain.UserID) ([]domain.Group, error) {
	return s.groups.ListUserGroups(ctx, userID)
}

func (s *GroupService) Discover(ctx context.Context, userID domain.UserID) (*Discovery, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	all, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	others := make([]domain.Group, 0, len(all))
	for _, g := range all {
		if !u.InGroup(g.ID) {
			others = append(others, g)
		}
	}

	d := &Discovery{Nearby: []domain.Group{}, Popular: []domain.Group{}}
	if u.Zipcode != "" {
		for _, g := range others {
			if g.Zipcode == u.Zipcode && len(d.Nearby) < discoverLimit {
				d.Nearby = append(d.Nearby, g)
			}
		}
	}

	sort.SliceStable(others, func(i, j int) bool { return len(others[i].Members) > len(others[j].Members) })
	if len(others) > discoverLimit {
		others = others[:discoverLimit]
	}
	d.Popular = append(d.Popular, others...)

	return d, nil
}

func (s *GroupService) Join(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (*domain.Group, error) {
	g, err := s.groups.AddMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	slog.Debug("group joined", slog.Int64("group_id", int64(groupID)), slog.Int64("user_id", int64(userID)))
	return g, nil
}

// Leave убирает членство и сразу снимает живые подписки пользователя на комнату.
func (s *GroupService) Leave(ctx context.Context, userID domain.UserID, groupID domain.GroupID) error {
	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.evictor.EvictMember(groupID, userID, ReasonLeftGroup)
	slog.Debug("group left", slog.Int64("group_id", int64(groupID)), slog.Int64("user_id", int64(userID)))
	return nil
}

func (s *GroupService) IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	return s.groups.IsMember(ctx, userID, groupID)
}
