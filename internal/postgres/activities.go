package postgres

import (
	"context"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

func (s *Store) CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	out := *a
	loc := a.Location

	var id int64
	err := s.pool.QueryRow(ctx, queryInsertActivity,
		int64(a.UserID), a.GroupName, a.ActivityType, a.Description, a.Contact.Email, a.Contact.Phone,
		loc.Lat, loc.Lng, loc.City, loc.State, loc.Zipcode, loc.CenteringLevel, s.now().UTC(),
	).Scan(&id, &out.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	out.ID = domain.ActivityID(id)
	return &out, nil
}

func (s *Store) ListActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, queryListActivities, lim)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Activity, 0, 16)
	for rows.Next() {
		var (
			a       domain.Activity
			id, uid int64
		)
		err := rows.Scan(&id, &uid, &a.GroupName, &a.ActivityType, &a.Description, &a.Contact.Email, &a.Contact.Phone,
			&a.Location.Lat, &a.Location.Lng, &a.Location.City, &a.Location.State, &a.Location.Zipcode,
			&a.Location.CenteringLevel, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.ID = domain.ActivityID(id)
		a.UserID = domain.UserID(uid)
		out = append(out, a)
	}
	return out, rows.Err()
}
