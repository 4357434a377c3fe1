package memory

import (
	"context"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

func (s *Store) CreateActivity(_ context.Context, a *domain.Activity) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *a
	out.ID = s.st.nextActivityID
	s.st.nextActivityID++

	out.CreatedAt = s.now().UTC()
	if n := len(s.st.activities); n > 0 && out.CreatedAt.Before(s.st.activities[n-1].CreatedAt) {
		out.CreatedAt = s.st.activities[n-1].CreatedAt
	}

	s.st.activities = append(s.st.activities, out)
	return &out, nil
}

func (s *Store) ListActivities(_ context.Context, limit int) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.st.activities)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Activity, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.st.activities[i])
	}
	return out, nil
}
