package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

func (s *Store) AppendMessage(_ context.Context, groupID domain.GroupID, userID domain.UserID, username, text string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}

	log := s.st.messages[groupID]

	// время сервера, не раньше последнего сообщения группы: порядок по времени == порядок append
	ts := s.now().UTC()
	if n := len(log); n > 0 && ts.Before(log[n-1].CreatedAt) {
		ts = log[n-1].CreatedAt
	}

	m := domain.Message{
		ID:        s.st.nextMessageID,
		GroupID:   groupID,
		UserID:    userID,
		Username:  username,
		Text:      text,
		CreatedAt: ts,
	}
	s.st.nextMessageID++

	s.st.messages[groupID] = append(log, m)
	s.st.msgGroup[m.ID] = groupID

	return &m, nil
}

func (s *Store) RecentMessages(_ context.Context, groupID domain.GroupID, before *repository.Cursor, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.st.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	log := s.st.messages[groupID]
	end := len(log)
	if before != nil {
		// лог отсортирован по (created_at, id)
		end = sort.Search(len(log), func(i int) bool { return !before.After(log[i]) })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]domain.Message, end-start)
	copy(out, log[start:end])
	return out, nil
}

func (s *Store) ListMessages(_ context.Context, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, 0, len(s.st.msgGroup))
	for _, log := range s.st.messages {
		out = append(out, log...)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteMessage(_ context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gid, ok := s.st.msgGroup[id]
	if !ok {
		return fmt.Errorf("%w: message %d", domain.ErrNotFound, id)
	}
	log := s.st.messages[gid]
	for i := range log {
		if log[i].ID == id {
			s.st.messages[gid] = append(log[:i:i], log[i+1:]...)
			break
		}
	}
	delete(s.st.msgGroup, id)

	return nil
}
