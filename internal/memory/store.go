// Package memory: хранилище по умолчанию: все коллекции живут в памяти процесса
// и принадлежат одному объекту Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type userRecord struct {
	user   domain.User
	groups map[domain.GroupID]struct{}
}

type groupRecord struct {
	group   domain.Group
	members map[domain.UserID]struct{}
}

// state: все коллекции и счетчики; Reset подменяет его целиком.
type state struct {
	users    map[domain.UserID]*userRecord
	groups   map[domain.GroupID]*groupRecord
	messages map[domain.GroupID][]domain.Message
	msgGroup map[domain.MessageID]domain.GroupID
	// в порядке публикации
	activities []domain.Activity

	nextUserID     domain.UserID
	nextGroupID    domain.GroupID
	nextMessageID  domain.MessageID
	nextActivityID domain.ActivityID
}

func newState() *state {
	return &state{
		users:          make(map[domain.UserID]*userRecord),
		groups:         make(map[domain.GroupID]*groupRecord),
		messages:       make(map[domain.GroupID][]domain.Message),
		msgGroup:       make(map[domain.MessageID]domain.GroupID),
		nextUserID:     1,
		nextGroupID:    1,
		nextMessageID:  1,
		nextActivityID: 1,
	}
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{st: newState(), now: now}
}

func (s *Store) Reset(_ context.Context) error {
	fresh := newState()

	s.mu.Lock()
	s.st = fresh
	s.mu.Unlock()

	return nil
}

func (s *Store) Close() {}

// ---------- users ----------

func (s *Store) CreateUser(_ context.Context, u *domain.User) (domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueUserLocked(0, u.Username, u.Email); err != nil {
		return 0, err
	}

	id := s.st.nextUserID
	s.st.nextUserID++

	rec := &userRecord{user: *u, groups: make(map[domain.GroupID]struct{})}
	rec.user.ID = id
	rec.user.Groups = nil
	s.st.users[id] = rec

	return id, nil
}

func (s *Store) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
	}
	u := rec.snapshot()
	return &u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username = strings.TrimSpace(username)
	for _, rec := range s.st.users {
		if strings.EqualFold(rec.user.Username, username) {
			u := rec.snapshot()
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", domain.ErrNotFound, username)
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.st.users))
	for _, rec := range s.st.users {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st.users[u.ID]
	if !ok {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, u.ID)
	}
	if err := s.checkUniqueUserLocked(u.ID, u.Username, u.Email); err != nil {
		return err
	}

	rec.user.Username = u.Username
	rec.user.Email = u.Email
	rec.user.Zipcode = u.Zipcode
	rec.user.Pronouns = u.Pronouns
	rec.user.Bio = u.Bio
	rec.user.IsAdmin = u.IsAdmin
	if u.PasswordHash != "" {
		rec.user.PasswordHash = u.PasswordHash
	}
	rec.user.UpdatedAt = u.UpdatedAt

	return nil
}

func (s *Store) DeleteUser(_ context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
	}
	for gid := range rec.groups {
		if g, ok := s.st.groups[gid]; ok {
			delete(g.members, id)
		}
	}
	delete(s.st.users, id)

	return nil
}

func (s *Store) checkUniqueUserLocked(self domain.UserID, username, email string) error {
	for id, rec := range s.st.users {
		if id == self {
			continue
		}
		if strings.EqualFold(rec.user.Username, username) {
			return fmt.Errorf("%w: username %q", domain.ErrConflict, username)
		}
		if rec.user.Email == email {
			return fmt.Errorf("%w: email %q", domain.ErrConflict, email)
		}
	}
	return nil
}

func (r *userRecord) snapshot() domain.User {
	u := r.user
	u.Groups = domain.SortedGroupIDs(r.groups)
	return u
}

// ---------- groups ----------

func (s *Store) CreateGroup(_ context.Context, g *domain.Group, creator domain.UserID) (domain.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urec, ok := s.st.users[creator]
	if !ok {
		return 0, fmt.Errorf("%w: user %d", domain.ErrNotFound, creator)
	}
	for _, rec := range s.st.groups {
		if strings.EqualFold(rec.group.Name, g.Name) {
			return 0, fmt.Errorf("%w: group %q", domain.ErrConflict, g.Name)
		}
	}

	id := s.st.nextGroupID
	s.st.nextGroupID++

	rec := &groupRecord{group: *g, members: make(map[domain.UserID]struct{})}
	rec.group.ID = id
	rec.group.Members = nil
	s.st.groups[id] = rec

	rec.members[creator] = struct{}{}
	urec.groups[id] = struct{}{}

	return id, s.checkLinkLocked(creator, id)
}

func (s *Store) GetGroup(_ context.Context, id domain.GroupID) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.st.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, id)
	}
	g := rec.snapshot()
	return &g, nil
}

func (s *Store) ListGroups(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Group, 0, len(s.st.groups))
	for _, rec := range s.st.groups {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListUserGroups(_ context.Context, userID domain.UserID) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urec, ok := s.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, userID)
	}
	out := make([]domain.Group, 0, len(urec.groups))
	for _, gid := range domain.SortedGroupIDs(urec.groups) {
		if g, ok := s.st.groups[gid]; ok {
			out = append(out, g.snapshot())
		}
	}
	return out, nil
}

func (s *Store) AddMember(_ context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grec, urec, err := s.pairLocked(groupID, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := grec.members[userID]; ok {
		return nil, fmt.Errorf("%w: user %d already in group %d", domain.ErrConflict, userID, groupID)
	}

	grec.members[userID] = struct{}{}
	urec.groups[groupID] = struct{}{}

	if err := s.checkLinkLocked(userID, groupID); err != nil {
		return nil, err
	}
	g := grec.snapshot()
	return &g, nil
}

func (s *Store) RemoveMember(_ context.Context, groupID domain.GroupID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grec, urec, err := s.pairLocked(groupID, userID)
	if err != nil {
		return err
	}
	if _, ok := grec.members[userID]; !ok {
		return fmt.Errorf("%w: user %d is not in group %d", domain.ErrNotFound, userID, groupID)
	}

	delete(grec.members, userID)
	delete(urec.groups, groupID)

	return s.checkLinkLocked(userID, groupID)
}

func (s *Store) IsMember(_ context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grec, ok := s.st.groups[groupID]
	if !ok {
		return false, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}
	_, member := grec.members[userID]
	return member, nil
}

func (s *Store) pairLocked(groupID domain.GroupID, userID domain.UserID) (*groupRecord, *userRecord, error) {
	grec, ok := s.st.groups[groupID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: group %d", domain.ErrNotFound, groupID)
	}
	urec, ok := s.st.users[userID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, userID)
	}
	return grec, urec, nil
}

// checkLinkLocked проверяет инвариант U ∈ G.members ⟺ G ∈ U.groups для пары.
func (s *Store) checkLinkLocked(userID domain.UserID, groupID domain.GroupID) error {
	var inGroup, inUser bool
	if g, ok := s.st.groups[groupID]; ok {
		_, inGroup = g.members[userID]
	}
	if u, ok := s.st.users[userID]; ok {
		_, inUser = u.groups[groupID]
	}
	if inGroup != inUser {
		return fmt.Errorf("%w: user %d group %d", domain.ErrInconsistent, userID, groupID)
	}
	return nil
}

// CheckConsistency проходит по всем связям; используется тестами и админским reset.
func (s *Store) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for gid, g := range s.st.groups {
		for uid := range g.members {
			if err := s.checkLinkLocked(uid, gid); err != nil {
				return err
			}
		}
	}
	for uid, u := range s.st.users {
		for gid := range u.groups {
			if err := s.checkLinkLocked(uid, gid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *groupRecord) snapshot() domain.Group {
	g := r.group
	g.Members = domain.SortedUserIDs(r.members)
	return g
}
