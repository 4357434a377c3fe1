// Package gateway: шлюз сессий: аутентификация соединения, вход в комнату
// по членству, отправка сообщений в журнал с рассылкой подписчикам.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/hub"

	"github.com/google/uuid"
)

const (
	DefaultLookupTimeout = 5 * time.Second
	DefaultHistoryLimit  = 50
)

type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (domain.Principal, error)
}

type Membership interface {
	IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error)
}

type MessageLog interface {
	Append(ctx context.Context, groupID domain.GroupID, userID domain.UserID, text string) (*domain.Message, error)
	Recent(ctx context.Context, groupID domain.GroupID, limit int) ([]domain.Message, error)
}

type Gateway struct {
	auth     Authenticator
	members  Membership
	messages MessageLog
	rooms    *hub.Registry

	lookupTimeout time.Duration
	historyLimit  int

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[domain.UserID]map[string]*Session
	locks    map[domain.GroupID]*sync.Mutex
	evicted  map[memberKey]uint64
}

type memberKey struct {
	group domain.GroupID
	user  domain.UserID
}

type Option func(*Gateway)

func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.lookupTimeout = d
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(g *Gateway) {
		if n > 0 && n <= DefaultHistoryLimit {
			g.historyLimit = n
		}
	}
}

func New(auth Authenticator, members Membership, messages MessageLog, rooms *hub.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		auth:          auth,
		members:       members,
		messages:      messages,
		rooms:         rooms,
		lookupTimeout: DefaultLookupTimeout,
		historyLimit:  DefaultHistoryLimit,
		sessions:      make(map[string]*Session),
		byUser:        make(map[domain.UserID]map[string]*Session),
		locks:         make(map[domain.GroupID]*sync.Mutex),
		evicted:       make(map[memberKey]uint64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open регистрирует новое соединение в состоянии UNAUTHENTICATED.
func (g *Gateway) Open(out Outbox) *Session {
	s := &Session{id: uuid.NewString(), gw: g, out: out}

	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()

	return s
}

func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sessions)
}

func (g *Gateway) bindUser(s *Session, id domain.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.byUser[id]
	if !ok {
		set = make(map[string]*Session)
		g.byUser[id] = set
	}
	set[s.id] = s
}

func (g *Gateway) unbindUser(s *Session, id domain.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, ok := g.byUser[id]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(g.byUser, id)
		}
	}
}

func (g *Gateway) forget(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.sessions, s.id)
}

func (g *Gateway) userSessions(id domain.UserID) []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Session, 0, len(g.byUser[id]))
	for _, s := range g.byUser[id] {
		out = append(out, s)
	}
	return out
}

func (g *Gateway) allSessions() []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

// lockGroups берёт замки комнат в порядке возрастания id; 0 пропускается.
func (g *Gateway) lockGroups(ids ...domain.GroupID) (unlock func()) {
	uniq := make([]domain.GroupID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		dup := false
		for _, u := range uniq {
			if u == id {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })

	g.mu.Lock()
	locks := make([]*sync.Mutex, 0, len(uniq))
	for _, id := range uniq {
		l, ok := g.locks[id]
		if !ok {
			l = &sync.Mutex{}
			g.locks[id] = l
		}
		locks = append(locks, l)
	}
	g.mu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// lookup ограничивает обращение к хранилищу идентичностей по времени.
// Хранилище может не уважать ctx, поэтому ждём в select.
func (g *Gateway) lookup(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", domain.ErrTimeout, g.lookupTimeout)
		}
		return ctx.Err()
	}
}

func (g *Gateway) verify(ctx context.Context, token string) (domain.Principal, error) {
	var p domain.Principal
	err := g.lookup(ctx, func(ctx context.Context) error {
		var err error
		p, err = g.auth.VerifyToken(ctx, token)
		return err
	})
	return p, err
}

func (g *Gateway) isMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	var ok bool
	err := g.lookup(ctx, func(ctx context.Context) error {
		var err error
		ok, err = g.members.IsMember(ctx, userID, groupID)
		return err
	})
	return ok, err
}

// evictGen: счётчик вытеснений пользователя из комнаты. JoinRoom читает его
// до проверки членства и сверяет под замком комнаты.
func (g *Gateway) evictGen(groupID domain.GroupID, userID domain.UserID) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.evicted[memberKey{group: groupID, user: userID}]
}

// EvictMember снимает подписку пользователя на комнату после потери членства.
func (g *Gateway) EvictMember(groupID domain.GroupID, userID domain.UserID, reason string) {
	unlock := g.lockGroups(groupID)
	defer unlock()

	g.mu.Lock()
	g.evicted[memberKey{group: groupID, user: userID}]++
	g.mu.Unlock()

	for _, s := range g.userSessions(userID) {
		if s.unbindIf(groupID) {
			s.push(Frame{Type: TypeEvicted, Payload: EvictedPayload{GroupID: int64(groupID), Reason: reason}})
			slog.Info("session evicted from room",
				slog.String("session", s.id),
				slog.Int64("user_id", int64(userID)),
				slog.Int64("group_id", int64(groupID)),
				slog.String("reason", reason),
			)
		}
	}
}

// EvictUser: пользователь удалён: его сессии теряют комнату и аутентификацию.
func (g *Gateway) EvictUser(userID domain.UserID, reason string) {
	for _, s := range g.userSessions(userID) {
		s.revoke(reason)
	}
}

// EvictAll: хранилище сброшено, ни один пользователь больше не существует.
func (g *Gateway) EvictAll(reason string) {
	for _, s := range g.allSessions() {
		s.revoke(reason)
	}
}
