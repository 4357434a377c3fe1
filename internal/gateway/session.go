package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/hub"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRoomBound
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateRoomBound:
		return "ROOM_BOUND"
	default:
		return "UNKNOWN"
	}
}

var errSessionClosed = errors.New("session closed")

// Session: одно соединение. Операции вызываются из read loop транспорта,
// вытеснение может прийти из другой горутины.
type Session struct {
	id  string
	gw  *Gateway
	out Outbox

	mu        sync.Mutex
	state     State
	principal domain.Principal
	room      domain.GroupID
	sub       *hub.Subscription
	closed    bool
}

func (s *Session) ID() string { return s.id }

// SinkID / Deliver: подписчик комнаты для hub.Registry.
func (s *Session) SinkID() string { return s.id }

func (s *Session) Deliver(m domain.Message) error {
	return s.out.Push(NewMessageFrame(m))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Principal() domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.principal
}

func (s *Session) Room() domain.GroupID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.room
}

func (s *Session) push(f Frame) {
	if err := s.out.Push(f); err != nil {
		slog.Warn("session push failed", slog.String("session", s.id), slog.String("type", f.Type), slog.Any("err", err))
	}
}

// Authenticate переводит сессию в AUTHENTICATED.
func (s *Session) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return domain.Principal{}, errSessionClosed
	case s.state != StateUnauthenticated:
		s.mu.Unlock()
		return domain.Principal{}, fmt.Errorf("%w: session already authenticated", domain.ErrValidation)
	}
	s.mu.Unlock()

	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}
	p, err := s.gw.verify(ctx, token)
	if err != nil {
		return domain.Principal{}, err
	}

	s.mu.Lock()
	if s.closed || s.state != StateUnauthenticated {
		s.mu.Unlock()
		return domain.Principal{}, fmt.Errorf("%w: session already authenticated", domain.ErrValidation)
	}
	s.state = StateAuthenticated
	s.principal = p
	s.mu.Unlock()

	s.gw.bindUser(s, p.UserID)
	s.push(Frame{Type: TypeAuthenticated, Payload: AuthenticatedPayload{UserID: int64(p.UserID), Username: p.Username}})

	slog.Debug("session authenticated", slog.String("session", s.id), slog.Int64("user_id", int64(p.UserID)))
	return p, nil
}

func (s *Session) requireAuth() (domain.Principal, domain.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.Principal{}, 0, errSessionClosed
	}
	if s.state == StateUnauthenticated {
		return domain.Principal{}, 0, fmt.Errorf("%w: authenticate first", domain.ErrUnauthenticated)
	}
	return s.principal, s.room, nil
}

// JoinRoom проверяет членство на момент вызова, покидает прежнюю комнату,
// подписывается на новую и отдаёт историю одним кадром.
// Проверка членства идёт без замка комнаты; под замком сверяется только
// счётчик вытеснений. Замок держится до подписки: живое сообщение не может
// обогнать историю.
func (s *Session) JoinRoom(ctx context.Context, groupID domain.GroupID) error {
	if groupID <= 0 {
		return fmt.Errorf("%w: groupId is required", domain.ErrValidation)
	}
	p, _, err := s.requireAuth()
	if err != nil {
		return err
	}

	gen := s.gw.evictGen(groupID, p.UserID)
	ok, err := s.gw.isMember(ctx, p.UserID, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d is not a member of group %d", domain.ErrForbidden, p.UserID, groupID)
	}

	unlock := s.lockRooms(groupID)
	defer unlock()

	if s.gw.evictGen(groupID, p.UserID) != gen {
		return fmt.Errorf("%w: user %d left group %d", domain.ErrForbidden, p.UserID, groupID)
	}

	history, err := s.gw.messages.Recent(ctx, groupID, s.gw.historyLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.state == StateUnauthenticated || s.principal.UserID != p.UserID {
		s.mu.Unlock()
		return fmt.Errorf("%w: session was revoked", domain.ErrUnauthenticated)
	}
	if s.sub != nil && s.room != groupID {
		s.sub.Cancel()
	}
	s.sub = s.gw.rooms.Subscribe(groupID, s)
	s.room = groupID
	s.state = StateRoomBound
	s.mu.Unlock()

	s.push(Frame{Type: TypeHistory, Payload: HistoryPayload{GroupID: int64(groupID), Messages: MessagesToWire(history)}})

	slog.Debug("session joined room",
		slog.String("session", s.id),
		slog.Int64("user_id", int64(p.UserID)),
		slog.Int64("group_id", int64(groupID)),
		slog.Int("history", len(history)),
	)
	return nil
}

// SendMessage пишет в журнал и рассылает всем подписчикам комнаты, включая отправителя.
// Запись и рассылка идут под замком комнаты: подписчики видят порядок коммитов.
func (s *Session) SendMessage(ctx context.Context, groupID domain.GroupID, text string) (*domain.Message, error) {
	p, room, err := s.requireAuth()
	if err != nil {
		return nil, err
	}
	if room == 0 || room != groupID {
		return nil, fmt.Errorf("%w: not in room %d", domain.ErrForbidden, groupID)
	}

	unlock := s.gw.lockGroups(groupID)
	defer unlock()

	if s.Room() != groupID {
		return nil, fmt.Errorf("%w: not in room %d", domain.ErrForbidden, groupID)
	}

	m, err := s.gw.messages.Append(ctx, groupID, p.UserID, text)
	if err != nil {
		return nil, err
	}
	s.gw.rooms.Broadcast(groupID, *m)

	return m, nil
}

// lockRooms берёт замки прежней комнаты сессии и groupID. Прежняя комната
// могла смениться, пока замки не были взяты: тогда повторяем.
func (s *Session) lockRooms(groupID domain.GroupID) (unlock func()) {
	for {
		prev := s.Room()
		unlock := s.gw.lockGroups(prev, groupID)
		if s.Room() == prev {
			return unlock
		}
		unlock()
	}
}

// LeaveRoom безусловно снимает подписку; ошибок не бывает.
func (s *Session) LeaveRoom() {
	room := s.Room()
	if room == 0 {
		return
	}

	unlock := s.gw.lockGroups(room)
	left := s.unbindIf(room)
	unlock()

	if left {
		s.push(Frame{Type: TypeLeft, Payload: LeftPayload{GroupID: int64(room)}})
	}
}

// Disconnect: соединение закрыто: убрать подписку и забыть сессию.
func (s *Session) Disconnect() {
	for {
		room := s.Room()
		unlock := s.gw.lockGroups(room)
		s.mu.Lock()
		if s.room != room {
			s.mu.Unlock()
			unlock()
			continue
		}
		s.unbindLocked()
		p := s.principal
		wasAuth := s.state != StateUnauthenticated
		s.state = StateUnauthenticated
		s.principal = domain.Principal{}
		s.closed = true
		s.mu.Unlock()
		unlock()

		if wasAuth {
			s.gw.unbindUser(s, p.UserID)
		}
		break
	}
	s.gw.forget(s)
}

// unbindIf снимает подписку, если сессия сейчас в комнате groupID.
// Вызывающий держит замок комнаты.
func (s *Session) unbindIf(groupID domain.GroupID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room != groupID || groupID == 0 {
		return false
	}
	s.unbindLocked()
	return true
}

func (s *Session) unbindLocked() {
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.room = 0
	if s.state == StateRoomBound {
		s.state = StateAuthenticated
	}
}

// revoke возвращает сессию в UNAUTHENTICATED и сообщает клиенту.
func (s *Session) revoke(reason string) {
	var (
		room    domain.GroupID
		p       domain.Principal
		revoked bool
	)
	for {
		room = s.Room()
		unlock := s.gw.lockGroups(room)
		s.mu.Lock()
		if s.room != room {
			s.mu.Unlock()
			unlock()
			continue
		}
		s.unbindLocked()
		p = s.principal
		revoked = !s.closed && s.state != StateUnauthenticated
		s.state = StateUnauthenticated
		s.principal = domain.Principal{}
		s.mu.Unlock()
		unlock()
		break
	}
	if !revoked {
		return
	}

	s.gw.unbindUser(s, p.UserID)
	s.push(Frame{Type: TypeEvicted, Payload: EvictedPayload{GroupID: int64(room), Reason: reason}})
	slog.Info("session revoked",
		slog.String("session", s.id),
		slog.Int64("user_id", int64(p.UserID)),
		slog.String("reason", reason),
	)
}

// Handle разбирает кадр клиента и выполняет операцию.
// Ошибки уходят только этому клиенту кадром error.
func (s *Session) Handle(ctx context.Context, in Inbound) {
	var err error
	switch in.Type {
	case TypeAuthenticate:
		var p AuthenticatePayload
		if err = decode(in.Payload, &p); err == nil {
			_, err = s.Authenticate(ctx, p.Token)
		}
	case TypeJoinGroup:
		var p JoinGroupPayload
		if err = decode(in.Payload, &p); err == nil {
			err = s.JoinRoom(ctx, domain.GroupID(p.GroupID))
		}
	case TypeSendMessage:
		var p SendMessagePayload
		if err = decode(in.Payload, &p); err == nil {
			_, err = s.SendMessage(ctx, domain.GroupID(p.GroupID), p.Text)
		}
	case TypeLeaveGroup:
		s.LeaveRoom()
	default:
		err = fmt.Errorf("%w: unknown frame type %q", domain.ErrValidation, in.Type)
	}

	if err == nil || errors.Is(err, errSessionClosed) {
		return
	}
	if domain.Code(err) == "internal" {
		slog.Error("session operation failed", slog.String("session", s.id), slog.String("op", in.Type), slog.Any("err", err))
	} else {
		slog.Debug("session operation rejected", slog.String("session", s.id), slog.String("op", in.Type), slog.Any("err", err))
	}
	s.push(ErrorFrame(in.Type, err))
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: malformed payload: %v", domain.ErrValidation, err)
	}
	return nil
}
