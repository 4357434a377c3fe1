package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/hub"
	"github.com/cwrk-planet/aidchat/internal/memory"
	"github.com/cwrk-planet/aidchat/internal/service"
)

type tokenAuth struct {
	store *memory.Store
}

// токен в тестах: просто "user-<id>"
func (a tokenAuth) VerifyToken(ctx context.Context, token string) (domain.Principal, error) {
	var id int64
	if _, err := fmt.Sscanf(token, "user-%d", &id); err != nil {
		return domain.Principal{}, fmt.Errorf("%w: bad token", domain.ErrUnauthenticated)
	}
	u, err := a.store.GetUser(ctx, domain.UserID(id))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return domain.Principal{UserID: u.ID, Username: u.Username}, nil
}

type slowMembership struct{ delay time.Duration }

func (m slowMembership) IsMember(context.Context, domain.UserID, domain.GroupID) (bool, error) {
	time.Sleep(m.delay)
	return true, nil
}

// gatedMembership задерживает ответ для одного пользователя: ждёт release
// (или ctx, если release == nil) и возвращает то, что хранилище сказало до паузы.
type gatedMembership struct {
	Membership
	user    domain.UserID
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *gatedMembership) IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	if userID != m.user {
		return m.Membership.IsMember(ctx, userID, groupID)
	}
	ok, err := m.Membership.IsMember(ctx, userID, groupID)
	m.once.Do(func() { close(m.entered) })
	if m.release == nil {
		<-ctx.Done()
		return false, ctx.Err()
	}
	<-m.release
	return ok, err
}

type env struct {
	store  *memory.Store
	rooms  *hub.Registry
	gw     *Gateway
	groups *service.GroupService
	chat   *service.ChatService
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	return newEnvWith(t, nil, opts...)
}

// newEnvWith позволяет подменить проверку членства обёрткой над хранилищем.
func newEnvWith(t *testing.T, wrap func(Membership) Membership, opts ...Option) *env {
	t.Helper()
	store := memory.New(nil)
	rooms := hub.New()
	chat := service.NewChatService(store, store, store)
	var members Membership = store
	if wrap != nil {
		members = wrap(store)
	}
	gw := New(tokenAuth{store}, members, chat, rooms, opts...)
	return &env{
		store:  store,
		rooms:  rooms,
		gw:     gw,
		groups: service.NewGroupService(store, store, gw, nil),
		chat:   chat,
	}
}

func (e *env) user(t *testing.T, name string) domain.UserID {
	t.Helper()
	u, _ := domain.NewUser(name, name+"@example.org", "hash", time.Now())
	id, err := e.store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func (e *env) group(t *testing.T, name string, creator domain.UserID, members ...domain.UserID) domain.GroupID {
	t.Helper()
	g, err := e.groups.Create(context.Background(), creator, service.CreateGroupInput{Name: name})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, m := range members {
		if _, err := e.groups.Join(context.Background(), m, g.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	return g.ID
}

func (e *env) connect(t *testing.T, uid domain.UserID) (*Session, *Queue) {
	t.Helper()
	q := NewQueue(256)
	s := e.gw.Open(q)
	if _, err := s.Authenticate(context.Background(), fmt.Sprintf("user-%d", uid)); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	drain(q)
	return s, q
}

func drain(q *Queue) []Frame {
	var out []Frame
	for {
		select {
		case f, ok := <-q.C():
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func ofType(frames []Frame, typ string) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Оба участника получают "hello" ровно один раз.
func TestSend_BothMembersReceiveOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g := e.group(t, "G1", u1, u2)

	s1, q1 := e.connect(t, u1)
	s2, q2 := e.connect(t, u2)
	if err := s1.JoinRoom(ctx, g); err != nil {
		t.Fatalf("u1 join: %v", err)
	}
	if err := s2.JoinRoom(ctx, g); err != nil {
		t.Fatalf("u2 join: %v", err)
	}
	drain(q1)
	drain(q2)

	if _, err := s1.SendMessage(ctx, g, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	for name, q := range map[string]*Queue{"u1": q1, "u2": q2} {
		got := ofType(drain(q), TypeNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s got %d new-message frames", name, len(got))
		}
		m := got[0].Payload.(MessagePayload)
		if m.Text != "hello" || m.UserID != int64(u1) || m.Username != "u1" || m.GroupID != int64(g) {
			t.Fatalf("%s payload = %+v", name, m)
		}
		if _, err := time.Parse(time.RFC3339Nano, m.Timestamp); err != nil {
			t.Fatalf("timestamp %q: %v", m.Timestamp, err)
		}
	}
}

// Не участник получает отказ и не подписывается.
func TestJoin_NonMemberRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner, u3 := e.user(t, "owner"), e.user(t, "u3")
	g := e.group(t, "G1", owner)

	s, _ := e.connect(t, u3)
	if err := s.JoinRoom(ctx, g); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if subs := e.rooms.Subscribers(g); len(subs) != 0 {
		t.Fatalf("subscribers = %v", subs)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %s", s.State())
	}
}

// Пустой текст отклоняется без записи и рассылки.
func TestSend_WhitespaceRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g := e.group(t, "G1", u1, u2)

	s1, q1 := e.connect(t, u1)
	s2, q2 := e.connect(t, u2)
	_ = s1.JoinRoom(ctx, g)
	_ = s2.JoinRoom(ctx, g)
	drain(q1)
	drain(q2)

	s1.Handle(ctx, Inbound{Type: TypeSendMessage, Payload: json.RawMessage(`{"groupId":` + fmt.Sprint(g) + `,"text":"   "}`)})

	f1 := drain(q1)
	if len(f1) != 1 || f1[0].Type != TypeError || f1[0].Payload.(ErrorPayload).Code != "validation_error" {
		t.Fatalf("sender frames = %+v", f1)
	}
	if f2 := drain(q2); len(f2) != 0 {
		t.Fatalf("other member got %+v", f2)
	}
	msgs, _ := e.chat.Recent(ctx, g, 0)
	if len(msgs) != 0 {
		t.Fatalf("log has %d messages", len(msgs))
	}
}

// 120 сообщений: при входе приходят 50 последних, старые сначала.
func TestJoin_HistoryLast50(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1 := e.user(t, "u1")
	g := e.group(t, "G1", u1)

	for i := 1; i <= 120; i++ {
		if _, err := e.chat.Append(ctx, g, u1, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	s, q := e.connect(t, u1)
	if err := s.JoinRoom(ctx, g); err != nil {
		t.Fatalf("join: %v", err)
	}
	frames := drain(q)
	if len(frames) != 1 || frames[0].Type != TypeHistory {
		t.Fatalf("frames = %+v", frames)
	}
	h := frames[0].Payload.(HistoryPayload)
	if len(h.Messages) != 50 || h.Messages[0].Text != "m71" || h.Messages[49].Text != "m120" {
		t.Fatalf("history: %d items, %q..%q", len(h.Messages), h.Messages[0].Text, h.Messages[len(h.Messages)-1].Text)
	}
	for i := 1; i < len(h.Messages); i++ {
		if h.Messages[i-1].ID >= h.Messages[i].ID {
			t.Fatalf("history not ascending at %d", i)
		}
	}
}

func TestJoinRoom_AtMostOneRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g1 := e.group(t, "G1", u1, u2)
	g2 := e.group(t, "G2", u1)

	s1, q1 := e.connect(t, u1)
	s2, _ := e.connect(t, u2)
	_ = s2.JoinRoom(ctx, g1)
	if err := s1.JoinRoom(ctx, g1); err != nil {
		t.Fatal(err)
	}
	if err := s1.JoinRoom(ctx, g2); err != nil {
		t.Fatal(err)
	}
	drain(q1)

	if subs := e.rooms.Subscribers(g1); len(subs) != 1 || subs[0] != s2.ID() {
		t.Fatalf("g1 subscribers = %v", subs)
	}
	if subs := e.rooms.Subscribers(g2); len(subs) != 1 || subs[0] != s1.ID() {
		t.Fatalf("g2 subscribers = %v", subs)
	}

	if _, err := s2.SendMessage(ctx, g1, "only g1"); err != nil {
		t.Fatal(err)
	}
	if got := ofType(drain(q1), TypeNewMessage); len(got) != 0 {
		t.Fatalf("switched session still receives old room: %+v", got)
	}
	if _, err := s1.SendMessage(ctx, g1, "wrong room"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("send to previous room: %v", err)
	}
}

func TestLeaveAndDisconnect_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1 := e.user(t, "u1")
	g := e.group(t, "G1", u1)

	s, q := e.connect(t, u1)
	_ = s.JoinRoom(ctx, g)
	drain(q)

	s.LeaveRoom()
	s.LeaveRoom()
	if got := drain(q); len(got) != 1 || got[0].Type != TypeLeft {
		t.Fatalf("frames after leave = %+v", got)
	}
	if s.State() != StateAuthenticated || len(e.rooms.Subscribers(g)) != 0 {
		t.Fatalf("state %s, subscribers %v", s.State(), e.rooms.Subscribers(g))
	}
	if _, err := s.SendMessage(ctx, g, "hi"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("send after leave: %v", err)
	}

	_ = s.JoinRoom(ctx, g)
	s.Disconnect()
	s.Disconnect()
	if e.gw.Sessions() != 0 || e.rooms.Rooms() != 0 {
		t.Fatalf("sessions %d rooms %d", e.gw.Sessions(), e.rooms.Rooms())
	}
}

func TestUnauthenticatedOperations(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1 := e.user(t, "u1")
	g := e.group(t, "G1", u1)

	q := NewQueue(8)
	s := e.gw.Open(q)
	if err := s.JoinRoom(ctx, g); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("join: %v", err)
	}
	if _, err := s.SendMessage(ctx, g, "x"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.Authenticate(ctx, "garbage"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("bad token: %v", err)
	}

	s.Handle(ctx, Inbound{Type: TypeAuthenticate, Payload: json.RawMessage(fmt.Sprintf(`{"token":"user-%d"}`, u1))})
	s.Handle(ctx, Inbound{Type: TypeJoinGroup, Payload: json.RawMessage(fmt.Sprintf(`{"groupId":"%d"}`, g))})
	frames := drain(q)
	if len(frames) != 2 || frames[0].Type != TypeAuthenticated || frames[1].Type != TypeHistory {
		t.Fatalf("frames = %+v", frames)
	}

	s.Handle(ctx, Inbound{Type: "dance"})
	frames = drain(q)
	if len(frames) != 1 || frames[0].Payload.(ErrorPayload).Code != "validation_error" {
		t.Fatalf("unknown frame: %+v", frames)
	}
}

func TestEviction_OnGroupLeave(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g := e.group(t, "G1", u1, u2)

	s1, q1 := e.connect(t, u1)
	s2, q2 := e.connect(t, u2)
	_ = s1.JoinRoom(ctx, g)
	_ = s2.JoinRoom(ctx, g)
	drain(q1)
	drain(q2)

	if err := e.groups.Leave(ctx, u2, g); err != nil {
		t.Fatalf("leave group: %v", err)
	}
	frames := drain(q2)
	if len(frames) != 1 || frames[0].Type != TypeEvicted {
		t.Fatalf("evicted frames = %+v", frames)
	}
	if s2.State() != StateAuthenticated {
		t.Fatalf("state = %s", s2.State())
	}

	if _, err := s1.SendMessage(ctx, g, "after leave"); err != nil {
		t.Fatal(err)
	}
	if got := drain(q2); len(got) != 0 {
		t.Fatalf("former member received %+v", got)
	}
	if err := s2.JoinRoom(ctx, g); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("rejoin after leave: %v", err)
	}
}

func TestEvictUserAndAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g := e.group(t, "G1", u1, u2)

	s1, q1 := e.connect(t, u1)
	s2, q2 := e.connect(t, u2)
	_ = s1.JoinRoom(ctx, g)
	_ = s2.JoinRoom(ctx, g)
	drain(q1)
	drain(q2)

	e.gw.EvictUser(u2, service.ReasonUserDeleted)
	if s2.State() != StateUnauthenticated {
		t.Fatalf("state = %s", s2.State())
	}
	f := drain(q2)
	if len(f) != 1 || f[0].Payload.(EvictedPayload).Reason != service.ReasonUserDeleted {
		t.Fatalf("frames = %+v", f)
	}

	e.gw.EvictAll(service.ReasonReset)
	if s1.State() != StateUnauthenticated || e.rooms.Rooms() != 0 {
		t.Fatalf("state %s rooms %d", s1.State(), e.rooms.Rooms())
	}
	if got := drain(q2); len(got) != 0 {
		t.Fatalf("already revoked session notified twice: %+v", got)
	}
}

func TestLookupTimeout(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	chat := service.NewChatService(store, store, store)
	gw := New(tokenAuth{store}, slowMembership{delay: 200 * time.Millisecond}, chat, hub.New(), WithLookupTimeout(20*time.Millisecond))

	u, _ := domain.NewUser("u1", "u1@example.org", "hash", time.Now())
	uid, _ := store.CreateUser(ctx, u)

	s := gw.Open(NewQueue(8))
	if _, err := s.Authenticate(ctx, fmt.Sprintf("user-%d", uid)); err != nil {
		t.Fatal(err)
	}
	if err := s.JoinRoom(ctx, 1); !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("session must survive timeout, state = %s", s.State())
	}
}

func TestConcurrentSenders_SubscribersSeeCommitOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ids := []domain.UserID{e.user(t, "a"), e.user(t, "b"), e.user(t, "c")}
	g := e.group(t, "G1", ids[0], ids[1], ids[2])

	sessions := make([]*Session, len(ids))
	queues := make([]*Queue, len(ids))
	for i, id := range ids {
		sessions[i], queues[i] = e.connect(t, id)
		if err := sessions[i].JoinRoom(ctx, g); err != nil {
			t.Fatal(err)
		}
		drain(queues[i])
	}

	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				_, _ = s.SendMessage(ctx, g, "x")
			}
		}(sessions[i])
	}
	wg.Wait()

	for i, q := range queues {
		got := ofType(drain(q), TypeNewMessage)
		if len(got) != 60 {
			t.Fatalf("session %d got %d messages", i, len(got))
		}
		for k := 1; k < len(got); k++ {
			if got[k-1].Payload.(MessagePayload).ID >= got[k].Payload.(MessagePayload).ID {
				t.Fatalf("session %d: out of order at %d", i, k)
			}
		}
	}
}

func TestLateJoiner_HistoryBeforeLive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	u1, u2 := e.user(t, "u1"), e.user(t, "u2")
	g := e.group(t, "G1", u1, u2)

	s1, _ := e.connect(t, u1)
	_ = s1.JoinRoom(ctx, g)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for k := 0; k < 50; k++ {
			_, _ = s1.SendMessage(ctx, g, "live")
		}
	}()

	s2, q2 := e.connect(t, u2)
	if err := s2.JoinRoom(ctx, g); err != nil {
		t.Fatal(err)
	}
	<-done

	frames := drain(q2)
	if len(frames) == 0 || frames[0].Type != TypeHistory {
		t.Fatalf("first frame must be history, got %+v", frames)
	}
	seen := map[int64]bool{}
	for _, m := range frames[0].Payload.(HistoryPayload).Messages {
		seen[m.ID] = true
	}
	for _, f := range frames[1:] {
		id := f.Payload.(MessagePayload).ID
		if seen[id] {
			t.Fatalf("message %d delivered twice", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Fatalf("late joiner saw %d of 50 messages", len(seen))
	}
}

func TestJoin_StalledLookupDoesNotBlockRoom(t *testing.T) {
	ctx := context.Background()
	gate := &gatedMembership{entered: make(chan struct{})}
	e := newEnvWith(t, func(m Membership) Membership {
		gate.Membership = m
		return gate
	}, WithLookupTimeout(time.Second))

	a, c := e.user(t, "a"), e.user(t, "c")
	g := e.group(t, "G1", a, c)
	gate.user = c

	sA, qA := e.connect(t, a)
	if err := sA.JoinRoom(ctx, g); err != nil {
		t.Fatal(err)
	}
	drain(qA)

	sC, _ := e.connect(t, c)
	joinErr := make(chan error, 1)
	go func() { joinErr <- sC.JoinRoom(ctx, g) }()
	<-gate.entered

	start := time.Now()
	if _, err := sA.SendMessage(ctx, g, "hi"); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d > 200*time.Millisecond {
		t.Fatalf("send waited %s behind another session's membership lookup", d)
	}
	if got := ofType(drain(qA), TypeNewMessage); len(got) != 1 {
		t.Fatalf("sender echo = %+v", got)
	}

	if err := <-joinErr; !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("stalled join: %v", err)
	}
	if sC.State() != StateAuthenticated {
		t.Fatalf("state = %s", sC.State())
	}
}

func TestJoin_LeaveDuringLookupRejected(t *testing.T) {
	ctx := context.Background()
	gate := &gatedMembership{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnvWith(t, func(m Membership) Membership {
		gate.Membership = m
		return gate
	})

	a, c := e.user(t, "a"), e.user(t, "c")
	g := e.group(t, "G1", a, c)
	gate.user = c

	sC, qC := e.connect(t, c)
	joinErr := make(chan error, 1)
	go func() { joinErr <- sC.JoinRoom(ctx, g) }()
	<-gate.entered

	// членство уже проверено, но пользователь выходит до подписки
	if err := e.groups.Leave(ctx, c, g); err != nil {
		t.Fatal(err)
	}
	close(gate.release)

	if err := <-joinErr; !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("join after leave: %v", err)
	}
	if sC.Room() != 0 || sC.State() != StateAuthenticated {
		t.Fatalf("room %d state %s", sC.Room(), sC.State())
	}
	if got := ofType(drain(qC), TypeHistory); len(got) != 0 {
		t.Fatalf("history sent to former member: %+v", got)
	}

	sA, _ := e.connect(t, a)
	_ = sA.JoinRoom(ctx, g)
	if _, err := sA.SendMessage(ctx, g, "after"); err != nil {
		t.Fatal(err)
	}
	if got := ofType(drain(qC), TypeNewMessage); len(got) != 0 {
		t.Fatalf("former member received %+v", got)
	}
}
