package grpcx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/internal/hub"
	"github.com/cwrk-planet/aidchat/internal/memory"
	"github.com/cwrk-planet/aidchat/internal/security"
	"github.com/cwrk-planet/aidchat/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type env struct {
	conn   *grpc.ClientConn
	auth   *service.AuthService
	groups *service.GroupService
}

func setup(t *testing.T) *env {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	store := memory.New(nil)
	auth := service.NewAuthService(store, security.NewJWTSigner(key, &key.PublicKey, "aidchat", "", time.Hour, 0), security.BcryptConfig{Cost: 4}, nil)
	chat := service.NewChatService(store, store, store)
	gw := gateway.New(auth, store, chat, hub.New())
	groups := service.NewGroupService(store, store, gw, nil)

	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(NewServer(gw, groups, chat, 16), auth)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &env{conn: conn, auth: auth, groups: groups}
}

func (e *env) user(t *testing.T, name string) *service.AuthResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), service.RegisterInput{
		Username: name, Email: name + "@example.org", Password: "secret1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

type sessionClient struct {
	t  *testing.T
	cs grpc.ClientStream
}

func (e *env) session(t *testing.T, ctx context.Context) *sessionClient {
	t.Helper()
	cs, err := e.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Session", ServerStreams: true, ClientStreams: true}, FullMethod("Session"))
	if err != nil {
		t.Fatal(err)
	}
	return &sessionClient{t: t, cs: cs}
}

func (c *sessionClient) send(typ string, payload any) {
	c.t.Helper()
	if err := c.cs.SendMsg(gateway.Frame{Type: typ, Payload: payload}); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

func (c *sessionClient) expect(typ string, dst any) {
	c.t.Helper()
	var in gateway.Inbound
	if err := c.cs.RecvMsg(&in); err != nil {
		c.t.Fatalf("recv (want %s): %v", typ, err)
	}
	if in.Type != typ {
		c.t.Fatalf("frame type = %q (%s), want %q", in.Type, in.Payload, typ)
	}
	if dst != nil {
		if err := json.Unmarshal(in.Payload, dst); err != nil {
			c.t.Fatal(err)
		}
	}
}

func TestSessionStream(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := e.user(t, "alice")
	bob := e.user(t, "bob")
	g, err := e.groups.Create(ctx, alice.User.ID, service.CreateGroupInput{Name: "Porch", Zipcode: "10001"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.groups.Join(ctx, bob.User.ID, g.ID); err != nil {
		t.Fatal(err)
	}

	// токен в metadata
	a := e.session(t, withToken(ctx, alice.Token))
	a.expect(gateway.TypeAuthenticated, nil)
	a.send(gateway.TypeJoinGroup, map[string]any{"groupId": g.ID})
	a.expect(gateway.TypeHistory, nil)

	// токен кадром authenticate
	b := e.session(t, ctx)
	b.send(gateway.TypeJoinGroup, map[string]any{"groupId": g.ID})
	var perr gateway.ErrorPayload
	b.expect(gateway.TypeError, &perr)
	if perr.Code != "auth_error" {
		t.Fatalf("join before auth: %+v", perr)
	}
	b.send(gateway.TypeAuthenticate, gateway.AuthenticatePayload{Token: bob.Token})
	b.expect(gateway.TypeAuthenticated, nil)
	b.send(gateway.TypeJoinGroup, map[string]any{"groupId": g.ID})
	b.expect(gateway.TypeHistory, nil)

	a.send(gateway.TypeSendMessage, map[string]any{"groupId": g.ID, "text": "  hello  "})
	for _, c := range []*sessionClient{a, b} {
		var m gateway.MessagePayload
		c.expect(gateway.TypeNewMessage, &m)
		if m.Text != "hello" || m.Username != "alice" {
			t.Fatalf("new-message = %+v", m)
		}
	}

	var hist HistoryResponse
	if err := e.conn.Invoke(withToken(ctx, bob.Token), FullMethod("History"), &HistoryRequest{GroupID: gateway.WireID(g.ID)}, &hist); err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Text != "hello" {
		t.Fatalf("history = %+v", hist)
	}

	// выход из группы выселяет живую сессию
	var left GroupResponse
	if err := e.conn.Invoke(withToken(ctx, bob.Token), FullMethod("LeaveGroup"), &GroupRequest{GroupID: gateway.WireID(g.ID)}, &left); err != nil {
		t.Fatalf("leave: %v", err)
	}
	var ev gateway.EvictedPayload
	b.expect(gateway.TypeEvicted, &ev)
	if ev.GroupID != int64(g.ID) {
		t.Fatalf("evicted = %+v", ev)
	}
}

func TestSessionStream_HalfCloseFlushesQueue(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := e.user(t, "alice")
	g, err := e.groups.Create(ctx, alice.User.ID, service.CreateGroupInput{Name: "Porch", Zipcode: "10001"})
	if err != nil {
		t.Fatal(err)
	}

	a := e.session(t, ctx)
	a.send(gateway.TypeAuthenticate, gateway.AuthenticatePayload{Token: alice.Token})
	a.send(gateway.TypeJoinGroup, map[string]any{"groupId": g.ID})
	a.send(gateway.TypeSendMessage, map[string]any{"groupId": g.ID, "text": "last words"})
	if err := a.cs.CloseSend(); err != nil {
		t.Fatal(err)
	}

	a.expect(gateway.TypeAuthenticated, nil)
	a.expect(gateway.TypeHistory, nil)
	var m gateway.MessagePayload
	a.expect(gateway.TypeNewMessage, &m)
	if m.Text != "last words" {
		t.Fatalf("new-message = %+v", m)
	}

	var in gateway.Inbound
	if err := a.cs.RecvMsg(&in); err != io.EOF {
		t.Fatalf("after drain: %v (%+v)", err, in)
	}
}

func TestUnaryErrors(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := e.user(t, "alice")
	carol := e.user(t, "carol")
	g, err := e.groups.Create(ctx, alice.User.ID, service.CreateGroupInput{Name: "Porch"})
	if err != nil {
		t.Fatal(err)
	}

	var hist HistoryResponse
	err = e.conn.Invoke(ctx, FullMethod("History"), &HistoryRequest{GroupID: gateway.WireID(g.ID)}, &hist)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no token: %v", err)
	}

	err = e.conn.Invoke(withToken(ctx, carol.Token), FullMethod("History"), &HistoryRequest{GroupID: gateway.WireID(g.ID)}, &hist)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("non-member: %v", err)
	}

	var out GroupResponse
	err = e.conn.Invoke(withToken(ctx, carol.Token), FullMethod("JoinGroup"), &GroupRequest{GroupID: 999}, &out)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("join missing group: %v", err)
	}

	err = e.conn.Invoke(withToken(ctx, alice.Token), FullMethod("JoinGroup"), &GroupRequest{GroupID: gateway.WireID(g.ID)}, &out)
	if status.Code(err) != codes.AlreadyExists {
		t.Fatalf("second join: %v", err)
	}
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrUnauthenticated, codes.Unauthenticated},
		{domain.ErrForbidden, codes.PermissionDenied},
		{domain.ErrValidation, codes.InvalidArgument},
		{domain.ErrNotFound, codes.NotFound},
		{domain.ErrTimeout, codes.DeadlineExceeded},
		{domain.ErrConflict, codes.AlreadyExists},
		{domain.ErrInconsistent, codes.Internal},
	}
	for _, c := range cases {
		if got := status.Code(mapErr(c.err)); got != c.want {
			t.Errorf("mapErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if st, _ := status.FromError(mapErr(domain.ErrInconsistent)); st.Message() != "internal error" {
		t.Fatalf("internal message leaked: %q", st.Message())
	}
}
