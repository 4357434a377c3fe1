// Package ws: push-канал шлюза сессий поверх gorilla/websocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/pkg/httputil"
	"github.com/cwrk-planet/aidchat/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 5 * time.Second

type Config struct {
	PingEvery      time.Duration // 15s
	ReadLimit      int64         // байт на кадр
	SendRate       float64       // кадров в секунду на соединение
	SendBurst      int
	OutboundBuffer int
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.PingEvery <= 0 {
		c.PingEvery = 15 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.SendRate <= 0 {
		c.SendRate = 5
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 10
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = 256
	}
	return c
}

type Server struct {
	upgrader websocket.Upgrader
	gw       *gateway.Gateway
	cfg      Config
}

func NewServer(gw *gateway.Gateway, cfg Config) *Server {
	cfg = cfg.withDefaults()
	origins := newOriginPolicy(cfg.AllowedOrigins)

	return &Server{
		gw:  gw,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// WS endpoint: GET /ws[?access_token=...] или Authorization: Bearer ...
// Без токена соединение открывается в UNAUTHENTICATED и ждёт кадр authenticate.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := gateway.NewQueue(s.cfg.OutboundBuffer)
	sess := s.gw.Open(q)

	l := logger.FromContext(r.Context()).With(slog.String("session", sess.ID()))
	ctx := logger.WithContext(context.WithoutCancel(r.Context()), l)

	if token := tokenFromRequest(r); token != "" {
		if _, err := sess.Authenticate(ctx, token); err != nil {
			sess.Disconnect()
			q.Close()
			httputil.WriteError(r.Context(), w, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("ws upgrade failed", slog.Any("err", err))
		sess.Disconnect()
		q.Close()
		return
	}
	l.Debug("ws connected", slog.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, conn, q)
	}()

	s.readLoop(ctx, conn, sess, q)

	cancel()
	sess.Disconnect()
	q.Close()
	<-done
	_ = conn.Close()
	l.Debug("ws disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *gateway.Session, q *gateway.Queue) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.SendRate), s.cfg.SendBurst)

	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.FromContext(ctx).Debug("ws read failed", slog.Any("err", err))
			}
			return
		}

		var in gateway.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = q.Push(gateway.ErrorFrame("decode", domain.ErrValidation))
			continue
		}
		if !limiter.Allow() {
			_ = q.Push(gateway.Frame{Type: gateway.TypeError, Payload: gateway.ErrorPayload{
				Op: in.Type, Code: "rate_limited", Message: "too many frames",
			}})
			continue
		}

		sess.Handle(ctx, in)
	}
}

// writeLoop: единственный писатель в соединение: кадры из очереди и ping.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, q *gateway.Queue) {
	ticker := time.NewTicker(s.cfg.PingEvery)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-q.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				logger.FromContext(ctx).Debug("ws write failed", slog.Any("err", err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
