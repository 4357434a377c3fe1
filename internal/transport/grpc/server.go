package grpcx

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/internal/service"
	"github.com/cwrk-planet/aidchat/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	gw             *gateway.Gateway
	groups         *service.GroupService
	chat           *service.ChatService
	outboundBuffer int
}

func NewServer(gw *gateway.Gateway, groups *service.GroupService, chat *service.ChatService, outboundBuffer int) *Server {
	if outboundBuffer <= 0 {
		outboundBuffer = 256
	}
	return &Server{gw: gw, groups: groups, chat: chat, outboundBuffer: outboundBuffer}
}

// NewGRPCServer собирает *grpc.Server с JSON кодеком, интерсепторами и зарегистрированным сервисом.
func NewGRPCServer(s *Server, v TokenVerifier, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(0), UnaryAuthInterceptor(v)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	}
	gs := grpc.NewServer(append(base, opts...)...)
	Register(gs, s)
	return gs
}

func (s *Server) History(ctx context.Context, in *HistoryRequest) (*HistoryResponse, error) {
	p, ok := principalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	page, err := s.chat.History(ctx, p.UserID, domain.GroupID(in.GroupID), in.Limit, in.Before)
	if err != nil {
		return nil, mapErr(err)
	}
	return &HistoryResponse{Messages: gateway.MessagesToWire(page.Messages), NextCursor: page.NextCursor}, nil
}

func (s *Server) JoinGroup(ctx context.Context, in *GroupRequest) (*GroupResponse, error) {
	p, ok := principalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	g, err := s.groups.Join(ctx, p.UserID, domain.GroupID(in.GroupID))
	if err != nil {
		return nil, mapErr(err)
	}
	out := &GroupResponse{GroupID: int64(g.ID), Name: g.Name, MemberCount: len(g.Members)}
	for _, m := range g.Members {
		out.Members = append(out.Members, int64(m))
	}
	return out, nil
}

func (s *Server) LeaveGroup(ctx context.Context, in *GroupRequest) (*GroupResponse, error) {
	p, ok := principalFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if err := s.groups.Leave(ctx, p.UserID, domain.GroupID(in.GroupID)); err != nil {
		return nil, mapErr(err)
	}
	return &GroupResponse{GroupID: int64(in.GroupID)}, nil
}

// Session: та же машина состояний, что и у WS соединения.
// Токен можно передать в metadata, иначе клиент шлёт кадр authenticate.
func (s *Server) Session(stream grpc.ServerStream) error {
	q := gateway.NewQueue(s.outboundBuffer)
	sess := s.gw.Open(q)
	defer func() {
		sess.Disconnect()
		q.Close()
	}()

	l := logger.FromContext(stream.Context()).With(slog.String("session", sess.ID()))
	ctx := logger.WithContext(stream.Context(), l)

	if token, err := tokenFromMD(ctx); err == nil {
		if _, err := sess.Authenticate(ctx, token); err != nil {
			return mapErr(err)
		}
	}

	recvErr := make(chan error, 1)
	go func() {
		for {
			var in gateway.Inbound
			if err := stream.RecvMsg(&in); err != nil {
				recvErr <- err
				return
			}
			sess.Handle(ctx, in)
		}
	}()

	for {
		select {
		case f, ok := <-q.C():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(f); err != nil {
				l.Debug("grpc session send failed", slog.Any("err", err))
				return err
			}
		case err := <-recvErr:
			if !errors.Is(err, io.EOF) {
				return err
			}
			// клиент закрыл отправку: Handle отработал синхронно, его кадры
			// уже в очереди, отдаём их до выхода
			return drainQueue(stream, q)
		case <-ctx.Done():
			return nil
		}
	}
}

func drainQueue(stream grpc.ServerStream, q *gateway.Queue) error {
	for {
		select {
		case f, ok := <-q.C():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
