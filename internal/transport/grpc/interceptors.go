package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	mdAuthorization = "authorization"
	mdRequestID     = "x-request-id"
)

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (domain.Principal, error)
}

const tracerName = "github.com/cwrk-planet/aidchat/grpc"

type ctxKey int

const principalKey ctxKey = iota

// Unary logging + recovery + timeout guard (если у вызова нет deadline)
func UnaryServerInterceptor(guard time.Duration) grpc.UnaryServerInterceptor {
	if guard <= 0 {
		guard = 10 * time.Second
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, guard)
			defer cancel()
		}
		ctx, span := otel.Tracer(tracerName).Start(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		ctx = withCallLogger(ctx, info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("grpc unary panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
			logger.FromContext(ctx).Info("grpc unary",
				slog.Int64("dur_ms", time.Since(start).Milliseconds()),
				slog.String("code", status.Code(err).String()),
				slog.String("err", errString(err)))
		}()

		return handler(ctx, req)
	}
}

func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()
		ctx := withCallLogger(ss.Context(), info.FullMethod)

		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("grpc stream panic",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
			logger.FromContext(ctx).Info("grpc stream",
				slog.Int64("dur_ms", time.Since(start).Milliseconds()),
				slog.String("err", errString(err)))
		}()

		return handler(srv, &ctxStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryAuthInterceptor требует authorization: Bearer <token> у всех unary методов.
func UnaryAuthInterceptor(v TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token, err := tokenFromMD(ctx)
		if err != nil {
			return nil, err
		}
		p, err := v.VerifyToken(ctx, token)
		if err != nil {
			return nil, mapErr(err)
		}
		ctx = context.WithValue(ctx, principalKey, p)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(slog.Int64("user_id", int64(p.UserID))))
		return handler(ctx, req)
	}
}

func principalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *ctxStream) Context() context.Context { return s.ctx }

func withCallLogger(ctx context.Context, method string) context.Context {
	reqID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		reqID = first(md.Get(mdRequestID))
	}
	if reqID == "" {
		reqID = uuid.NewString()
	}
	return logger.WithContext(ctx, logger.FromContext(ctx).With(
		slog.String("req_id", reqID),
		slog.String("method", method),
	))
}

// tokenFromMD: Authorization: Bearer <access_token>
func tokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	auth := first(md.Get(mdAuthorization))
	if auth == "" {
		return "", status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || len(auth) <= 7 {
		return "", status.Error(codes.Unauthenticated, "invalid authorization")
	}
	return strings.TrimSpace(auth[7:]), nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
