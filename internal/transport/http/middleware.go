package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/pkg/httputil"
	"github.com/cwrk-planet/aidchat/pkg/logger"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (domain.Principal, error)
}

// AuthMiddleware требует Bearer токен и кладёт Principal в контекст.
func AuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				httputil.Error(w, http.StatusUnauthorized, domain.Code(domain.ErrUnauthenticated), "missing bearer token")
				return
			}

			p, err := v.VerifyToken(r.Context(), strings.TrimSpace(auth[7:]))
			if err != nil {
				httputil.WriteError(r.Context(), w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(slog.Int64("user_id", int64(p.UserID))))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly пропускает только администраторов.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFromCtx(r.Context()).IsAdmin {
			httputil.Error(w, http.StatusForbidden, domain.Code(domain.ErrForbidden), "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFromCtx(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal).(domain.Principal)
	return p
}
