package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

const adminMessagesLimit = 500

type AdminService struct {
	store   repository.Store
	auth    *AuthService
	evictor Evictor
	seed    AdminSeed
	now     func() time.Time
}

func NewAdminService(store repository.Store, auth *AuthService, evictor Evictor, seed AdminSeed, now func() time.Time) *AdminService {
	if evictor == nil {
		evictor = nopEvictor{}
	}
	if now == nil {
		now = time.Now
	}
	return &AdminService{store: store, auth: auth, evictor: evictor, seed: seed, now: now}
}

func (s *AdminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *AdminService) UpdateUser(ctx context.Context, id domain.UserID, patch domain.ProfilePatch) (*domain.User, error) {
	u, err := updateUser(ctx, s.store, id, patch, s.now())
	if err != nil {
		return nil, err
	}
	slog.Info("admin updated user", slog.Int64("user_id", int64(id)), slog.Bool("is_admin", u.IsAdmin))
	return u, nil
}

// DeleteUser каскадно убирает членства и выкидывает живые сессии пользователя.
func (s *AdminService) DeleteUser(ctx context.Context, id domain.UserID) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.evictor.EvictUser(id, ReasonUserDeleted)
	slog.Info("admin deleted user", slog.Int64("user_id", int64(id)))
	return nil
}

func (s *AdminService) ListMessages(ctx context.Context) ([]domain.Message, error) {
	return s.store.ListMessages(ctx, adminMessagesLimit)
}

func (s *AdminService) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	slog.Info("admin deleted message", slog.Int64("message_id", int64(id)))
	return nil
}

// Reset очищает хранилище, выкидывает все сессии и заново заводит администратора.
func (s *AdminService) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.evictor.EvictAll(ReasonReset)

	if err := s.auth.EnsureAdmin(ctx, s.seed); err != nil {
		return err
	}
	slog.Warn("store reset by admin")
	return nil
}
