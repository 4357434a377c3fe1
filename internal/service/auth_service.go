package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
	"github.com/cwrk-planet/aidchat/internal/security"
)

var ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", domain.ErrUnauthenticated)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Zipcode  string
}

type AuthResult struct {
	User  *domain.User
	Token string
}

// AdminSeed: администратор, создаваемый при старте и после reset.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

type AuthService struct {
	users      repository.UserRepository
	jwt        *security.JWTSigner
	passPolicy security.BcryptConfig
	now        func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	jwt *security.JWTSigner,
	passPolicy security.BcryptConfig,
	now func() time.Time,
) *AuthService {
	if now == nil {
		now = time.Now
	}

	return &AuthService{
		users:      users,
		jwt:        jwt,
		passPolicy: passPolicy,
		now:        now,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	hash, err := security.HashPassword(in.Password, &s.passPolicy)
	if err != nil {
		slog.Debug("auth.register.hashPassword failed", slog.Any("err", err))
		return nil, err
	}

	u, err := domain.NewUser(in.Username, in.Email, hash, s.now(), domain.WithZipcode(in.Zipcode))
	if err != nil {
		return nil, err
	}

	id, err := s.users.CreateUser(ctx, u)
	if err != nil {
		slog.Debug("auth.register.createUser failed", slog.Any("err", err))
		return nil, err
	}
	u.ID = id

	token, err := s.issue(u)
	if err != nil {
		slog.Error("auth.register.issueToken failed", slog.Any("err", err))
		return nil, err
	}

	slog.Info("user registered", slog.Int64("user_id", int64(u.ID)), slog.String("username", u.Username))
	return &AuthResult{User: u, Token: token}, nil
}

// Login аутентифицирует по username+пароль и выпускает access токен
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := security.ComparePassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		slog.Error("auth.login.comparePassword failed", slog.Any("err", err))
		return nil, err
	}

	token, err := s.issue(u)
	if err != nil {
		slog.Error("auth.login.issueToken failed", slog.Any("err", err))
		return nil, err
	}

	return &AuthResult{User: u, Token: token}, nil
}

// VerifyToken проверяет подпись и срок, затем сверяет пользователя с хранилищем:
// удалённый пользователь и снятый флаг админа действуют сразу.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (domain.Principal, error) {
	p, err := s.jwt.Verify(strings.TrimSpace(token))
	if err != nil {
		return domain.Principal{}, err
	}

	u, err := s.users.GetUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Principal{}, fmt.Errorf("%w: user %d no longer exists", domain.ErrUnauthenticated, p.UserID)
		}
		return domain.Principal{}, err
	}

	return domain.Principal{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, nil
}

func (s *AuthService) Profile(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return s.users.GetUser(ctx, id)
}

// UpdateProfile: самостоятельное редактирование; флаг админа здесь не меняется.
func (s *AuthService) UpdateProfile(ctx context.Context, id domain.UserID, patch domain.ProfilePatch) (*domain.User, error) {
	patch.IsAdmin = nil
	return updateUser(ctx, s.users, id, patch, s.now())
}

// EnsureAdmin создаёт администратора, если пользователя с таким именем ещё нет.
func (s *AuthService) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if strings.TrimSpace(seed.Username) == "" {
		return nil
	}
	if _, err := s.users.GetUserByUsername(ctx, seed.Username); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	password := seed.Password
	if password == "" {
		generated, err := security.RandomStringURLSafe(18)
		if err != nil {
			return err
		}
		password = generated
		slog.Warn("admin password not configured, generated one", slog.String("username", seed.Username), slog.String("password", password))
	}

	hash, err := security.HashPassword(password, &s.passPolicy)
	if err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}
	u, err := domain.NewUser(seed.Username, seed.Email, hash, s.now(), domain.WithAdmin(true))
	if err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}
	if _, err := s.users.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}

	slog.Info("admin user seeded", slog.String("username", u.Username))
	return nil
}

func (s *AuthService) issue(u *domain.User) (string, error) {
	return s.jwt.SignAccessToken(domain.Principal{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, s.now())
}

func updateUser(ctx context.Context, users repository.UserRepository, id domain.UserID, patch domain.ProfilePatch, now time.Time) (*domain.User, error) {
	cur, err := users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := patch.Apply(*cur, now)
	if err != nil {
		return nil, err
	}
	next.PasswordHash = ""
	if err := users.UpdateUser(ctx, &next); err != nil {
		return nil, err
	}
	return users.GetUser(ctx, id)
}
