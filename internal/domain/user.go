package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type UserID int64

type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	Zipcode      string
	Pronouns     string
	Bio          string
	IsAdmin      bool
	Groups       []GroupID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Создает нового пользователя
// Ожидает уже посчитанный хеш пароля
func NewUser(username, email, passwordHash string, now time.Time, opts ...UserOption) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, fmt.Errorf("%w: empty password hash", ErrValidation)
	}

	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(u)
	}

	return u, nil
}

// InGroup проверяет ссылку на группу со стороны пользователя.
func (u *User) InGroup(id GroupID) bool {
	for _, g := range u.Groups {
		if g == id {
			return true
		}
	}
	return false
}

// Principal: то, что возвращает проверка токена.
type Principal struct {
	UserID   UserID
	Username string
	IsAdmin  bool
}

// ProfilePatch: частичное обновление профиля; nil поля не трогаем.
type ProfilePatch struct {
	Username *string
	Email    *string
	Zipcode  *string
	Pronouns *string
	Bio      *string
	IsAdmin  *bool
}

// Apply применяет патч к копии пользователя.
func (p ProfilePatch) Apply(u User, now time.Time) (User, error) {
	if p.Username != nil {
		name := strings.TrimSpace(*p.Username)
		if name == "" {
			return u, fmt.Errorf("%w: username is required", ErrValidation)
		}
		u.Username = name
	}
	if p.Email != nil {
		email := NormalizeEmail(*p.Email)
		if email == "" || !strings.Contains(email, "@") {
			return u, fmt.Errorf("%w: invalid email", ErrValidation)
		}
		u.Email = email
	}
	if p.Zipcode != nil {
		u.Zipcode = strings.TrimSpace(*p.Zipcode)
	}
	if p.Pronouns != nil {
		u.Pronouns = strings.TrimSpace(*p.Pronouns)
	}
	if p.Bio != nil {
		u.Bio = strings.TrimSpace(*p.Bio)
	}
	if p.IsAdmin != nil {
		u.IsAdmin = *p.IsAdmin
	}
	u.UpdatedAt = now

	return u, nil
}

// Options конструктора
type UserOption func(*User)

func WithZipcode(zip string) UserOption {
	return func(u *User) { u.Zipcode = strings.TrimSpace(zip) }
}

func WithAdmin(admin bool) UserOption {
	return func(u *User) { u.IsAdmin = admin }
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sortGroupIDs(ids []GroupID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
