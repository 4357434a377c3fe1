package repository

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

var ErrInvalidCursor = fmt.Errorf("%w: invalid cursor", domain.ErrValidation)

// Cursor указывает на самое старое сообщение уже отданной страницы.
type Cursor struct {
	CreatedAt time.Time        `json:"created_at"`
	ID        domain.MessageID `json:"id"`
}

// After сообщает, лежит ли m строго раньше курсора в порядке лога.
func (c Cursor) After(m domain.Message) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID < c.ID
	}
	return m.CreatedAt.Before(c.CreatedAt)
}

func CursorOf(m domain.Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ID <= 0 {
		return nil, errors.Join(ErrInvalidCursor, errors.New("empty id"))
	}
	return &c, nil
}
