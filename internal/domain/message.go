package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type MessageID int64

// Message неизменяемо после создания. Username: снимок имени на момент отправки.
type Message struct {
	ID        MessageID
	GroupID   GroupID
	UserID    UserID
	Username  string
	Text      string
	CreatedAt time.Time
}

// Before сравнивает сообщения в порядке лога: (created_at, id).
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// NormalizeText обрезает пробелы и проверяет длину.
func NormalizeText(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty message", ErrValidation)
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", fmt.Errorf("%w: message too long", ErrValidation)
	}
	return text, nil
}

func ParseMessageID(s string) (MessageID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed message id %q", ErrValidation, s)
	}
	return MessageID(id), nil
}
