package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

// Типы кадров клиент -> сервер
const (
	TypeAuthenticate = "authenticate"
	TypeJoinGroup    = "join-group"
	TypeSendMessage  = "send-message"
	TypeLeaveGroup   = "leave-group"
)

// Типы кадров сервер -> клиент
const (
	TypeAuthenticated = "authenticated"
	TypeHistory       = "history"
	TypeNewMessage    = "new-message"
	TypeLeft          = "left"
	TypeEvicted       = "evicted"
	TypeError         = "error"
)

// Frame: исходящий кадр.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound: входящий кадр, payload разбирается по типу.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type JoinGroupPayload struct {
	GroupID WireID `json:"groupId"`
}

type SendMessagePayload struct {
	GroupID WireID `json:"groupId"`
	Text    string `json:"text"`
}

type AuthenticatedPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type MessagePayload struct {
	ID        int64  `json:"id"`
	GroupID   int64  `json:"groupId"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type HistoryPayload struct {
	GroupID  int64            `json:"groupId"`
	Messages []MessagePayload `json:"messages"`
}

type LeftPayload struct {
	GroupID int64 `json:"groupId"`
}

type EvictedPayload struct {
	GroupID int64  `json:"groupId,omitempty"`
	Reason  string `json:"reason"`
}

type ErrorPayload struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WireID принимает id и числом, и строкой.
type WireID int64

func (id *WireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	if len(b) == 0 || string(b) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed id %q", domain.ErrValidation, string(b))
	}
	*id = WireID(n)
	return nil
}

func MessageToWire(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:        int64(m.ID),
		GroupID:   int64(m.GroupID),
		UserID:    int64(m.UserID),
		Username:  m.Username,
		Text:      m.Text,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func MessagesToWire(ms []domain.Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(ms))
	for _, m := range ms {
		out = append(out, MessageToWire(m))
	}
	return out
}

func NewMessageFrame(m domain.Message) Frame {
	return Frame{Type: TypeNewMessage, Payload: MessageToWire(m)}
}

func ErrorFrame(op string, err error) Frame {
	code := domain.Code(err)
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
	}
	return Frame{Type: TypeError, Payload: ErrorPayload{Op: op, Code: code, Message: msg}}
}
