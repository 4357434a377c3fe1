package service

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/repository"
)

const (
	DefaultHistoryLimit  = 50
	DefaultMaxMessageLen = 4000
)

type HistoryPage struct {
	Messages   []domain.Message
	NextCursor string
}

// ChatService: журнал сообщений групп.
type ChatService struct {
	messages     repository.MessageRepository
	users        repository.UserRepository
	groups       repository.GroupRepository
	historyLimit int
	maxLen       int
}

type ChatOption func(*ChatService)

func WithHistoryLimit(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 && n <= DefaultHistoryLimit {
			s.historyLimit = n
		}
	}
}

func WithMaxMessageLen(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

func NewChatService(messages repository.MessageRepository, users repository.UserRepository, groups repository.GroupRepository, opts ...ChatOption) *ChatService {
	s := &ChatService{
		messages:     messages,
		users:        users,
		groups:       groups,
		historyLimit: DefaultHistoryLimit,
		maxLen:       DefaultMaxMessageLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatService) HistoryLimit() int {
	return s.historyLimit
}

// Append проверяет текст до записи: пустое сообщение не попадает в журнал.
// Имя автора берётся из профиля на момент записи.
func (s *ChatService) Append(ctx context.Context, groupID domain.GroupID, userID domain.UserID, text string) (*domain.Message, error) {
	text, err := domain.NormalizeText(text, s.maxLen)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.messages.AppendMessage(ctx, groupID, userID, u.Username, text)
}

// Recent: последние limit сообщений, старые сначала; limit ограничен historyLimit.
func (s *ChatService) Recent(ctx context.Context, groupID domain.GroupID, limit int) ([]domain.Message, error) {
	return s.messages.RecentMessages(ctx, groupID, nil, s.clamp(limit))
}

// History: постраничное чтение для участников группы.
func (s *ChatService) History(ctx context.Context, userID domain.UserID, groupID domain.GroupID, limit int, before string) (*HistoryPage, error) {
	cur, err := repository.DecodeCursor(before)
	if err != nil {
		return nil, err
	}

	ok, err := s.groups.IsMember(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %d is not a member of group %d", domain.ErrForbidden, userID, groupID)
	}

	limit = s.clamp(limit)
	msgs, err := s.messages.RecentMessages(ctx, groupID, cur, limit)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Messages: msgs}
	if len(msgs) == limit && limit > 0 {
		if next, err := repository.EncodeCursor(repository.CursorOf(msgs[0])); err == nil {
			page.NextCursor = next
		}
	}
	return page, nil
}

func (s *ChatService) clamp(limit int) int {
	if limit <= 0 || limit > s.historyLimit {
		return s.historyLimit
	}
	return limit
}
