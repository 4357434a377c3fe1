package repository

import (
	"context"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

type UserRepository interface {
	// Создает пользователя; ErrConflict при занятом username/email
	CreateUser(ctx context.Context, u *domain.User) (domain.UserID, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// Сохраняет профильные поля и флаг администратора; членство не трогает
	UpdateUser(ctx context.Context, u *domain.User) error
	// Удаляет пользователя вместе со всеми его членствами
	DeleteUser(ctx context.Context, id domain.UserID) error
}

type GroupRepository interface {
	// Создает группу, создатель становится первым участником
	CreateGroup(ctx context.Context, g *domain.Group, creator domain.UserID) (domain.GroupID, error)
	GetGroup(ctx context.Context, id domain.GroupID) (*domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
	ListUserGroups(ctx context.Context, userID domain.UserID) ([]domain.Group, error)
	// AddMember / RemoveMember атомарно обновляют обе стороны связи
	AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (*domain.Group, error)
	RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error
	IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error)
}

type MessageRepository interface {
	// Назначает id и серверное время, сохраняет сообщение
	AppendMessage(ctx context.Context, groupID domain.GroupID, userID domain.UserID, username, text string) (*domain.Message, error)
	// До limit последних сообщений строго раньше before (nil: с конца), по возрастанию
	RecentMessages(ctx context.Context, groupID domain.GroupID, before *Cursor, limit int) ([]domain.Message, error)
	// Для админки: все группы, новые сначала
	ListMessages(ctx context.Context, limit int) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, id domain.MessageID) error
}

type ActivityRepository interface {
	// Назначает id и серверное время публикации
	CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error)
	// До limit активностей, новые сначала; limit <= 0: все
	ListActivities(ctx context.Context, limit int) ([]domain.Activity, error)
}

// Store: владелец всех коллекций с явным жизненным циклом.
type Store interface {
	UserRepository
	GroupRepository
	MessageRepository
	ActivityRepository

	// Reset атомарно очищает пользователей, группы, сообщения и активности и сбрасывает счетчики id
	Reset(ctx context.Context) error
	Close()
}
