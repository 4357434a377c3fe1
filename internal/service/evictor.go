package service

import "github.com/cwrk-planet/aidchat/internal/domain"

// Evictor снимает живые подписки, когда пользователь теряет членство.
type Evictor interface {
	EvictMember(groupID domain.GroupID, userID domain.UserID, reason string)
	EvictUser(userID domain.UserID, reason string)
	EvictAll(reason string)
}

type nopEvictor struct{}

func (nopEvictor) EvictMember(domain.GroupID, domain.UserID, string) {}
func (nopEvictor) EvictUser(domain.UserID, string)                   {}
func (nopEvictor) EvictAll(string)                                   {}

const (
	ReasonLeftGroup   = "left_group"
	ReasonUserDeleted = "user_deleted"
	ReasonReset       = "reset"
	ReasonShutdown    = "shutdown"
)
