package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type GroupID int64

type Group struct {
	ID          GroupID
	Name        string
	Description string
	Zipcode     string
	Members     []UserID
	CreatedAt   time.Time
}

func NewGroup(name, description, zipcode string, now time.Time) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}

	return &Group{
		Name:        name,
		Description: strings.TrimSpace(description),
		Zipcode:     strings.TrimSpace(zipcode),
		CreatedAt:   now,
	}, nil
}

func (g *Group) HasMember(id UserID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// ParseGroupID разбирает идентификатор группы из пути / payload.
func ParseGroupID(s string) (GroupID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed group id %q", ErrValidation, s)
	}
	return GroupID(id), nil
}

func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed user id %q", ErrValidation, s)
	}
	return UserID(id), nil
}

// SortedUserIDs / SortedGroupIDs: детерминированный порядок для ответов API.
func SortedUserIDs(set map[UserID]struct{}) []UserID {
	out := make([]UserID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func SortedGroupIDs(set map[GroupID]struct{}) []GroupID {
	out := make([]GroupID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortGroupIDs(out)
	return out
}
