package http

import (
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
	"github.com/cwrk-planet/aidchat/internal/gateway"
	"github.com/cwrk-planet/aidchat/internal/service"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Zipcode  string `json:"zipcode"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// ProfileRequest: частичное обновление; отсутствующие поля не меняются.
type ProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Zipcode  *string `json:"zipcode"`
	Pronouns *string `json:"pronouns"`
	Bio      *string `json:"bio"`
	IsAdmin  *bool   `json:"isAdmin"`
}

func (r ProfileRequest) patch() domain.ProfilePatch {
	return domain.ProfilePatch{
		Username: r.Username,
		Email:    r.Email,
		Zipcode:  r.Zipcode,
		Pronouns: r.Pronouns,
		Bio:      r.Bio,
		IsAdmin:  r.IsAdmin,
	}
}

type UserDTO struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Zipcode   string    `json:"zipcode"`
	Pronouns  string    `json:"pronouns"`
	Bio       string    `json:"bio"`
	IsAdmin   bool      `json:"isAdmin"`
	Groups    []int64   `json:"groups"`
	CreatedAt time.Time `json:"createdAt"`
}

// withEmail=false для чужих профилей.
func toUserDTO(u *domain.User, withEmail bool) UserDTO {
	dto := UserDTO{
		ID:        int64(u.ID),
		Username:  u.Username,
		Zipcode:   u.Zipcode,
		Pronouns:  u.Pronouns,
		Bio:       u.Bio,
		IsAdmin:   u.IsAdmin,
		Groups:    make([]int64, 0, len(u.Groups)),
		CreatedAt: u.CreatedAt,
	}
	if withEmail {
		dto.Email = u.Email
	}
	for _, g := range u.Groups {
		dto.Groups = append(dto.Groups, int64(g))
	}
	return dto
}

type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Zipcode     string `json:"zipcode"`
}

type GroupIDRequest struct {
	GroupID gateway.WireID `json:"groupId"`
}

type GroupDTO struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Zipcode     string    `json:"zipcode"`
	Members     []int64   `json:"members"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toGroupDTO(g *domain.Group) GroupDTO {
	dto := GroupDTO{
		ID:          int64(g.ID),
		Name:        g.Name,
		Description: g.Description,
		Zipcode:     g.Zipcode,
		Members:     make([]int64, 0, len(g.Members)),
		MemberCount: len(g.Members),
		CreatedAt:   g.CreatedAt,
	}
	for _, m := range g.Members {
		dto.Members = append(dto.Members, int64(m))
	}
	return dto
}

func toGroupDTOs(gs []domain.Group) []GroupDTO {
	out := make([]GroupDTO, 0, len(gs))
	for i := range gs {
		out = append(out, toGroupDTO(&gs[i]))
	}
	return out
}

type DiscoverResponse struct {
	NearbyGroups  []GroupDTO `json:"nearbyGroups"`
	PopularGroups []GroupDTO `json:"popularGroups"`
}

type ContactDTO struct {
	Email string  `json:"email"`
	Phone *string `json:"phone"`
}

type LocationDTO struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	City           string  `json:"city"`
	State          string  `json:"state"`
	Zipcode        string  `json:"zipcode"`
	CenteringLevel string  `json:"centeringLevel,omitempty"`
}

// ActivityRequest: timestamp клиента не принимается, время ставит сервер.
type ActivityRequest struct {
	GroupName    string      `json:"groupName"`
	ActivityType string      `json:"activityType"`
	Description  string      `json:"description"`
	Contact      ContactDTO  `json:"contact"`
	Location     LocationDTO `json:"location"`
}

func (r ActivityRequest) input() service.PostActivityInput {
	c := domain.Contact{Email: r.Contact.Email}
	if r.Contact.Phone != nil {
		c.Phone = *r.Contact.Phone
	}
	return service.PostActivityInput{
		GroupName:    r.GroupName,
		ActivityType: r.ActivityType,
		Description:  r.Description,
		Contact:      c,
		Location: domain.Location{
			Lat:            r.Location.Lat,
			Lng:            r.Location.Lng,
			City:           r.Location.City,
			State:          r.Location.State,
			Zipcode:        r.Location.Zipcode,
			CenteringLevel: r.Location.CenteringLevel,
		},
	}
}

type ActivityDTO struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"userId,omitempty"`
	GroupName    string      `json:"groupName"`
	ActivityType string      `json:"activityType"`
	Description  string      `json:"description"`
	Contact      ContactDTO  `json:"contact"`
	Location     LocationDTO `json:"location"`
	Timestamp    time.Time   `json:"timestamp"`
}

func toLocationDTO(l domain.Location) LocationDTO {
	return LocationDTO{
		Lat:            l.Lat,
		Lng:            l.Lng,
		City:           l.City,
		State:          l.State,
		Zipcode:        l.Zipcode,
		CenteringLevel: l.CenteringLevel,
	}
}

func toActivityDTO(a *domain.Activity) ActivityDTO {
	dto := ActivityDTO{
		ID:           int64(a.ID),
		UserID:       int64(a.UserID),
		GroupName:    a.GroupName,
		ActivityType: a.ActivityType,
		Description:  a.Description,
		Contact:      ContactDTO{Email: a.Contact.Email},
		Location:     toLocationDTO(a.Location),
		Timestamp:    a.CreatedAt,
	}
	if a.Contact.Phone != "" {
		phone := a.Contact.Phone
		dto.Contact.Phone = &phone
	}
	return dto
}

func toActivityDTOs(as []domain.Activity) []ActivityDTO {
	out := make([]ActivityDTO, 0, len(as))
	for i := range as {
		out = append(out, toActivityDTO(&as[i]))
	}
	return out
}

type ValidateAddressRequest struct {
	Zipcode string `json:"zipcode"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Zipcode string `json:"zipcode"`
}

type ValidateAddressResponse struct {
	Coordinates    Coordinates `json:"coordinates"`
	Address        Address     `json:"address"`
	CenteringLevel string      `json:"centeringLevel"`
}
