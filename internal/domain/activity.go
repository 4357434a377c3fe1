package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

type ActivityID int64

// Типы активностей, которые предлагает форма клиента.
var ActivityTypes = []string{
	"Food Distribution",
	"Shelter",
	"Medical Supplies",
	"Clothing Drive",
	"Other",
}

const maxActivityDescription = 2000

var zipcodeRe = regexp.MustCompile(`^[0-9]{5}$`)

type Contact struct {
	Email string
	Phone string
}

// Location: геокодированное место активности.
type Location struct {
	Lat            float64
	Lng            float64
	City           string
	State          string
	Zipcode        string
	CenteringLevel string
}

func (l Location) HasCoordinates() bool {
	return l.Lat != 0 || l.Lng != 0
}

// Activity неизменяема после публикации; CreatedAt ставит сервер.
type Activity struct {
	ID           ActivityID
	UserID       UserID
	GroupName    string
	ActivityType string
	Description  string
	Contact      Contact
	Location     Location
	CreatedAt    time.Time
}

func NewActivity(userID UserID, groupName, activityType, description string, contact Contact, loc Location) (*Activity, error) {
	activityType = strings.TrimSpace(activityType)
	if !knownActivityType(activityType) {
		return nil, fmt.Errorf("%w: unknown activity type %q", ErrValidation, activityType)
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxActivityDescription {
		return nil, fmt.Errorf("%w: description too long", ErrValidation)
	}

	contact.Email = NormalizeEmail(contact.Email)
	if contact.Email == "" || !strings.Contains(contact.Email, "@") {
		return nil, fmt.Errorf("%w: contact email is required", ErrValidation)
	}
	contact.Phone = strings.TrimSpace(contact.Phone)

	zip, err := NormalizeZipcode(loc.Zipcode)
	if err != nil {
		return nil, err
	}
	loc.Zipcode = zip

	return &Activity{
		UserID:       userID,
		GroupName:    strings.TrimSpace(groupName),
		ActivityType: activityType,
		Description:  description,
		Contact:      contact,
		Location:     loc,
	}, nil
}

// NormalizeZipcode: пятизначный почтовый индекс США.
func NormalizeZipcode(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !zipcodeRe.MatchString(s) {
		return "", fmt.Errorf("%w: zipcode must be 5 digits", ErrValidation)
	}
	return s, nil
}

func knownActivityType(t string) bool {
	for _, k := range ActivityTypes {
		if k == t {
			return true
		}
	}
	return false
}
