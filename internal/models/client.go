package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Client is the insured party a deal may be attached to.
type Client struct {
	ID                uuid.UUID  `json:"id"`
	OwnerID           uuid.UUID  `json:"user_id"`
	Name              string     `json:"name"`
	Phone             string     `json:"phone"`
	Email             string     `json:"email"`
	ChatwootContactID *int64     `json:"chatwoot_contact_id"`
	ChatwootSyncedAt  *time.Time `json:"chatwoot_synced_at"`
}

// ClientRef is the slim client projection embedded in deal listings.
type ClientRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
	Email string    `json:"email"`
}

var nonDigit = regexp.MustCompile(`\D`)

func PhoneDigits(phone string) string {
	return nonDigit.ReplaceAllString(phone, "")
}

// SamePhone reports whether two numbers agree on their last ten digits,
// which ignores country code and trunk prefix differences.
func SamePhone(a, b string) bool {
	da, db := PhoneDigits(a), PhoneDigits(b)
	if len(da) < 10 || len(db) < 10 {
		return false
	}
	return da[len(da)-10:] == db[len(db)-10:]
}
