package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncSource tags the last writer of a deal.
type SyncSource string

const (
	SyncSourceCRM      SyncSource = "crm"
	SyncSourceChatwoot SyncSource = "chatwoot"
)

type Deal struct {
	ID                     uuid.UUID  `json:"id"`
	OwnerID                uuid.UUID  `json:"user_id"`
	ClientID               *uuid.UUID `json:"client_id"`
	StageID                uuid.UUID  `json:"stage_id"`
	ChatwootConversationID *int64     `json:"chatwoot_conversation_id"`
	Title                  string     `json:"title"`
	Value                  float64    `json:"value"`
	ExpectedCloseDate      *time.Time `json:"expected_close_date"`
	Notes                  *string    `json:"notes"`
	SyncToken              *uuid.UUID `json:"sync_token"`
	LastSyncSource         SyncSource `json:"last_sync_source"`
	Position               int        `json:"position"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`

	Client *ClientRef `json:"client,omitempty"`
}

// Clone returns a copy that shares no pointers with d.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	if d.ClientID != nil {
		v := *d.ClientID
		c.ClientID = &v
	}
	if d.ChatwootConversationID != nil {
		v := *d.ChatwootConversationID
		c.ChatwootConversationID = &v
	}
	if d.ExpectedCloseDate != nil {
		v := *d.ExpectedCloseDate
		c.ExpectedCloseDate = &v
	}
	if d.Notes != nil {
		v := *d.Notes
		c.Notes = &v
	}
	if d.SyncToken != nil {
		v := *d.SyncToken
		c.SyncToken = &v
	}
	if d.Client != nil {
		v := *d.Client
		c.Client = &v
	}
	return &c
}
