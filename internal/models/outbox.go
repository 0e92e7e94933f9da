package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncAction string

const (
	ActionUpdateDealStage    SyncAction = "update_deal_stage"
	ActionSyncDealAttributes SyncAction = "sync_deal_attributes"
	ActionDeleteDeal         SyncAction = "delete_deal"
	ActionSyncStages         SyncAction = "sync_stages"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
	OutboxDead    OutboxStatus = "dead"
)

// SyncPayload is the body pushed to the external platform.
type SyncPayload struct {
	Action     SyncAction `json:"action"`
	DealID     *uuid.UUID `json:"deal_id,omitempty"`
	NewStageID *uuid.UUID `json:"new_stage_id,omitempty"`
	SyncToken  *uuid.UUID `json:"sync_token,omitempty"`
	DealTitle  string     `json:"deal_title,omitempty"`
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
}

// OutboxEntry is one pending push, written in the same transaction as the
// local mutation that caused it.
type OutboxEntry struct {
	ID            uuid.UUID    `json:"id"`
	OwnerID       uuid.UUID    `json:"user_id"`
	Payload       SyncPayload  `json:"payload"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
	LastWarning   string       `json:"last_warning,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func NewOutboxEntry(owner uuid.UUID, payload SyncPayload, now time.Time) *OutboxEntry {
	return &OutboxEntry{
		ID:            uuid.New(),
		OwnerID:       owner,
		Payload:       payload,
		Status:        OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
