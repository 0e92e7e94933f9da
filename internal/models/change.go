package models

import "github.com/google/uuid"

const (
	TablePipelines = "crm_pipelines"
	TableStages    = "crm_stages"
	TableDeals     = "crm_deals"
	// TableAll marks a resync: the feed may have dropped events.
	TableAll = "*"
)

// ChangeEvent is one row change published by the store.
type ChangeEvent struct {
	Table    string    `json:"table"`
	Op       string    `json:"op"`
	OwnerID  uuid.UUID `json:"owner_id"`
	RecordID uuid.UUID `json:"id"`
}
