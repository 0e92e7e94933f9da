package models

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline is one sales funnel owned by a broker account.
type Pipeline struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Position    int       `json:"position"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
