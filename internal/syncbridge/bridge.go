// Package syncbridge drains the sync outbox into the chat platform. Local
// writes never wait on it: a failed push is retried with backoff and, once
// exhausted, parked as a dead letter for an operator.
package syncbridge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

// ErrPermanent marks a push that cannot succeed on retry, such as a
// rejected request or a missing integration.
var ErrPermanent = errors.New("permanent sync failure")

// Result mirrors the platform response {success, message, warnings}.
type Result struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Bridge interface {
	PushStage(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (Result, error)
	SyncDealAttributes(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (Result, error)
	PushDeletion(ctx context.Context, owner uuid.UUID, p models.SyncPayload) (Result, error)
	SyncStageLabels(ctx context.Context, owner uuid.UUID) (Result, error)
}

// Alerter is told about entries that were moved to the dead letter state.
type Alerter interface {
	DeadLetter(ctx context.Context, e *models.OutboxEntry) error
}

// NopBridge accepts every push. It is used when no platform is configured.
type NopBridge struct{}

func (NopBridge) PushStage(context.Context, uuid.UUID, models.SyncPayload) (Result, error) {
	return Result{Success: true, Message: "sync disabled"}, nil
}

func (NopBridge) SyncDealAttributes(context.Context, uuid.UUID, models.SyncPayload) (Result, error) {
	return Result{Success: true, Message: "sync disabled"}, nil
}

func (NopBridge) PushDeletion(context.Context, uuid.UUID, models.SyncPayload) (Result, error) {
	return Result{Success: true, Message: "sync disabled"}, nil
}

func (NopBridge) SyncStageLabels(context.Context, uuid.UUID) (Result, error) {
	return Result{Success: true, Message: "sync disabled"}, nil
}

func dispatch(ctx context.Context, b Bridge, e *models.OutboxEntry) (Result, error) {
	switch e.Payload.Action {
	case models.ActionUpdateDealStage:
		return b.PushStage(ctx, e.OwnerID, e.Payload)
	case models.ActionSyncDealAttributes:
		return b.SyncDealAttributes(ctx, e.OwnerID, e.Payload)
	case models.ActionDeleteDeal:
		return b.PushDeletion(ctx, e.OwnerID, e.Payload)
	case models.ActionSyncStages:
		return b.SyncStageLabels(ctx, e.OwnerID)
	default:
		return Result{}, errors.Join(ErrPermanent, errors.New("unknown action "+string(e.Payload.Action)))
	}
}
