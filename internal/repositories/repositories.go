package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

type PipelineRepository interface {
	ListPipelines(ctx context.Context, owner uuid.UUID) ([]*models.Pipeline, error)
	GetPipeline(ctx context.Context, owner, id uuid.UUID) (*models.Pipeline, error)
	// CreatePipeline appends p after the owner's pipelines. p becomes the
	// default when makeDefault is set or when it is the owner's first
	// pipeline; the previous default is cleared in the same transaction.
	CreatePipeline(ctx context.Context, p *models.Pipeline, makeDefault bool) error
	UpdatePipeline(ctx context.Context, p *models.Pipeline) error
	SetDefaultPipeline(ctx context.Context, owner, id uuid.UUID) (*models.Pipeline, error)
	// DeletePipeline fails with ErrDefaultPipeline or ErrPipelineNotEmpty.
	DeletePipeline(ctx context.Context, owner, id uuid.UUID) error
	ReorderPipelines(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error
}

type StageRepository interface {
	// ListStages returns stages ordered by position. A nil pipelineID lists
	// every stage of the owner.
	ListStages(ctx context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Stage, error)
	GetStage(ctx context.Context, owner, id uuid.UUID) (*models.Stage, error)
	// AppendStages inserts stages after the pipeline's existing ones,
	// assigning dense positions.
	AppendStages(ctx context.Context, owner, pipelineID uuid.UUID, stages []*models.Stage) error
	UpdateStage(ctx context.Context, s *models.Stage) error
	// ReorderStages sets position = index. ids must be exactly the stage set
	// of one pipeline, otherwise ErrInvalidOrder.
	ReorderStages(ctx context.Context, owner uuid.UUID, ids []uuid.UUID) error
	// DeleteStage fails with ErrStageNotEmpty while deals reference the
	// stage, and closes the position gap it leaves.
	DeleteStage(ctx context.Context, owner, id uuid.UUID) error
}

type DealRepository interface {
	ListDeals(ctx context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Deal, error)
	GetDeal(ctx context.Context, owner, id uuid.UUID) (*models.Deal, error)
	FindDealsByConversation(ctx context.Context, owner uuid.UUID, conversationID int64) ([]*models.Deal, error)
	// CreateDeal, UpdateDeal and DeleteDeal write the outbox entries in the
	// same transaction as the deal row.
	CreateDeal(ctx context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error
	UpdateDeal(ctx context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error
	DeleteDeal(ctx context.Context, owner, id uuid.UUID, outbox ...*models.OutboxEntry) error
	// SetDealConversation links a conversation without touching the sync
	// token; it records what the external platform already knows.
	SetDealConversation(ctx context.Context, owner, id uuid.UUID, conversationID int64) error
}

type ClientRepository interface {
	GetClient(ctx context.Context, owner, id uuid.UUID) (*models.Client, error)
	UpsertClient(ctx context.Context, c *models.Client) error
	SetClientContact(ctx context.Context, owner, id uuid.UUID, contactID int64) error
	// FindClientByContact matches by e-mail first, then by phone.
	FindClientByContact(ctx context.Context, owner uuid.UUID, email, phone string) (*models.Client, error)
}

type OutboxRepository interface {
	EnqueueOutbox(ctx context.Context, entries ...*models.OutboxEntry) error
	// ClaimOutbox leases up to limit due pending entries until leaseUntil so
	// concurrent dispatchers skip them.
	ClaimOutbox(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.OutboxEntry, error)
	MarkOutboxDone(ctx context.Context, id uuid.UUID, warning string) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkOutboxDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	// ListOutbox and RequeueOutbox treat uuid.Nil as "any owner".
	ListOutbox(ctx context.Context, owner uuid.UUID, status models.OutboxStatus, limit int) ([]*models.OutboxEntry, error)
	RequeueOutbox(ctx context.Context, owner, id uuid.UUID, now time.Time) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	PipelineRepository
	StageRepository
	DealRepository
	ClientRepository
	OutboxRepository
	Close() error
}
