package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/cache"
	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type StageService struct {
	Repo   repositories.StageRepository
	Outbox repositories.OutboxRepository
	Cache  *cache.Cache
	Signal OutboxSignal
	Logger *zap.Logger
	Now    func() time.Time
}

func NewStageService(store repositories.Store, c *cache.Cache, signal OutboxSignal, logger *zap.Logger) *StageService {
	return &StageService{
		Repo:   store,
		Outbox: store,
		Cache:  c,
		Signal: signal,
		Logger: nopLogger(logger),
		Now:    utcNow,
	}
}

// List returns the stages of a pipeline ordered by position. A nil
// pipelineID lists every stage of the owner.
func (s *StageService) List(ctx context.Context, sess Session, pipelineID *uuid.UUID) ([]*models.Stage, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	key := cache.Key{Kind: cache.KindStages, OwnerID: sess.OwnerID, Scope: cache.Scope(pipelineID)}
	return loadCached(s.Cache, key, func() ([]*models.Stage, error) {
		return s.Repo.ListStages(ctx, sess.OwnerID, pipelineID)
	})
}

func (s *StageService) Get(ctx context.Context, sess Session, id uuid.UUID) (*models.Stage, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	return s.Repo.GetStage(ctx, sess.OwnerID, id)
}

// InitializeDefaults appends the six canonical stages to the pipeline.
func (s *StageService) InitializeDefaults(ctx context.Context, sess Session, pipelineID *uuid.UUID) ([]*models.Stage, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	if pipelineID == nil || *pipelineID == uuid.Nil {
		return nil, ErrPipelineRequired
	}
	stages := make([]*models.Stage, 0, len(models.DefaultStages))
	for _, tpl := range models.DefaultStages {
		label := tpl.Label
		stages = append(stages, &models.Stage{
			ID:            uuid.New(),
			Name:          tpl.Name,
			Color:         tpl.Color,
			ChatwootLabel: &label,
		})
	}
	if err := s.Repo.AppendStages(ctx, sess.OwnerID, *pipelineID, stages); err != nil {
		return nil, fmt.Errorf("initialize default stages: %w", err)
	}
	invalidate(s.Cache, cache.KindStages, sess.OwnerID)
	return stages, nil
}

// Create appends a stage at the end of the pipeline. An empty color picks
// the first preset.
func (s *StageService) Create(ctx context.Context, sess Session, pipelineID *uuid.UUID, name, color string) (*models.Stage, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	if pipelineID == nil || *pipelineID == uuid.Nil {
		return nil, ErrPipelineRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if color == "" {
		color = models.PresetColors[0]
	}
	label := models.LabelFromName(name)
	st := &models.Stage{ID: uuid.New(), Name: name, Color: color, ChatwootLabel: &label}
	if err := s.Repo.AppendStages(ctx, sess.OwnerID, *pipelineID, []*models.Stage{st}); err != nil {
		return nil, fmt.Errorf("create stage: %w", err)
	}
	invalidate(s.Cache, cache.KindStages, sess.OwnerID)
	return st, nil
}

// Rename updates the name, and the color when given, and re-derives the
// external label from the new name.
func (s *StageService) Rename(ctx context.Context, sess Session, id uuid.UUID, name string, color *string) (*models.Stage, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	st, err := s.Repo.GetStage(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, err
	}
	st.Name = name
	if color != nil && *color != "" {
		st.Color = *color
	}
	label := models.LabelFromName(name)
	st.ChatwootLabel = &label
	if err := s.Repo.UpdateStage(ctx, st); err != nil {
		return nil, fmt.Errorf("rename stage: %w", err)
	}
	invalidate(s.Cache, cache.KindStages, sess.OwnerID)
	return st, nil
}

func (s *StageService) Reorder(ctx context.Context, sess Session, ids []uuid.UUID) error {
	if err := sess.valid(); err != nil {
		return err
	}
	if err := s.Repo.ReorderStages(ctx, sess.OwnerID, ids); err != nil {
		return fmt.Errorf("reorder stages: %w", err)
	}
	invalidate(s.Cache, cache.KindStages, sess.OwnerID)
	return nil
}

func (s *StageService) Delete(ctx context.Context, sess Session, id uuid.UUID) error {
	if err := sess.valid(); err != nil {
		return err
	}
	if err := s.Repo.DeleteStage(ctx, sess.OwnerID, id); err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	invalidate(s.Cache, cache.KindStages, sess.OwnerID)
	return nil
}

// SyncLabels queues a push of every stage label to the chat platform.
func (s *StageService) SyncLabels(ctx context.Context, sess Session) (*models.OutboxEntry, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	entry := models.NewOutboxEntry(sess.OwnerID, models.SyncPayload{Action: models.ActionSyncStages}, s.Now())
	if err := s.Outbox.EnqueueOutbox(ctx, entry); err != nil {
		return nil, fmt.Errorf("queue label sync: %w", err)
	}
	notify(s.Signal)
	s.Logger.Info("[stages][sync-labels] queued", zap.String("owner", sess.OwnerID.String()), zap.String("entry", entry.ID.String()))
	return entry, nil
}
