package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/cache"
	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type PipelineInput struct {
	Name                string  `json:"name"`
	Description         *string `json:"description"`
	IsDefault           bool    `json:"is_default"`
	CreateDefaultStages bool    `json:"create_default_stages"`
}

type PipelinePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"is_default"`
}

type PipelineService struct {
	Repo   repositories.PipelineRepository
	Stages *StageService
	Cache  *cache.Cache
	Logger *zap.Logger
}

func NewPipelineService(store repositories.Store, stages *StageService, c *cache.Cache, logger *zap.Logger) *PipelineService {
	return &PipelineService{Repo: store, Stages: stages, Cache: c, Logger: nopLogger(logger)}
}

func (s *PipelineService) List(ctx context.Context, sess Session) ([]*models.Pipeline, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	key := cache.Key{Kind: cache.KindPipelines, OwnerID: sess.OwnerID, Scope: cache.ScopeAll}
	return loadCached(s.Cache, key, func() ([]*models.Pipeline, error) {
		return s.Repo.ListPipelines(ctx, sess.OwnerID)
	})
}

func (s *PipelineService) Get(ctx context.Context, sess Session, id uuid.UUID) (*models.Pipeline, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	return s.Repo.GetPipeline(ctx, sess.OwnerID, id)
}

// Create inserts the pipeline; the owner's first pipeline is always the
// default. A failure while seeding the default stages is logged and the
// pipeline is still returned.
func (s *PipelineService) Create(ctx context.Context, sess Session, in PipelineInput) (*models.Pipeline, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	p := &models.Pipeline{ID: uuid.New(), OwnerID: sess.OwnerID, Name: name, Description: in.Description}
	if err := s.Repo.CreatePipeline(ctx, p, in.IsDefault); err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	invalidate(s.Cache, cache.KindPipelines, sess.OwnerID)

	if in.CreateDefaultStages && s.Stages != nil {
		if _, err := s.Stages.InitializeDefaults(ctx, sess, &p.ID); err != nil {
			s.Logger.Warn("[pipelines][create] default stages not created",
				zap.String("pipeline", p.ID.String()), zap.Error(err))
		}
	}
	return p, nil
}

func (s *PipelineService) SetDefault(ctx context.Context, sess Session, id uuid.UUID) (*models.Pipeline, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	p, err := s.Repo.SetDefaultPipeline(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, fmt.Errorf("set default pipeline: %w", err)
	}
	invalidate(s.Cache, cache.KindPipelines, sess.OwnerID)
	return p, nil
}

// Update applies name and description. Turning is_default on goes through
// SetDefault; turning it off is rejected.
func (s *PipelineService) Update(ctx context.Context, sess Session, id uuid.UUID, patch PipelinePatch) (*models.Pipeline, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	p, err := s.Repo.GetPipeline(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, err
	}
	if patch.IsDefault != nil && !*patch.IsDefault && p.IsDefault {
		return nil, ErrDefaultRequired
	}
	if patch.IsDefault != nil && *patch.IsDefault && !p.IsDefault {
		if p, err = s.SetDefault(ctx, sess, id); err != nil {
			return nil, err
		}
	}
	if patch.Name == nil && patch.Description == nil {
		return p, nil
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = patch.Description
	}
	if err := s.Repo.UpdatePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("update pipeline: %w", err)
	}
	invalidate(s.Cache, cache.KindPipelines, sess.OwnerID)
	return p, nil
}

func (s *PipelineService) Delete(ctx context.Context, sess Session, id uuid.UUID) error {
	if err := sess.valid(); err != nil {
		return err
	}
	if err := s.Repo.DeletePipeline(ctx, sess.OwnerID, id); err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	invalidate(s.Cache, cache.KindPipelines, sess.OwnerID)
	return nil
}

func (s *PipelineService) Reorder(ctx context.Context, sess Session, ids []uuid.UUID) error {
	if err := sess.valid(); err != nil {
		return err
	}
	if err := s.Repo.ReorderPipelines(ctx, sess.OwnerID, ids); err != nil {
		return fmt.Errorf("reorder pipelines: %w", err)
	}
	invalidate(s.Cache, cache.KindPipelines, sess.OwnerID)
	return nil
}
