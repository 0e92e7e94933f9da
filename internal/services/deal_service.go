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

// DealInput carries the fields of a new deal.
type DealInput struct {
	StageID           *uuid.UUID `json:"stage_id"`
	ClientID          *uuid.UUID `json:"client_id"`
	Title             string     `json:"title"`
	Value             float64    `json:"value"`
	ExpectedCloseDate *time.Time `json:"expected_close_date"`
	Notes             *string    `json:"notes"`
	Position          int        `json:"position"`
}

// DealPatch carries a partial update. Nil fields are left as they are.
type DealPatch struct {
	StageID           *uuid.UUID `json:"stage_id"`
	ClientID          *uuid.UUID `json:"client_id"`
	ClearClient       bool       `json:"clear_client"`
	Title             *string    `json:"title"`
	Value             *float64   `json:"value"`
	ExpectedCloseDate *time.Time `json:"expected_close_date"`
	Notes             *string    `json:"notes"`
	Position          *int       `json:"position"`
}

// DealService owns sync token generation. Every local mutation stamps a
// fresh token and writes its outbound pushes in the same transaction.
type DealService struct {
	Repo      repositories.DealRepository
	Stages    repositories.StageRepository
	Pipelines repositories.PipelineRepository
	Cache     *cache.Cache
	Signal    OutboxSignal
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewDealService(store repositories.Store, c *cache.Cache, signal OutboxSignal, logger *zap.Logger) *DealService {
	return &DealService{
		Repo:      store,
		Stages:    store,
		Pipelines: store,
		Cache:     c,
		Signal:    signal,
		Logger:    nopLogger(logger),
		Now:       utcNow,
	}
}

func (s *DealService) List(ctx context.Context, sess Session, pipelineID *uuid.UUID) ([]*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	key := cache.Key{Kind: cache.KindDeals, OwnerID: sess.OwnerID, Scope: cache.Scope(pipelineID)}
	return loadCached(s.Cache, key, func() ([]*models.Deal, error) {
		return s.Repo.ListDeals(ctx, sess.OwnerID, pipelineID)
	})
}

func (s *DealService) Get(ctx context.Context, sess Session, id uuid.UUID) (*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	return s.Repo.GetDeal(ctx, sess.OwnerID, id)
}

func (s *DealService) stamp(d *models.Deal, source models.SyncSource) {
	token := uuid.New()
	d.SyncToken = &token
	d.LastSyncSource = source
}

// stagePush is nil for a deal with no client and no conversation, since
// there is nothing on the platform to label.
func (s *DealService) stagePush(d *models.Deal, now time.Time) *models.OutboxEntry {
	if d.ClientID == nil && d.ChatwootConversationID == nil {
		return nil
	}
	id, stage := d.ID, d.StageID
	return models.NewOutboxEntry(d.OwnerID, models.SyncPayload{
		Action:     models.ActionUpdateDealStage,
		DealID:     &id,
		NewStageID: &stage,
		SyncToken:  d.SyncToken,
	}, now)
}

func (s *DealService) attributePush(d *models.Deal, now time.Time) *models.OutboxEntry {
	if d.ClientID == nil {
		return nil
	}
	id := d.ID
	return models.NewOutboxEntry(d.OwnerID, models.SyncPayload{
		Action:    models.ActionSyncDealAttributes,
		DealID:    &id,
		SyncToken: d.SyncToken,
	}, now)
}

func (s *DealService) committed(sess Session, outbox []*models.OutboxEntry) {
	invalidate(s.Cache, cache.KindDeals, sess.OwnerID)
	for _, e := range outbox {
		if e != nil {
			notify(s.Signal)
			return
		}
	}
}

func (s *DealService) Create(ctx context.Context, sess Session, in DealInput) (*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	if in.StageID == nil || *in.StageID == uuid.Nil {
		return nil, ErrStageRequired
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	d := &models.Deal{
		ID:                uuid.New(),
		OwnerID:           sess.OwnerID,
		ClientID:          in.ClientID,
		StageID:           *in.StageID,
		Title:             title,
		Value:             in.Value,
		ExpectedCloseDate: in.ExpectedCloseDate,
		Notes:             in.Notes,
		Position:          in.Position,
	}
	s.stamp(d, models.SyncSourceCRM)

	outbox := []*models.OutboxEntry{s.attributePush(d, s.Now())}
	if err := s.Repo.CreateDeal(ctx, d, outbox...); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	s.committed(sess, outbox)
	return d, nil
}

// Update merges patch into the deal. A patch naming a stage is a stage
// change and is pushed even when position changes along with it.
func (s *DealService) Update(ctx context.Context, sess Session, id uuid.UUID, patch DealPatch) (*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	d, err := s.Repo.GetDeal(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		d.Title = title
	}
	stageChanged := false
	if patch.StageID != nil {
		if *patch.StageID == uuid.Nil {
			return nil, ErrStageRequired
		}
		d.StageID = *patch.StageID
		stageChanged = true
	}
	switch {
	case patch.ClearClient:
		d.ClientID = nil
	case patch.ClientID != nil:
		d.ClientID = patch.ClientID
	}
	if patch.Value != nil {
		d.Value = *patch.Value
	}
	if patch.ExpectedCloseDate != nil {
		d.ExpectedCloseDate = patch.ExpectedCloseDate
	}
	if patch.Notes != nil {
		d.Notes = patch.Notes
	}
	if patch.Position != nil {
		d.Position = *patch.Position
	}
	s.stamp(d, models.SyncSourceCRM)

	now := s.Now()
	var outbox []*models.OutboxEntry
	if stageChanged {
		if e := s.stagePush(d, now); e != nil {
			outbox = append(outbox, e)
		}
	}
	if e := s.attributePush(d, now); e != nil {
		outbox = append(outbox, e)
	}
	if err := s.Repo.UpdateDeal(ctx, d, outbox...); err != nil {
		return nil, fmt.Errorf("update deal: %w", err)
	}
	s.committed(sess, outbox)
	return d, nil
}

// Move places the deal in stageID at position and pushes the stage
// whenever the deal is linked to a client or conversation.
func (s *DealService) Move(ctx context.Context, sess Session, id, stageID uuid.UUID, position int) (*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	if stageID == uuid.Nil {
		return nil, ErrStageRequired
	}
	d, err := s.Repo.GetDeal(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, err
	}
	d.StageID = stageID
	d.Position = position
	s.stamp(d, models.SyncSourceCRM)

	outbox := []*models.OutboxEntry{s.stagePush(d, s.Now())}
	if err := s.Repo.UpdateDeal(ctx, d, outbox...); err != nil {
		return nil, fmt.Errorf("move deal: %w", err)
	}
	s.committed(sess, outbox)
	return d, nil
}

// Delete removes the deal. A deal with a client leaves a removal note
// behind, keyed by title and client since the row is gone.
func (s *DealService) Delete(ctx context.Context, sess Session, id uuid.UUID) error {
	if err := sess.valid(); err != nil {
		return err
	}
	d, err := s.Repo.GetDeal(ctx, sess.OwnerID, id)
	if err != nil {
		return err
	}
	var outbox []*models.OutboxEntry
	if d.ClientID != nil {
		client := *d.ClientID
		outbox = append(outbox, models.NewOutboxEntry(sess.OwnerID, models.SyncPayload{
			Action:    models.ActionDeleteDeal,
			DealTitle: d.Title,
			ClientID:  &client,
		}, s.Now()))
	}
	if err := s.Repo.DeleteDeal(ctx, sess.OwnerID, id, outbox...); err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	s.committed(sess, outbox)
	return nil
}

// ApplyConversationLabels moves the deals linked to a conversation to the
// stage matching its labels. Changes coming from the chat platform are
// stamped with the chatwoot source and are not pushed back. A deal whose
// current token equals echoToken is skipped: the event is our own push
// coming back.
func (s *DealService) ApplyConversationLabels(ctx context.Context, sess Session, conversationID int64, labels []string, echoToken *uuid.UUID) ([]*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	deals, err := s.Repo.FindDealsByConversation(ctx, sess.OwnerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("find deals by conversation: %w", err)
	}
	wanted := make(map[string]bool, len(labels))
	for _, l := range labels {
		wanted[models.NormalizeLabel(l)] = true
	}

	var moved []*models.Deal
	for _, d := range deals {
		if echoToken != nil && d.SyncToken != nil && *d.SyncToken == *echoToken {
			continue
		}
		target, err := s.stageForLabels(ctx, sess, d, wanted)
		if err != nil {
			return moved, err
		}
		if target == nil || target.ID == d.StageID {
			continue
		}
		d.StageID = target.ID
		s.stamp(d, models.SyncSourceChatwoot)
		if err := s.Repo.UpdateDeal(ctx, d); err != nil {
			return moved, fmt.Errorf("apply external stage: %w", err)
		}
		s.Logger.Info("[deals][external-stage] moved",
			zap.String("deal", d.ID.String()), zap.String("stage", target.Name), zap.Int64("conversation", conversationID))
		moved = append(moved, d)
	}
	if len(moved) > 0 {
		invalidate(s.Cache, cache.KindDeals, sess.OwnerID)
	}
	return moved, nil
}

// stageForLabels picks the stage of the deal's pipeline whose label is in
// wanted. The current stage wins when it still matches; otherwise the
// furthest stage does.
func (s *DealService) stageForLabels(ctx context.Context, sess Session, d *models.Deal, wanted map[string]bool) (*models.Stage, error) {
	current, err := s.Stages.GetStage(ctx, sess.OwnerID, d.StageID)
	if err != nil {
		return nil, err
	}
	siblings, err := s.Stages.ListStages(ctx, sess.OwnerID, current.PipelineID)
	if err != nil {
		return nil, err
	}
	var best *models.Stage
	for _, st := range siblings {
		if !wanted[models.NormalizeLabel(st.Label())] {
			continue
		}
		if st.ID == current.ID {
			return st, nil
		}
		if best == nil || st.Position > best.Position {
			best = st
		}
	}
	return best, nil
}

// OpenFromConversation creates a deal for a conversation started on the chat
// platform, in the first stage of the default pipeline. It returns nil when
// a deal already tracks the conversation or the owner has no stage yet.
func (s *DealService) OpenFromConversation(ctx context.Context, sess Session, conversationID int64, title string, clientID *uuid.UUID) (*models.Deal, error) {
	if err := sess.valid(); err != nil {
		return nil, err
	}
	existing, err := s.Repo.FindDealsByConversation(ctx, sess.OwnerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("find deals by conversation: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}
	pipelines, err := s.Pipelines.ListPipelines(ctx, sess.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	var pipelineID *uuid.UUID
	for _, p := range pipelines {
		if p.IsDefault {
			id := p.ID
			pipelineID = &id
			break
		}
	}
	if pipelineID == nil {
		s.Logger.Info("[deals][conversation] no default pipeline", zap.Int64("conversation", conversationID))
		return nil, nil
	}
	stages, err := s.Stages.ListStages(ctx, sess.OwnerID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	if len(stages) == 0 {
		return nil, nil
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Conversa #%d", conversationID)
	}
	conv := conversationID
	d := &models.Deal{
		ID:                     uuid.New(),
		OwnerID:                sess.OwnerID,
		ClientID:               clientID,
		StageID:                stages[0].ID,
		ChatwootConversationID: &conv,
		Title:                  title,
	}
	s.stamp(d, models.SyncSourceChatwoot)
	if err := s.Repo.CreateDeal(ctx, d); err != nil {
		return nil, fmt.Errorf("create deal from conversation: %w", err)
	}
	invalidate(s.Cache, cache.KindDeals, sess.OwnerID)
	s.Logger.Info("[deals][conversation] opened",
		zap.String("deal", d.ID.String()), zap.Int64("conversation", conversationID))
	return d, nil
}
