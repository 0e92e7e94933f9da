package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/models"
)

const (
	opInsert = "INSERT"
	opUpdate = "UPDATE"
	opDelete = "DELETE"
)

const subscriberBuffer = 64

type subscriber struct {
	ch   chan models.ChangeEvent
	lost bool
}

// MemoryStore keeps everything in process. It mirrors the Postgres backend,
// including the change feed, and backs development runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[uuid.UUID]*models.Pipeline
	stages    map[uuid.UUID]*models.Stage
	deals     map[uuid.UUID]*models.Deal
	clients   map[uuid.UUID]*models.Client
	outbox    map[uuid.UUID]*models.OutboxEntry
	now       func() time.Time

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines: make(map[uuid.UUID]*models.Pipeline),
		stages:    make(map[uuid.UUID]*models.Stage),
		deals:     make(map[uuid.UUID]*models.Deal),
		clients:   make(map[uuid.UUID]*models.Client),
		outbox:    make(map[uuid.UUID]*models.OutboxEntry),
		subs:      make(map[int]*subscriber),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Close() error { return nil }

// Subscribe streams change events until ctx is done. A subscriber that falls
// behind receives a models.TableAll event once it drains again.
func (m *MemoryStore) Subscribe(ctx context.Context) (<-chan models.ChangeEvent, error) {
	sub := &subscriber{ch: make(chan models.ChangeEvent, subscriberBuffer)}
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subs, id)
		close(sub.ch)
		m.subMu.Unlock()
	}()
	return sub.ch, nil
}

func (m *MemoryStore) publish(events ...models.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		if sub.lost {
			select {
			case sub.ch <- models.ChangeEvent{Table: models.TableAll, Op: opUpdate}:
				sub.lost = false
			default:
				continue
			}
		}
		for _, ev := range events {
			select {
			case sub.ch <- ev:
			default:
				sub.lost = true
			}
			if sub.lost {
				break
			}
		}
	}
}

func change(table, op string, owner, id uuid.UUID) models.ChangeEvent {
	return models.ChangeEvent{Table: table, Op: op, OwnerID: owner, RecordID: id}
}

func clonePipeline(p *models.Pipeline) *models.Pipeline {
	c := *p
	if p.Description != nil {
		v := *p.Description
		c.Description = &v
	}
	return &c
}

func cloneStage(s *models.Stage) *models.Stage {
	c := *s
	if s.PipelineID != nil {
		v := *s.PipelineID
		c.PipelineID = &v
	}
	if s.ChatwootLabel != nil {
		v := *s.ChatwootLabel
		c.ChatwootLabel = &v
	}
	return &c
}

func cloneClient(cl *models.Client) *models.Client {
	c := *cl
	if cl.ChatwootContactID != nil {
		v := *cl.ChatwootContactID
		c.ChatwootContactID = &v
	}
	if cl.ChatwootSyncedAt != nil {
		v := *cl.ChatwootSyncedAt
		c.ChatwootSyncedAt = &v
	}
	return &c
}

func cloneOutbox(e *models.OutboxEntry) *models.OutboxEntry {
	c := *e
	return &c
}

// ---- pipelines ----

func (m *MemoryStore) ownerPipelines(owner uuid.UUID) []*models.Pipeline {
	var res []*models.Pipeline
	for _, p := range m.pipelines {
		if p.OwnerID == owner {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Position != res[j].Position {
			return res[i].Position < res[j].Position
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func (m *MemoryStore) ListPipelines(_ context.Context, owner uuid.UUID) ([]*models.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*models.Pipeline
	for _, p := range m.ownerPipelines(owner) {
		res = append(res, clonePipeline(p))
	}
	return res, nil
}

func (m *MemoryStore) pipeline(owner, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := m.pipelines[id]
	if !ok || p.OwnerID != owner {
		return nil, fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) GetPipeline(_ context.Context, owner, id uuid.UUID) (*models.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, err := m.pipeline(owner, id)
	if err != nil {
		return nil, err
	}
	return clonePipeline(p), nil
}

func (m *MemoryStore) CreatePipeline(_ context.Context, p *models.Pipeline, makeDefault bool) error {
	var events []models.ChangeEvent
	m.mu.Lock()
	if _, exists := m.pipelines[p.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("insert pipeline: duplicate id %s", p.ID)
	}
	existing := m.ownerPipelines(p.OwnerID)
	now := m.now()
	p.Position = len(existing)
	p.IsDefault = makeDefault || len(existing) == 0
	if p.IsDefault {
		for _, other := range existing {
			if other.IsDefault {
				other.IsDefault = false
				other.UpdatedAt = now
				events = append(events, change(models.TablePipelines, opUpdate, other.OwnerID, other.ID))
			}
		}
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.pipelines[p.ID] = clonePipeline(p)
	events = append(events, change(models.TablePipelines, opInsert, p.OwnerID, p.ID))
	m.mu.Unlock()

	m.publish(events...)
	return nil
}

func (m *MemoryStore) UpdatePipeline(_ context.Context, p *models.Pipeline) error {
	m.mu.Lock()
	cur, err := m.pipeline(p.OwnerID, p.ID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	p.UpdatedAt = m.now()
	cur.Name = p.Name
	cur.Description = clonePipeline(p).Description
	cur.UpdatedAt = p.UpdatedAt
	m.mu.Unlock()

	m.publish(change(models.TablePipelines, opUpdate, p.OwnerID, p.ID))
	return nil
}

func (m *MemoryStore) SetDefaultPipeline(_ context.Context, owner, id uuid.UUID) (*models.Pipeline, error) {
	var events []models.ChangeEvent
	m.mu.Lock()
	target, err := m.pipeline(owner, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := m.now()
	for _, p := range m.ownerPipelines(owner) {
		if p.IsDefault && p.ID != id {
			p.IsDefault = false
			p.UpdatedAt = now
			events = append(events, change(models.TablePipelines, opUpdate, owner, p.ID))
		}
	}
	target.IsDefault = true
	target.UpdatedAt = now
	out := clonePipeline(target)
	events = append(events, change(models.TablePipelines, opUpdate, owner, id))
	m.mu.Unlock()

	m.publish(events...)
	return out, nil
}

func (m *MemoryStore) DeletePipeline(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	p, err := m.pipeline(owner, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if p.IsDefault {
		m.mu.Unlock()
		return ErrDefaultPipeline
	}
	if n := len(m.pipelineStages(id)); n > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d stage(s)", ErrPipelineNotEmpty, n)
	}
	delete(m.pipelines, id)
	for _, other := range m.ownerPipelines(owner) {
		if other.Position > p.Position {
			other.Position--
		}
	}
	m.mu.Unlock()

	m.publish(change(models.TablePipelines, opDelete, owner, id))
	return nil
}

func (m *MemoryStore) ReorderPipelines(_ context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	existing := m.ownerPipelines(owner)
	existingIDs := make([]uuid.UUID, len(existing))
	for i, p := range existing {
		existingIDs[i] = p.ID
	}
	if !sameIDSet(existingIDs, ids) {
		m.mu.Unlock()
		return ErrInvalidOrder
	}
	now := m.now()
	events := make([]models.ChangeEvent, 0, len(ids))
	for i, id := range ids {
		p := m.pipelines[id]
		p.Position = i
		p.UpdatedAt = now
		events = append(events, change(models.TablePipelines, opUpdate, owner, id))
	}
	m.mu.Unlock()

	m.publish(events...)
	return nil
}

// ---- stages ----

func sortStages(res []*models.Stage) {
	sort.Slice(res, func(i, j int) bool {
		if res[i].Position != res[j].Position {
			return res[i].Position < res[j].Position
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
}

func (m *MemoryStore) pipelineStages(pipelineID uuid.UUID) []*models.Stage {
	var res []*models.Stage
	for _, s := range m.stages {
		if s.PipelineID != nil && *s.PipelineID == pipelineID {
			res = append(res, s)
		}
	}
	sortStages(res)
	return res
}

func (m *MemoryStore) ListStages(_ context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*models.Stage
	for _, s := range m.stages {
		if s.OwnerID != owner {
			continue
		}
		if pipelineID != nil && (s.PipelineID == nil || *s.PipelineID != *pipelineID) {
			continue
		}
		res = append(res, cloneStage(s))
	}
	sortStages(res)
	return res, nil
}

func (m *MemoryStore) stage(owner, id uuid.UUID) (*models.Stage, error) {
	s, ok := m.stages[id]
	if !ok || s.OwnerID != owner {
		return nil, fmt.Errorf("stage %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) GetStage(_ context.Context, owner, id uuid.UUID) (*models.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.stage(owner, id)
	if err != nil {
		return nil, err
	}
	return cloneStage(s), nil
}

func (m *MemoryStore) AppendStages(_ context.Context, owner, pipelineID uuid.UUID, stages []*models.Stage) error {
	m.mu.Lock()
	if _, err := m.pipeline(owner, pipelineID); err != nil {
		m.mu.Unlock()
		return err
	}
	for _, st := range stages {
		if _, exists := m.stages[st.ID]; exists {
			m.mu.Unlock()
			return fmt.Errorf("insert stage %q: duplicate id %s", st.Name, st.ID)
		}
	}
	count := len(m.pipelineStages(pipelineID))
	now := m.now()
	events := make([]models.ChangeEvent, 0, len(stages))
	for i, st := range stages {
		pid := pipelineID
		st.OwnerID = owner
		st.PipelineID = &pid
		st.Position = count + i
		st.CreatedAt = now
		m.stages[st.ID] = cloneStage(st)
		events = append(events, change(models.TableStages, opInsert, owner, st.ID))
	}
	m.mu.Unlock()

	m.publish(events...)
	return nil
}

func (m *MemoryStore) UpdateStage(_ context.Context, st *models.Stage) error {
	m.mu.Lock()
	cur, err := m.stage(st.OwnerID, st.ID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	next := cloneStage(st)
	cur.Name = next.Name
	cur.Color = next.Color
	cur.ChatwootLabel = next.ChatwootLabel
	m.mu.Unlock()

	m.publish(change(models.TableStages, opUpdate, st.OwnerID, st.ID))
	return nil
}

func (m *MemoryStore) ReorderStages(_ context.Context, owner uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return ErrInvalidOrder
	}
	m.mu.Lock()
	first, err := m.stage(owner, ids[0])
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if first.PipelineID == nil {
		m.mu.Unlock()
		return ErrInvalidOrder
	}
	siblings := m.pipelineStages(*first.PipelineID)
	existing := make([]uuid.UUID, len(siblings))
	for i, s := range siblings {
		existing[i] = s.ID
	}
	if !sameIDSet(existing, ids) {
		m.mu.Unlock()
		return ErrInvalidOrder
	}
	events := make([]models.ChangeEvent, 0, len(ids))
	for i, id := range ids {
		m.stages[id].Position = i
		events = append(events, change(models.TableStages, opUpdate, owner, id))
	}
	m.mu.Unlock()

	m.publish(events...)
	return nil
}

func (m *MemoryStore) DeleteStage(_ context.Context, owner, id uuid.UUID) error {
	m.mu.Lock()
	st, err := m.stage(owner, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	deals := 0
	for _, d := range m.deals {
		if d.StageID == id {
			deals++
		}
	}
	if deals > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d deal(s)", ErrStageNotEmpty, deals)
	}
	delete(m.stages, id)
	if st.PipelineID != nil {
		for _, other := range m.pipelineStages(*st.PipelineID) {
			if other.Position > st.Position {
				other.Position--
			}
		}
	}
	m.mu.Unlock()

	m.publish(change(models.TableStages, opDelete, owner, id))
	return nil
}

// ---- deals ----

func (m *MemoryStore) dealView(d *models.Deal) *models.Deal {
	out := d.Clone()
	out.Client = nil
	if d.ClientID != nil {
		if c, ok := m.clients[*d.ClientID]; ok && c.OwnerID == d.OwnerID {
			out.Client = &models.ClientRef{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
		}
	}
	return out
}

func sortDeals(res []*models.Deal) {
	sort.Slice(res, func(i, j int) bool {
		if res[i].Position != res[j].Position {
			return res[i].Position < res[j].Position
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
}

func (m *MemoryStore) ListDeals(_ context.Context, owner uuid.UUID, pipelineID *uuid.UUID) ([]*models.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*models.Deal
	for _, d := range m.deals {
		if d.OwnerID != owner {
			continue
		}
		if pipelineID != nil {
			st, ok := m.stages[d.StageID]
			if !ok || st.PipelineID == nil || *st.PipelineID != *pipelineID {
				continue
			}
		}
		res = append(res, m.dealView(d))
	}
	sortDeals(res)
	return res, nil
}

func (m *MemoryStore) deal(owner, id uuid.UUID) (*models.Deal, error) {
	d, ok := m.deals[id]
	if !ok || d.OwnerID != owner {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) GetDeal(_ context.Context, owner, id uuid.UUID) (*models.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, err := m.deal(owner, id)
	if err != nil {
		return nil, err
	}
	return m.dealView(d), nil
}

func (m *MemoryStore) FindDealsByConversation(_ context.Context, owner uuid.UUID, conversationID int64) ([]*models.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*models.Deal
	for _, d := range m.deals {
		if d.OwnerID == owner && d.ChatwootConversationID != nil && *d.ChatwootConversationID == conversationID {
			res = append(res, m.dealView(d))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (m *MemoryStore) putOutbox(entries []*models.OutboxEntry) {
	for _, e := range entries {
		if e != nil {
			m.outbox[e.ID] = cloneOutbox(e)
		}
	}
}

func (m *MemoryStore) CreateDeal(_ context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error {
	m.mu.Lock()
	if err := m.checkRefs(d); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, exists := m.deals[d.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("insert deal: duplicate id %s", d.ID)
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	stored := d.Clone()
	stored.Client = nil
	m.deals[d.ID] = stored
	m.putOutbox(outbox)
	m.mu.Unlock()

	m.publish(change(models.TableDeals, opInsert, d.OwnerID, d.ID))
	return nil
}

func (m *MemoryStore) UpdateDeal(_ context.Context, d *models.Deal, outbox ...*models.OutboxEntry) error {
	m.mu.Lock()
	cur, err := m.deal(d.OwnerID, d.ID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.checkRefs(d); err != nil {
		m.mu.Unlock()
		return err
	}
	d.UpdatedAt = m.now()
	d.CreatedAt = cur.CreatedAt
	stored := d.Clone()
	stored.Client = nil
	m.deals[d.ID] = stored
	m.putOutbox(outbox)
	m.mu.Unlock()

	m.publish(change(models.TableDeals, opUpdate, d.OwnerID, d.ID))
	return nil
}

func (m *MemoryStore) DeleteDeal(_ context.Context, owner, id uuid.UUID, outbox ...*models.OutboxEntry) error {
	m.mu.Lock()
	if _, err := m.deal(owner, id); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.deals, id)
	m.putOutbox(outbox)
	m.mu.Unlock()

	m.publish(change(models.TableDeals, opDelete, owner, id))
	return nil
}

func (m *MemoryStore) SetDealConversation(_ context.Context, owner, id uuid.UUID, conversationID int64) error {
	m.mu.Lock()
	d, err := m.deal(owner, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	conv := conversationID
	d.ChatwootConversationID = &conv
	m.mu.Unlock()

	m.publish(change(models.TableDeals, opUpdate, owner, id))
	return nil
}

// ---- clients ----

func (m *MemoryStore) client(owner, id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok || c.OwnerID != owner {
		return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// checkRefs rejects stage and client ids that belong to another owner.
func (m *MemoryStore) checkRefs(d *models.Deal) error {
	if _, err := m.stage(d.OwnerID, d.StageID); err != nil {
		return err
	}
	if d.ClientID != nil {
		if _, err := m.client(d.OwnerID, *d.ClientID); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetClient(_ context.Context, owner, id uuid.UUID) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.client(owner, id)
	if err != nil {
		return nil, err
	}
	return cloneClient(c), nil
}

func (m *MemoryStore) UpsertClient(_ context.Context, c *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.clients[c.ID]
	if !ok {
		m.clients[c.ID] = cloneClient(c)
		return nil
	}
	if cur.OwnerID != c.OwnerID {
		return nil
	}
	cur.Name, cur.Phone, cur.Email = c.Name, c.Phone, c.Email
	return nil
}

func (m *MemoryStore) SetClientContact(_ context.Context, owner, id uuid.UUID, contactID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.OwnerID != owner {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	contact := contactID
	synced := m.now()
	c.ChatwootContactID = &contact
	c.ChatwootSyncedAt = &synced
	return nil
}

func (m *MemoryStore) FindClientByContact(_ context.Context, owner uuid.UUID, email, phone string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if email != "" {
		for _, c := range m.clients {
			if c.OwnerID == owner && strings.EqualFold(c.Email, email) {
				return cloneClient(c), nil
			}
		}
	}
	for _, c := range m.clients {
		if c.OwnerID == owner && models.SamePhone(c.Phone, phone) {
			return cloneClient(c), nil
		}
	}
	return nil, fmt.Errorf("client %s/%s: %w", email, phone, ErrNotFound)
}

// ---- outbox ----

func (m *MemoryStore) EnqueueOutbox(_ context.Context, entries ...*models.OutboxEntry) error {
	m.mu.Lock()
	m.putOutbox(entries)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClaimOutbox(_ context.Context, now, leaseUntil time.Time, limit int) ([]*models.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.OutboxEntry
	for _, e := range m.outbox {
		if e.Status == models.OutboxPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	res := make([]*models.OutboxEntry, 0, len(due))
	for _, e := range due {
		e.NextAttemptAt = leaseUntil
		e.UpdatedAt = now
		res = append(res, cloneOutbox(e))
	}
	return res, nil
}

func (m *MemoryStore) outboxEntry(id uuid.UUID) (*models.OutboxEntry, error) {
	e, ok := m.outbox[id]
	if !ok {
		return nil, fmt.Errorf("outbox entry %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *MemoryStore) MarkOutboxDone(_ context.Context, id uuid.UUID, warning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.outboxEntry(id)
	if err != nil {
		return err
	}
	e.Status = models.OutboxDone
	e.Attempts++
	e.LastError = ""
	e.LastWarning = warning
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkOutboxFailed(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.outboxEntry(id)
	if err != nil {
		return err
	}
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = lastErr
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkOutboxDead(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.outboxEntry(id)
	if err != nil {
		return err
	}
	e.Status = models.OutboxDead
	e.Attempts = attempts
	e.LastError = lastErr
	e.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListOutbox(_ context.Context, owner uuid.UUID, status models.OutboxStatus, limit int) ([]*models.OutboxEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*models.OutboxEntry
	for _, e := range m.outbox {
		if owner != uuid.Nil && e.OwnerID != owner {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		res = append(res, cloneOutbox(e))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) RequeueOutbox(_ context.Context, owner, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.outboxEntry(id)
	if err != nil {
		return err
	}
	if owner != uuid.Nil && e.OwnerID != owner {
		return fmt.Errorf("outbox entry %s: %w", id, ErrNotFound)
	}
	e.Status = models.OutboxPending
	e.Attempts = 0
	e.NextAttemptAt = now
	e.LastError = ""
	e.UpdatedAt = now
	return nil
}
