package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/models"
)

func newPipeline(owner uuid.UUID, name string) *models.Pipeline {
	return &models.Pipeline{ID: uuid.New(), OwnerID: owner, Name: name}
}

func newStages(names ...string) []*models.Stage {
	res := make([]*models.Stage, len(names))
	for i, n := range names {
		res[i] = &models.Stage{ID: uuid.New(), Name: n, Color: "#3B82F6"}
	}
	return res
}

func positions(stages []*models.Stage) []int {
	res := make([]int, len(stages))
	for i, s := range stages {
		res[i] = s.Position
	}
	return res
}

func TestCreatePipelineElectsSingleDefault(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()

	first := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, first, false))
	assert.True(t, first.IsDefault, "first pipeline becomes default")

	second := newPipeline(owner, "Sinistros")
	require.NoError(t, s.CreatePipeline(ctx, second, false))
	assert.False(t, second.IsDefault)
	assert.Equal(t, 1, second.Position)

	third := newPipeline(owner, "Renovações")
	require.NoError(t, s.CreatePipeline(ctx, third, true))

	list, err := s.ListPipelines(ctx, owner)
	require.NoError(t, err)
	defaults := 0
	for _, p := range list {
		if p.IsDefault {
			defaults++
			assert.Equal(t, third.ID, p.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSetDefaultPipeline(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	a, b := newPipeline(owner, "A"), newPipeline(owner, "B")
	require.NoError(t, s.CreatePipeline(ctx, a, false))
	require.NoError(t, s.CreatePipeline(ctx, b, false))

	p, err := s.SetDefaultPipeline(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.True(t, p.IsDefault)

	gotA, err := s.GetPipeline(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault)

	_, err = s.SetDefaultPipeline(ctx, uuid.New(), b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePipelineGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	def, other := newPipeline(owner, "Vendas"), newPipeline(owner, "Sinistros")
	require.NoError(t, s.CreatePipeline(ctx, def, false))
	require.NoError(t, s.CreatePipeline(ctx, other, false))

	assert.ErrorIs(t, s.DeletePipeline(ctx, owner, def.ID), ErrDefaultPipeline)

	stages := newStages("Aberto")
	require.NoError(t, s.AppendStages(ctx, owner, other.ID, stages))
	assert.ErrorIs(t, s.DeletePipeline(ctx, owner, other.ID), ErrPipelineNotEmpty)

	require.NoError(t, s.DeleteStage(ctx, owner, stages[0].ID))
	require.NoError(t, s.DeletePipeline(ctx, owner, other.ID))

	list, err := s.ListPipelines(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].Position)
}

func TestAppendStagesAssignsDensePositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))

	require.NoError(t, s.AppendStages(ctx, owner, p.ID, newStages("A", "B", "C")))
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, newStages("D")))

	list, err := s.ListStages(ctx, owner, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, positions(list))
	assert.Equal(t, "D", list[3].Name)

	err = s.AppendStages(ctx, uuid.New(), p.ID, newStages("X"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteStageCompactsPositions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))
	stages := newStages("A", "B", "C", "D")
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, stages))

	require.NoError(t, s.DeleteStage(ctx, owner, stages[1].ID))

	list, err := s.ListStages(ctx, owner, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, positions(list))
	assert.Equal(t, []string{"A", "C", "D"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestDeleteStageWithDealsFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))
	stages := newStages("A")
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, stages))
	require.NoError(t, s.CreateDeal(ctx, &models.Deal{ID: uuid.New(), OwnerID: owner, StageID: stages[0].ID, Title: "Seguro auto"}))

	err := s.DeleteStage(ctx, owner, stages[0].ID)
	assert.ErrorIs(t, err, ErrStageNotEmpty)

	list, err := s.ListStages(ctx, owner, &p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReorderStagesRequiresExactSiblingSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))
	stages := newStages("A", "B", "C")
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, stages))

	a, b, c := stages[0].ID, stages[1].ID, stages[2].ID
	assert.ErrorIs(t, s.ReorderStages(ctx, owner, []uuid.UUID{c, a}), ErrInvalidOrder)
	assert.ErrorIs(t, s.ReorderStages(ctx, owner, []uuid.UUID{c, a, a}), ErrInvalidOrder)
	assert.ErrorIs(t, s.ReorderStages(ctx, owner, nil), ErrInvalidOrder)

	require.NoError(t, s.ReorderStages(ctx, owner, []uuid.UUID{c, a, b}))
	list, err := s.ListStages(ctx, owner, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c, a, b}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, []int{0, 1, 2}, positions(list))
}

func TestListDealsFiltersByPipeline(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p1, p2 := newPipeline(owner, "Vendas"), newPipeline(owner, "Sinistros")
	require.NoError(t, s.CreatePipeline(ctx, p1, false))
	require.NoError(t, s.CreatePipeline(ctx, p2, false))
	s1, s2 := newStages("A"), newStages("B")
	require.NoError(t, s.AppendStages(ctx, owner, p1.ID, s1))
	require.NoError(t, s.AppendStages(ctx, owner, p2.ID, s2))

	client := &models.Client{ID: uuid.New(), OwnerID: owner, Name: "Maria", Phone: "11987654321"}
	require.NoError(t, s.UpsertClient(ctx, client))

	d1 := &models.Deal{ID: uuid.New(), OwnerID: owner, StageID: s1[0].ID, Title: "Auto", ClientID: &client.ID}
	d2 := &models.Deal{ID: uuid.New(), OwnerID: owner, StageID: s2[0].ID, Title: "Vida"}
	require.NoError(t, s.CreateDeal(ctx, d1))
	require.NoError(t, s.CreateDeal(ctx, d2))

	got, err := s.ListDeals(ctx, owner, &p1.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d1.ID, got[0].ID)
	require.NotNil(t, got[0].Client)
	assert.Equal(t, "Maria", got[0].Client.Name)

	all, err := s.ListDeals(ctx, owner, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	other, err := s.ListDeals(ctx, uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCreateDealRejectsForeignStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))
	stages := newStages("A")
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, stages))

	err := s.CreateDeal(ctx, &models.Deal{ID: uuid.New(), OwnerID: uuid.New(), StageID: stages[0].ID, Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDealMutationsWriteOutbox(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))
	stages := newStages("A")
	require.NoError(t, s.AppendStages(ctx, owner, p.ID, stages))

	d := &models.Deal{ID: uuid.New(), OwnerID: owner, StageID: stages[0].ID, Title: "Auto"}
	require.NoError(t, s.CreateDeal(ctx, d))

	entry := models.NewOutboxEntry(owner, models.SyncPayload{Action: models.ActionDeleteDeal, DealTitle: "Auto"}, time.Now())
	require.NoError(t, s.DeleteDeal(ctx, owner, d.ID, entry))

	pending, err := s.ListOutbox(ctx, owner, models.OutboxPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionDeleteDeal, pending[0].Payload.Action)

	_, err = s.GetDeal(ctx, owner, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimOutboxLeasesEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	owner := uuid.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	due := models.NewOutboxEntry(owner, models.SyncPayload{Action: models.ActionSyncStages}, now.Add(-time.Minute))
	later := models.NewOutboxEntry(owner, models.SyncPayload{Action: models.ActionSyncStages}, now.Add(time.Hour))
	require.NoError(t, s.EnqueueOutbox(ctx, due, later))

	claimed, err := s.ClaimOutbox(ctx, now, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)

	again, err := s.ClaimOutbox(ctx, now, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "leased entry is not claimed twice")

	require.NoError(t, s.MarkOutboxDead(ctx, due.ID, 5, "boom"))
	require.NoError(t, s.RequeueOutbox(ctx, owner, due.ID, now))
	claimed, err = s.ClaimOutbox(ctx, now, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 0, claimed[0].Attempts)

	assert.ErrorIs(t, s.RequeueOutbox(ctx, uuid.New(), due.ID, now), ErrNotFound)
}

func TestSubscribePublishesChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()
	owner := uuid.New()

	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	p := newPipeline(owner, "Vendas")
	require.NoError(t, s.CreatePipeline(ctx, p, false))

	select {
	case ev := <-events:
		assert.Equal(t, models.TablePipelines, ev.Table)
		assert.Equal(t, owner, ev.OwnerID)
		assert.Equal(t, p.ID, ev.RecordID)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, time.Second, 10*time.Millisecond)
}
