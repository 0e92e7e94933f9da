package services

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/cache"
	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type countingSignal struct{ n atomic.Int32 }

func (c *countingSignal) Notify() { c.n.Add(1) }

type fixture struct {
	store     *repositories.MemoryStore
	cache     *cache.Cache
	signal    *countingSignal
	stages    *StageService
	deals     *DealService
	pipelines *PipelineService
	sess      Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	c := cache.New()
	sig := &countingSignal{}
	stages := NewStageService(store, c, sig, nil)
	return &fixture{
		store:     store,
		cache:     c,
		signal:    sig,
		stages:    stages,
		deals:     NewDealService(store, c, sig, nil),
		pipelines: NewPipelineService(store, stages, c, nil),
		sess:      NewSession(uuid.New()),
	}
}

func (f *fixture) pipelineWithDefaults(t *testing.T, name string) (*models.Pipeline, []*models.Stage) {
	t.Helper()
	ctx := context.Background()
	p, err := f.pipelines.Create(ctx, f.sess, PipelineInput{Name: name, CreateDefaultStages: true})
	require.NoError(t, err)
	stages, err := f.stages.List(ctx, f.sess, &p.ID)
	require.NoError(t, err)
	return p, stages
}

func (f *fixture) pending(t *testing.T) []*models.OutboxEntry {
	t.Helper()
	entries, err := f.store.ListOutbox(context.Background(), f.sess.OwnerID, models.OutboxPending, 0)
	require.NoError(t, err)
	return entries
}

func TestCreateFirstPipelineWithDefaultStages(t *testing.T) {
	f := newFixture(t)
	p, stages := f.pipelineWithDefaults(t, "Vendas")

	assert.True(t, p.IsDefault)
	require.Len(t, stages, 6)
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
		assert.Equal(t, i, st.Position)
	}
	assert.Equal(t, []string{"Novo Lead", "Em Contato", "Proposta Enviada", "Negociação", "Fechado Ganho", "Perdido"}, names)
}

func TestSecondPipelineIsNotDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vendas, _ := f.pipelineWithDefaults(t, "Vendas")

	sinistros, err := f.pipelines.Create(ctx, f.sess, PipelineInput{Name: "Sinistros"})
	require.NoError(t, err)
	assert.False(t, sinistros.IsDefault)

	list, err := f.pipelines.List(ctx, f.sess)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].IsDefault)
	assert.Equal(t, vendas.ID, list[0].ID)
}

func TestSetDefaultKeepsExactlyOneDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pipelines.Create(ctx, f.sess, PipelineInput{Name: "Vendas"})
	require.NoError(t, err)
	second, err := f.pipelines.Create(ctx, f.sess, PipelineInput{Name: "Sinistros"})
	require.NoError(t, err)

	_, err = f.pipelines.List(ctx, f.sess) // warm the cache
	require.NoError(t, err)

	isDefault := true
	_, err = f.pipelines.Update(ctx, f.sess, second.ID, PipelinePatch{IsDefault: &isDefault})
	require.NoError(t, err)

	list, err := f.pipelines.List(ctx, f.sess)
	require.NoError(t, err)
	defaults := 0
	for _, p := range list {
		if p.IsDefault {
			defaults++
			assert.Equal(t, second.ID, p.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	notDefault := false
	_, err = f.pipelines.Update(ctx, f.sess, second.ID, PipelinePatch{IsDefault: &notDefault})
	assert.ErrorIs(t, err, ErrDefaultRequired)
}

func TestDeletePipelineRequiresEmptyStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.pipelineWithDefaults(t, "Vendas")
	p, stages := f.pipelineWithDefaults(t, "Sinistros")

	err := f.pipelines.Delete(ctx, f.sess, p.ID)
	assert.ErrorIs(t, err, repositories.ErrPipelineNotEmpty)

	for _, st := range stages {
		require.NoError(t, f.stages.Delete(ctx, f.sess, st.ID))
	}
	require.NoError(t, f.pipelines.Delete(ctx, f.sess, p.ID))
}

func TestInitializeDefaultsRequiresPipeline(t *testing.T) {
	f := newFixture(t)
	_, err := f.stages.InitializeDefaults(context.Background(), f.sess, nil)
	assert.ErrorIs(t, err, ErrPipelineRequired)
}

func TestCreateStageAppendsWithDerivedLabel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.pipelineWithDefaults(t, "Vendas")

	st, err := f.stages.Create(ctx, f.sess, &p.ID, "Aguardando  Vistoria", "")
	require.NoError(t, err)
	assert.Equal(t, 6, st.Position)
	assert.Equal(t, "aguardando_vistoria", st.Label())
	assert.Equal(t, models.PresetColors[0], st.Color)

	color := "#06B6D4"
	renamed, err := f.stages.Rename(ctx, f.sess, st.ID, "Vistoria Agendada", &color)
	require.NoError(t, err)
	assert.Equal(t, "vistoria_agendada", renamed.Label())
	assert.Equal(t, color, renamed.Color)

	_, err = f.stages.Rename(ctx, f.sess, st.ID, "  ", nil)
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestStageListIsInvalidatedByMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, stages := f.pipelineWithDefaults(t, "Vendas")

	ids := make([]uuid.UUID, len(stages))
	for i := range stages {
		ids[len(stages)-1-i] = stages[i].ID
	}
	require.NoError(t, f.stages.Reorder(ctx, f.sess, ids))

	list, err := f.stages.List(ctx, f.sess, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Perdido", list[0].Name)
	assert.Equal(t, 0, list[0].Position)
}

func TestDeleteStageWithDealsFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")

	_, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro auto"})
	require.NoError(t, err)

	err = f.stages.Delete(ctx, f.sess, stages[0].ID)
	assert.ErrorIs(t, err, repositories.ErrStageNotEmpty)
}

func TestCreateDealValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")

	_, err := f.deals.Create(ctx, f.sess, DealInput{Title: "Sem etapa"})
	assert.ErrorIs(t, err, ErrStageRequired)

	_, err = f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: " "})
	assert.ErrorIs(t, err, ErrTitleRequired)

	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro vida", Value: 1500})
	require.NoError(t, err)
	require.NotNil(t, d.SyncToken)
	assert.Equal(t, models.SyncSourceCRM, d.LastSyncSource)
	assert.Empty(t, f.pending(t), "no client, nothing to push")
}

func (f *fixture) pendingAction(t *testing.T, action models.SyncAction) []*models.OutboxEntry {
	t.Helper()
	var out []*models.OutboxEntry
	for _, e := range f.pending(t) {
		if e.Payload.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func TestMoveTwiceGeneratesDistinctTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	client := &models.Client{ID: uuid.New(), OwnerID: f.sess.OwnerID, Name: "João"}
	require.NoError(t, f.store.UpsertClient(ctx, client))

	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro auto", ClientID: &client.ID})
	require.NoError(t, err)

	first, err := f.deals.Move(ctx, f.sess, d.ID, stages[1].ID, 0)
	require.NoError(t, err)
	firstToken := *first.SyncToken
	second, err := f.deals.Move(ctx, f.sess, d.ID, stages[2].ID, 3)
	require.NoError(t, err)

	assert.NotEqual(t, firstToken, *second.SyncToken)
	assert.NotEqual(t, *d.SyncToken, firstToken)

	got, err := f.deals.Get(ctx, f.sess, d.ID)
	require.NoError(t, err)
	assert.Equal(t, stages[2].ID, got.StageID)
	assert.Equal(t, 3, got.Position)
	assert.Equal(t, *second.SyncToken, *got.SyncToken)

	pushes := f.pendingAction(t, models.ActionUpdateDealStage)
	require.Len(t, pushes, 2)
	tokens := map[uuid.UUID]bool{}
	for _, e := range pushes {
		tokens[*e.Payload.SyncToken] = true
	}
	assert.True(t, tokens[firstToken])
	assert.True(t, tokens[*second.SyncToken])
	// create plus two moves
	assert.EqualValues(t, 3, f.signal.n.Load())
}

func TestMoveUnlinkedDealQueuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")

	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro auto"})
	require.NoError(t, err)
	_, err = f.deals.Move(ctx, f.sess, d.ID, stages[1].ID, 0)
	require.NoError(t, err)
	_, err = f.deals.Update(ctx, f.sess, d.ID, DealPatch{StageID: &stages[2].ID})
	require.NoError(t, err)

	got, err := f.deals.Get(ctx, f.sess, d.ID)
	require.NoError(t, err)
	assert.Equal(t, stages[2].ID, got.StageID)
	assert.Empty(t, f.pending(t))
	assert.EqualValues(t, 0, f.signal.n.Load())
}

func TestDealCannotReferenceAnotherOwnersClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	foreign := &models.Client{ID: uuid.New(), OwnerID: uuid.New(), Name: "Outro", Phone: "11999990000", Email: "outro@example.com"}
	require.NoError(t, f.store.UpsertClient(ctx, foreign))

	_, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro auto", ClientID: &foreign.ID})
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro vida"})
	require.NoError(t, err)
	_, err = f.deals.Update(ctx, f.sess, d.ID, DealPatch{ClientID: &foreign.ID})
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	got, err := f.deals.Get(ctx, f.sess, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ClientID)
	assert.Nil(t, got.Client)
	assert.Empty(t, f.pending(t))
}

func TestMovedDealLeavesOldStageList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Seguro auto"})
	require.NoError(t, err)

	before, err := f.deals.List(ctx, f.sess, nil)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, stages[0].ID, before[0].StageID)

	_, err = f.deals.Move(ctx, f.sess, d.ID, stages[4].ID, 0)
	require.NoError(t, err)

	after, err := f.deals.List(ctx, f.sess, nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, stages[4].ID, after[0].StageID, "cached list was invalidated")
}

func TestUpdateWithStageAndClientQueuesBothPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	client := &models.Client{ID: uuid.New(), OwnerID: f.sess.OwnerID, Name: "João"}
	require.NoError(t, f.store.UpsertClient(ctx, client))

	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Residencial", ClientID: &client.ID})
	require.NoError(t, err)
	require.Len(t, f.pending(t), 1)

	pos := 2
	updated, err := f.deals.Update(ctx, f.sess, d.ID, DealPatch{StageID: &stages[1].ID, Position: &pos})
	require.NoError(t, err)
	assert.NotEqual(t, *d.SyncToken, *updated.SyncToken)

	actions := map[models.SyncAction]int{}
	for _, e := range f.pending(t) {
		actions[e.Payload.Action]++
	}
	assert.Equal(t, 1, actions[models.ActionUpdateDealStage])
	assert.Equal(t, 2, actions[models.ActionSyncDealAttributes])
}

func TestUpdateWithoutStageDoesNotPushStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Residencial"})
	require.NoError(t, err)

	value := 980.5
	updated, err := f.deals.Update(ctx, f.sess, d.ID, DealPatch{Value: &value})
	require.NoError(t, err)
	assert.Equal(t, value, updated.Value)
	assert.NotEqual(t, *d.SyncToken, *updated.SyncToken)
	assert.Empty(t, f.pending(t))
}

func TestDeleteDealWithoutClientQueuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Residencial"})
	require.NoError(t, err)

	require.NoError(t, f.deals.Delete(ctx, f.sess, d.ID))
	assert.Empty(t, f.pending(t))
}

func TestDeleteDealWithClientQueuesRemovalNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	client := &models.Client{ID: uuid.New(), OwnerID: f.sess.OwnerID, Name: "João"}
	require.NoError(t, f.store.UpsertClient(ctx, client))
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Residencial", ClientID: &client.ID})
	require.NoError(t, err)

	require.NoError(t, f.deals.Delete(ctx, f.sess, d.ID))

	var removal *models.OutboxEntry
	for _, e := range f.pending(t) {
		if e.Payload.Action == models.ActionDeleteDeal {
			removal = e
		}
	}
	require.NotNil(t, removal)
	assert.Equal(t, "Residencial", removal.Payload.DealTitle)
	assert.Equal(t, client.ID, *removal.Payload.ClientID)
	assert.Nil(t, removal.Payload.DealID)
}

func TestApplyConversationLabelsMovesWithoutPushBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Auto"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetDealConversation(ctx, f.sess.OwnerID, d.ID, 42))

	moved, err := f.deals.ApplyConversationLabels(ctx, f.sess, 42, []string{"vip", "Negociação"}, nil)
	require.NoError(t, err)
	require.Len(t, moved, 1)

	got, err := f.deals.Get(ctx, f.sess, d.ID)
	require.NoError(t, err)
	assert.Equal(t, stages[3].ID, got.StageID)
	assert.Equal(t, models.SyncSourceChatwoot, got.LastSyncSource)
	assert.NotEqual(t, *d.SyncToken, *got.SyncToken)
	assert.Empty(t, f.pending(t))

	again, err := f.deals.ApplyConversationLabels(ctx, f.sess, 42, []string{"negociacao"}, nil)
	require.NoError(t, err)
	assert.Empty(t, again, "already in that stage")
}

func TestApplyConversationLabelsSkipsOwnEcho(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.Create(ctx, f.sess, DealInput{StageID: &stages[0].ID, Title: "Auto"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetDealConversation(ctx, f.sess.OwnerID, d.ID, 7))

	moved, err := f.deals.ApplyConversationLabels(ctx, f.sess, 7, []string{"perdido"}, d.SyncToken)
	require.NoError(t, err)
	assert.Empty(t, moved)

	got, err := f.deals.Get(ctx, f.sess, d.ID)
	require.NoError(t, err)
	assert.Equal(t, stages[0].ID, got.StageID)
}

func TestOpenFromConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.deals.OpenFromConversation(ctx, f.sess, 9, "Nova conversa - Ana", nil)
	require.NoError(t, err)
	assert.Nil(t, none, "no pipeline yet")

	_, stages := f.pipelineWithDefaults(t, "Vendas")
	d, err := f.deals.OpenFromConversation(ctx, f.sess, 9, "", nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, stages[0].ID, d.StageID)
	assert.Equal(t, "Conversa #9", d.Title)
	assert.Equal(t, models.SyncSourceChatwoot, d.LastSyncSource)
	assert.Empty(t, f.pending(t))

	dup, err := f.deals.OpenFromConversation(ctx, f.sess, 9, "again", nil)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestSyncLabelsQueuesEntry(t *testing.T) {
	f := newFixture(t)
	entry, err := f.stages.SyncLabels(context.Background(), f.sess)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSyncStages, entry.Payload.Action)
	assert.Len(t, f.pending(t), 1)
}

func TestMissingSessionIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.deals.List(context.Background(), Session{}, nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLinkContactMatchesByPhoneSuffix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clients := NewClientService(f.store)
	c := &models.Client{Name: "Ana", Phone: "(11) 98765-4321"}
	require.NoError(t, clients.Upsert(ctx, f.sess, c))

	linked, err := clients.LinkContact(ctx, f.sess, 501, "", "+55 11 98765-4321")
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, c.ID, linked.ID)

	got, err := clients.Get(ctx, f.sess, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ChatwootContactID)
	assert.EqualValues(t, 501, *got.ChatwootContactID)

	none, err := clients.LinkContact(ctx, f.sess, 502, "ninguem@example.com", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}
