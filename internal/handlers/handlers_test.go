package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/authz"
	"crmsync/internal/cache"
	"crmsync/internal/middleware"
	"crmsync/internal/models"
	"crmsync/internal/pdf"
	"crmsync/internal/repositories"
	"crmsync/internal/services"
	"crmsync/internal/syncbridge"
)

const webhookToken = "hook-secret"

type fakeValidator struct{ res syncbridge.Result }

func (f fakeValidator) Validate(context.Context) syncbridge.Result { return f.res }

type fakeRetrier struct{ err error }

func (f fakeRetrier) Retry(context.Context, uuid.UUID, uuid.UUID) error { return f.err }

type fakeReport struct{ data pdf.ReportData }

func (f *fakeReport) PipelineReport(w io.Writer, data pdf.ReportData) error {
	f.data = data
	_, err := w.Write([]byte("%PDF-1.3 fake"))
	return err
}

type testAPI struct {
	router *gin.Engine
	store  *repositories.MemoryStore
	owner  uuid.UUID
	role   int
	sync   *SyncHandler
	report *fakeReport
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryStore()
	c := cache.New()
	stageSvc := services.NewStageService(store, c, nil, nil)
	dealSvc := services.NewDealService(store, c, nil, nil)
	pipelineSvc := services.NewPipelineService(store, stageSvc, c, nil)
	clientSvc := services.NewClientService(store)

	api := &testAPI{store: store, owner: uuid.New(), role: authz.RoleBroker, report: &fakeReport{}}
	api.sync = NewSyncHandler(store, fakeRetrier{}, nil)
	webhook, err := NewWebhookHandler(dealSvc, clientSvc, webhookToken, nil)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/webhooks/chatwoot/:owner_id", webhook.Chatwoot)
	r.Use(func(c *gin.Context) {
		if api.owner != uuid.Nil {
			c.Set(middleware.CtxOwnerID, api.owner)
		}
		c.Set(middleware.CtxRoleID, api.role)
		c.Next()
	})

	ph := NewPipelineHandler(pipelineSvc)
	r.GET("/pipelines", ph.List)
	r.POST("/pipelines", ph.Create)
	r.POST("/pipelines/reorder", ph.Reorder)
	r.DELETE("/pipelines/:id", ph.Delete)
	r.GET("/pipelines/:id/report.pdf", NewReportHandler(pipelineSvc, stageSvc, dealSvc, api.report).PipelineReport)

	sh := NewStageHandler(stageSvc)
	r.GET("/stages", sh.List)
	r.POST("/stages", sh.Create)
	r.PUT("/stages/:id", sh.Update)
	r.DELETE("/stages/:id", sh.Delete)

	dh := NewDealHandler(dealSvc)
	r.GET("/deals", dh.List)
	r.POST("/deals", dh.Create)
	r.GET("/deals/:id", dh.GetByID)
	r.POST("/deals/:id/move", dh.Move)

	ch := NewClientHandler(clientSvc)
	r.POST("/clients", ch.Create)

	r.GET("/sync/outbox", func(c *gin.Context) { api.sync.ListOutbox(c) })
	r.POST("/sync/validate", func(c *gin.Context) { api.sync.Validate(c) })

	api.router = r
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) pipeline(t *testing.T) (*models.Pipeline, []*models.Stage) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/pipelines", gin.H{"name": "Vendas", "create_default_stages": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode[models.Pipeline](t, w)

	w = a.do(t, http.MethodGet, "/stages?pipeline_id="+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	return &p, decode[[]*models.Stage](t, w)
}

func TestPipelineAndStagesFlow(t *testing.T) {
	api := newTestAPI(t)
	p, stages := api.pipeline(t)

	assert.True(t, p.IsDefault)
	require.Len(t, stages, 6)
	assert.Equal(t, "Novo Lead", stages[0].Name)

	w := api.do(t, http.MethodGet, "/pipelines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*models.Pipeline](t, w), 1)

	w = api.do(t, http.MethodPut, "/stages/"+stages[1].ID.String(), gin.H{"name": "Primeiro Contato"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Primeiro Contato", decode[models.Stage](t, w).Name)
}

func TestStageUpdateRequiresName(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)

	w := api.do(t, http.MethodPut, "/stages/"+stages[0].ID.String(), gin.H{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDealCreateMoveAndGuardedStageDelete(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)

	w := api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[0].ID, "title": "Seguro Auto", "value": 1200.5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	deal := decode[models.Deal](t, w)
	assert.Equal(t, models.SyncSourceCRM, deal.LastSyncSource)
	require.NotNil(t, deal.SyncToken)

	w = api.do(t, http.MethodPost, "/deals/"+deal.ID.String()+"/move", gin.H{"stage_id": stages[3].ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[models.Deal](t, w)
	assert.Equal(t, stages[3].ID, moved.StageID)
	assert.NotEqual(t, *deal.SyncToken, *moved.SyncToken)

	w = api.do(t, http.MethodDelete, "/stages/"+stages[3].ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodGet, "/deals/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDealCreateValidation(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)

	w := api.do(t, http.MethodPost, "/deals", gin.H{"title": "Sem etapa"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[0].ID, "title": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReorderRejectsPartialSet(t *testing.T) {
	api := newTestAPI(t)
	p, _ := api.pipeline(t)
	w := api.do(t, http.MethodPost, "/pipelines", gin.H{"name": "Renovações"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodPost, "/pipelines/reorder", gin.H{"ids": []uuid.UUID{p.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDefaultPipelineCannotBeDeleted(t *testing.T) {
	api := newTestAPI(t)
	p, _ := api.pipeline(t)

	w := api.do(t, http.MethodDelete, "/pipelines/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMissingOwnerIsUnauthorized(t *testing.T) {
	api := newTestAPI(t)
	api.owner = uuid.Nil

	w := api.do(t, http.MethodGet, "/pipelines", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOwnersAreIsolated(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)
	w := api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[0].ID, "title": "Vida"})
	require.Equal(t, http.StatusCreated, w.Code)
	deal := decode[models.Deal](t, w)

	api.owner = uuid.New()
	w = api.do(t, http.MethodGet, "/deals/"+deal.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = api.do(t, http.MethodGet, "/deals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]*models.Deal](t, w))
}

func TestDealRejectsAnotherOwnersClient(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/clients", gin.H{"name": "Ana", "phone": "11987654321", "email": "ana@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	client := decode[models.Client](t, w)

	api.owner = uuid.New()
	_, stages := api.pipeline(t)
	w = api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[0].ID, "title": "Vida", "client_id": client.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "ana@example.com")

	w = api.do(t, http.MethodGet, "/deals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]*models.Deal](t, w))
	w = api.do(t, http.MethodGet, "/sync/outbox?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]*models.OutboxEntry](t, w))
}

func TestSyncOutboxAndValidate(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)
	w := api.do(t, http.MethodPost, "/clients", gin.H{"name": "Ana"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	client := decode[models.Client](t, w)
	w = api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[0].ID, "title": "Vida", "client_id": client.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, "/sync/outbox?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[[]*models.OutboxEntry](t, w))

	w = api.do(t, http.MethodGet, "/sync/outbox?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/sync/validate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	api.sync.Validator = fakeValidator{res: syncbridge.Result{Message: "401 unauthorized"}}
	w = api.do(t, http.MethodPost, "/sync/validate", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	api.sync.Validator = fakeValidator{res: syncbridge.Result{Success: true, Message: "2 inbox(es)"}}
	w = api.do(t, http.MethodPost, "/sync/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[syncbridge.Result](t, w).Success)
}

func TestPipelineReport(t *testing.T) {
	api := newTestAPI(t)
	p, stages := api.pipeline(t)
	w := api.do(t, http.MethodPost, "/deals", gin.H{"stage_id": stages[2].ID, "title": "Vida", "value": 300})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodGet, "/pipelines/"+p.ID.String()+"/report.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "%PDF")
	assert.Equal(t, p.ID, api.report.data.Pipeline.ID)
	assert.Len(t, api.report.data.Stages, 6)
	assert.Len(t, api.report.data.Deals, 1)
}

func (a *testAPI) webhook(t *testing.T, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/webhooks/chatwoot/"+a.owner.String()+"?token="+token, body)
}

func TestWebhookRejectsBadToken(t *testing.T) {
	api := newTestAPI(t)
	w := api.webhook(t, "wrong", gin.H{"event": "conversation_updated"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	api := newTestAPI(t)

	w := api.webhook(t, webhookToken, gin.H{"event": "conversation_updated"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.webhook(t, webhookToken, gin.H{"event": "conversation_updated", "conversation": gin.H{"id": "abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.webhook(t, webhookToken, gin.H{"conversation": gin.H{"id": 1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	api := newTestAPI(t)
	w := api.webhook(t, webhookToken, gin.H{"event": "message_created"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "message_created", decode[map[string]any](t, w)["ignored"])
}

func TestWebhookConversationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	_, stages := api.pipeline(t)

	w := api.do(t, http.MethodPost, "/clients", gin.H{"name": "Ana Souza", "email": "ana@example.com", "phone": "(11) 98765-4321"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	client := decode[models.Client](t, w)

	w = api.webhook(t, webhookToken, gin.H{
		"event":        "conversation_created",
		"account":      gin.H{"id": 1},
		"conversation": gin.H{"id": 501, "labels": []string{}},
		"contact":      gin.H{"id": 77, "name": "Ana", "email": "ana@example.com", "phone_number": "+5511987654321"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["created"])

	w = api.do(t, http.MethodGet, "/deals", nil)
	deals := decode[[]*models.Deal](t, w)
	require.Len(t, deals, 1)
	deal := deals[0]
	assert.Equal(t, "Nova conversa - Ana", deal.Title)
	assert.Equal(t, stages[0].ID, deal.StageID)
	assert.Equal(t, models.SyncSourceChatwoot, deal.LastSyncSource)
	require.NotNil(t, deal.ClientID)
	assert.Equal(t, client.ID, *deal.ClientID)

	linked, err := api.store.GetClient(context.Background(), api.owner, client.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.ChatwootContactID)
	assert.EqualValues(t, 77, *linked.ChatwootContactID)

	// a second creation event for the same conversation is a no-op
	w = api.webhook(t, webhookToken, gin.H{"event": "conversation_created", "conversation": gin.H{"id": 501}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["created"])

	w = api.webhook(t, webhookToken, gin.H{
		"event":        "conversation_updated",
		"conversation": gin.H{"id": 501, "labels": []string{"vip", "Negociacao"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["moved"])

	w = api.do(t, http.MethodGet, "/deals/"+deal.ID.String(), nil)
	updated := decode[models.Deal](t, w)
	assert.Equal(t, stages[3].ID, updated.StageID)

	// the platform echoing our own token back is skipped
	w = api.webhook(t, webhookToken, gin.H{
		"event":        "conversation_updated",
		"sync_token":   updated.SyncToken.String(),
		"conversation": gin.H{"id": 501, "labels": []string{"perdido"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["moved"])
}

func TestWebhookContactCreatedWithoutMatch(t *testing.T) {
	api := newTestAPI(t)
	w := api.webhook(t, webhookToken, gin.H{
		"event":   "contact_created",
		"contact": gin.H{"id": 9, "email": "nobody@example.com"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["linked"])
}
