package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crmsync/internal/cache"
	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type sent struct {
	owner uuid.UUID
	ev    Event
}

type recorder struct {
	out chan sent
}

func newRecorder() *recorder { return &recorder{out: make(chan sent, 16)} }

func (r *recorder) Broadcast(owner uuid.UUID, ev Event) { r.out <- sent{owner, ev} }
func (r *recorder) BroadcastAll(ev Event)               { r.out <- sent{uuid.Nil, ev} }

func (r *recorder) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-r.out:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
		return sent{}
	}
}

func warm(t *testing.T, c *cache.Cache, kind cache.Kind, owner uuid.UUID) {
	t.Helper()
	_, err := cache.Load(c, cache.Key{Kind: kind, OwnerID: owner, Scope: cache.ScopeAll}, func() (int, error) { return 1, nil })
	require.NoError(t, err)
}

func TestListenerInvalidatesOnStoreChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := repositories.NewMemoryStore()
	c := cache.New()
	rec := newRecorder()
	owner, other := uuid.New(), uuid.New()
	warm(t, c, cache.KindPipelines, owner)
	warm(t, c, cache.KindPipelines, other)
	warm(t, c, cache.KindDeals, owner)

	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(store, c, rec, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Run subscribes asynchronously; retry the write until it is observed.
	var got sent
	require.Eventually(t, func() bool {
		p := &models.Pipeline{ID: uuid.New(), OwnerID: owner, Name: "Vendas"}
		if err := store.CreatePipeline(context.Background(), p, false); err != nil {
			return false
		}
		select {
		case got = <-rec.out:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, owner, got.owner)
	assert.Equal(t, Event{Type: "invalidate", Kind: "pipelines"}, got.ev)
	assert.Equal(t, 2, c.Len(), "other owner and other kinds stay cached")

	cancel()
	require.NoError(t, <-done)
}

func TestListenerResync(t *testing.T) {
	c := cache.New()
	rec := newRecorder()
	owner := uuid.New()
	l := NewListener(nil, c, rec, nil)

	warm(t, c, cache.KindDeals, owner)
	warm(t, c, cache.KindStages, owner)
	l.Handle(models.ChangeEvent{Table: models.TableAll, OwnerID: owner})
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, sent{owner, Event{Type: "invalidate", Kind: KindAll}}, rec.next(t))

	warm(t, c, cache.KindDeals, uuid.New())
	l.Handle(models.ChangeEvent{Table: models.TableAll})
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, sent{uuid.Nil, Event{Type: "invalidate", Kind: KindAll}}, rec.next(t))
}

func TestListenerIgnoresUnknownTables(t *testing.T) {
	c := cache.New()
	rec := newRecorder()
	owner := uuid.New()
	warm(t, c, cache.KindDeals, owner)

	NewListener(nil, c, rec, nil).Handle(models.ChangeEvent{Table: "sync_outbox", OwnerID: owner})
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, rec.out)
}
