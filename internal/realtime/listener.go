package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crmsync/internal/cache"
	"crmsync/internal/models"
)

// KindAll tells viewers to refetch everything.
const KindAll = "all"

// ChangeFeed streams store change events until ctx is done.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan models.ChangeEvent, error)
}

// Broadcaster delivers events to viewers.
type Broadcaster interface {
	Broadcast(owner uuid.UUID, ev Event)
	BroadcastAll(ev Event)
}

// Listener turns change events into cache invalidations and viewer pushes.
type Listener struct {
	Feed   ChangeFeed
	Cache  *cache.Cache
	Hub    Broadcaster
	Logger *zap.Logger
}

func NewListener(feed ChangeFeed, c *cache.Cache, hub Broadcaster, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{Feed: feed, Cache: c, Hub: hub, Logger: logger}
}

var tableKinds = map[string]cache.Kind{
	models.TablePipelines: cache.KindPipelines,
	models.TableStages:    cache.KindStages,
	models.TableDeals:     cache.KindDeals,
}

// Run consumes the feed until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	events, err := l.Feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe change feed: %w", err)
	}
	l.Logger.Info("[realtime][listener] subscribed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("change feed closed")
			}
			l.Handle(ev)
		}
	}
}

// Handle applies one change event.
func (l *Listener) Handle(ev models.ChangeEvent) {
	if ev.Table == models.TableAll {
		if ev.OwnerID == uuid.Nil {
			l.Cache.InvalidateAll()
			l.Logger.Warn("[realtime][listener] feed resynced, cache cleared")
			if l.Hub != nil {
				l.Hub.BroadcastAll(Event{Type: "invalidate", Kind: KindAll})
			}
			return
		}
		l.Cache.InvalidateOwner(ev.OwnerID)
		l.broadcast(ev.OwnerID, KindAll)
		return
	}
	kind, ok := tableKinds[ev.Table]
	if !ok {
		l.Logger.Debug("[realtime][listener] ignoring table", zap.String("table", ev.Table))
		return
	}
	l.Cache.Invalidate(kind, ev.OwnerID)
	l.broadcast(ev.OwnerID, string(kind))
}

func (l *Listener) broadcast(owner uuid.UUID, kind string) {
	if l.Hub != nil {
		l.Hub.Broadcast(owner, Event{Type: "invalidate", Kind: kind})
	}
}
