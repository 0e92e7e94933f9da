package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"crmsync/internal/models"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// PostgresFeed reads the change notifications the schema triggers publish
// on Channel.
type PostgresFeed struct {
	DSN     string
	Channel string
	Logger  *zap.Logger
}

func NewPostgresFeed(dsn, channel string, logger *zap.Logger) *PostgresFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresFeed{DSN: dsn, Channel: channel, Logger: logger}
}

func (f *PostgresFeed) Subscribe(ctx context.Context) (<-chan models.ChangeEvent, error) {
	log := f.Logger
	listener := pq.NewListener(f.DSN, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			log.Warn("[realtime][pg] disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("[realtime][pg] reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("[realtime][pg] reconnect failed", zap.Error(err))
		}
	})
	if err := listener.Listen(f.Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", f.Channel, err)
	}

	out := make(chan models.ChangeEvent, 64)
	go func() {
		defer close(out)
		defer listener.Close()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			var ev models.ChangeEvent
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go func() { _ = listener.Ping() }()
				continue
			case n := <-listener.Notify:
				if n == nil {
					// sent after a reconnect; notifications may have been missed
					ev = models.ChangeEvent{Table: models.TableAll}
				} else if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					log.Warn("[realtime][pg] bad payload", zap.String("payload", n.Extra), zap.Error(err))
					continue
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
