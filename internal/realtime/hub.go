// Package realtime pushes store changes to connected viewers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Event is what viewers receive. Kind names the list to refetch.
type Event struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
}

// Hub keeps the open viewer connections of every owner.
type Hub struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]map[*websocket.Conn]struct{}
	logger *zap.Logger

	// OriginPatterns is passed to websocket.Accept.
	OriginPatterns []string
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		owners: make(map[uuid.UUID]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(owner uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[owner] == nil {
		h.owners[owner] = make(map[*websocket.Conn]struct{})
	}
	h.owners[owner][conn] = struct{}{}
}

func (h *Hub) Unregister(owner uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if conns, ok := h.owners[owner]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.owners, owner)
		}
	}
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// Count returns the number of viewers connected for owner.
func (h *Hub) Count(owner uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[owner])
}

// Broadcast sends ev to every viewer of owner. Viewers that cannot be
// written to are dropped.
func (h *Hub) Broadcast(owner uuid.UUID, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("[realtime][broadcast] marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.owners[owner]))
	for conn := range h.owners[owner] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Warn("[realtime][broadcast] dropping viewer", zap.String("owner", owner.String()), zap.Error(err))
			h.Unregister(owner, conn)
		}
	}
}

// BroadcastAll sends ev to every connected viewer.
func (h *Hub) BroadcastAll(ev Event) {
	h.mu.RLock()
	owners := make([]uuid.UUID, 0, len(h.owners))
	for owner := range h.owners {
		owners = append(owners, owner)
	}
	h.mu.RUnlock()
	for _, owner := range owners {
		h.Broadcast(owner, ev)
	}
}

// Serve upgrades the request and keeps the viewer registered until the
// connection or the request context ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, owner uuid.UUID) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		return err
	}
	h.Register(owner, conn)
	defer h.Unregister(owner, conn)
	h.logger.Info("[realtime][serve] viewer connected", zap.String("owner", owner.String()), zap.Int("viewers", h.Count(owner)))

	ready, _ := json.Marshal(Event{Type: "ready"})
	wctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	err = conn.Write(wctx, websocket.MessageText, ready)
	cancel()
	if err != nil {
		return err
	}

	// viewers only listen; CloseRead discards anything they send
	<-conn.CloseRead(r.Context()).Done()
	return nil
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	owners := h.owners
	h.owners = make(map[uuid.UUID]map[*websocket.Conn]struct{})
	h.mu.Unlock()
	for _, conns := range owners {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
