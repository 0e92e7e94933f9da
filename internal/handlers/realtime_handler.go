package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crmsync/internal/realtime"
)

type RealtimeHandler struct {
	Hub    *realtime.Hub
	Logger *zap.Logger
}

func NewRealtimeHandler(hub *realtime.Hub, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{Hub: hub, Logger: logger}
}

// Serve upgrades to a websocket that receives {"type":"invalidate","kind":...}
// whenever the owner's pipelines, stages or deals change.
func (h *RealtimeHandler) Serve(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	if err := h.Hub.Serve(c.Writer, c.Request, sess.OwnerID); err != nil {
		h.Logger.Debug("[realtime][serve] closed", zap.Error(err))
	}
}
