package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"go-broadcast-relay/internal/infrastructure/hub"
	"go-broadcast-relay/internal/infrastructure/logger"
)

// HubReader is the read-only view of the hub the status endpoints need.
type HubReader interface {
	IsRunning() bool
	ConnectionCount() int
	Peers(ctx context.Context) ([]hub.PeerID, error)
}

type StatusHandler struct {
	hub    HubReader
	logger logger.Logger
}

func NewStatusHandler(hubInstance HubReader, logger logger.Logger) *StatusHandler {
	return &StatusHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "status"),
	}
}

// Status reports whether the hub is alive and how many peers it holds.
func (h *StatusHandler) Status(c *gin.Context) {
	isRunning := h.hub.IsRunning()
	connections := h.hub.ConnectionCount()

	h.logger.Debugf("Hub status check - Running: %v, Connections: %d", isRunning, connections)

	status := "healthy"
	code := http.StatusOK
	if !isRunning {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":      status,
		"hub_running": isRunning,
		"connections": connections,
	})
}

// Peers lists registered peers. Addresses are redacted in safe mode.
func (h *StatusHandler) Peers(c *gin.Context) {
	ids, err := h.hub.Peers(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list peers: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Hub unavailable",
		})
		return
	}

	peers := make([]string, 0, len(ids))
	for _, id := range ids {
		peers = append(peers, logger.Redact(id).String())
	}
	sort.Strings(peers)

	c.JSON(http.StatusOK, gin.H{
		"total_peers": len(peers),
		"peers":       peers,
	})
}
