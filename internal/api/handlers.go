package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/workpulse/risk-monitor/internal/hub"
	"github.com/workpulse/risk-monitor/internal/models"
	"github.com/workpulse/risk-monitor/internal/store"
	"github.com/workpulse/risk-monitor/internal/utils"
)

// SyncTrigger is the ingestion-facing completion hook exposed over HTTP.
type SyncTrigger interface {
	OnSyncComplete(ctx context.Context, kind models.Kind) (int, error)
}

// AlertStateResetter clears alert dedup state on admin request.
type AlertStateResetter interface {
	ResetAlertState()
}

// Handlers bundles the route dependencies.
type Handlers struct {
	logger   *slog.Logger
	store    store.Store
	trigger  SyncTrigger
	resetter AlertStateResetter
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(logger *slog.Logger, st store.Store, trig SyncTrigger, resetter AlertStateResetter, h *hub.Hub) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	handlers := &Handlers{
		logger:   logger,
		store:    st,
		trigger:  trig,
		resetter: resetter,
		hub:      h,
		upgrader: websocket.Upgrader{
			// Observers connect from browser dashboards on other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handlers.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/employees", handlers.listKind(models.KindEmployee))
		v1.GET("/departments", handlers.listKind(models.KindDepartment))
		v1.GET("/ws/alerts", handlers.alertsWebsocket)
		v1.GET("/ws/stats", handlers.observerStats)
		v1.POST("/internal/sync-complete", handlers.syncComplete)
		v1.POST("/internal/snapshots", handlers.upsertSnapshots)
		v1.POST("/admin/alerts/reset", handlers.resetAlerts)
	}

	return router
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) listKind(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := h.store.ListByKind(c.Request.Context(), kind)
		if err != nil {
			h.logger.Error("snapshot listing failed", slog.String("kind", string(kind)), slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": snapshots, "count": len(snapshots)})
	}
}

// alertsWebsocket upgrades the request and registers the connection with the
// hub. Connection lifetime is owned by the hub from that point on.
func (h *Handlers) alertsWebsocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	h.hub.Register(ws)
}

func (h *Handlers) observerStats(c *gin.Context) {
	count, p50, p95 := h.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connections":      count,
		"broadcast_p50_ms": float64(p50) / float64(time.Millisecond),
		"broadcast_p95_ms": float64(p95) / float64(time.Millisecond),
	})
}

type syncCompleteRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// syncComplete is called by the ingestion pipeline after it finished writing
// snapshots for a kind. The scan runs synchronously; alert delivery is
// queued, so the response does not wait for broadcast.
func (h *Handlers) syncComplete(c *gin.Context) {
	var req syncCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alerts, err := h.trigger.OnSyncComplete(c.Request.Context(), kind)
	if err != nil {
		// The next sync retries naturally; nothing persists from a failed scan.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"kind": string(kind), "alerts": alerts})
}

type snapshotUpsertRequest struct {
	Kind  string              `json:"kind" binding:"required"`
	Items []snapshotUpsertDoc `json:"items" binding:"required"`
}

type snapshotUpsertDoc struct {
	ID        string         `json:"id"`
	Metrics   map[string]any `json:"metrics"`
	UpdatedAt string         `json:"updated_at"`
}

// upsertSnapshots is the write seam used when the service runs on the memory
// store and the ingestion pipeline lives out of process.
func (h *Handlers) upsertSnapshots(c *gin.Context) {
	var req snapshotUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and items are required"})
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshots := make([]models.Snapshot, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every item needs an id"})
			return
		}
		updatedAt := time.Now().UTC()
		if item.UpdatedAt != "" {
			parsed, err := utils.ParseRFC3339(item.UpdatedAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid updated_at for " + item.ID})
				return
			}
			updatedAt = parsed
		}
		snapshots = append(snapshots, models.Snapshot{
			Kind:      kind,
			ID:        item.ID,
			Metrics:   item.Metrics,
			UpdatedAt: updatedAt,
		})
	}

	if err := h.store.Put(c.Request.Context(), snapshots...); err != nil {
		h.logger.Error("snapshot upsert failed", slog.String("kind", string(kind)), slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": string(kind), "stored": len(snapshots)})
}

func (h *Handlers) resetAlerts(c *gin.Context) {
	h.resetter.ResetAlertState()
	h.logger.Info("alert state reset requested")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
