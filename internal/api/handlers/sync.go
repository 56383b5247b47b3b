package handlers

import (
	"context"
	"errors"
	"net/http"

	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlock"

	"github.com/gin-gonic/gin"
)

// SyncRunner runs a sync pass in-process.
type SyncRunner interface {
	SyncCatalog(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
	ReconcilePrices(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
	SyncRegistry(ctx context.Context) (reconcile.Summary, error)
}

// Requester hands a sync request to the worker.
type Requester interface {
	Request(ctx context.Context, eventType string, data events.RequestData) error
}

// LockFunc takes the run lock for an in-process run.
type LockFunc func(ctx context.Context) (runlock.Lock, error)

// SyncHandler triggers sync runs. With a Requester the run is queued for the
// worker; without one it runs inside the request under the run lock.
type SyncHandler struct {
	runner    SyncRunner
	requester Requester
	lock      LockFunc
	logger    *logger.Logger
}

func NewSyncHandler(runner SyncRunner, requester Requester, lock LockFunc, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, requester: requester, lock: lock, logger: logger}
}

func (h *SyncHandler) Catalog(c *gin.Context) {
	h.run(c, events.TypeCatalogSyncRequested, func(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error) {
		return h.runner.SyncCatalog(ctx, opts)
	})
}

func (h *SyncHandler) Prices(c *gin.Context) {
	h.run(c, events.TypePricesReconcileRequested, func(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error) {
		return h.runner.ReconcilePrices(ctx, opts)
	})
}

func (h *SyncHandler) Registry(c *gin.Context) {
	h.run(c, events.TypeRegistrySyncRequested, func(ctx context.Context, _ reconcile.Options) (reconcile.Summary, error) {
		return h.runner.SyncRegistry(ctx)
	})
}

func (h *SyncHandler) run(c *gin.Context, eventType string, fn func(context.Context, reconcile.Options) (reconcile.Summary, error)) {
	var opts reconcile.Options
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()

	if h.requester != nil {
		if err := h.requester.Request(ctx, eventType, events.RequestData{Options: opts}); err != nil {
			h.logger.Error("Failed to queue %s: %v", eventType, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue sync request"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "type": eventType, "options": opts})
		return
	}

	if h.lock != nil {
		lock, err := h.lock(ctx)
		if err != nil {
			if errors.Is(err, runlock.ErrLocked) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			fail(c, err)
			return
		}
		defer func() {
			if err := lock.Release(); err != nil {
				h.logger.Error("Failed to release run lock: %v", err)
			}
		}()
	}

	// A run that has pushed to the remote catalog must reach its local commit
	// even if the caller hangs up.
	summary, err := fn(context.WithoutCancel(ctx), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "data": summary})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
