package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"catalogsync/internal/apperr"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/webhook"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	queue      *webhook.Queue
	applier    *webhook.Router
	secret     string
	drainLimit int
	purgeDays  int
	logger     *logger.Logger
}

func NewWebhookHandler(queue *webhook.Queue, applier *webhook.Router, secret string, drainLimit, purgeDays int, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:      queue,
		applier:    applier,
		secret:     secret,
		drainLimit: drainLimit,
		purgeDays:  purgeDays,
		logger:     logger,
	}
}

// inboundEnvelope is the body shape for callers that do not send topic headers.
type inboundEnvelope struct {
	Topic      string          `json:"topic"`
	ResourceID int64           `json:"resource_id"`
	DeliveryID string          `json:"delivery_id"`
	Payload    json.RawMessage `json:"payload"`
}

func header(c *gin.Context, names ...string) string {
	for _, n := range names {
		if v := c.GetHeader(n); v != "" {
			return v
		}
	}
	return ""
}

// Receive verifies and enqueues one inbound webhook. Processing happens later
// when the queue is drained.
func (h *WebhookHandler) Receive(c *gin.Context) {
	source := c.Param("source")
	if !h.applier.Handles(source) {
		metrics.ObserveWebhook("rejected")
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown webhook source"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	signature := header(c, "X-WC-Webhook-Signature", "X-Webhook-Signature")
	if err := webhook.VerifySignature(h.secret, body, signature); err != nil {
		metrics.ObserveWebhook("rejected")
		h.logger.Warn("Rejected %s webhook: %v", source, err)
		fail(c, err)
		return
	}

	env := webhook.Envelope{
		Source:     source,
		DeliveryID: header(c, "X-WC-Webhook-Delivery-ID", "X-Webhook-Delivery-ID"),
		Topic:      header(c, "X-WC-Webhook-Topic", "X-Webhook-Topic"),
		Payload:    body,
	}

	if env.Topic == "" {
		// The catalog pings a new webhook with a form body and no topic.
		if strings.HasPrefix(string(body), "webhook_id=") {
			c.JSON(http.StatusOK, gin.H{"status": "ping"})
			return
		}
		var in inboundEnvelope
		if err := json.Unmarshal(body, &in); err != nil {
			fail(c, &apperr.ValidationError{Reason: "missing topic"})
			return
		}
		env.Topic = in.Topic
		env.ResourceID = in.ResourceID
		if env.DeliveryID == "" {
			env.DeliveryID = in.DeliveryID
		}
		env.Payload = in.Payload
	} else {
		var res struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(body, &res) == nil {
			env.ResourceID = res.ID
		}
	}

	id, err := h.queue.Enqueue(c.Request.Context(), env)
	switch {
	case errors.Is(err, apperr.ErrDuplicateWebhook):
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "id": id})
	case err != nil:
		metrics.ObserveWebhook("rejected")
		h.logger.Warn("Rejected %s webhook %s: %v", source, env.Topic, err)
		fail(c, err)
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": id})
	}
}

func (h *WebhookHandler) List(c *gin.Context) {
	status := models.WebhookStatus(c.Query("status"))
	limit := queryInt(c, "limit", 50)

	envs, err := h.queue.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch webhooks"})
		return
	}
	counts, err := h.queue.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count webhooks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   envs,
		"counts": counts,
	})
}

// Retry puts failed envelopes back to pending.
func (h *WebhookHandler) Retry(c *gin.Context) {
	n, err := h.queue.RetryFailed(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": n})
}

// Drain processes pending envelopes now instead of waiting for the worker.
func (h *WebhookHandler) Drain(c *gin.Context) {
	stats, err := h.queue.Process(c.Request.Context(), queryInt(c, "limit", h.drainLimit), h.applier)
	if err != nil {
		h.logger.Error("Webhook drain failed: %v", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "data": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *WebhookHandler) Purge(c *gin.Context) {
	days := queryInt(c, "days", h.purgeDays)
	n, err := h.queue.PurgeCompletedOlderThan(c.Request.Context(), days)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n, "days": days})
}
