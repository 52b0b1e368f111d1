package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/reachforge/outreach-engine/internal/model"
	xhttp "github.com/reachforge/outreach-engine/pkg/http"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

// EventPublisher enqueues a webhook envelope for asynchronous processing.
type EventPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// WebhookHandler is the provider-facing ingestion edge. It validates only
// the envelope shape, assigns an event id when the provider omitted one, and
// enqueues. 202 is returned for every well-formed envelope, unrecognized
// kinds included; classification happens in the processor.
type WebhookHandler struct {
	publisher EventPublisher
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/provider", h.ReceiveEvent)
}

func NewWebhookHandler(publisher EventPublisher) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
	}
}

func (h *WebhookHandler) ReceiveEvent(ctx *xhttp.RequestCtx) {
	var envelope model.WebhookEnvelope
	if err := readJSON(ctx, &envelope); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := envelope.Validate(); err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}

	queueID, err := h.publisher.PublishJSON(ctx, envelope, map[string]string{"event": envelope.Event})
	if err != nil {
		logger.Error("Failed to enqueue webhook event", "event_id", envelope.EventID, "error", err)
		writeError(ctx, 503, "failed to enqueue event")
		return
	}

	logger.Debug("Webhook event enqueued",
		"event_id", envelope.EventID, "event", envelope.Event, "queue_id", queueID)

	writeJSON(ctx, 202, map[string]string{"event_id": envelope.EventID})
}
