package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/queue"
	"github.com/reachforge/outreach-engine/internal/services"
	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/reachforge/outreach-engine/pkg/prom"
)

const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeUnmatched = "unmatched"
	outcomeUnknown   = "unknown_kind"
	outcomeInvalid   = "invalid"
)

// WebhookEventProcessor drains the webhook stream and feeds provider events
// into the contact state machine. Events are deduplicated by event id before
// any state is touched; a duplicate delivery acks without side effects.
type WebhookEventProcessor struct {
	campaigns   services.CampaignStore
	contacts    services.ContactStore
	transitions *services.TransitionService
	idempotency *IdempotencyService
}

func NewWebhookEventProcessor(
	campaigns services.CampaignStore,
	contacts services.ContactStore,
	transitions *services.TransitionService,
	idempotency *IdempotencyService,
) *WebhookEventProcessor {
	return &WebhookEventProcessor{
		campaigns:   campaigns,
		contacts:    contacts,
		transitions: transitions,
		idempotency: idempotency,
	}
}

func (p *WebhookEventProcessor) GetType() string {
	return "webhook_event"
}

// Process handles one queued webhook envelope. Returning nil acks the queue
// message; returning an error nacks it for redelivery. Events that can never
// succeed on retry (malformed payload, unknown kind, no matching contact)
// are acked so they do not clog the stream.
func (p *WebhookEventProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var envelope model.WebhookEnvelope
	if err := json.Unmarshal(queueMessage.Data, &envelope); err != nil {
		logger.Error("Failed to unmarshal webhook envelope", "queue_message_id", queueMessage.ID, "error", err)
		prom.IncWebhookEventProcessed("unparseable", outcomeInvalid)
		return err // move to DLQ
	}
	if err := envelope.Validate(); err != nil {
		logger.Error("Invalid webhook envelope", "event_id", envelope.EventID, "error", err)
		prom.IncWebhookEventProcessed(envelope.Event, outcomeInvalid)
		return err
	}

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, envelope.EventID)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return nil // ACK, duplicate delivery
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("Giving up on webhook event", "event_id", envelope.EventID, "event", envelope.Event)
			prom.IncWebhookEventProcessed(envelope.Event, outcomeInvalid)
			return nil // ACK to move on
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("Processing webhook event",
		"event_id", envelope.EventID,
		"event", envelope.Event,
		"retry_count", procCtx.RetryCount)

	var outcome string
	switch envelope.Event {
	case model.EventConnectionAccepted:
		outcome, err = p.handleConnectionEvent(ctx, envelope, true)
	case model.EventConnectionRejected:
		outcome, err = p.handleConnectionEvent(ctx, envelope, false)
	case model.EventMessageReceived:
		outcome, err = p.handleMessageReceived(ctx, envelope)
	default:
		logger.Warn("Unknown webhook event kind, dropping", "event_id", envelope.EventID, "event", envelope.Event)
		outcome = outcomeUnknown
	}

	if err != nil {
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("Failed to mark failure", "event_id", envelope.EventID, "error", markErr)
		}
		return err // NACK for redelivery
	}

	prom.IncWebhookEventProcessed(envelope.Event, outcome)

	if markErr := p.idempotency.MarkSuccess(ctx, procCtx); markErr != nil {
		logger.Error("Failed to mark success", "event_id", envelope.EventID, "error", markErr)
	}

	return nil
}

func (p *WebhookEventProcessor) handleConnectionEvent(ctx context.Context, envelope model.WebhookEnvelope, accepted bool) (string, error) {
	var event model.ConnectionEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		logger.Error("Malformed connection event payload", "event_id", envelope.EventID, "error", err)
		return outcomeInvalid, nil // ACK, retry cannot fix the payload
	}
	if event.AccountID == "" || event.ProfileRef == "" {
		logger.Warn("Connection event missing account or profile, dropping", "event_id", envelope.EventID)
		return outcomeInvalid, nil
	}

	contacts, err := p.contacts.Find(ctx, model.ContactFilter{
		ProviderAccountID: &event.AccountID,
		ProfileRef:        &event.ProfileRef,
		Statuses:          []model.ContactStatus{model.ContactStatusConnectionSent},
	})
	if err != nil {
		return "", fmt.Errorf("find contacts: %w", err)
	}
	if len(contacts) == 0 {
		logger.Info("No awaiting contact for connection event",
			"event_id", envelope.EventID, "account", event.AccountID, "profile", event.ProfileRef)
		return outcomeUnmatched, nil
	}

	applied := false
	for _, contact := range contacts {
		campaign, err := p.campaigns.GetByID(ctx, contact.CampaignID)
		if err != nil {
			return "", fmt.Errorf("load campaign %d: %w", contact.CampaignID, err)
		}

		var result services.TransitionResult
		if accepted {
			result, err = p.transitions.MarkConnected(ctx, campaign, contact, event.ConversationID)
		} else {
			result, err = p.transitions.MarkRejected(ctx, campaign, contact)
		}
		if err != nil {
			return "", err
		}
		applied = applied || result.Applied
	}

	if applied {
		return outcomeApplied, nil
	}
	return outcomeNoop, nil
}

func (p *WebhookEventProcessor) handleMessageReceived(ctx context.Context, envelope model.WebhookEnvelope) (string, error) {
	var event model.MessageReceivedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		logger.Error("Malformed message event payload", "event_id", envelope.EventID, "error", err)
		return outcomeInvalid, nil
	}
	if event.AccountID == "" || event.ConversationID == "" {
		logger.Warn("Message event missing account or conversation, dropping", "event_id", envelope.EventID)
		return outcomeInvalid, nil
	}

	// The account's own outbound messages also arrive as events; only the
	// prospect's messages count as replies.
	if event.SenderRef == event.AccountID {
		return outcomeNoop, nil
	}

	contacts, err := p.contacts.Find(ctx, model.ContactFilter{
		ProviderAccountID: &event.AccountID,
		ConversationID:    &event.ConversationID,
		Statuses:          []model.ContactStatus{model.ContactStatusFollowUpSent},
	})
	if err != nil {
		return "", fmt.Errorf("find contacts: %w", err)
	}
	if len(contacts) == 0 && event.SenderRef != "" {
		// The provider can rotate conversation ids; fall back to the
		// sender's profile so replies on a new thread still land.
		contacts, err = p.contacts.Find(ctx, model.ContactFilter{
			ProviderAccountID: &event.AccountID,
			ProfileRef:        &event.SenderRef,
			Statuses:          []model.ContactStatus{model.ContactStatusFollowUpSent},
		})
		if err != nil {
			return "", fmt.Errorf("find contacts: %w", err)
		}
	}
	if len(contacts) == 0 {
		logger.Info("No awaiting contact for message event",
			"event_id", envelope.EventID, "account", event.AccountID, "conversation", event.ConversationID)
		return outcomeUnmatched, nil
	}

	applied := false
	for _, contact := range contacts {
		campaign, err := p.campaigns.GetByID(ctx, contact.CampaignID)
		if err != nil {
			return "", fmt.Errorf("load campaign %d: %w", contact.CampaignID, err)
		}

		result, err := p.transitions.MarkReplied(ctx, campaign, contact, event.Timestamp)
		if err != nil {
			return "", err
		}
		applied = applied || result.Applied
	}

	if applied {
		return outcomeApplied, nil
	}
	return outcomeNoop, nil
}
