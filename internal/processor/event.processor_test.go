package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/queue"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/internal/services"
)

type fakeCampaignStore struct {
	campaigns map[int64]*model.Campaign
}

func (f *fakeCampaignStore) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	f.campaigns[c.ID] = c
	return c, nil
}

func (f *fakeCampaignStore) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	return c, nil
}

func (f *fakeCampaignStore) List(ctx context.Context, accountID *int64) ([]*model.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignStore) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignStore) UpdateStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	c, ok := f.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (f *fakeCampaignStore) UpdateTotals(ctx context.Context, id int64, totals model.CampaignTotals) error {
	return nil
}

// fakeContactStore resolves the ProviderAccountID filter through a
// campaign → provider account map, mirroring the repository join.
type fakeContactStore struct {
	contacts          map[int64]*model.CampaignContact
	providerAccounts  map[int64]string
	transitionsCalled int
}

func (f *fakeContactStore) Transition(ctx context.Context, id int64, from, to model.ContactStatus, changes repository.TransitionChanges) (bool, error) {
	f.transitionsCalled++
	c, ok := f.contacts[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if changes.ConversationID != nil {
		c.ConversationID = *changes.ConversationID
	}
	if changes.ConnectionAcceptedAt != nil {
		c.ConnectionAcceptedAt = changes.ConnectionAcceptedAt
	}
	if changes.ConnectionRejectedAt != nil {
		c.ConnectionRejectedAt = changes.ConnectionRejectedAt
	}
	if changes.ReplyReceivedAt != nil {
		c.ReplyReceivedAt = changes.ReplyReceivedAt
	}
	return true, nil
}

func (f *fakeContactStore) GetByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d not found", id)
	}
	return c, nil
}

func (f *fakeContactStore) Find(ctx context.Context, filter model.ContactFilter) ([]*model.CampaignContact, error) {
	var matched []*model.CampaignContact
	for _, c := range f.contacts {
		if filter.ProviderAccountID != nil && f.providerAccounts[c.CampaignID] != *filter.ProviderAccountID {
			continue
		}
		if filter.ProfileRef != nil && c.ProfileRef != *filter.ProfileRef {
			continue
		}
		if filter.ConversationID != nil && c.ConversationID != *filter.ConversationID {
			continue
		}
		if len(filter.Statuses) > 0 {
			ok := false
			for _, s := range filter.Statuses {
				if c.Status == s {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, c)
	}
	return matched, nil
}

func (f *fakeContactStore) FindFollowUpsDue(ctx context.Context, campaignID int64, acceptedBefore time.Time, limit int) ([]*model.CampaignContact, error) {
	return nil, nil
}

func (f *fakeContactStore) Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error) {
	return 0, nil
}

func (f *fakeContactStore) CountByStatus(ctx context.Context, campaignID int64) (map[model.ContactStatus]int, error) {
	return nil, nil
}

type fakeActivityStore struct {
	appended []*model.CampaignActivity
}

func (f *fakeActivityStore) Append(ctx context.Context, a *model.CampaignActivity) (*model.CampaignActivity, error) {
	f.appended = append(f.appended, a)
	return a, nil
}

func (f *fakeActivityStore) List(ctx context.Context, filter model.ActivityFilter) ([]*model.CampaignActivity, int64, error) {
	return nil, 0, nil
}

type fakeStatStore struct {
	increments map[model.StatField]int
}

func (f *fakeStatStore) Increment(ctx context.Context, campaignID int64, day string, field model.StatField, delta int) error {
	if f.increments == nil {
		f.increments = make(map[model.StatField]int)
	}
	f.increments[field] += delta
	return nil
}

func (f *fakeStatStore) Get(ctx context.Context, campaignID int64, day string) (*model.DailyStat, error) {
	return &model.DailyStat{CampaignID: campaignID, Day: day}, nil
}

func (f *fakeStatStore) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error) {
	return nil, nil
}

type fakePipelineSync struct {
	synced int
}

func (f *fakePipelineSync) SyncStage(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, status model.ContactStatus) error {
	f.synced++
	return nil
}

type processorFixture struct {
	processor *WebhookEventProcessor
	campaigns *fakeCampaignStore
	contacts  *fakeContactStore
	stats     *fakeStatStore
}

func newProcessorFixture() *processorFixture {
	campaigns := &fakeCampaignStore{campaigns: map[int64]*model.Campaign{
		1: {ID: 1, AccountID: 10, Name: "Q3 outreach", Status: model.CampaignStatusActive, Timezone: "UTC"},
	}}
	contacts := &fakeContactStore{
		contacts:         map[int64]*model.CampaignContact{},
		providerAccounts: map[int64]string{1: "acct_42"},
	}
	stats := &fakeStatStore{}
	transitions := services.NewTransitionService(contacts, &fakeActivityStore{}, stats, &fakePipelineSync{})
	idempotency := NewIdempotencyService(newMockRedisAdapter(), DefaultIdempotencyConfig())

	return &processorFixture{
		processor: NewWebhookEventProcessor(campaigns, contacts, transitions, idempotency),
		campaigns: campaigns,
		contacts:  contacts,
		stats:     stats,
	}
}

func envelopePayload(t *testing.T, eventID, kind string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(model.WebhookEnvelope{EventID: eventID, Event: kind, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestWebhookEventProcessor_ConnectionAccepted(t *testing.T) {
	fx := newProcessorFixture()
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, ProfileRef: "profile_a", Status: model.ContactStatusConnectionSent,
	}

	payload := envelopePayload(t, "evt-1", model.EventConnectionAccepted, model.ConnectionEvent{
		AccountID: "acct_42", ProfileRef: "profile_a", ConversationID: "conv_9",
	})

	err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	contact := fx.contacts.contacts[100]
	if contact.Status != model.ContactStatusConnected {
		t.Errorf("Expected status connected, got %s", contact.Status)
	}
	if contact.ConversationID != "conv_9" {
		t.Errorf("Expected conversation conv_9, got %q", contact.ConversationID)
	}
	if fx.stats.increments[model.StatConnectionsAccepted] != 1 {
		t.Errorf("Expected 1 accepted increment, got %d", fx.stats.increments[model.StatConnectionsAccepted])
	}
}

func TestWebhookEventProcessor_DuplicateDelivery(t *testing.T) {
	fx := newProcessorFixture()
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, ProfileRef: "profile_a", Status: model.ContactStatusConnectionSent,
	}

	payload := envelopePayload(t, "evt-dup", model.EventConnectionAccepted, model.ConnectionEvent{
		AccountID: "acct_42", ProfileRef: "profile_a",
	})

	ctx := context.Background()
	if err := fx.processor.Process(ctx, &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("First delivery failed: %v", err)
	}

	before := fx.contacts.transitionsCalled

	// Redelivery of the same event id must ack without touching state
	if err := fx.processor.Process(ctx, &queue.Message{ID: "q2", Data: payload}); err != nil {
		t.Fatalf("Duplicate delivery should ack, got: %v", err)
	}

	if fx.contacts.transitionsCalled != before {
		t.Errorf("Duplicate delivery triggered %d extra transitions", fx.contacts.transitionsCalled-before)
	}
	if fx.stats.increments[model.StatConnectionsAccepted] != 1 {
		t.Errorf("Expected 1 accepted increment after duplicate, got %d", fx.stats.increments[model.StatConnectionsAccepted])
	}
}

func TestWebhookEventProcessor_ConnectionRejected(t *testing.T) {
	fx := newProcessorFixture()
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, ProfileRef: "profile_a", Status: model.ContactStatusConnectionSent,
	}

	payload := envelopePayload(t, "evt-2", model.EventConnectionRejected, model.ConnectionEvent{
		AccountID: "acct_42", ProfileRef: "profile_a",
	})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := fx.contacts.contacts[100].Status; got != model.ContactStatusConnectionRejected {
		t.Errorf("Expected status connection_rejected, got %s", got)
	}
}

func TestWebhookEventProcessor_MessageReceived(t *testing.T) {
	fx := newProcessorFixture()
	sentAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, ProfileRef: "profile_a",
		Status: model.ContactStatusFollowUpSent, ConversationID: "conv_9", FollowUpSentAt: &sentAt,
	}

	replyAt := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	payload := envelopePayload(t, "evt-3", model.EventMessageReceived, model.MessageReceivedEvent{
		AccountID: "acct_42", ConversationID: "conv_9", SenderRef: "prospect_1",
		Text: "sounds interesting", Timestamp: replyAt,
	})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	contact := fx.contacts.contacts[100]
	if contact.Status != model.ContactStatusReplied {
		t.Errorf("Expected status replied, got %s", contact.Status)
	}
	if contact.ReplyReceivedAt == nil || !contact.ReplyReceivedAt.Equal(replyAt) {
		t.Errorf("Expected reply timestamp %v, got %v", replyAt, contact.ReplyReceivedAt)
	}
}

func TestWebhookEventProcessor_MessageOnRotatedConversation(t *testing.T) {
	fx := newProcessorFixture()
	sentAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, ProfileRef: "prospect_1",
		Status: model.ContactStatusFollowUpSent, ConversationID: "conv_old", FollowUpSentAt: &sentAt,
	}

	// the provider delivered the reply on a new conversation id; the sender's
	// profile still identifies the contact
	replyAt := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	payload := envelopePayload(t, "evt-rotated", model.EventMessageReceived, model.MessageReceivedEvent{
		AccountID: "acct_42", ConversationID: "conv_new", SenderRef: "prospect_1",
		Text: "replying from a new thread", Timestamp: replyAt,
	})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	contact := fx.contacts.contacts[100]
	if contact.Status != model.ContactStatusReplied {
		t.Errorf("Expected status replied, got %s", contact.Status)
	}
	if contact.ReplyReceivedAt == nil || !contact.ReplyReceivedAt.Equal(replyAt) {
		t.Errorf("Expected reply timestamp %v, got %v", replyAt, contact.ReplyReceivedAt)
	}
}

func TestWebhookEventProcessor_MessageFromSelfIgnored(t *testing.T) {
	fx := newProcessorFixture()
	sentAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	fx.contacts.contacts[100] = &model.CampaignContact{
		ID: 100, CampaignID: 1, Status: model.ContactStatusFollowUpSent,
		ConversationID: "conv_9", FollowUpSentAt: &sentAt,
	}

	payload := envelopePayload(t, "evt-4", model.EventMessageReceived, model.MessageReceivedEvent{
		AccountID: "acct_42", ConversationID: "conv_9", SenderRef: "acct_42",
		Text: "following up here", Timestamp: time.Now(),
	})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if got := fx.contacts.contacts[100].Status; got != model.ContactStatusFollowUpSent {
		t.Errorf("Own message must not count as reply, status became %s", got)
	}
}

func TestWebhookEventProcessor_UnknownKindAcked(t *testing.T) {
	fx := newProcessorFixture()

	payload := envelopePayload(t, "evt-5", "profile.viewed", map[string]string{"account_id": "acct_42"})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Unknown kind should ack, got: %v", err)
	}
}

func TestWebhookEventProcessor_UnmatchedContactAcked(t *testing.T) {
	fx := newProcessorFixture()

	payload := envelopePayload(t, "evt-6", model.EventConnectionAccepted, model.ConnectionEvent{
		AccountID: "acct_42", ProfileRef: "profile_unknown",
	})

	if err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: payload}); err != nil {
		t.Fatalf("Unmatched event should ack, got: %v", err)
	}
	if fx.contacts.transitionsCalled != 0 {
		t.Errorf("Expected no transitions, got %d", fx.contacts.transitionsCalled)
	}
}

func TestWebhookEventProcessor_MalformedEnvelope(t *testing.T) {
	fx := newProcessorFixture()

	err := fx.processor.Process(context.Background(), &queue.Message{ID: "q1", Data: []byte("not json")})
	if err == nil {
		t.Fatal("Expected error for malformed envelope")
	}
}
