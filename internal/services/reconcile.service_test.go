package services

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	service   *ReconcileService
	campaigns *memCampaignStore
	contacts  *memContactStore
	gateway   *fakeGateway
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	campaigns := newMemCampaignStore(&model.Campaign{
		ID: 1, AccountID: 10, Status: model.CampaignStatusActive, Timezone: "UTC",
	})
	accounts := newMemAccountStore(&model.OutreachAccount{ID: 10, ProviderAccountID: "acct_42", DailyLimit: 25})
	contacts := newMemContactStore()
	gw := newFakeGateway()
	_, locks := setupRunLock(t, time.Minute)

	transitions := NewTransitionService(contacts, &memActivityStore{}, newMemStatStore(), &memPipelineSync{})
	aggregator := NewStatsService(campaigns, contacts, newMemStatStore())
	service := NewReconcileService(campaigns, accounts, contacts, transitions, aggregator, gw, locks, 50)

	return &reconcileFixture{
		service:   service,
		campaigns: campaigns,
		contacts:  contacts,
		gateway:   gw,
	}
}

func (fx *reconcileFixture) addWaiting(conversationID string, followUpAt time.Time) *model.CampaignContact {
	return fx.contacts.add(&model.CampaignContact{
		CampaignID:     1,
		ProfileRef:     conversationID + "_profile",
		Status:         model.ContactStatusFollowUpSent,
		ConversationID: conversationID,
		FollowUpSentAt: &followUpAt,
	})
}

func TestReconcileService_PromotesReply(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("conv_1", followUpAt)

	replyAt := followUpAt.Add(3 * time.Hour)
	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "acct_42", Timestamp: followUpAt, IsFromSelf: boolPtr(true)},
		{MessageID: "m2", SenderRef: "prospect_1", Timestamp: replyAt, IsFromSelf: boolPtr(false)},
	}

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.RepliesFound)

	stored := fx.contacts.byID(contact.ID)
	assert.Equal(t, model.ContactStatusReplied, stored.Status)
	require.NotNil(t, stored.ReplyReceivedAt)
	assert.True(t, stored.ReplyReceivedAt.Equal(replyAt))
}

func TestReconcileService_EarliestReplyWins(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("conv_1", followUpAt)

	first := followUpAt.Add(1 * time.Hour)
	second := followUpAt.Add(5 * time.Hour)
	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m2", SenderRef: "prospect_1", Timestamp: second, IsFromSelf: boolPtr(false)},
		{MessageID: "m1", SenderRef: "prospect_1", Timestamp: first, IsFromSelf: boolPtr(false)},
	}

	_, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	stored := fx.contacts.byID(contact.ID)
	require.NotNil(t, stored.ReplyReceivedAt)
	assert.True(t, stored.ReplyReceivedAt.Equal(first))
}

func TestReconcileService_AuthorshipFlagBeatsSenderRef(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("conv_1", followUpAt)

	// Flagged self even though the sender handle differs from the account's
	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "alias_99", Timestamp: followUpAt.Add(time.Hour), IsFromSelf: boolPtr(true)},
	}

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, report.RepliesFound)
	assert.Equal(t, model.ContactStatusFollowUpSent, fx.contacts.byID(contact.ID).Status)
}

func TestReconcileService_SenderRefFallback(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("conv_1", followUpAt)

	// No authorship flag: compare against the account handle
	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "acct_42", Timestamp: followUpAt.Add(time.Hour)},
		{MessageID: "m2", SenderRef: "prospect_1", Timestamp: followUpAt.Add(2 * time.Hour)},
	}

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.RepliesFound)
	assert.Equal(t, model.ContactStatusReplied, fx.contacts.byID(contact.ID).Status)
}

func TestReconcileService_MessagesBeforeFollowUpIgnored(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("conv_1", followUpAt)

	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "prospect_1", Timestamp: followUpAt.Add(-time.Hour), IsFromSelf: boolPtr(false)},
		{MessageID: "m2", SenderRef: "prospect_1", Timestamp: followUpAt, IsFromSelf: boolPtr(false)},
	}

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, report.RepliesFound)
	assert.Equal(t, model.ContactStatusFollowUpSent, fx.contacts.byID(contact.ID).Status)
}

func TestReconcileService_FetchFailureSkipsContact(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	fx.addWaiting("conv_bad", followUpAt)
	good := fx.addWaiting("conv_good", followUpAt)

	fx.gateway.fetchErr["conv_bad"] = errors.New("provider timeout")
	fx.gateway.conversations["conv_good"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "prospect_1", Timestamp: followUpAt.Add(time.Hour), IsFromSelf: boolPtr(false)},
	}

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.RepliesFound)

	var outcomes []model.ReconcileOutcome
	for _, r := range report.Results {
		outcomes = append(outcomes, r.Outcome)
	}
	assert.Contains(t, outcomes, model.ReconcileError)
	assert.Contains(t, outcomes, model.ReconcileReplied)
	assert.Equal(t, model.ContactStatusReplied, fx.contacts.byID(good.ID).Status)
}

func TestReconcileService_ContactWithoutConversationSkipped(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	contact := fx.addWaiting("", followUpAt)

	report, err := fx.service.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, 0, fx.gateway.fetchCalls)
	assert.Equal(t, model.ContactStatusFollowUpSent, fx.contacts.byID(contact.ID).Status)
}

func TestReconcileService_SecondCycleConverges(t *testing.T) {
	fx := newReconcileFixture(t)
	followUpAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	fx.addWaiting("conv_1", followUpAt)

	fx.gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "prospect_1", Timestamp: followUpAt.Add(time.Hour), IsFromSelf: boolPtr(false)},
	}

	ctx := context.Background()
	first, err := fx.service.Run(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, first.RepliesFound)

	// Replied contacts leave the polling set; the next cycle does no work
	second, err := fx.service.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Checked)
	assert.Equal(t, 0, second.RepliesFound)
}
