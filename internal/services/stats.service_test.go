package services

import (
	"context"
	"testing"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addContactInStatus(contacts *memContactStore, status model.ContactStatus, n int) {
	for i := 0; i < n; i++ {
		contacts.add(&model.CampaignContact{CampaignID: 1, Status: status})
	}
}

func TestStatsService_RecomputeDerivesPassedStages(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{ID: 1, AccountID: 10, Status: model.CampaignStatusActive})
	contacts := newMemContactStore()
	service := NewStatsService(campaigns, contacts, newMemStatStore())

	addContactInStatus(contacts, model.ContactStatusPending, 4)
	addContactInStatus(contacts, model.ContactStatusConnectionSent, 3)
	addContactInStatus(contacts, model.ContactStatusConnected, 2)
	addContactInStatus(contacts, model.ContactStatusConnectionRejected, 1)
	addContactInStatus(contacts, model.ContactStatusFollowUpSent, 2)
	addContactInStatus(contacts, model.ContactStatusReplied, 1)

	totals, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	// A contact in a later state still counts for every stage it passed
	assert.Equal(t, 13, totals.Contacts)
	assert.Equal(t, 9, totals.ConnectionsSent)
	assert.Equal(t, 5, totals.ConnectionsAccepted)
	assert.Equal(t, 1, totals.ConnectionsRejected)
	assert.Equal(t, 3, totals.FollowUpsSent)
	assert.Equal(t, 1, totals.RepliesReceived)

	stored, err := campaigns.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, *totals, stored.Totals)
}

func TestStatsService_RecomputeOverwritesDriftedTotals(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{
		ID: 1, AccountID: 10, Status: model.CampaignStatusActive,
		Totals: model.CampaignTotals{Contacts: 99, ConnectionsSent: 99},
	})
	contacts := newMemContactStore()
	service := NewStatsService(campaigns, contacts, newMemStatStore())

	addContactInStatus(contacts, model.ContactStatusConnectionSent, 2)

	totals, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, totals.Contacts)
	assert.Equal(t, 2, totals.ConnectionsSent)

	stored, _ := campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, 2, stored.Totals.Contacts)
}

func TestStatsService_CompletesWhenAllTerminal(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{ID: 1, AccountID: 10, Status: model.CampaignStatusActive})
	contacts := newMemContactStore()
	service := NewStatsService(campaigns, contacts, newMemStatStore())

	addContactInStatus(contacts, model.ContactStatusReplied, 2)
	addContactInStatus(contacts, model.ContactStatusConnectionRejected, 1)

	_, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	stored, _ := campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
}

func TestStatsService_NoCompletionWithOpenContacts(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{ID: 1, AccountID: 10, Status: model.CampaignStatusActive})
	contacts := newMemContactStore()
	service := NewStatsService(campaigns, contacts, newMemStatStore())

	addContactInStatus(contacts, model.ContactStatusReplied, 2)
	addContactInStatus(contacts, model.ContactStatusFollowUpSent, 1)

	_, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	stored, _ := campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, model.CampaignStatusActive, stored.Status)
}

func TestStatsService_EmptyCampaignNeverCompletes(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{ID: 1, AccountID: 10, Status: model.CampaignStatusActive})
	service := NewStatsService(campaigns, newMemContactStore(), newMemStatStore())

	totals, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, totals.Contacts)
	stored, _ := campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, model.CampaignStatusActive, stored.Status)
}

func TestStatsService_PausedCampaignStaysPaused(t *testing.T) {
	campaigns := newMemCampaignStore(&model.Campaign{ID: 1, AccountID: 10, Status: model.CampaignStatusPaused})
	contacts := newMemContactStore()
	service := NewStatsService(campaigns, contacts, newMemStatStore())

	addContactInStatus(contacts, model.ContactStatusReplied, 1)

	_, err := service.Recompute(context.Background(), 1)
	require.NoError(t, err)

	// The completion flip is conditional on active; paused loses the race
	stored, _ := campaigns.GetByID(context.Background(), 1)
	assert.Equal(t, model.CampaignStatusPaused, stored.Status)
}
