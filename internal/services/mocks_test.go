package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupRunLock(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RunLock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, NewRunLock(adapter, ttl)
}

type memCampaignStore struct {
	mu        sync.Mutex
	campaigns map[int64]*model.Campaign
	nextID    int64
	onGetByID func(c *model.Campaign) // invoked on every read, for mid-batch races
}

func newMemCampaignStore(campaigns ...*model.Campaign) *memCampaignStore {
	s := &memCampaignStore{campaigns: map[int64]*model.Campaign{}, nextID: 1}
	for _, c := range campaigns {
		if c.ID == 0 {
			c.ID = s.nextID
		}
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
		s.campaigns[c.ID] = c
	}
	return s
}

func (s *memCampaignStore) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	c.CreatedAt = time.Now()
	s.campaigns[c.ID] = c
	return c, nil
}

func (s *memCampaignStore) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d not found", id)
	}
	if s.onGetByID != nil {
		s.onGetByID(c)
	}
	cp := *c
	return &cp, nil
}

func (s *memCampaignStore) List(ctx context.Context, accountID *int64) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range s.campaigns {
		if accountID != nil && c.AccountID != *accountID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memCampaignStore) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range s.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memCampaignStore) UpdateStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (s *memCampaignStore) UpdateTotals(ctx context.Context, id int64, totals model.CampaignTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d not found", id)
	}
	c.Totals = totals
	return nil
}

type memAccountStore struct {
	accounts map[int64]*model.OutreachAccount
}

func newMemAccountStore(accounts ...*model.OutreachAccount) *memAccountStore {
	s := &memAccountStore{accounts: map[int64]*model.OutreachAccount{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memAccountStore) GetByID(ctx context.Context, id int64) (*model.OutreachAccount, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d not found", id)
	}
	return a, nil
}

func (s *memAccountStore) GetByProviderID(ctx context.Context, providerAccountID string) (*model.OutreachAccount, error) {
	for _, a := range s.accounts {
		if a.ProviderAccountID == providerAccountID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account %s not found", providerAccountID)
}

// memContactStore keeps contacts in enrollment order so FIFO queries are
// deterministic.
type memContactStore struct {
	mu       sync.Mutex
	contacts []*model.CampaignContact
	nextID   int64
}

func newMemContactStore() *memContactStore {
	return &memContactStore{nextID: 1}
}

func (s *memContactStore) add(c *model.CampaignContact) *model.CampaignContact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID
	}
	if c.ID >= s.nextID {
		s.nextID = c.ID + 1
	}
	if c.EnrolledAt.IsZero() {
		c.EnrolledAt = time.Now().Add(time.Duration(c.ID) * time.Millisecond)
	}
	s.contacts = append(s.contacts, c)
	return c
}

func (s *memContactStore) byID(id int64) *model.CampaignContact {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *memContactStore) Transition(ctx context.Context, id int64, from, to model.ContactStatus, changes repository.TransitionChanges) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID != id {
			continue
		}
		if c.Status != from {
			return false, nil
		}
		c.Status = to
		if changes.ConnectionSentAt != nil {
			c.ConnectionSentAt = changes.ConnectionSentAt
		}
		if changes.ConnectionAcceptedAt != nil {
			c.ConnectionAcceptedAt = changes.ConnectionAcceptedAt
		}
		if changes.ConnectionRejectedAt != nil {
			c.ConnectionRejectedAt = changes.ConnectionRejectedAt
		}
		if changes.FollowUpSentAt != nil {
			c.FollowUpSentAt = changes.FollowUpSentAt
		}
		if changes.ReplyReceivedAt != nil {
			c.ReplyReceivedAt = changes.ReplyReceivedAt
		}
		if changes.ConversationID != nil {
			c.ConversationID = *changes.ConversationID
		}
		if changes.PipelineStageID != nil {
			c.PipelineStageID = changes.PipelineStageID
		}
		return true, nil
	}
	return false, nil
}

func (s *memContactStore) GetByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	if c := s.byID(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("contact %d not found", id)
}

func (s *memContactStore) Find(ctx context.Context, f model.ContactFilter) ([]*model.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CampaignContact
	for _, c := range s.contacts {
		if f.CampaignID != nil && c.CampaignID != *f.CampaignID {
			continue
		}
		if f.ProfileRef != nil && c.ProfileRef != *f.ProfileRef {
			continue
		}
		if f.ConversationID != nil && c.ConversationID != *f.ConversationID {
			continue
		}
		if len(f.Statuses) > 0 {
			ok := false
			for _, st := range f.Statuses {
				if c.Status == st {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		out = append(out, c)
	}
	if f.OldestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memContactStore) FindFollowUpsDue(ctx context.Context, campaignID int64, acceptedBefore time.Time, limit int) ([]*model.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CampaignContact
	for _, c := range s.contacts {
		if c.CampaignID != campaignID || c.Status != model.ContactStatusConnected {
			continue
		}
		if c.ConnectionAcceptedAt == nil || c.ConnectionAcceptedAt.After(acceptedBefore) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memContactStore) Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error) {
	s.mu.Lock()
	existing := map[string]bool{}
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			existing[c.ProfileRef] = true
		}
	}
	s.mu.Unlock()

	added := 0
	for _, e := range batch {
		if existing[e.ProfileRef] {
			continue
		}
		existing[e.ProfileRef] = true
		s.add(&model.CampaignContact{
			CampaignID:  campaignID,
			ContactID:   e.ContactID,
			ProfileRef:  e.ProfileRef,
			ContactName: e.Name,
			Status:      model.ContactStatusPending,
		})
		added++
	}
	return added, nil
}

func (s *memContactStore) CountByStatus(ctx context.Context, campaignID int64) (map[model.ContactStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[model.ContactStatus]int{}
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

type memActivityStore struct {
	mu       sync.Mutex
	appended []*model.CampaignActivity
}

func (s *memActivityStore) Append(ctx context.Context, a *model.CampaignActivity) (*model.CampaignActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = int64(len(s.appended) + 1)
	a.CreatedAt = time.Now()
	s.appended = append(s.appended, a)
	return a, nil
}

func (s *memActivityStore) List(ctx context.Context, f model.ActivityFilter) ([]*model.CampaignActivity, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CampaignActivity
	for _, a := range s.appended {
		if f.CampaignID != 0 && a.CampaignID != f.CampaignID {
			continue
		}
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (s *memActivityStore) kinds() []model.ActivityKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityKind
	for _, a := range s.appended {
		out = append(out, a.Kind)
	}
	return out
}

type memStatStore struct {
	mu         sync.Mutex
	counters   map[string]map[model.StatField]int // key: campaignID/day
	listResult []*model.DailyStat
}

func newMemStatStore() *memStatStore {
	return &memStatStore{counters: map[string]map[model.StatField]int{}}
}

func statKey(campaignID int64, day string) string {
	return fmt.Sprintf("%d/%s", campaignID, day)
}

func (s *memStatStore) Increment(ctx context.Context, campaignID int64, day string, field model.StatField, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statKey(campaignID, day)
	if s.counters[key] == nil {
		s.counters[key] = map[model.StatField]int{}
	}
	s.counters[key][field] += delta
	return nil
}

func (s *memStatStore) Get(ctx context.Context, campaignID int64, day string) (*model.DailyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat := &model.DailyStat{CampaignID: campaignID, Day: day}
	if fields, ok := s.counters[statKey(campaignID, day)]; ok {
		stat.ConnectionsSent = fields[model.StatConnectionsSent]
		stat.ConnectionsAccepted = fields[model.StatConnectionsAccepted]
		stat.ConnectionsRejected = fields[model.StatConnectionsRejected]
		stat.FollowUpsSent = fields[model.StatFollowUpsSent]
		stat.Replies = fields[model.StatReplies]
	}
	return stat, nil
}

func (s *memStatStore) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error) {
	return s.listResult, nil
}

type memPipelineSync struct {
	calls []model.ContactStatus
}

func (s *memPipelineSync) SyncStage(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, status model.ContactStatus) error {
	s.calls = append(s.calls, status)
	return nil
}

// fakeGateway records sends and serves scripted conversation threads.
type fakeGateway struct {
	mu            sync.Mutex
	invitations   []string // profile refs in send order
	messages      []string // conversation ids in send order
	failProfiles  map[string]error
	failConvs     map[string]error
	fetchErr      map[string]error
	conversations map[string][]gateway.ConversationMessage
	fetchCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failProfiles:  map[string]error{},
		failConvs:     map[string]error{},
		fetchErr:      map[string]error{},
		conversations: map[string][]gateway.ConversationMessage{},
	}
}

func (g *fakeGateway) SendConnectionRequest(ctx context.Context, providerAccountID, profileRef, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failProfiles[profileRef]; ok {
		return err
	}
	g.invitations = append(g.invitations, profileRef)
	return nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, providerAccountID, conversationID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failConvs[conversationID]; ok {
		return err
	}
	g.messages = append(g.messages, conversationID)
	return nil
}

func (g *fakeGateway) FetchMessages(ctx context.Context, providerAccountID, conversationID string, limit int) ([]gateway.ConversationMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if err, ok := g.fetchErr[conversationID]; ok {
		return nil, err
	}
	msgs := g.conversations[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
