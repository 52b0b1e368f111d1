package e2e

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/processor"
	"github.com/reachforge/outreach-engine/internal/queue"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/internal/services"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"github.com/reachforge/outreach-engine/pkg/redis"
	"github.com/reachforge/outreach-engine/test/fixtures"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubGateway implements services.MessagingGateway in-memory. Sends are
// recorded; FetchMessages serves canned conversation threads.
type stubGateway struct {
	mu            sync.Mutex
	invitations   []string
	messages      []string
	conversations map[string][]gateway.ConversationMessage
}

func newStubGateway() *stubGateway {
	return &stubGateway{conversations: make(map[string][]gateway.ConversationMessage)}
}

func (g *stubGateway) SendConnectionRequest(ctx context.Context, providerAccountID, profileRef, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invitations = append(g.invitations, profileRef)
	return nil
}

func (g *stubGateway) SendMessage(ctx context.Context, providerAccountID, conversationID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, conversationID)
	return nil
}

func (g *stubGateway) FetchMessages(ctx context.Context, providerAccountID, conversationID string, limit int) ([]gateway.ConversationMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conversations[conversationID], nil
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	Queue        *queue.Queue
	Gateway      *stubGateway

	AccountRepo  *repository.AccountRepository
	CampaignRepo *repository.CampaignRepository
	ContactRepo  *repository.ContactRepository

	CampaignService  *services.CampaignService
	AccountService   *services.AccountService
	DispatchService  *services.DispatchService
	ReconcileService *services.ReconcileService
	StatsService     *services.StatsService
	EventProcessor   *processor.WebhookEventProcessor
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.OutreachAccountEntity{},
		&repository.CampaignEntity{},
		&repository.CampaignContactEntity{},
		&repository.CampaignActivityEntity{},
		&repository.DailyStatEntity{},
		&repository.PipelineEntity{},
		&repository.PipelineStageEntity{},
		&repository.PipelineAssignmentEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	queueConfig := queue.QueueConfig{
		Name:              "test:webhooks",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	q, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	accountRepo := repository.NewAccountRepository(pgDB)
	campaignRepo := repository.NewCampaignRepository(pgDB)
	contactRepo := repository.NewContactRepository(pgDB)
	activityRepo := repository.NewActivityRepository(pgDB)
	dailyStatRepo := repository.NewDailyStatRepository(pgDB)
	pipelineRepo := repository.NewPipelineRepository(pgDB)

	gw := newStubGateway()
	locks := services.NewRunLock(redisAdapter, 30*time.Second)

	pipelineService := services.NewPipelineService(pipelineRepo)
	transitionService := services.NewTransitionService(contactRepo, activityRepo, dailyStatRepo, pipelineService)
	statsService := services.NewStatsService(campaignRepo, contactRepo, dailyStatRepo)
	campaignService := services.NewCampaignService(campaignRepo, accountRepo, contactRepo, activityRepo, statsService)
	accountService := services.NewAccountService(accountRepo)
	dispatchService := services.NewDispatchService(campaignRepo, accountRepo, contactRepo, dailyStatRepo, activityRepo, transitionService, gw, locks)
	reconcileService := services.NewReconcileService(campaignRepo, accountRepo, contactRepo, transitionService, statsService, gw, locks, 50)

	idempotencyService := processor.NewIdempotencyService(redisAdapter, processor.DefaultIdempotencyConfig())
	eventProcessor := processor.NewWebhookEventProcessor(campaignRepo, contactRepo, transitionService, idempotencyService)

	return &TestEnvironment{
		DB:               pgDB,
		Redis:            mr,
		RedisAdapter:     redisAdapter,
		Queue:            q,
		Gateway:          gw,
		AccountRepo:      accountRepo,
		CampaignRepo:     campaignRepo,
		ContactRepo:      contactRepo,
		CampaignService:  campaignService,
		AccountService:   accountService,
		DispatchService:  dispatchService,
		ReconcileService: reconcileService,
		StatsService:     statsService,
		EventProcessor:   eventProcessor,
	}
}

func (env *TestEnvironment) Cleanup() {
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	time.Sleep(100 * time.Millisecond)
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) createActiveCampaign(t *testing.T, ctx context.Context, contacts int) *model.Campaign {
	account, err := env.AccountService.Create(ctx, &model.OutreachAccount{
		UserID:            1,
		ProviderAccountID: "acct_e2e",
		DailyLimit:        25,
	})
	require.NoError(t, err)

	campaign, err := env.CampaignService.Create(ctx, fixtures.NewCampaignCreateRequest(account.ID))
	require.NoError(t, err)

	if contacts > 0 {
		added, err := env.CampaignService.Enroll(ctx, campaign.ID, fixtures.EnrollBatch(contacts))
		require.NoError(t, err)
		require.Equal(t, contacts, added)
	}

	campaign, err = env.CampaignService.Activate(ctx, campaign.ID)
	require.NoError(t, err)
	return campaign
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestE2E_DispatchSendsConnections(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	campaign := env.createActiveCampaign(t, ctx, 3)

	report, err := env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, env.Gateway.invitations, 3)

	contacts, err := env.CampaignService.Contacts(ctx, model.ContactFilter{CampaignID: &campaign.ID, OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	for _, c := range contacts {
		assert.Equal(t, model.ContactStatusConnectionSent, c.Status)
		assert.NotNil(t, c.ConnectionSentAt)
	}

	// second run finds nothing pending within the budget
	report, err = env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 3, report.SentToday)
}

func TestE2E_WebhookFlowPromotesContact(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	campaign := env.createActiveCampaign(t, ctx, 1)

	_, err := env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)

	err = env.Queue.Consume(env.EventProcessor.Process)
	require.NoError(t, err)

	envelope := fixtures.ConnectionAcceptedEnvelope("evt_accept_1", "acct_e2e", "profile_1", "conv_1")
	_, err = env.Queue.PublishJSON(ctx, envelope, map[string]string{"event": envelope.Event})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		var entity repository.CampaignContactEntity
		if err := env.DB.Read(ctx).Where("campaign_id = ? AND profile_ref = ?", campaign.ID, "profile_1").First(&entity).Error; err != nil {
			return false
		}
		return entity.Status == model.ContactStatusConnected.String() && entity.ConversationID == "conv_1"
	})

	// redelivery of the same event id is a no-op
	_, err = env.Queue.PublishJSON(ctx, envelope, map[string]string{"event": envelope.Event})
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)

	var entity repository.CampaignContactEntity
	require.NoError(t, env.DB.Read(ctx).Where("campaign_id = ? AND profile_ref = ?", campaign.ID, "profile_1").First(&entity).Error)
	assert.Equal(t, model.ContactStatusConnected.String(), entity.Status)
}

func TestE2E_FollowUpAndReconcile(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	campaign := env.createActiveCampaign(t, ctx, 1)

	_, err := env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)

	// accept the connection and age it past the follow-up delay
	acceptedAt := time.Now().Add(-72 * time.Hour)
	err = env.DB.Write(ctx).Model(&repository.CampaignContactEntity{}).
		Where("campaign_id = ?", campaign.ID).
		Updates(map[string]interface{}{
			"status":                 model.ContactStatusConnected.String(),
			"conversation_id":        "conv_1",
			"connection_accepted_at": acceptedAt,
		}).Error
	require.NoError(t, err)

	fuReport, err := env.DispatchService.RunFollowUps(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fuReport.Due)
	assert.Equal(t, 1, fuReport.Sent)
	assert.Len(t, env.Gateway.messages, 1)

	var entity repository.CampaignContactEntity
	require.NoError(t, env.DB.Read(ctx).Where("campaign_id = ?", campaign.ID).First(&entity).Error)
	require.Equal(t, model.ContactStatusFollowUpSent.String(), entity.Status)
	require.NotNil(t, entity.FollowUpSentAt)

	// prospect replies after the follow-up
	isSelf := false
	env.Gateway.conversations["conv_1"] = []gateway.ConversationMessage{
		{MessageID: "m1", SenderRef: "acct_e2e", Text: "follow-up", Timestamp: *entity.FollowUpSentAt},
		{MessageID: "m2", SenderRef: "prospect_1", IsFromSelf: &isSelf, Text: "sounds good", Timestamp: entity.FollowUpSentAt.Add(time.Hour)},
	}

	rcReport, err := env.ReconcileService.Run(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rcReport.Checked)
	assert.Equal(t, 1, rcReport.RepliesFound)

	require.NoError(t, env.DB.Read(ctx).Where("campaign_id = ?", campaign.ID).First(&entity).Error)
	assert.Equal(t, model.ContactStatusReplied.String(), entity.Status)
	require.NotNil(t, entity.ReplyReceivedAt)
	assert.WithinDuration(t, entity.FollowUpSentAt.Add(time.Hour), *entity.ReplyReceivedAt, time.Second)

	// the lone contact is terminal, so the cycle completes the campaign
	refreshed, err := env.CampaignService.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, refreshed.Status)
	assert.Equal(t, 1, refreshed.Totals.RepliesReceived)
}

func TestE2E_DailyBudgetAcrossRuns(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	account, err := env.AccountService.Create(ctx, &model.OutreachAccount{
		UserID:            1,
		ProviderAccountID: "acct_budget",
		DailyLimit:        10,
	})
	require.NoError(t, err)

	req := fixtures.NewCampaignCreateRequest(account.ID)
	limit := 2
	req.DailyLimit = &limit
	campaign, err := env.CampaignService.Create(ctx, req)
	require.NoError(t, err)

	_, err = env.CampaignService.Enroll(ctx, campaign.ID, fixtures.EnrollBatch(5))
	require.NoError(t, err)
	_, err = env.CampaignService.Activate(ctx, campaign.ID)
	require.NoError(t, err)

	report, err := env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)

	// budget is spent for the day, later runs send nothing
	report, err = env.DispatchService.Run(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, 2, report.SentToday)
}

func TestE2E_RecomputeCorrectsDrift(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	campaign := env.createActiveCampaign(t, ctx, 4)

	// fake drifted counters
	err := env.DB.Write(ctx).Model(&repository.CampaignEntity{}).
		Where("id = ?", campaign.ID).
		Update("total_contacts", 99).Error
	require.NoError(t, err)

	totals, err := env.StatsService.Recompute(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, totals.Contacts)

	refreshed, err := env.CampaignService.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, refreshed.Totals.Contacts)
	assert.Equal(t, model.CampaignStatusActive, refreshed.Status)
}
