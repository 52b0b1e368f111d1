package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reachforge/outreach-engine/internal/config"
	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/internal/services"
	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"github.com/reachforge/outreach-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// The runner is the scheduler half of the engine: on a fixed interval it
// walks every active campaign and triggers dispatch, follow-ups and reply
// reconciliation. Multiple runner instances are safe; the per-campaign run
// lock makes concurrent triggers a no-op.
func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	client, err := gateway.NewClient(&gateway.Config{
		BaseURL:                 config.Get().ProviderBaseUrl,
		APIKey:                  config.Get().ProviderApiKey,
		Timeout:                 config.Get().ProviderTimeout,
		MaxRetries:              3,
		RetryDelay:              time.Millisecond * 100,
		MaxConns:                100,
		ReadBufferSize:          1024 * 4,
		WriteBufferSize:         1024 * 4,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create provider client", "error", err)
		return
	}

	accountRepo := repository.NewAccountRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	contactRepo := repository.NewContactRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	dailyStatRepo := repository.NewDailyStatRepository(db)
	pipelineRepo := repository.NewPipelineRepository(db)

	runLock := services.NewRunLock(redisAdap, config.Get().RunLockTTL)
	pipelineService := services.NewPipelineService(pipelineRepo)
	statsService := services.NewStatsService(campaignRepo, contactRepo, dailyStatRepo)
	transitionService := services.NewTransitionService(contactRepo, activityRepo, dailyStatRepo, pipelineService)
	dispatchService := services.NewDispatchService(campaignRepo, accountRepo, contactRepo, dailyStatRepo, activityRepo, transitionService, client, runLock)
	reconcileService := services.NewReconcileService(campaignRepo, accountRepo, contactRepo, transitionService, statsService, client, runLock, config.Get().ReconcileWindowSize)

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go runLoop(ctx, "dispatch", config.Get().RunnerDispatchInterval, campaignRepo, func(runCtx context.Context, campaignID int64) error {
		if _, err := dispatchService.Run(runCtx, campaignID); err != nil {
			return err
		}
		_, err := dispatchService.RunFollowUps(runCtx, campaignID)
		return err
	})

	go runLoop(ctx, "reconcile", config.Get().RunnerReconcileInterval, campaignRepo, func(runCtx context.Context, campaignID int64) error {
		_, err := reconcileService.Run(runCtx, campaignID)
		return err
	})

	logger.Info("Runner started",
		"dispatch_interval", config.Get().RunnerDispatchInterval,
		"reconcile_interval", config.Get().RunnerReconcileInterval)

	<-c
	cancel()
	logger.Info("Runner stopped")
}

// runLoop triggers fn for every active campaign, once per interval. A lock
// contention or a not-active race is logged at debug and skipped.
func runLoop(ctx context.Context, name string, interval time.Duration, campaigns *repository.CampaignRepository, fn func(context.Context, int64) error) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			active, err := campaigns.ListByStatus(ctx, model.CampaignStatusActive)
			if err != nil {
				logger.Error("failed to list active campaigns", "loop", name, "error", err)
				continue
			}

			for _, campaign := range active {
				if err := fn(ctx, campaign.ID); err != nil {
					if errors.Is(err, services.ErrRunInProgress) || errors.Is(err, services.ErrCampaignNotActive) {
						logger.Debug("skipping campaign run", "loop", name, "campaign_id", campaign.ID, "reason", err)
						continue
					}
					logger.Error("campaign run failed", "loop", name, "campaign_id", campaign.ID, "error", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
