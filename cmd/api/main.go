package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reachforge/outreach-engine/internal/config"
	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/handlers"
	"github.com/reachforge/outreach-engine/internal/queue"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/internal/services"
	xhttp "github.com/reachforge/outreach-engine/pkg/http"
	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"github.com/reachforge/outreach-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	eventQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	client, err := gateway.NewClient(&gateway.Config{
		BaseURL:                 config.Get().ProviderBaseUrl,
		APIKey:                  config.Get().ProviderApiKey,
		Timeout:                 config.Get().ProviderTimeout,
		MaxRetries:              3,
		RetryDelay:              time.Millisecond * 100,
		MaxConns:                1000,
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

	// services
	runLock := services.NewRunLock(redisAdap, config.Get().RunLockTTL)
	pipelineService := services.NewPipelineService(pipelineRepo)
	statsService := services.NewStatsService(campaignRepo, contactRepo, dailyStatRepo)
	transitionService := services.NewTransitionService(contactRepo, activityRepo, dailyStatRepo, pipelineService)
	accountService := services.NewAccountService(accountRepo)
	campaignService := services.NewCampaignService(campaignRepo, accountRepo, contactRepo, activityRepo, statsService)
	dispatchService := services.NewDispatchService(campaignRepo, accountRepo, contactRepo, dailyStatRepo, activityRepo, transitionService, client, runLock)
	reconcileService := services.NewReconcileService(campaignRepo, accountRepo, contactRepo, transitionService, statsService, client, runLock, config.Get().ReconcileWindowSize)
	healthService := services.NewHealthService()

	// v1 handlers
	campaignHandler := handlers.NewCampaignHandler(campaignService, accountService, dispatchService, reconcileService, statsService)
	webhookHandler := handlers.NewWebhookHandler(eventQueue)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterCampaignRoutes(g, campaignHandler)
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
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
