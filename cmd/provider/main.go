package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendInvitationRequest is a connection request to a profile.
type SendInvitationRequest struct {
	ProfileRef string `json:"profile_ref" binding:"required"`
	Message    string `json:"message"`
}

// SendMessageRequest is a message into an existing conversation.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ConversationMessage mirrors the engine's gateway wire format.
type ConversationMessage struct {
	MessageID  string    `json:"message_id"`
	SenderRef  string    `json:"sender_ref"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsFromSelf *bool     `json:"is_from_self,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	ProviderID string    `json:"provider_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
}

type webhookEnvelope struct {
	EventID string      `json:"event_id"`
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
}

type conversation struct {
	accountID string
	messages  []ConversationMessage
}

// MockProvider simulates the outreach provider: it accepts invitations and
// messages, keeps conversations in memory, and pushes webhook events back to
// the engine after a randomized delay.
type MockProvider struct {
	acceptRate float64
	replyRate  float64
	minDelay   time.Duration
	maxDelay   time.Duration
	providerID string
	webhookURL string
	rng        *rand.Rand

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewMockProvider(acceptRate, replyRate float64, minDelay, maxDelay time.Duration, webhookURL string) *MockProvider {
	return &MockProvider{
		acceptRate:    acceptRate,
		replyRate:     replyRate,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		providerID:    "MOCK_PROVIDER_" + uuid.New().String()[:8],
		webhookURL:    webhookURL,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		conversations: make(map[string]*conversation),
	}
}

// simulateInvitation decides the prospect's response and pushes the webhook
// after a delay, the way a human would take hours to react.
func (m *MockProvider) simulateInvitation(accountID string, req *SendInvitationRequest) {
	delay := m.randomDelay()
	accepted := m.rng.Float64() < m.acceptRate

	go func() {
		time.Sleep(delay)

		if !accepted {
			m.pushWebhook("connection.rejected", map[string]interface{}{
				"account_id":  accountID,
				"profile_ref": req.ProfileRef,
			})

			log.Info().
				Str("account_id", accountID).
				Str("profile_ref", req.ProfileRef).
				Msg("Invitation rejected")
			return
		}

		conversationID := uuid.NewString()
		m.mu.Lock()
		m.conversations[conversationID] = &conversation{accountID: accountID}
		m.mu.Unlock()

		m.pushWebhook("connection.accepted", map[string]interface{}{
			"account_id":      accountID,
			"profile_ref":     req.ProfileRef,
			"conversation_id": conversationID,
		})

		log.Info().
			Str("account_id", accountID).
			Str("profile_ref", req.ProfileRef).
			Str("conversation_id", conversationID).
			Msg("Invitation accepted")
	}()
}

// simulateReply makes the prospect answer a sent message with probability
// replyRate, again after a delay.
func (m *MockProvider) simulateReply(accountID, conversationID string) {
	if m.rng.Float64() >= m.replyRate {
		return
	}

	delay := m.randomDelay()
	senderRef := "prospect_" + conversationID[:8]

	go func() {
		time.Sleep(delay)

		reply := ConversationMessage{
			MessageID: uuid.NewString(),
			SenderRef: senderRef,
			Text:      "Thanks for reaching out!",
			Timestamp: time.Now().UTC(),
		}
		fromSelf := false
		reply.IsFromSelf = &fromSelf

		m.mu.Lock()
		if conv, ok := m.conversations[conversationID]; ok {
			conv.messages = append(conv.messages, reply)
		}
		m.mu.Unlock()

		m.pushWebhook("message.received", map[string]interface{}{
			"account_id":      accountID,
			"conversation_id": conversationID,
			"sender_ref":      senderRef,
			"text":            reply.Text,
			"timestamp":       reply.Timestamp,
		})

		log.Info().
			Str("account_id", accountID).
			Str("conversation_id", conversationID).
			Msg("Prospect replied")
	}()
}

// pushWebhook delivers an event to the engine's webhook endpoint. Delivery
// is fire-and-forget; the engine's poller covers lost pushes.
func (m *MockProvider) pushWebhook(event string, data interface{}) {
	if m.webhookURL == "" {
		return
	}

	body, err := json.Marshal(webhookEnvelope{
		EventID: uuid.NewString(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook")
		return
	}

	resp, err := http.Post(m.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	log.Info().Str("event", event).Int("status", resp.StatusCode).Msg("Webhook delivered")
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	randomDelta := time.Duration(m.rng.Int63n(int64(delta)))
	return m.minDelay + randomDelta
}

// Handler struct holds the mock provider and routes
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

// SendInvitation handles connection request submissions
func (h *Handler) SendInvitation(c *gin.Context) {
	accountID := c.Param("account_id")

	var req SendInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("account_id", accountID).
		Str("profile_ref", req.ProfileRef).
		Msg("Received invitation request")

	h.provider.simulateInvitation(accountID, &req)

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "queued",
		"provider_id": h.provider.providerID,
	})
}

// SendMessage handles posting a message into a conversation
func (h *Handler) SendMessage(c *gin.Context) {
	accountID := c.Param("account_id")
	conversationID := c.Param("conversation_id")

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	fromSelf := true
	message := ConversationMessage{
		MessageID:  uuid.NewString(),
		SenderRef:  accountID,
		Text:       req.Text,
		Timestamp:  time.Now().UTC(),
		IsFromSelf: &fromSelf,
	}

	h.provider.mu.Lock()
	conv, ok := h.provider.conversations[conversationID]
	if ok {
		conv.messages = append(conv.messages, message)
	}
	h.provider.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	log.Info().
		Str("account_id", accountID).
		Str("conversation_id", conversationID).
		Msg("Message stored")

	h.provider.simulateReply(accountID, conversationID)

	c.JSON(http.StatusCreated, message)
}

// ListMessages returns the most recent messages of a conversation
func (h *Handler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
			limit = 50
		}
	}

	h.provider.mu.Lock()
	conv, ok := h.provider.conversations[conversationID]
	var messages []ConversationMessage
	if ok {
		messages = append(messages, conv.messages...)
	}
	h.provider.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		ProviderID: h.provider.providerID,
		Timestamp:  time.Now(),
		AcceptRate: h.provider.acceptRate,
	})
}

// UpdateConfig allows changing provider behavior at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
		ReplyRate  *float64 `json:"reply_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.AcceptRate != nil && *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
		h.provider.acceptRate = *config.AcceptRate
		log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
	}
	if config.ReplyRate != nil && *config.ReplyRate >= 0 && *config.ReplyRate <= 1.0 {
		h.provider.replyRate = *config.ReplyRate
		log.Info().Float64("rate", *config.ReplyRate).Msg("Updated reply rate")
	}

	c.JSON(http.StatusOK, gin.H{
		"accept_rate": h.provider.acceptRate,
		"reply_rate":  h.provider.replyRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/accounts/:account_id/invitations", handler.SendInvitation)
		v1.POST("/accounts/:account_id/conversations/:conversation_id/messages", handler.SendMessage)
		v1.GET("/accounts/:account_id/conversations/:conversation_id/messages", handler.ListMessages)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	acceptRate := getEnvFloat("ACCEPT_RATE", 0.7)
	replyRate := getEnvFloat("REPLY_RATE", 0.4)
	minDelay := getEnvDuration("MIN_DELAY", 1*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 5*time.Second)
	webhookURL := getEnv("WEBHOOK_URL", "")

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Float64("reply_rate", replyRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Str("webhook_url", webhookURL).
		Msg("Starting Mock Outreach Provider")

	// Create mock provider
	provider := NewMockProvider(acceptRate, replyRate, minDelay, maxDelay, webhookURL)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
