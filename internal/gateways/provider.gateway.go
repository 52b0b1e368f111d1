package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrCircuitOpen = errors.New("provider circuit breaker is open")
)

// ConversationMessage is one message inside a provider conversation thread.
// IsFromSelf is nil when the provider omits the authorship flag; callers
// fall back to comparing SenderRef against the account's own handle.
type ConversationMessage struct {
	MessageID  string     `json:"message_id"`
	SenderRef  string     `json:"sender_ref"`
	Text       string     `json:"text"`
	Timestamp  time.Time  `json:"timestamp"`
	IsFromSelf *bool      `json:"is_from_self,omitempty"`
}

type connectionRequest struct {
	ProfileRef string `json:"profile_ref"`
	Message    string `json:"message"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messagesResponse struct {
	Messages []ConversationMessage `json:"messages"`
}

// ClientMetrics tracks request outcomes and latencies for the provider API.
type ClientMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewClientMetrics() *ClientMetrics {
	return &ClientMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *ClientMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *ClientMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *ClientMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *ClientMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *ClientMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyHistory) == 0 {
		return 0
	}

	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p95Index := int(float64(len(sorted)) * 0.95)
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}
	return sorted[p95Index]
}

type Config struct {
	BaseURL                 string
	APIKey                  string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	ReadBufferSize          int
	WriteBufferSize         int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// Client talks to the outreach provider's REST API. A circuit breaker guards
// the whole endpoint: after enough consecutive failures every call fails
// fast with ErrCircuitOpen until the cooldown elapses.
type Client struct {
	config           *Config
	http             *fasthttp.Client
	metrics          *ClientMetrics
	circuitOpenUntil atomic.Int64
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("provider base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	client := &Client{
		config: config,
		http: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
		metrics: NewClientMetrics(),
	}

	logger.Info("Provider client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)

	return client, nil
}

// SendConnectionRequest asks the provider to send a connection invitation to
// the given profile on behalf of the given provider account.
func (c *Client) SendConnectionRequest(ctx context.Context, providerAccountID, profileRef, message string) error {
	body, err := json.Marshal(connectionRequest{ProfileRef: profileRef, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Sends are single-attempt; a failed contact stays in its current
	// status and the next dispatcher run picks it up again.
	path := fmt.Sprintf("/api/v1/accounts/%s/invitations", providerAccountID)
	_, err = c.doOnce(ctx, "POST", path, body)
	if err != nil {
		return err
	}

	logger.Info("Connection request sent", "account", providerAccountID, "profile", profileRef)
	return nil
}

// SendMessage posts a message into an existing conversation.
func (c *Client) SendMessage(ctx context.Context, providerAccountID, conversationID, text string) error {
	body, err := json.Marshal(messageRequest{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/messages", providerAccountID, conversationID)
	_, err = c.doOnce(ctx, "POST", path, body)
	if err != nil {
		return err
	}

	logger.Info("Message sent", "account", providerAccountID, "conversation", conversationID)
	return nil
}

// FetchMessages returns the most recent messages of a conversation, newest
// last, capped at limit.
func (c *Client) FetchMessages(ctx context.Context, providerAccountID, conversationID string, limit int) ([]ConversationMessage, error) {
	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/messages?limit=%d", providerAccountID, conversationID, limit)
	response, err := c.doWithRetry(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return resp.Messages, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		response, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				return nil, err
			}
			logger.Warn("Provider request failed", "method", method, "path", path, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		return response, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doOnce performs a single attempt, recording metrics and feeding the
// circuit breaker.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.circuitIsOpen() {
		return nil, ErrCircuitOpen
	}

	startTime := time.Now()
	response, err := c.doRequest(ctx, method, path, body)
	latency := time.Since(startTime).Milliseconds()

	if err != nil {
		c.metrics.RecordFailure()
		c.checkCircuitBreaker()
		return nil, err
	}

	c.metrics.RecordSuccess(latency)
	return response, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted && statusCode != fasthttp.StatusCreated {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

func (c *Client) circuitIsOpen() bool {
	openUntil := c.circuitOpenUntil.Load()
	return openUntil > 0 && time.Now().Unix() < openUntil
}

func (c *Client) checkCircuitBreaker() {
	consecutiveFails := c.metrics.ConsecutiveFails.Load()
	if consecutiveFails >= int32(c.config.CircuitBreakerThreshold) {
		openUntil := time.Now().Add(c.config.CircuitBreakerTimeout).Unix()
		c.circuitOpenUntil.Store(openUntil)

		logger.Warn("Provider circuit breaker opened", "consecutive_fails", consecutiveFails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

// Stats returns a snapshot of the client's request metrics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		TotalRequests:    c.metrics.TotalRequests.Load(),
		SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
		FailedReqs:       c.metrics.FailedReqs.Load(),
		SuccessRate:      c.metrics.SuccessRate(),
		AvgLatencyMs:     c.metrics.AvgLatencyMs(),
		P95LatencyMs:     c.metrics.P95LatencyMs(),
		LastLatencyMs:    c.metrics.LastLatencyMs.Load(),
		ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
		CircuitOpen:      c.circuitIsOpen(),
	}
}

type ClientStats struct {
	TotalRequests    int64
	SuccessfulReqs   int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	P95LatencyMs     int64
	LastLatencyMs    int64
	ConsecutiveFails int32
	CircuitOpen      bool
}
