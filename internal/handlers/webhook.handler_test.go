package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/reachforge/outreach-engine/internal/model"
	xhttp "github.com/reachforge/outreach-engine/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestWebhookHandler_ReceiveEvent(t *testing.T) {
	t.Run("accepts well-formed envelope", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		envelope := model.WebhookEnvelope{
			EventID: "evt_123",
			Event:   model.EventConnectionAccepted,
			Data:    json.RawMessage(`{"account_id":"acct_42","profile_ref":"a_profile"}`),
		}
		bodyBytes, _ := json.Marshal(envelope)

		pub.On("PublishJSON", mock.Anything, mock.MatchedBy(func(v interface{}) bool {
			e, ok := v.(model.WebhookEnvelope)
			return ok && e.EventID == "evt_123" && e.Event == model.EventConnectionAccepted
		}), map[string]string{"event": model.EventConnectionAccepted}).Return("1-0", nil)

		ctx := setupTestContext("POST", "/webhooks/provider", bodyBytes)
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "evt_123", resp["event_id"])
		pub.AssertExpectations(t)
	})

	t.Run("assigns event id when provider omits one", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		var published model.WebhookEnvelope
		pub.On("PublishJSON", mock.Anything, mock.MatchedBy(func(v interface{}) bool {
			published = v.(model.WebhookEnvelope)
			return true
		}), mock.Anything).Return("1-0", nil)

		body := []byte(`{"event":"message.received","data":{"conversation_id":"conv_9"}}`)
		ctx := setupTestContext("POST", "/webhooks/provider", body)
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
		assert.NotEmpty(t, published.EventID)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, published.EventID, resp["event_id"])
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		ctx := setupTestContext("POST", "/webhooks/provider", []byte(`{not json`))
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "invalid JSON")
		pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects envelope without event", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		ctx := setupTestContext("POST", "/webhooks/provider", []byte(`{"data":{"x":1}}`))
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "event is required")
	})

	t.Run("rejects envelope without data", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		ctx := setupTestContext("POST", "/webhooks/provider", []byte(`{"event":"connection.accepted"}`))
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "data is required")
	})

	t.Run("returns 503 when the queue is unavailable", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("stream unavailable"))

		body := []byte(`{"event":"connection.accepted","data":{"account_id":"acct_42"}}`)
		ctx := setupTestContext("POST", "/webhooks/provider", body)
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "failed to enqueue")
	})

	t.Run("unrecognized kinds are still accepted", func(t *testing.T) {
		pub := new(MockEventPublisher)
		handler := NewWebhookHandler(pub)

		pub.On("PublishJSON", mock.Anything, mock.Anything,
			map[string]string{"event": "profile.viewed"}).Return("1-0", nil)

		body := []byte(`{"event_id":"evt_9","event":"profile.viewed","data":{"account_id":"acct_42"}}`)
		ctx := setupTestContext("POST", "/webhooks/provider", body)
		handler.ReceiveEvent(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
		pub.AssertExpectations(t)
	})
}
