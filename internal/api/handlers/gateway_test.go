package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/routing"
	"omnirelay/internal/types"
)

type stubInstanceStore struct {
	byInstance map[string]*types.ChannelConfig
}

func (s *stubInstanceStore) GetByInstance(_ context.Context, ref string) (*types.ChannelConfig, error) {
	cfg, ok := s.byInstance[ref]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeChannelNotFound, "no channel for instance", nil)
	}
	return cfg, nil
}

func newGatewayFixture() (*GatewayWebhookHandler, *stubEngine) {
	engine := &stubEngine{
		inboundResult: &routing.InboundResult{Success: true, MessageID: "msg-1"},
	}
	channels := &stubInstanceStore{
		byInstance: map[string]*types.ChannelConfig{
			"main-line": {ID: "chan-a", Kind: types.ChannelWhatsApp, InstanceRef: "main-line", Active: true},
		},
	}
	return NewGatewayWebhookHandler(engine, channels, testLogger()), engine
}

func TestGatewayWebhook(t *testing.T) {
	t.Run("message event enters pipeline", func(t *testing.T) {
		h, engine := newGatewayFixture()

		body := `{"event":"messages.upsert","instance":"main-line","data":{"key":{"id":"ABC1"}}}`
		rec := postJSON(t, h.HandleWebhook, body)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ChannelWhatsApp, engine.inboundKind)
		require.NotNil(t, engine.inboundCfg)
		assert.Equal(t, "chan-a", engine.inboundCfg.ID)
		assert.JSONEq(t, body, string(engine.inboundRaw))
	})

	t.Run("event name matched case-insensitively", func(t *testing.T) {
		h, engine := newGatewayFixture()

		rec := postJSON(t, h.HandleWebhook,
			`{"event":"MESSAGES.UPSERT","instance":"main-line","data":{}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotNil(t, engine.inboundRaw)
	})

	t.Run("non-message event acknowledged and dropped", func(t *testing.T) {
		h, engine := newGatewayFixture()

		rec := postJSON(t, h.HandleWebhook,
			`{"event":"connection.update","instance":"main-line","data":{"state":"open"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "event ignored")
		assert.Nil(t, engine.inboundRaw)
	})

	t.Run("unknown instance acknowledged without processing", func(t *testing.T) {
		h, engine := newGatewayFixture()

		rec := postJSON(t, h.HandleWebhook,
			`{"event":"messages.upsert","instance":"ghost","data":{}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown instance")
		assert.Nil(t, engine.inboundRaw)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		h, _ := newGatewayFixture()

		rec := postJSON(t, h.HandleWebhook, `{"event":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("partial routing failure returns 207", func(t *testing.T) {
		h, engine := newGatewayFixture()
		engine.inboundResult = &routing.InboundResult{
			Success: false,
			Errors:  map[string]string{"crm": "timeout"},
		}

		rec := postJSON(t, h.HandleWebhook,
			`{"event":"messages.upsert","instance":"main-line","data":{}}`)

		assert.Equal(t, http.StatusMultiStatus, rec.Code)
	})
}
