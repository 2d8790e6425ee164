package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/core"
	"omnirelay/internal/db"
	"omnirelay/internal/routing"
	"omnirelay/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEngine struct {
	inboundKind   types.ChannelKind
	inboundCfg    *types.ChannelConfig
	inboundRaw    json.RawMessage
	inboundResult *routing.InboundResult
	inboundErr    error

	outboundMsg    *types.CanonicalMessage
	outboundResult *routing.OutboundResult
	outboundErr    error
}

func (s *stubEngine) Inbound(_ context.Context, kind types.ChannelKind, cfg *types.ChannelConfig, raw json.RawMessage) (*routing.InboundResult, error) {
	s.inboundKind = kind
	s.inboundCfg = cfg
	s.inboundRaw = raw
	return s.inboundResult, s.inboundErr
}

func (s *stubEngine) Outbound(_ context.Context, msg *types.CanonicalMessage) (*routing.OutboundResult, error) {
	s.outboundMsg = msg
	return s.outboundResult, s.outboundErr
}

type stubChannels struct {
	byRef    map[string]*types.ChannelConfig
	byKind   map[types.ChannelKind][]*types.ChannelConfig
	lastKind types.ChannelKind
}

func (s *stubChannels) GetByRef(_ context.Context, ref string) (*types.ChannelConfig, error) {
	cfg, ok := s.byRef[ref]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeChannelNotFound, "channel not found", nil)
	}
	return cfg, nil
}

func (s *stubChannels) ListActiveByKind(_ context.Context, kind types.ChannelKind) ([]*types.ChannelConfig, error) {
	s.lastKind = kind
	return s.byKind[kind], nil
}

func newMessageFixture() (*MessageHandler, *stubEngine, *stubChannels) {
	engine := &stubEngine{
		inboundResult:  &routing.InboundResult{Success: true, MessageID: "msg-1"},
		outboundResult: &routing.OutboundResult{Success: true, MessageID: "msg-2", ExternalID: "EXT9"},
	}
	channels := &stubChannels{
		byRef: map[string]*types.ChannelConfig{
			"chan-a": {ID: "chan-a", Kind: types.ChannelWhatsApp, Active: true},
		},
		byKind: map[types.ChannelKind][]*types.ChannelConfig{
			types.ChannelTelegram: {{ID: "chan-tg", Kind: types.ChannelTelegram, Active: true}},
		},
	}
	h := NewMessageHandler(engine, channels, core.NewValidator(testLogger()), testLogger())
	return h, engine, channels
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleInbound(t *testing.T) {
	t.Run("explicit channel ref", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"whatsapp","channel_ref":"chan-a","payload":{"event":"x"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, engine.inboundCfg)
		assert.Equal(t, "chan-a", engine.inboundCfg.ID)
		assert.Equal(t, types.ChannelWhatsApp, engine.inboundKind)
		assert.JSONEq(t, `{"event":"x"}`, string(engine.inboundRaw))
	})

	t.Run("defaults to first active channel of kind", func(t *testing.T) {
		h, engine, channels := newMessageFixture()

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"telegram","payload":{"update_id":1}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ChannelTelegram, channels.lastKind)
		assert.Equal(t, "chan-tg", engine.inboundCfg.ID)
	})

	t.Run("no channel configured routes with defaults", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"webhook","payload":{"text":"hi"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ChannelWebhook, engine.inboundKind)
		assert.Nil(t, engine.inboundCfg)
	})

	t.Run("explicit ref must exist", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"whatsapp","channel_ref":"chan-gone","payload":{}}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_found_channel")
		assert.Nil(t, engine.inboundRaw)
	})

	t.Run("unsupported kind rejected before engine", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"fax","payload":{}}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, engine.inboundRaw)
	})

	t.Run("partial failure returns 207", func(t *testing.T) {
		h, engine, _ := newMessageFixture()
		engine.inboundResult = &routing.InboundResult{
			Success: false,
			Errors:  map[string]string{"crm": "sink unavailable"},
		}

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"whatsapp","channel_ref":"chan-a","payload":{}}`)

		assert.Equal(t, http.StatusMultiStatus, rec.Code)
		assert.Contains(t, rec.Body.String(), "sink unavailable")
	})

	t.Run("engine error maps to envelope", func(t *testing.T) {
		h, engine, _ := newMessageFixture()
		engine.inboundResult = nil
		engine.inboundErr = types.NewAppError(types.ErrCodeValidationInvalidBody, "payload does not parse", errors.New("bad json"))

		rec := postJSON(t, h.HandleInbound,
			`{"channel_kind":"whatsapp","channel_ref":"chan-a","payload":{"x":1}}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleOutbound(t *testing.T) {
	t.Run("text message", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"channel_kind":"telegram","recipient":"12345","text":"hello"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.NotNil(t, engine.outboundMsg)
		assert.Equal(t, types.ChannelTelegram, engine.outboundMsg.Channel)
		assert.Equal(t, "telegram:12345", engine.outboundMsg.Recipient)
		assert.Equal(t, "telegram:crm", engine.outboundMsg.Sender)
		assert.Equal(t, "hello", engine.outboundMsg.Text)
		assert.Equal(t, types.ContentText, engine.outboundMsg.ContentKind)
	})

	t.Run("gateway alias normalized", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"channel_kind":"evo","recipient":"5511999999999","text":"oi"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, types.ChannelWhatsApp, engine.outboundMsg.Channel)
		assert.Equal(t, "whatsapp:5511999999999", engine.outboundMsg.Recipient)
	})

	t.Run("media message", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"channel_kind":"whatsapp","recipient":"551188887777","media_url":"https://files.local/a.jpg","media_kind":"image","media_caption":"look"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, engine.outboundMsg.Media, 1)
		att := engine.outboundMsg.Media[0]
		assert.Equal(t, types.MediaImage, att.Kind)
		assert.Equal(t, "https://files.local/a.jpg", att.URL)
		assert.Equal(t, "look", att.Caption)
		assert.Equal(t, types.ContentMedia, engine.outboundMsg.ContentKind)
	})

	t.Run("requires text or media", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"channel_kind":"whatsapp","recipient":"551188887777"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, engine.outboundMsg)
	})

	t.Run("full canonical document", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		msg := types.NewCanonicalMessage(types.ChannelTelegram)
		msg.Sender = "telegram:crm"
		msg.Recipient = "telegram:777"
		msg.Text = "from the pipeline"
		body, err := msg.Serialize()
		require.NoError(t, err)

		rec := postJSON(t, h.HandleOutbound, string(body))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.NotNil(t, engine.outboundMsg)
		assert.Equal(t, msg.MessageID, engine.outboundMsg.MessageID)
		assert.Equal(t, "telegram:777", engine.outboundMsg.Recipient)
		assert.Equal(t, "from the pipeline", engine.outboundMsg.Text)
	})

	t.Run("canonical document fills identity", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"sender":"evo:crm","recipient":"whatsapp:551100","channel_kind":"evo","text":"oi"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.NotNil(t, engine.outboundMsg)
		assert.Equal(t, types.ChannelWhatsApp, engine.outboundMsg.Channel)
		assert.NotEmpty(t, engine.outboundMsg.MessageID)
		assert.False(t, engine.outboundMsg.Timestamp.IsZero())
	})

	t.Run("canonical document without recipient rejected", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"message_id":"m-1","channel_kind":"telegram","text":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, engine.outboundMsg)
	})

	t.Run("canonical document with unknown kind rejected", func(t *testing.T) {
		h, engine, _ := newMessageFixture()

		rec := postJSON(t, h.HandleOutbound,
			`{"message_id":"m-2","channel_kind":"fax","recipient":"fax:1","text":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "channel_unsupported")
		assert.Nil(t, engine.outboundMsg)
	})

	t.Run("no sendable channel surfaces 400", func(t *testing.T) {
		h, engine, _ := newMessageFixture()
		engine.outboundResult = nil
		engine.outboundErr = types.NewAppError(types.ErrCodeChannelInactive, "no send-enabled channel", nil)

		rec := postJSON(t, h.HandleOutbound,
			`{"channel_kind":"whatsapp","recipient":"1","text":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "channel_inactive")
	})
}

type stubLogLister struct {
	lastFilter db.DeliveryLogFilter
	entries    []*types.DeliveryLogEntry
	byID       map[string]*types.DeliveryLogEntry
}

func (s *stubLogLister) List(_ context.Context, filter db.DeliveryLogFilter) ([]*types.DeliveryLogEntry, error) {
	s.lastFilter = filter
	return s.entries, nil
}

func (s *stubLogLister) GetByID(_ context.Context, id string) (*types.DeliveryLogEntry, error) {
	entry, ok := s.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundDeliveryLog, "delivery log entry not found", nil)
	}
	return entry, nil
}

func TestDeliveryLogHandler(t *testing.T) {
	newFixture := func() (*DeliveryLogHandler, *stubLogLister, chi.Router) {
		lister := &stubLogLister{
			entries: []*types.DeliveryLogEntry{
				{ID: "log-1", MessageID: "msg-1", Direction: types.DirectionInbound, Status: types.StatusSent},
			},
			byID: map[string]*types.DeliveryLogEntry{
				"log-1": {ID: "log-1", MessageID: "msg-1"},
			},
		}
		h := NewDeliveryLogHandler(lister, testLogger())
		r := chi.NewRouter()
		h.RegisterRoutes(r)
		return h, lister, r
	}

	t.Run("list with filters", func(t *testing.T) {
		_, lister, r := newFixture()

		req := httptest.NewRequest(http.MethodGet,
			"/delivery-logs?direction=inbound&status=sent&channel=evo&since=2026-08-01T00:00:00Z&limit=10&offset=5", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.DirectionInbound, lister.lastFilter.Direction)
		assert.Equal(t, types.StatusSent, lister.lastFilter.Status)
		assert.Equal(t, types.ChannelWhatsApp, lister.lastFilter.Channel)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), lister.lastFilter.Since)
		assert.Equal(t, 10, lister.lastFilter.Limit)
		assert.Equal(t, 5, lister.lastFilter.Offset)
	})

	t.Run("invalid since rejected", func(t *testing.T) {
		_, _, r := newFixture()

		req := httptest.NewRequest(http.MethodGet, "/delivery-logs?since=yesterday", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid limit rejected", func(t *testing.T) {
		_, _, r := newFixture()

		req := httptest.NewRequest(http.MethodGet, "/delivery-logs?limit=-3", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get by id", func(t *testing.T) {
		_, _, r := newFixture()

		req := httptest.NewRequest(http.MethodGet, "/delivery-logs/log-1", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "msg-1")
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, _, r := newFixture()

		req := httptest.NewRequest(http.MethodGet, "/delivery-logs/nope", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
