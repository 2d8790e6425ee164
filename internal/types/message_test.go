package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCanonicalMessage_Defaults(t *testing.T) {
	m := NewCanonicalMessage(ChannelEvolution)

	require.NotEmpty(t, m.MessageID)
	assert.Equal(t, ChannelEvolution, m.Channel)
	assert.Equal(t, ContentText, m.ContentKind)
	assert.Equal(t, StatusReceived, m.Status)
	assert.NotNil(t, m.Media)
	assert.Empty(t, m.Media)
	assert.NotNil(t, m.Metadata)
	assert.False(t, m.Timestamp.IsZero())
	assert.False(t, m.ReceivedAt.IsZero())
}

func TestCanonicalMessage_SerializeRoundTrip(t *testing.T) {
	m := NewCanonicalMessage(ChannelTelegram)
	m.ExternalID = "ext-42"
	m.Sender = FormatAddress(ChannelTelegram, "123456")
	m.SenderName = "Joe"
	m.Recipient = FormatAddress(ChannelTelegram, "bot")
	m.Text = "caption text"
	m.ReplyTo = "ext-41"
	m.Forwarded = true
	m.SetMetadata("group", true)
	m.AddMedia(MediaAttachment{
		Kind:      MediaImage,
		URL:       "image/2026/01/abc.jpg",
		MimeType:  "image/jpeg",
		Filename:  "abc.jpg",
		SizeBytes: 2048,
		Caption:   "caption text",
	})

	data, err := m.Serialize()
	require.NoError(t, err)

	got, err := DeserializeCanonicalMessage(data)
	require.NoError(t, err)

	// Field-for-field equality modulo object identity.
	assert.Equal(t, m.MessageID, got.MessageID)
	assert.Equal(t, m.ExternalID, got.ExternalID)
	assert.True(t, m.Timestamp.Equal(got.Timestamp))
	assert.True(t, m.ReceivedAt.Equal(got.ReceivedAt))
	assert.Equal(t, m.Sender, got.Sender)
	assert.Equal(t, m.SenderName, got.SenderName)
	assert.Equal(t, m.Recipient, got.Recipient)
	assert.Equal(t, m.Channel, got.Channel)
	assert.Equal(t, m.ContentKind, got.ContentKind)
	assert.Equal(t, m.Text, got.Text)
	assert.Equal(t, m.Media, got.Media)
	assert.Equal(t, m.ReplyTo, got.ReplyTo)
	assert.Equal(t, m.Forwarded, got.Forwarded)
	assert.Equal(t, m.Metadata, got.Metadata)
	assert.Equal(t, m.Status, got.Status)
}

func TestDeserializeCanonicalMessage_NormalizesCollections(t *testing.T) {
	got, err := DeserializeCanonicalMessage([]byte(`{"message_id":"x","channel_kind":"evo"}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Media)
	assert.NotNil(t, got.Metadata)
}

func TestDeserializeCanonicalMessage_InvalidJSON(t *testing.T) {
	_, err := DeserializeCanonicalMessage([]byte(`{`))
	require.Error(t, err)
}

func TestAddMedia_FlipsContentKind(t *testing.T) {
	m := NewCanonicalMessage(ChannelEvolution)
	assert.Equal(t, ContentText, m.ContentKind)

	m.AddMedia(MediaAttachment{Kind: MediaAudio})
	m.AddMedia(MediaAttachment{Kind: MediaDocument})

	assert.Equal(t, ContentMedia, m.ContentKind)
	// Insertion order is display order.
	require.Len(t, m.Media, 2)
	assert.Equal(t, MediaAudio, m.Media[0].Kind)
	assert.Equal(t, MediaDocument, m.Media[1].Kind)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in       string
		wantKind ChannelKind
		wantAddr string
	}{
		{"evo:5511999999999", ChannelEvolution, "5511999999999"},
		{"telegram:123:456", ChannelTelegram, "123:456"}, // split on first colon only
		{"5511999999999", "", "5511999999999"},
		{"webhook:", ChannelWebhook, ""},
	}

	for _, tt := range tests {
		kind, addr := ParseAddress(tt.in)
		assert.Equal(t, tt.wantKind, kind, tt.in)
		assert.Equal(t, tt.wantAddr, addr, tt.in)
	}
}

func TestWebhookTarget_Matches(t *testing.T) {
	base := WebhookTarget{Active: true}

	t.Run("inactive never matches", func(t *testing.T) {
		target := base
		target.Active = false
		assert.False(t, target.Matches(ChannelEvolution, DirectionInbound))
	})

	t.Run("empty filters match everything", func(t *testing.T) {
		target := base
		assert.True(t, target.Matches(ChannelEvolution, DirectionInbound))
		assert.True(t, target.Matches(ChannelTelegram, DirectionOutbound))
	})

	t.Run("channel filter is exact", func(t *testing.T) {
		target := base
		target.ChannelFilter = ChannelEvolution
		assert.True(t, target.Matches(ChannelEvolution, DirectionInbound))
		assert.False(t, target.Matches(ChannelTelegram, DirectionInbound))
	})

	t.Run("direction filter is exact", func(t *testing.T) {
		target := base
		target.DirectionFilter = DirectionInbound
		assert.True(t, target.Matches(ChannelEvolution, DirectionInbound))
		assert.False(t, target.Matches(ChannelEvolution, DirectionOutbound))
	})
}

func TestWebhookTarget_LastRunAtPointer(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	target := WebhookTarget{Active: true, LastRunAt: &at}
	require.NotNil(t, target.LastRunAt)
	assert.True(t, target.LastRunAt.Equal(at))
}
