package translator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"omnirelay/internal/media"
	"omnirelay/internal/types"
)

// MediaResolver is the slice of the media acquisition pipeline a translator
// needs. Satisfied by *media.Acquirer.
type MediaResolver interface {
	Acquire(ctx context.Context, d media.Descriptor, category types.MediaCategory) (*media.Result, error)
}

// Compile-time assertion that EvolutionTranslator implements Translator.
var _ Translator = (*EvolutionTranslator)(nil)

// EvolutionTranslator maps the Evolution-style WhatsApp gateway payloads to
// and from the canonical schema. It accepts both the bare event body and the
// gateway's webhook envelope; both resolve to the same inner structure.
type EvolutionTranslator struct {
	resolver MediaResolver
	store    types.BlobStore
	logger   types.Logger

	// systemIdentity is the address used for the CRM side of a conversation
	// ("whatsapp:<systemIdentity>").
	systemIdentity string
}

// NewEvolutionTranslator creates the WhatsApp gateway translator.
func NewEvolutionTranslator(resolver MediaResolver, store types.BlobStore, logger types.Logger) *EvolutionTranslator {
	return &EvolutionTranslator{
		resolver:       resolver,
		store:          store,
		logger:         logger,
		systemIdentity: "crm",
	}
}

// Kind returns the canonical channel kind.
func (t *EvolutionTranslator) Kind() types.ChannelKind {
	return types.ChannelWhatsApp
}

// --- Native payload shapes ---

// evolutionEnvelope is the gateway's webhook wrapper carrying an event-type tag.
type evolutionEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type evolutionKey struct {
	RemoteJid   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant"`
}

type evolutionEvent struct {
	Key              evolutionKey      `json:"key"`
	PushName         string            `json:"pushName"`
	MessageTimestamp json.Number       `json:"messageTimestamp"`
	Message          *evolutionContent `json:"message"`
}

// evolutionContent holds the mutually exclusive payload sub-keys; exactly one
// is expected per message.
type evolutionContent struct {
	Conversation        string             `json:"conversation"`
	ExtendedTextMessage *evolutionExtText  `json:"extendedTextMessage"`
	ImageMessage        *evolutionMedia    `json:"imageMessage"`
	VideoMessage        *evolutionMedia    `json:"videoMessage"`
	AudioMessage        *evolutionMedia    `json:"audioMessage"`
	DocumentMessage     *evolutionMedia    `json:"documentMessage"`
	LocationMessage     *evolutionLocation `json:"locationMessage"`
}

type evolutionExtText struct {
	Text        string            `json:"text"`
	ContextInfo *evolutionContext `json:"contextInfo"`
}

type evolutionMedia struct {
	URL           string            `json:"url"`
	Mimetype      string            `json:"mimetype"`
	Caption       string            `json:"caption"`
	MediaKey      string            `json:"mediaKey"`
	FileName      string            `json:"fileName"`
	FileLength    json.Number       `json:"fileLength"`
	Seconds       int               `json:"seconds"`
	JpegThumbnail string            `json:"jpegThumbnail"`
	ContextInfo   *evolutionContext `json:"contextInfo"`
}

type evolutionLocation struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             string  `json:"name"`
	Address          string  `json:"address"`
}

type evolutionContext struct {
	StanzaID string `json:"stanzaId"`
}

// extracted is the outcome of one content extractor.
type extracted struct {
	kind       types.ContentKind
	text       string
	attachment *types.MediaAttachment
	descriptor *media.Descriptor
	category   types.MediaCategory
	replyTo    string
}

// evolutionExtractors is the ordered list of content extractors. They are
// tried until one matches, keeping the "exactly one branch taken" rule
// auditable per branch.
var evolutionExtractors = []struct {
	name string
	fn   func(*evolutionContent) *extracted
}{
	{"conversation", func(c *evolutionContent) *extracted {
		if c.Conversation == "" {
			return nil
		}
		return &extracted{kind: types.ContentText, text: c.Conversation}
	}},
	{"extendedText", func(c *evolutionContent) *extracted {
		if c.ExtendedTextMessage == nil {
			return nil
		}
		e := &extracted{kind: types.ContentText, text: c.ExtendedTextMessage.Text}
		if ctx := c.ExtendedTextMessage.ContextInfo; ctx != nil {
			e.replyTo = ctx.StanzaID
		}
		return e
	}},
	{"image", func(c *evolutionContent) *extracted {
		return mediaExtracted(c.ImageMessage, types.MediaImage, types.CategoryImage)
	}},
	{"video", func(c *evolutionContent) *extracted {
		return mediaExtracted(c.VideoMessage, types.MediaVideo, types.CategoryVideo)
	}},
	{"audio", func(c *evolutionContent) *extracted {
		return mediaExtracted(c.AudioMessage, types.MediaAudio, types.CategoryAudio)
	}},
	{"document", func(c *evolutionContent) *extracted {
		return mediaExtracted(c.DocumentMessage, types.MediaDocument, types.CategoryDocument)
	}},
	{"location", func(c *evolutionContent) *extracted {
		if c.LocationMessage == nil {
			return nil
		}
		loc := c.LocationMessage
		return &extracted{
			kind: types.ContentMedia,
			attachment: &types.MediaAttachment{
				Kind:      types.MediaLocation,
				Latitude:  loc.DegreesLatitude,
				Longitude: loc.DegreesLongitude,
				Address:   strings.TrimSpace(strings.Join([]string{loc.Name, loc.Address}, " ")),
			},
		}
	}},
}

// mediaExtracted builds the extraction outcome for a binary media sub-key.
func mediaExtracted(m *evolutionMedia, kind types.MediaKind, category types.MediaCategory) *extracted {
	if m == nil {
		return nil
	}

	size, _ := m.FileLength.Int64()
	e := &extracted{
		kind: types.ContentMedia,
		text: m.Caption,
		attachment: &types.MediaAttachment{
			Kind:            kind,
			MimeType:        m.Mimetype,
			Filename:        m.FileName,
			SizeBytes:       size,
			DurationSeconds: m.Seconds,
			Caption:         m.Caption,
		},
		descriptor: &media.Descriptor{
			RemoteURL:    m.URL,
			InlineBase64: m.JpegThumbnail, // last-resort source for images
			MediaKey:     m.MediaKey,
			MimeType:     m.Mimetype,
			DeclaredSize: size,
		},
		category: category,
	}
	if ctx := m.ContextInfo; ctx != nil {
		e.replyTo = ctx.StanzaID
	}
	return e
}

// ToCanonical parses a gateway event (bare or enveloped) into a canonical
// message, resolving media synchronously.
func (t *EvolutionTranslator) ToCanonical(ctx context.Context, raw json.RawMessage) (*types.CanonicalMessage, error) {
	inner, envelope := unwrapEvolution(raw)

	var event evolutionEvent
	if err := json.Unmarshal(inner, &event); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody, "unparseable gateway event", err)
	}
	if event.Key.RemoteJid == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "gateway event has no remoteJid", nil)
	}

	msg := types.NewCanonicalMessage(types.ChannelWhatsApp)
	msg.ExternalID = event.Key.ID
	msg.SenderName = event.PushName

	if ts, err := event.MessageTimestamp.Int64(); err == nil && ts > 0 {
		msg.Timestamp = time.Unix(ts, 0).UTC()
	}

	isGroup := strings.HasSuffix(event.Key.RemoteJid, "@g.us")
	remote := jidAddress(event.Key.RemoteJid)
	system := types.FormatAddress(types.ChannelWhatsApp, t.systemIdentity)

	// Directionality: self-originated events flip sender and recipient. In a
	// group the per-participant identifier names the actual sender.
	if event.Key.FromMe {
		msg.Sender = system
		msg.Recipient = types.FormatAddress(types.ChannelWhatsApp, remote)
	} else {
		sender := remote
		if isGroup && event.Key.Participant != "" {
			sender = jidAddress(event.Key.Participant)
		}
		msg.Sender = types.FormatAddress(types.ChannelWhatsApp, sender)
		msg.Recipient = system
	}

	msg.SetMetadata("from_me", event.Key.FromMe)
	msg.SetMetadata("group", isGroup)
	if envelope != nil {
		msg.SetMetadata("event", envelope.Event)
		msg.SetMetadata("instance", envelope.Instance)
	}

	if event.Message == nil {
		msg.ContentKind = types.ContentSystem
		return msg, nil
	}

	for _, ex := range evolutionExtractors {
		res := ex.fn(event.Message)
		if res == nil {
			continue
		}

		msg.ContentKind = res.kind
		msg.Text = res.text
		msg.ReplyTo = res.replyTo

		if res.attachment != nil {
			att := *res.attachment
			if res.descriptor != nil {
				t.resolveAttachment(ctx, msg, &att, *res.descriptor, res.category)
			}
			msg.AddMedia(att)
		}
		return msg, nil
	}

	// No extractor matched: an event shape this translator does not carry
	// (reactions, protocol messages). Tagged system, never an error.
	msg.ContentKind = types.ContentSystem
	return msg, nil
}

// resolveAttachment runs media acquisition for one attachment. Failure
// degrades the attachment to an unresolved URL; it never aborts the message.
func (t *EvolutionTranslator) resolveAttachment(ctx context.Context, msg *types.CanonicalMessage, att *types.MediaAttachment, d media.Descriptor, category types.MediaCategory) {
	res, err := t.resolver.Acquire(ctx, d, category)
	if err != nil {
		t.logger.Warn("media acquisition failed, attachment degraded",
			"message_id", msg.MessageID,
			"category", string(category),
			"error", err.Error(),
		)
		msg.SetMetadata("media_error", err.Error())
		if d.RemoteURL != "" {
			msg.SetMetadata("media_remote_url", d.RemoteURL)
		}
		return
	}

	att.URL = t.store.URLFor(res.LocalRef)
	if att.Filename == "" {
		att.Filename = res.Filename
	}
	att.SizeBytes = res.Size
}

// --- Outbound payloads ---

// QuotedRef is the gateway's quoted-message reference for replies.
type QuotedRef struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// EvolutionTextPayload is the gateway's send-text request body.
type EvolutionTextPayload struct {
	Number string     `json:"number"`
	Text   string     `json:"text"`
	Quoted *QuotedRef `json:"quoted,omitempty"`
}

// EvolutionMediaPayload is the gateway's send-media request body.
type EvolutionMediaPayload struct {
	Number    string     `json:"number"`
	MediaType string     `json:"mediatype"`
	Media     string     `json:"media"`
	Caption   string     `json:"caption,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	Quoted    *QuotedRef `json:"quoted,omitempty"`
}

// FromCanonical builds the gateway request body for an outbound message.
// The channel-kind prefix is stripped from the recipient address.
func (t *EvolutionTranslator) FromCanonical(_ context.Context, msg *types.CanonicalMessage) (any, error) {
	_, number := types.ParseAddress(msg.Recipient)
	if number == "" {
		number = msg.Recipient
	}

	var quoted *QuotedRef
	if msg.ReplyTo != "" {
		quoted = &QuotedRef{}
		quoted.Key.ID = msg.ReplyTo
	}

	if msg.ContentKind == types.ContentMedia && len(msg.Media) > 0 {
		att := msg.Media[0]
		return &EvolutionMediaPayload{
			Number:    number,
			MediaType: evolutionMediaType(att.Kind),
			Media:     att.URL,
			Caption:   att.Caption,
			FileName:  att.Filename,
			Quoted:    quoted,
		}, nil
	}

	return &EvolutionTextPayload{
		Number: number,
		Text:   msg.Text,
		Quoted: quoted,
	}, nil
}

// evolutionMediaType maps an attachment kind to the gateway media-type tag.
func evolutionMediaType(kind types.MediaKind) string {
	switch kind {
	case types.MediaImage:
		return "image"
	case types.MediaVideo:
		return "video"
	case types.MediaAudio:
		return "audio"
	case types.MediaSticker:
		return "sticker"
	default:
		return "document"
	}
}

// unwrapEvolution resolves the two accepted payload shapes to the inner event
// body. Returns the envelope when one was present.
func unwrapEvolution(raw json.RawMessage) (json.RawMessage, *evolutionEnvelope) {
	var env evolutionEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Event != "" && len(env.Data) > 0 {
		return env.Data, &env
	}
	return raw, nil
}

// jidAddress extracts the address digits from a gateway JID
// ("5511999999999@s.whatsapp.net" -> "5511999999999").
func jidAddress(jid string) string {
	addr, _, _ := strings.Cut(jid, "@")
	return addr
}
