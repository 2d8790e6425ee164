package translator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"omnirelay/internal/media"
	"omnirelay/internal/types"
)

// FileURLResolver converts a bot-API file identifier into a fetchable URL.
// Satisfied by the Telegram client (getFile). Optional: when nil, attachments
// keep their file identifier in metadata and are not downloaded.
type FileURLResolver interface {
	ResolveFileURL(ctx context.Context, fileID string) (string, error)
}

var _ Translator = (*TelegramTranslator)(nil)

// TelegramTranslator maps Telegram bot-API updates to and from the canonical
// schema.
type TelegramTranslator struct {
	resolver MediaResolver
	files    FileURLResolver
	store    types.BlobStore
	logger   types.Logger

	systemIdentity string
}

// NewTelegramTranslator creates the Telegram translator. files may be nil.
func NewTelegramTranslator(resolver MediaResolver, files FileURLResolver, store types.BlobStore, logger types.Logger) *TelegramTranslator {
	return &TelegramTranslator{
		resolver:       resolver,
		files:          files,
		store:          store,
		logger:         logger,
		systemIdentity: "crm",
	}
}

// Kind returns the canonical channel kind.
func (t *TelegramTranslator) Kind() types.ChannelKind {
	return types.ChannelTelegram
}

// --- Native payload shapes ---

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`

	From *telegramUser `json:"from"`
	Chat telegramChat  `json:"chat"`

	Photo    []telegramPhotoSize `json:"photo"`
	Document *telegramDocument   `json:"document"`
	Voice    *telegramVoice      `json:"voice"`
	Video    *telegramVideo      `json:"video"`
	Location *telegramLocation   `json:"location"`

	ReplyToMessage *struct {
		MessageID int64 `json:"message_id"`
	} `json:"reply_to_message"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramPhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type telegramDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type telegramVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type telegramVideo struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type telegramLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ToCanonical parses a bot-API update into a canonical message.
func (t *TelegramTranslator) ToCanonical(ctx context.Context, raw json.RawMessage) (*types.CanonicalMessage, error) {
	var update telegramUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidBody, "unparseable update", err)
	}
	if update.Message == nil {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownEvent, "update carries no message", nil)
	}
	in := update.Message

	msg := types.NewCanonicalMessage(types.ChannelTelegram)
	msg.ExternalID = strconv.FormatInt(in.MessageID, 10)
	msg.Recipient = types.FormatAddress(types.ChannelTelegram, t.systemIdentity)
	if in.Date > 0 {
		msg.Timestamp = time.Unix(in.Date, 0).UTC()
	}

	if in.From != nil {
		msg.Sender = types.FormatAddress(types.ChannelTelegram, strconv.FormatInt(in.From.ID, 10))
		msg.SenderName = strings.TrimSpace(in.From.FirstName + " " + in.From.LastName)
		if in.From.Username != "" {
			msg.SetMetadata("username", in.From.Username)
		}
	} else {
		msg.Sender = types.FormatAddress(types.ChannelTelegram, strconv.FormatInt(in.Chat.ID, 10))
	}

	msg.SetMetadata("chat_id", strconv.FormatInt(in.Chat.ID, 10))
	msg.SetMetadata("chat_type", in.Chat.Type)
	if in.ReplyToMessage != nil {
		msg.ReplyTo = strconv.FormatInt(in.ReplyToMessage.MessageID, 10)
	}

	switch {
	case len(in.Photo) > 0:
		// The bot API sends several downscaled variants; the last is the
		// original resolution.
		best := in.Photo[len(in.Photo)-1]
		msg.Text = in.Caption
		att := types.MediaAttachment{
			Kind:      types.MediaImage,
			MimeType:  "image/jpeg",
			SizeBytes: best.FileSize,
			Caption:   in.Caption,
		}
		t.resolveFile(ctx, msg, &att, best.FileID, types.CategoryImage)
		msg.AddMedia(att)

	case in.Document != nil:
		msg.Text = in.Caption
		att := types.MediaAttachment{
			Kind:      types.MediaDocument,
			MimeType:  in.Document.MimeType,
			Filename:  in.Document.FileName,
			SizeBytes: in.Document.FileSize,
			Caption:   in.Caption,
		}
		t.resolveFile(ctx, msg, &att, in.Document.FileID, types.CategoryDocument)
		msg.AddMedia(att)

	case in.Voice != nil:
		att := types.MediaAttachment{
			Kind:            types.MediaAudio,
			MimeType:        in.Voice.MimeType,
			SizeBytes:       in.Voice.FileSize,
			DurationSeconds: in.Voice.Duration,
		}
		t.resolveFile(ctx, msg, &att, in.Voice.FileID, types.CategoryAudio)
		msg.AddMedia(att)

	case in.Video != nil:
		msg.Text = in.Caption
		att := types.MediaAttachment{
			Kind:            types.MediaVideo,
			MimeType:        in.Video.MimeType,
			SizeBytes:       in.Video.FileSize,
			DurationSeconds: in.Video.Duration,
			Caption:         in.Caption,
		}
		t.resolveFile(ctx, msg, &att, in.Video.FileID, types.CategoryVideo)
		msg.AddMedia(att)

	case in.Location != nil:
		msg.AddMedia(types.MediaAttachment{
			Kind:      types.MediaLocation,
			Latitude:  in.Location.Latitude,
			Longitude: in.Location.Longitude,
		})

	case in.Text != "":
		msg.ContentKind = types.ContentText
		msg.Text = in.Text

	default:
		msg.ContentKind = types.ContentSystem
	}

	return msg, nil
}

// resolveFile turns a file identifier into a locally stored attachment.
// Without a resolver, or on failure, the identifier survives in metadata.
func (t *TelegramTranslator) resolveFile(ctx context.Context, msg *types.CanonicalMessage, att *types.MediaAttachment, fileID string, category types.MediaCategory) {
	msg.SetMetadata("file_id", fileID)
	if t.files == nil {
		return
	}

	url, err := t.files.ResolveFileURL(ctx, fileID)
	if err != nil {
		t.logger.Warn("file URL resolution failed",
			"message_id", msg.MessageID,
			"file_id", fileID,
			"error", err.Error(),
		)
		msg.SetMetadata("media_error", err.Error())
		return
	}

	res, err := t.resolver.Acquire(ctx, media.Descriptor{
		RemoteURL:    url,
		MimeType:     att.MimeType,
		DeclaredSize: att.SizeBytes,
	}, category)
	if err != nil {
		t.logger.Warn("media acquisition failed, attachment degraded",
			"message_id", msg.MessageID,
			"category", string(category),
			"error", err.Error(),
		)
		msg.SetMetadata("media_error", err.Error())
		return
	}

	att.URL = t.store.URLFor(res.LocalRef)
	if att.Filename == "" {
		att.Filename = res.Filename
	}
	att.SizeBytes = res.Size
}

// --- Outbound payloads ---

// TelegramTextPayload is the bot-API sendMessage request body.
type TelegramTextPayload struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// TelegramMediaPayload is the bot-API sendPhoto/sendDocument request body.
// Exactly one of Photo or Document is set; it selects the API method.
type TelegramMediaPayload struct {
	ChatID   string `json:"chat_id"`
	Photo    string `json:"photo,omitempty"`
	Document string `json:"document,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// FromCanonical builds the bot-API request body for an outbound message.
func (t *TelegramTranslator) FromCanonical(_ context.Context, msg *types.CanonicalMessage) (any, error) {
	_, chatID := types.ParseAddress(msg.Recipient)
	if chatID == "" {
		chatID = msg.Recipient
	}
	if v, ok := msg.Metadata["chat_id"].(string); ok && v != "" {
		chatID = v
	}

	if msg.ContentKind == types.ContentMedia && len(msg.Media) > 0 {
		att := msg.Media[0]
		payload := &TelegramMediaPayload{ChatID: chatID, Caption: att.Caption}
		if att.Kind == types.MediaImage {
			payload.Photo = att.URL
		} else {
			payload.Document = att.URL
		}
		return payload, nil
	}

	payload := &TelegramTextPayload{ChatID: chatID, Text: msg.Text}
	if msg.ReplyTo != "" {
		if id, err := strconv.ParseInt(msg.ReplyTo, 10, 64); err == nil {
			payload.ReplyToMessageID = id
		}
	}
	return payload, nil
}
