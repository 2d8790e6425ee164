package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"omnirelay/internal/translator"
	"omnirelay/internal/types"
)

// defaultTelegramAPIBase is used when the channel configuration leaves the
// API base URL empty.
const defaultTelegramAPIBase = "https://api.telegram.org"

// TelegramClient speaks the Telegram bot API. The bot token comes from the
// channel configuration per call; a fixed-token view for file resolution is
// available through ForBot.
type TelegramClient struct {
	base    *BaseClient
	apiBase string
	logger  types.Logger
}

// NewTelegramClient creates the Telegram client. apiBase may be empty.
func NewTelegramClient(base *BaseClient, apiBase string, logger types.Logger) *TelegramClient {
	if apiBase == "" {
		apiBase = defaultTelegramAPIBase
	}
	return &TelegramClient{base: base, apiBase: strings.TrimRight(apiBase, "/"), logger: logger}
}

// telegramResponse is the bot API envelope.
type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Send posts an outbound payload via the bot named by cfg and returns the
// Telegram message id as the external id.
func (c *TelegramClient) Send(ctx context.Context, cfg *types.ChannelConfig, payload any) (string, error) {
	var method string
	switch p := payload.(type) {
	case *translator.TelegramTextPayload:
		method = "sendMessage"
	case *translator.TelegramMediaPayload:
		if p.Photo != "" {
			method = "sendPhoto"
		} else {
			method = "sendDocument"
		}
	default:
		return "", types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unsupported bot API payload type %T", payload), nil)
	}

	result, err := c.call(ctx, cfg.BotToken, method, payload)
	if err != nil {
		return "", err
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(result, &sent); err != nil || sent.MessageID == 0 {
		c.logger.Warn("bot API response missing message_id", "method", method)
		return "", nil
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// call performs one bot API method invocation and unwraps the envelope.
func (c *TelegramClient) call(ctx context.Context, token, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode bot API payload", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build bot API request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeChannelDelivery, "unparseable bot API response", err)
	}
	if !out.OK {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeChannelDelivery, "bot API call failed", nil,
			map[string]any{"method": method, "description": out.Description})
	}
	return out.Result, nil
}

// BotFileResolver resolves bot file identifiers to download URLs for one bot
// token. It satisfies the translator's file resolution dependency.
type BotFileResolver struct {
	client *TelegramClient
	token  string
}

// ForBot returns a file resolver bound to one bot token.
func (c *TelegramClient) ForBot(token string) *BotFileResolver {
	return &BotFileResolver{client: c, token: token}
}

// ResolveFileURL converts a file identifier into a fetchable URL via getFile.
func (r *BotFileResolver) ResolveFileURL(ctx context.Context, fileID string) (string, error) {
	result, err := r.client.call(ctx, r.token, "getFile", map[string]string{"file_id": fileID})
	if err != nil {
		return "", err
	}

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &file); err != nil || file.FilePath == "" {
		return "", types.NewAppError(types.ErrCodeMediaAcquisition, "getFile returned no file path", err)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", r.client.apiBase, r.token, file.FilePath), nil
}
