package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jackmielke/agentdash/internal/httpkit"
)

// DefaultTelegramURL is the public Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// maxMessageRunes is the Bot API limit on sendMessage text.
const maxMessageRunes = 4096

// ErrNoBotToken is returned when a message has no bot to send it with.
var ErrNoBotToken = errors.New("telegram: no bot token")

// Telegram sends messages through the Bot API. Each bot token gets its
// own token-bucket limiter so one busy tenant cannot exhaust another
// tenant's quota.
type Telegram struct {
	baseURL   string
	perSecond float64
	client    *http.Client
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTelegram creates a Bot API notifier. perSecond bounds messages per
// bot; zero or less selects one message per second.
func NewTelegram(baseURL string, perSecond float64, logger *slog.Logger) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		baseURL:   strings.TrimRight(baseURL, "/"),
		perSecond: perSecond,
		client:    httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (t *Telegram) limiter(token string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[token]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(t.perSecond), 1)
		t.limiters[token] = lim
	}
	return lim
}

type sendMessageRequest struct {
	ChatID           string `json:"chat_id"`
	Text             string `json:"text"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// Send posts m with sendMessage. It waits for the bot's rate limiter,
// so a cancelled ctx aborts a throttled send.
func (t *Telegram) Send(ctx context.Context, m Message) error {
	if m.BotToken == "" {
		return ErrNoBotToken
	}
	if m.ChatID == "" {
		return fmt.Errorf("telegram: no chat id")
	}
	if err := t.limiter(m.BotToken).Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:           m.ChatID,
		Text:             clip(m.Text, maxMessageRunes),
		ReplyToMessageID: m.ReplyTo,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	endpoint := t.baseURL + "/bot" + m.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram: HTTP %d: decode response: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: sendMessage failed (%d): %s", out.ErrorCode, out.Description)
	}

	t.logger.Debug("telegram message sent", "chat_id", m.ChatID, "chars", len(m.Text))
	return nil
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

type getFileResponse struct {
	apiResponse
	Result struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// FileURL resolves a file ID to a download URL with getFile. The URL
// embeds the bot token and is valid for about an hour.
func (t *Telegram) FileURL(ctx context.Context, botToken, fileID string) (string, error) {
	if botToken == "" {
		return "", ErrNoBotToken
	}
	endpoint := t.baseURL + "/bot" + botToken + "/getFile?file_id=" + url.QueryEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("telegram: build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("telegram: getFile: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out getFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("telegram: HTTP %d: decode response: %w", resp.StatusCode, err)
	}
	if !out.OK || out.Result.FilePath == "" {
		return "", fmt.Errorf("telegram: getFile failed (%d): %s", out.ErrorCode, out.Description)
	}
	return t.baseURL + "/file/bot" + botToken + "/" + out.Result.FilePath, nil
}
