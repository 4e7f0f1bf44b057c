package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/fleetmon/internal/model"
)

// DefaultAPIBaseURL is the standard Telegram Bot API host.
const DefaultAPIBaseURL = "https://api.telegram.org"

// Telegram delivers cycle reports to a chat via the Bot API. Delivery is
// best effort: failures are logged and never surface to the control loop.
type Telegram struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewTelegram(baseURL, botToken, chatID string, logger zerolog.Logger) *Telegram {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Telegram{
		baseURL:  baseURL,
		botToken: botToken,
		chatID:   chatID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether both the bot token and the chat id are configured.
func (t *Telegram) Enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

// SendReport formats and delivers one cycle report.
func (t *Telegram) SendReport(ctx context.Context, report model.CycleReport) {
	t.SendMessage(ctx, FormatReport(report))
}

// SendMessage delivers a pre-formatted HTML message to the configured chat.
// A disabled notifier is a silent no-op.
func (t *Telegram) SendMessage(ctx context.Context, text string) {
	if !t.Enabled() || text == "" {
		return
	}
	if err := t.send(ctx, text); err != nil {
		t.logger.Error().Err(err).Msg("telegram delivery failed")
		return
	}
	t.logger.Debug().Msg("telegram message delivered")
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: status %d", resp.StatusCode)
	}
	return nil
}
