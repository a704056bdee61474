package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// ErrRateLimited is returned when the Bot API answers 429; the wrapped
// error text carries the advertised retry delay.
var ErrRateLimited = errors.New("telegram: rate limited")

// TelegramNotifier posts doji alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier targets chatID (user, group or channel) with a bot
// token issued by @BotFather.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// formatTelegram renders the alert as MarkdownV2: a bold title, the candle
// line in a code block, and the instrument as a hashtag for chat search.
func formatTelegram(alert Alert) string {
	var b strings.Builder
	switch alert.Level {
	case AlertWarning:
		b.WriteString("⚠️ ")
	case AlertCritical:
		b.WriteString("🚨 ")
	default:
		b.WriteString("🕯️ ")
	}
	b.WriteString("*" + escapeMarkdown(alert.Title) + "*")
	if alert.Message != "" {
		b.WriteString("\n```\n" + escapeCode(alert.Message) + "\n```")
	}
	if tag := hashtag(alert.Instrument); tag != "" {
		b.WriteString("\n" + escapeMarkdown("#"+tag))
	}
	return b.String()
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatTelegram(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		slog.Debug("[telegram] sent alert", "instrument", alert.Instrument, "minute", alert.Minute)
		return nil
	}

	var reply telegramReply
	_ = json.NewDecoder(resp.Body).Decode(&reply)
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, reply.Parameters.RetryAfter)
	}
	if reply.Description != "" {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, reply.Description)
	}
	return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
}

// hashtag turns "NSE_INDEX|Nifty 50" into "NSE_INDEX_Nifty50".
func hashtag(instrument string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return -1
		case r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			return r
		default:
			return '_'
		}
	}, instrument)
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Inside pre/code entities only backslash and backtick are special.
var codeEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")

func escapeCode(s string) string {
	return codeEscaper.Replace(s)
}
