package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the context of a predicted-low alert.
type Notification struct {
	RunAt          time.Time
	CurrentBG      decimal.Decimal
	PredictedMinBG decimal.Decimal
	MinutesToMin   int
	EndingBG       decimal.Decimal
	ThresholdBG    decimal.Decimal
	SuggestedDose  decimal.Decimal
	PatternApplied bool
	Channels       []string
	AdditionalMsg  string
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("run_at", note.RunAt).
		Str("predicted_min", note.PredictedMinBG.StringFixed(0)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Glucose Forecast Alert]\n")
	builder.WriteString(fmt.Sprintf("Run: %s UTC\n", note.RunAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Current: %s mg/dL\n", note.CurrentBG.StringFixed(0)))
	builder.WriteString(fmt.Sprintf("Predicted low: %s mg/dL in %d min (threshold %s)\n",
		note.PredictedMinBG.StringFixed(0), note.MinutesToMin, note.ThresholdBG.StringFixed(0)))
	builder.WriteString(fmt.Sprintf("Ending: %s mg/dL\n", note.EndingBG.StringFixed(0)))
	if note.SuggestedDose.Sign() > 0 {
		builder.WriteString(fmt.Sprintf("Suggested correction: %s U\n", note.SuggestedDose.StringFixed(2)))
	}
	if note.PatternApplied {
		builder.WriteString("Night pattern: applied\n")
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
