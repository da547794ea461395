package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/health"
)

// Notification carries one alert for one user.
type Notification struct {
	UserID    int64
	Severity  health.Severity
	Position  health.Position
	ChainName string
	Explorer  string
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API. The chat id is
// the monitoring user's id.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with a Markdown body.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	const op = "alerting.telegram"

	payload := map[string]string{
		"chat_id":    strconv.FormatInt(note.UserID, 10),
		"text":       renderMessage(note),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Notification(op, fmt.Errorf("marshal telegram payload: %w", err))
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Notification(op, fmt.Errorf("create telegram request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Notification(op, fmt.Errorf("send telegram request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Notification(op, fmt.Errorf("unexpected telegram status: %d", resp.StatusCode))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return apperrors.Notification(op, fmt.Errorf("telegram returned ok=false: %s", result.Description))
		}
	}

	n.logger.Info().
		Int64("user_id", note.UserID).
		Int64("position_id", note.Position.PositionID).
		Str("chain", note.Position.Chain).
		Str("severity", string(note.Severity)).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes alerts to the log. It stands in when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Int64("user_id", note.UserID).
		Int64("position_id", note.Position.PositionID).
		Str("chain", note.Position.Chain).
		Str("severity", string(note.Severity)).
		Float64("health_factor", note.Position.HealthFactor).
		Float64("ratio", note.Position.Ratio).
		Msg("position alert")
	return nil
}

// Summary is the one-line message stored with an alert record.
func Summary(pos health.Position) string {
	return "Health factor: " + formatHF(pos.HealthFactor)
}

// markdownEscaper escapes the legacy Markdown entity characters Telegram
// rejects when they appear unbalanced.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(v string) string {
	return markdownEscaper.Replace(v)
}

// renderMessage builds the Markdown alert body. Values read from chain or
// config are escaped.
func renderMessage(note Notification) string {
	pos := note.Position
	chainName := note.ChainName
	if chainName == "" {
		chainName = pos.Chain
	}
	chainName = escapeMarkdown(chainName)

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("*%s ALERT*\n\n", note.Severity))
	builder.WriteString(fmt.Sprintf("*Position #%d*\n", pos.PositionID))
	builder.WriteString(fmt.Sprintf("Chain: %s\n", chainName))
	builder.WriteString(fmt.Sprintf("Status: %s\n\n", health.StatusOf(pos)))
	builder.WriteString(fmt.Sprintf("*Health Factor: %s*\n", formatHF(pos.HealthFactor)))
	builder.WriteString(fmt.Sprintf("Collateral Ratio: %s%%\n", fixed(pos.Ratio, 2)))
	builder.WriteString(fmt.Sprintf("Liquidation Threshold: %s%%\n", fixed(pos.LiquidationThresholdPct, 2)))
	builder.WriteString(fmt.Sprintf("Risk Usage: %s%%\n\n", fixed(health.RiskUsage(pos), 1)))
	builder.WriteString(fmt.Sprintf("Collateral: %s %s ($%s)\n", fixed(pos.SupplyAmount, 4), escapeMarkdown(pos.SupplyToken), fixed(pos.SupplyUSD, 2)))
	builder.WriteString(fmt.Sprintf("Debt: %s %s ($%s)\n", fixed(pos.BorrowAmount, 4), escapeMarkdown(pos.BorrowToken), fixed(pos.BorrowUSD, 2)))
	if note.Explorer != "" {
		builder.WriteString(fmt.Sprintf("Owner: %s\n", escapeMarkdown(note.Explorer)))
	}

	switch note.Severity {
	case health.SeverityCritical:
		builder.WriteString("\n*Immediate action required.* Add collateral or repay debt to avoid liquidation.\n")
	case health.SeverityWarning:
		builder.WriteString("\n*Action recommended.* The position is approaching liquidation risk.\n")
	}
	return builder.String()
}

func formatHF(hf float64) string {
	if !health.IsFinite(hf) {
		return "∞"
	}
	return fixed(hf, 6)
}

func fixed(v float64, places int32) string {
	if !health.IsFinite(v) {
		return "∞"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
