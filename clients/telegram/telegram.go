package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	apiBase  string
	botToken string
	chatID   string
	isProd   bool
	appName  string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger:  logger,
		apiBase: defaultAPIBase,
		chatID:  chatID,
		isProd:  cfg.IsProd,
		appName: cfg.Server.AppName,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return tc
	}
	tc.botToken = token

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)
	return tc
}

// Enabled reports whether both a token and a chat are configured.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendBotAlert sends a bot alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendBotAlert(alert notifier.BotAlert) {
	if !tc.Enabled() {
		tc.logger.Debug("telegram not configured, skipping alert")
		return
	}

	if err := tc.sendMessage(tc.buildAlertMessage(alert)); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram bot alert",
		zap.String("bot", alert.BotName),
		zap.String("reason", string(alert.Reason)),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.BotAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(notifier.Title(alert))))

	if alert.DashboardURL != "" {
		sb.WriteString(fmt.Sprintf("*Bot:* [%s](%s)\n", escapeMarkdown(alert.BotName), alert.DashboardURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Bot:* %s\n", escapeMarkdown(alert.BotName)))
	}
	sb.WriteString(fmt.Sprintf("*Latency:* %d ms\n", alert.LatencyMs))
	sb.WriteString(fmt.Sprintf("*Success Rate:* %.1f%%\n", alert.SuccessRate))

	if alert.Condition != "" {
		sb.WriteString(fmt.Sprintf("*Rule:* `%s`\n", alert.Condition))
	}
	if alert.Status != "" {
		if alert.PreviousStatus != "" {
			sb.WriteString(fmt.Sprintf("*Status:* %s → %s\n", alert.PreviousStatus, alert.Status))
		} else {
			sb.WriteString(fmt.Sprintf("*Status:* %s\n", alert.Status))
		}
	}
	if alert.TxHash != "" {
		sb.WriteString(fmt.Sprintf("*Tx:* `%s`\n", alert.TxHash))
	}
	if alert.Error != "" {
		sb.WriteString(fmt.Sprintf("*Error:* %s\n", escapeMarkdown(alert.Error)))
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := tc.appName
	if name == "" {
		name = "botwatch"
	}
	sb.WriteString(fmt.Sprintf("\n_%s • %s_", escapeMarkdown(name), ts.UTC().Format("2006-01-02 15:04:05 UTC")))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBase, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
