package discord

import (
	"fmt"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
	appName   string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: channelID,
		isProd:    cfg.IsProd,
		appName:   cfg.Server.AppName,
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)
	return dc
}

// Enabled reports whether a session exists.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	if _, err := dc.session.ChannelMessageSend(dc.channelID, message); err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}
	dc.logger.Info("sent discord message")
}

// SendBotAlert sends a rich embedded bot alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendBotAlert(alert notifier.BotAlert) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildAlertEmbed(alert)

	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed); err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord bot alert",
		zap.String("bot", alert.BotName),
		zap.String("reason", string(alert.Reason)),
	)
}

func statusColor(status string) int {
	switch status {
	case "error":
		return 0xE74C3C
	case "warning":
		return 0xF1C40F
	case "healthy":
		return 0x2ECC71
	default:
		return 0x3498DB
	}
}

func (dc *DiscordClient) buildAlertEmbed(alert notifier.BotAlert) *discordgo.MessageEmbed {
	color := statusColor(alert.Status)
	if alert.Reason == notifier.AlertReasonLatency && alert.Status == "" {
		color = 0xE67E22
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Bot",
			Value:  alert.BotName,
			Inline: true,
		},
		{
			Name:   "Latency",
			Value:  fmt.Sprintf("%d ms", alert.LatencyMs),
			Inline: true,
		},
		{
			Name:   "Success Rate",
			Value:  fmt.Sprintf("%.1f%%", alert.SuccessRate),
			Inline: true,
		},
	}

	if alert.Condition != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Rule",
			Value:  fmt.Sprintf("`%s`", alert.Condition),
			Inline: true,
		})
	}
	if alert.Status != "" {
		status := alert.Status
		if alert.PreviousStatus != "" {
			status = fmt.Sprintf("%s → %s", alert.PreviousStatus, alert.Status)
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Status",
			Value:  status,
			Inline: true,
		})
	}
	if alert.TxHash != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Tx",
			Value:  fmt.Sprintf("`%s`", alert.TxHash),
			Inline: true,
		})
	}

	description := ""
	if alert.Error != "" {
		description = fmt.Sprintf("**Error:** %s", alert.Error)
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	footer := dc.appName
	if footer == "" {
		footer = "botwatch"
	}
	if !dc.isProd {
		footer += " (beta)"
	}

	return &discordgo.MessageEmbed{
		Title:       notifier.Title(alert),
		URL:         alert.DashboardURL,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footer,
		},
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

// Close closes the Discord session. Implements notifier.Notifier interface.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
