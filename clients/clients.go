package clients

import (
	"botwatch/clients/discord"
	"botwatch/clients/notifier"
	"botwatch/clients/telegram"
	"botwatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	var active []notifier.Notifier
	if discordClient.Enabled() {
		active = append(active, discordClient)
	}
	if telegramClient.Enabled() {
		active = append(active, telegramClient)
	}

	return &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: notifier.NewMultiNotifier(active...),
	}
}

// Close releases every client.
func (c *Clients) Close() error {
	var lastErr error
	if c.Discord != nil {
		if err := c.Discord.Close(); err != nil {
			lastErr = err
		}
	}
	if c.Telegram != nil {
		if err := c.Telegram.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
