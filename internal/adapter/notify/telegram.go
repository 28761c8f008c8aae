package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/strongbox/internal/config"
	"github.com/semmidev/strongbox/internal/domain"
)

// Telegram posts scheduled-run outcomes to a chat. Archives are never sent.
type Telegram struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	onSuccess bool
}

func NewTelegram(cfg *config.TelegramConfig) (*Telegram, error) {
	return newTelegram(cfg, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
}

func newTelegram(cfg *config.TelegramConfig, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{bot: bot, chatID: chatID, onSuccess: cfg.OnSuccess}, nil
}

func (t *Telegram) ScheduledSucceeded(ctx context.Context, schedule domain.ScheduleDefinition, archive domain.BackupArchive, elapsed time.Duration) error {
	if !t.onSuccess {
		return nil
	}
	message := fmt.Sprintf(
		"✅ Scheduled Backup Completed\n\n"+
			"🗓 Schedule: %s\n"+
			"📁 Archive: %s\n"+
			"📊 Size: %.2f MB\n"+
			"⏱ Duration: %s",
		schedule.Name,
		archive.Filename,
		float64(archive.Size)/(1024*1024),
		elapsed.Round(time.Second),
	)
	return t.send(message)
}

func (t *Telegram) ScheduledFailed(ctx context.Context, schedule domain.ScheduleDefinition, cause error) error {
	message := fmt.Sprintf(
		"❌ Scheduled Backup Failed\n\n"+
			"🗓 Schedule: %s\n"+
			"🕐 Time: %s\n"+
			"⚠️ Error: %v",
		schedule.Name,
		time.Now().Format("2006-01-02 15:04:05"),
		cause,
	)
	return t.send(message)
}

func (t *Telegram) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

// Nop is used when no notifier is configured.
type Nop struct{}

func (Nop) ScheduledSucceeded(context.Context, domain.ScheduleDefinition, domain.BackupArchive, time.Duration) error {
	return nil
}

func (Nop) ScheduledFailed(context.Context, domain.ScheduleDefinition, error) error {
	return nil
}
