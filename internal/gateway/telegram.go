package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	token    string
	chatID   string
	endpoint string
	client   tgbotapi.HTTPClient

	bot *tgbotapi.BotAPI
}

func NewTelegramGateway(token, chatID string) *TelegramGateway {
	return &TelegramGateway{
		token:    token,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{},
	}
}

// WithEndpoint points the bot at another API endpoint, in the
// "https://host/bot%s/%s" form.
func (tg *TelegramGateway) WithEndpoint(endpoint string, client tgbotapi.HTTPClient) *TelegramGateway {
	tg.endpoint = endpoint
	if client != nil {
		tg.client = client
	}
	return tg
}

func (tg *TelegramGateway) Name() string {
	return "telegram"
}

// Send authorizes the bot on first use and posts text to the chat.
func (tg *TelegramGateway) Send(ctx context.Context, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(tg.chatID), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", tg.chatID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if tg.bot == nil {
		bot, err := tgbotapi.NewBotAPIWithClient(tg.token, tg.endpoint, tg.client)
		if err != nil {
			return fmt.Errorf("telegram authorization failed: %w", err)
		}
		tg.bot = bot
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.DisableWebPagePreview = true
	if _, err := tg.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
