package gateway

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// channelSender is the slice of *discordgo.Session used here.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordGateway struct {
	token     string
	channelID string
	session   channelSender
}

func NewDiscordGateway(token, channelID string) *DiscordGateway {
	return &DiscordGateway{token: token, channelID: channelID}
}

func (d *DiscordGateway) Name() string {
	return "discord"
}

// discordLimit is the maximum message length, in characters, Discord accepts.
const discordLimit = 2000

func (d *DiscordGateway) Send(ctx context.Context, text string) error {
	if d.channelID == "" {
		return fmt.Errorf("discord channel ID is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if d.session == nil {
		s, err := discordgo.New("Bot " + d.token)
		if err != nil {
			return fmt.Errorf("discord session: %w", err)
		}
		d.session = s
	}

	if utf8.RuneCountInString(text) > discordLimit {
		text = string([]rune(text)[:discordLimit-3]) + "..."
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send failed: %w", err)
	}
	return nil
}
