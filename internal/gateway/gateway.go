// Package gateway delivers run summaries to chat services.
package gateway

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rahul/healthbrief/pkg/config"
)

// Messenger defines the interface for outbound notification gateways
// (Telegram, Discord, etc.)
type Messenger interface {
	// Name identifies the gateway in logs
	Name() string
	// Send delivers text to the configured chat or channel
	Send(ctx context.Context, text string) error
}

// FromConfig builds a messenger for every enabled gateway, in name order.
// Unknown gateway names are logged and skipped.
func FromConfig(gateways map[string]config.GatewayConfig, logger *zap.Logger) []Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(gateways))
	for name := range gateways {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Messenger
	for _, name := range names {
		gw := gateways[name]
		if !gw.Enabled {
			continue
		}
		switch name {
		case "telegram":
			out = append(out, NewTelegramGateway(gw.Token, gw.Target))
		case "discord":
			out = append(out, NewDiscordGateway(gw.Token, gw.Target))
		default:
			logger.Warn("unknown gateway ignored", zap.String("gateway", name))
		}
	}
	return out
}
