// Package discord adapts the chat platform client to the panel and notice
// interfaces.
package discord

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
)

// NewClient creates and connects the gateway client.
func NewClient(ctx context.Context, token string, listeners ...bot.EventListener) (*bot.Client, error) {
	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("the queue"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithEventListeners(listeners...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}

	if err := client.OpenGateway(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to open gateway")
	}
	return client, nil
}
