package discord

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ChannelLocator maps a guild to the channel notices should go to.
type ChannelLocator func(guildID snowflake.ID) (snowflake.ID, bool)

// Notifier posts short best-effort notices. Guilds without a known notice
// channel are skipped silently.
type Notifier struct {
	client  *bot.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	locator ChannelLocator
}

// NewNotifier creates a notifier. rps bounds notices per second across all
// guilds.
func NewNotifier(client *bot.Client, rps float64) *Notifier {
	return &Notifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 3),
	}
}

// SetLocator installs the guild to channel mapping. Until set, all notices
// are dropped.
func (n *Notifier) SetLocator(locator ChannelLocator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locator = locator
}

// Notify implements session.Notifier. Callers run on session loops, so
// delivery happens on its own goroutine. Failures are logged only.
func (n *Notifier) Notify(guildID snowflake.ID, message string) {
	n.mu.Lock()
	locator := n.locator
	n.mu.Unlock()
	if locator == nil {
		return
	}

	channelID, ok := locator(guildID)
	if !ok {
		return
	}

	if !n.limiter.Allow() {
		zlog.Debug().Msgf("discord: dropping notice, rate limited: guild=%s", guildID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := n.client.Rest.CreateMessage(channelID, discord.NewMessageCreate().
			WithContent(message),
			rest.WithCtx(ctx),
		)
		if err != nil {
			zlog.Warn().Msgf("discord: failed to deliver notice: guild=%s error=%v", guildID, err)
		}
	}()
}
