package discord

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/mlbx/melobox/internal/app/panel"
)

// Surface renders panels as embed messages. All calls share one rate
// limiter so frequent progress refreshes across guilds cannot exhaust the
// API budget.
type Surface struct {
	client  *bot.Client
	limiter *rate.Limiter
}

// NewSurface creates a surface. rps bounds outgoing message edits per
// second across all guilds.
func NewSurface(client *bot.Client, rps float64) *Surface {
	return &Surface{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Send implements panel.DisplaySurface.
func (s *Surface) Send(ctx context.Context, surfaceID snowflake.ID, content panel.Content) (snowflake.ID, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	msg, err := s.client.Rest.CreateMessage(surfaceID, discord.NewMessageCreate().
		WithEmbeds(buildEmbed(content)),
		rest.WithCtx(ctx),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to send panel message")
	}
	return msg.ID, nil
}

// Edit implements panel.DisplaySurface.
func (s *Surface) Edit(ctx context.Context, surfaceID, displayID snowflake.ID, content panel.Content) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := s.client.Rest.UpdateMessage(surfaceID, displayID, discord.NewMessageUpdate().
		WithEmbeds(buildEmbed(content)),
		rest.WithCtx(ctx),
	)
	if err != nil {
		if isUnknownMessage(err) {
			return errors.WithSecondaryError(panel.ErrDisplayGone, err)
		}
		return errors.Wrap(err, "failed to edit panel message")
	}
	return nil
}

// Delete implements panel.DisplaySurface.
func (s *Surface) Delete(ctx context.Context, surfaceID, displayID snowflake.ID) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := s.client.Rest.DeleteMessage(surfaceID, displayID, rest.WithCtx(ctx)); err != nil && !isUnknownMessage(err) {
		return errors.Wrap(err, "failed to delete panel message")
	}
	return nil
}

func buildEmbed(content panel.Content) discord.Embed {
	b := discord.NewEmbedBuilder().
		SetTitle(content.Header).
		SetDescription(content.Body).
		SetFooterText(content.Footer)
	if content.ThumbnailURL != "" {
		b.SetThumbnail(content.ThumbnailURL)
	}
	return b.Build()
}

// isUnknownMessage reports whether the API rejected the message ID, which
// happens when a panel message was deleted by hand.
func isUnknownMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Unknown Message") || strings.Contains(msg, "404")
}
