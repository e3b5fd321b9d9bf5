// Package spotify provides the playlist provider backed by the Spotify API.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mlbx/melobox/internal/app/session"
)

// Provider reads playlist contents. Uses the client-credentials flow; no
// user account is involved, so only public playlists are reachable.
type Provider struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify API configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	httpClient := spotifyauth.New().Client(ctx, token)
	market := cfg.Market
	if market == "" {
		market = "US"
	}

	return &Provider{
		client:     spotify.New(httpClient),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// FetchPage returns one page of track descriptors from a playlist. Accepts
// playlist URLs, URIs and bare IDs. Episodes and removed tracks are dropped
// from Items; Span reports the raw slots the window covered so the caller
// can advance its offset past them. The playlist display name is looked up
// once, on the first page.
func (p *Provider) FetchPage(ctx context.Context, playlistRef string, offset, limit int) (session.PlaylistPage, error) {
	playlistID := extractPlaylistID(playlistRef)
	if playlistID == "" {
		return session.PlaylistPage{}, errors.Newf("invalid playlist reference: %s", playlistRef)
	}

	var page *spotify.PlaylistItemPage
	err := p.retry(func() error {
		pg, err := p.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
			spotify.Limit(limit),
			spotify.Offset(offset),
			spotify.Market(p.market),
		)
		if err != nil {
			return err
		}
		page = pg
		return nil
	})
	if err != nil {
		return session.PlaylistPage{}, errors.Wrap(err, "failed to get playlist items")
	}

	items := make([]session.PlaylistItem, 0, len(page.Items))
	for _, item := range page.Items {
		t := item.Track.Track
		if t == nil || t.ID == "" {
			continue
		}
		artists := make([]string, len(t.Artists))
		for i, a := range t.Artists {
			artists[i] = a.Name
		}
		items = append(items, session.PlaylistItem{
			Title:   t.Name,
			Artists: artists,
		})
	}

	out := session.PlaylistPage{
		Items: items,
		Span:  len(page.Items),
		Total: int(page.Total),
	}
	if offset == 0 {
		out.Name = p.playlistName(ctx, spotify.ID(playlistID))
	}
	return out, nil
}

// playlistName fetches the playlist's display name. Best-effort; an import
// works without it.
func (p *Provider) playlistName(ctx context.Context, id spotify.ID) string {
	var pl *spotify.FullPlaylist
	err := p.retry(func() error {
		got, err := p.client.GetPlaylist(ctx, id)
		if err != nil {
			return err
		}
		pl = got
		return nil
	})
	if err != nil {
		zlog.Warn().Msgf("spotify: failed to fetch playlist name: id=%s error=%v", id, err)
		return ""
	}
	return pl.Name
}

// retry retries an operation with linear backoff.
func (p *Provider) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if i < p.maxRetries-1 {
			time.Sleep(p.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractPlaylistID extracts the playlist ID from a URL, URI or bare ID.
func extractPlaylistID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}

	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		if len(parts) >= 2 {
			id := strings.Split(parts[len(parts)-1], "?")[0]
			return strings.TrimRight(id, "/")
		}
	}

	return input
}
