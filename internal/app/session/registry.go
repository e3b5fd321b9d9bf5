package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/playback"
	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/domain/track"
)

// TransportProvider hands out a voice transport for a guild.
type TransportProvider interface {
	Acquire(guildID snowflake.ID) (playback.VoiceTransport, error)
}

// RegistryConfig holds per-session defaults and playlist import limits.
type RegistryConfig struct {
	DefaultVolume     float64
	PlaylistPageSize  int
	PlaylistMaxTracks int
}

// Registry is the process-wide guild to session mapping. Sessions are
// created on first use and live until shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[snowflake.ID]*Session

	transports TransportProvider
	resolver   *resolve.Resolver
	playlists  PlaylistProvider
	notifier   Notifier
	cfg        RegistryConfig

	// onCreate is invoked for every new session, before it is visible to
	// other callers. Used to wire the display refresh hook.
	onCreate func(*Session)
}

// NewRegistry creates an empty registry.
func NewRegistry(transports TransportProvider, resolver *resolve.Resolver, playlists PlaylistProvider, notifier Notifier, cfg RegistryConfig) *Registry {
	return &Registry{
		sessions:   make(map[snowflake.ID]*Session),
		transports: transports,
		resolver:   resolver,
		playlists:  playlists,
		notifier:   notifier,
		cfg:        cfg,
		onCreate:   func(*Session) {},
	}
}

// SetOnCreate installs the new-session hook. Must be called before traffic.
func (r *Registry) SetOnCreate(fn func(*Session)) {
	if fn == nil {
		fn = func(*Session) {}
	}
	r.onCreate = fn
}

// Get returns the session for a guild, creating it on first use.
func (r *Registry) Get(guildID snowflake.ID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s, nil
	}

	transport, err := r.transports.Acquire(guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire transport for guild %s", guildID)
	}

	s = New(guildID, transport, r.resolver, r.notifier, r.cfg.DefaultVolume)
	r.onCreate(s)
	r.sessions[guildID] = s
	zlog.Info().Msgf("session created: guild=%s", guildID)
	return s, nil
}

// Peek returns the session for a guild without creating one.
func (r *Registry) Peek(guildID snowflake.ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
	}
}

// Enqueue resolves a query or URL and appends it to the guild's queue.
func (r *Registry) Enqueue(ctx context.Context, guildID snowflake.ID, queryOrURL string) (track.TrackRef, error) {
	s, err := r.Get(guildID)
	if err != nil {
		return track.TrackRef{}, err
	}
	return s.Enqueue(ctx, queryOrURL)
}

// EnqueuePlaylist imports a playlist into the guild's queue.
func (r *Registry) EnqueuePlaylist(ctx context.Context, guildID snowflake.ID, playlistRef string) (int, error) {
	if r.playlists == nil {
		return 0, errors.New("no playlist provider configured")
	}
	s, err := r.Get(guildID)
	if err != nil {
		return 0, err
	}
	return s.EnqueuePlaylist(ctx, r.playlists, playlistRef, r.cfg.PlaylistPageSize, r.cfg.PlaylistMaxTracks)
}

// Play starts or resumes playback.
func (r *Registry) Play(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Play()
}

// Pause pauses playback.
func (r *Registry) Pause(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume resumes paused playback.
func (r *Registry) Resume(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Resume()
}

// Stop halts playback and clears the queue.
func (r *Registry) Stop(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Stop()
}

// Skip advances past the current track.
func (r *Registry) Skip(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Skip()
}

// SetRepeatMode sets the guild's repeat mode.
func (r *Registry) SetRepeatMode(guildID snowflake.ID, mode track.RepeatMode) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.SetRepeatMode(mode)
}

// AdjustVolume applies a clamped volume delta and returns the new volume.
func (r *Registry) AdjustVolume(guildID snowflake.ID, delta float64) (float64, error) {
	s, err := r.Get(guildID)
	if err != nil {
		return 0, err
	}
	return s.AdjustVolume(delta)
}

// Shuffle randomizes the guild's queue.
func (r *Registry) Shuffle(guildID snowflake.ID) error {
	s, err := r.Get(guildID)
	if err != nil {
		return err
	}
	return s.Shuffle()
}

// Status returns a snapshot of the guild's session.
func (r *Registry) Status(guildID snowflake.ID) (Status, error) {
	s, err := r.Get(guildID)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}
