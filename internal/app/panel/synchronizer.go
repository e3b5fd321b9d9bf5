// Package panel keeps per-guild status displays in sync with playback.
package panel

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/playback"
	"github.com/mlbx/melobox/internal/app/session"
	"github.com/mlbx/melobox/internal/domain/panel"
)

// ErrDisplayGone signals that the panel message was deleted externally.
// Surfaces return it to trigger recreation instead of user-visible failure.
var ErrDisplayGone = errors.New("display no longer exists")

// DisplaySurface is the external message surface a panel renders onto.
type DisplaySurface interface {
	Send(ctx context.Context, surfaceID snowflake.ID, content Content) (snowflake.ID, error)
	Edit(ctx context.Context, surfaceID, displayID snowflake.ID, content Content) error
	Delete(ctx context.Context, surfaceID, displayID snowflake.ID) error
}

// Store persists panel locations across restarts.
type Store interface {
	Load() (map[snowflake.ID]panel.Location, error)
	Save(locations map[snowflake.ID]panel.Location) error
}

// Config holds synchronizer timings.
type Config struct {
	RefreshInterval   time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

// Synchronizer owns all attached panels: it refreshes them on session
// updates, runs a periodic refresh while a session is playing, and sweeps
// away panels of sessions idle past the inactivity timeout.
type Synchronizer struct {
	mu         sync.Mutex
	panels     map[snowflake.ID]panel.Location
	refreshing map[snowflake.ID]bool

	// attachMu serializes Attach end to end. The delete-then-send pair
	// must be atomic or a concurrent attach leaks the losing display.
	attachMu sync.Mutex

	surface  DisplaySurface
	store    Store
	registry *session.Registry
	cfg      Config

	updates chan snowflake.ID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSynchronizer creates a synchronizer, re-attaching any persisted panel
// locations. Stale locations resolve themselves through the recreate path.
func NewSynchronizer(surface DisplaySurface, store Store, registry *session.Registry, cfg Config) (*Synchronizer, error) {
	panels, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load panel locations")
	}
	if panels == nil {
		panels = make(map[snowflake.ID]panel.Location)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		panels:     panels,
		refreshing: make(map[snowflake.ID]bool),
		surface:    surface,
		store:      store,
		registry:   registry,
		cfg:        cfg,
		updates:    make(chan snowflake.ID, 64),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Run processes update notifications and drives the inactivity sweep until
// ctx is cancelled.
func (y *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(y.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case guildID := <-y.updates:
			y.refresh(ctx, guildID)
			y.ensureRefreshLoop(guildID)
		case <-ticker.C:
			y.sweep(ctx)
		case <-ctx.Done():
			y.cancel()
			y.wg.Wait()
			return
		}
	}
}

// NotifyUpdate requests a refresh for a guild. Never blocks; a dropped
// notification is covered by the periodic refresh.
func (y *Synchronizer) NotifyUpdate(guildID snowflake.ID) {
	select {
	case y.updates <- guildID:
	default:
	}
}

// Attach creates a panel in the given channel. An existing panel for the
// guild is deleted first.
func (y *Synchronizer) Attach(ctx context.Context, guildID, surfaceID snowflake.ID) error {
	y.attachMu.Lock()
	defer y.attachMu.Unlock()

	s, err := y.registry.Get(guildID)
	if err != nil {
		return err
	}
	s.Touch()

	y.mu.Lock()
	old, hadOld := y.panels[guildID]
	y.mu.Unlock()

	if hadOld {
		if err := y.surface.Delete(ctx, old.SurfaceID, old.DisplayID); err != nil {
			zlog.Debug().Msgf("panel: old display cleanup failed: guild=%s error=%v", guildID, err)
		}
	}

	displayID, err := y.surface.Send(ctx, surfaceID, Render(s.Status()))
	if err != nil {
		return errors.Wrap(err, "failed to create panel")
	}

	y.mu.Lock()
	y.panels[guildID] = panel.Location{DisplayID: displayID, SurfaceID: surfaceID}
	y.mu.Unlock()
	y.persist()

	y.ensureRefreshLoop(guildID)
	return nil
}

// Detach removes the guild's panel, best-effort deleting the display.
func (y *Synchronizer) Detach(ctx context.Context, guildID snowflake.ID) {
	y.mu.Lock()
	loc, ok := y.panels[guildID]
	if ok {
		delete(y.panels, guildID)
	}
	y.mu.Unlock()
	if !ok {
		return
	}

	if err := y.surface.Delete(ctx, loc.SurfaceID, loc.DisplayID); err != nil {
		zlog.Debug().Msgf("panel: display delete failed: guild=%s error=%v", guildID, err)
	}
	y.persist()
}

// Location returns the guild's panel location, if attached.
func (y *Synchronizer) Location(guildID snowflake.ID) (panel.Location, bool) {
	y.mu.Lock()
	defer y.mu.Unlock()
	loc, ok := y.panels[guildID]
	return loc, ok
}

// refresh re-renders the guild's panel if one is attached. A display that
// was deleted externally is recreated in place.
func (y *Synchronizer) refresh(ctx context.Context, guildID snowflake.ID) {
	y.mu.Lock()
	loc, ok := y.panels[guildID]
	y.mu.Unlock()
	if !ok {
		return
	}

	s, found := y.registry.Peek(guildID)
	if !found {
		return
	}
	content := Render(s.Status())

	err := y.surface.Edit(ctx, loc.SurfaceID, loc.DisplayID, content)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrDisplayGone) {
		zlog.Debug().Msgf("panel: refresh failed: guild=%s error=%v", guildID, err)
		return
	}

	displayID, err := y.surface.Send(ctx, loc.SurfaceID, content)
	if err != nil {
		zlog.Warn().Msgf("panel: recreate failed: guild=%s error=%v", guildID, err)
		return
	}

	y.mu.Lock()
	y.panels[guildID] = panel.Location{DisplayID: displayID, SurfaceID: loc.SurfaceID}
	y.mu.Unlock()
	y.persist()
	zlog.Info().Msgf("panel: recreated display: guild=%s", guildID)
}

// ensureRefreshLoop starts the periodic progress refresh for a playing
// session. The loop exits on its own once the session stops playing.
func (y *Synchronizer) ensureRefreshLoop(guildID snowflake.ID) {
	s, found := y.registry.Peek(guildID)
	if !found || s.Status().State != playback.StatePlaying {
		return
	}

	y.mu.Lock()
	if _, attached := y.panels[guildID]; !attached || y.refreshing[guildID] {
		y.mu.Unlock()
		return
	}
	y.refreshing[guildID] = true
	y.mu.Unlock()

	y.wg.Add(1)
	go func() {
		defer y.wg.Done()
		defer func() {
			y.mu.Lock()
			delete(y.refreshing, guildID)
			y.mu.Unlock()
		}()

		ticker := time.NewTicker(y.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s, found := y.registry.Peek(guildID)
				if !found || s.Status().State != playback.StatePlaying {
					y.refresh(y.ctx, guildID)
					return
				}
				y.refresh(y.ctx, guildID)
			case <-y.ctx.Done():
				return
			}
		}
	}()
}

// sweep detaches panels of sessions idle past the inactivity timeout.
func (y *Synchronizer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-y.cfg.InactivityTimeout)

	for _, s := range y.registry.Sessions() {
		guildID := s.GuildID()
		y.mu.Lock()
		_, attached := y.panels[guildID]
		y.mu.Unlock()
		if !attached {
			continue
		}

		if s.Status().LastActiveAt.After(cutoff) {
			continue
		}

		zlog.Info().Msgf("panel: detaching inactive display: guild=%s", guildID)
		y.Detach(ctx, guildID)
	}
}

// persist writes the current location map. Failures are logged only; the
// worst case after a crash is a stale location healed by the recreate path.
func (y *Synchronizer) persist() {
	y.mu.Lock()
	snapshot := make(map[snowflake.ID]panel.Location, len(y.panels))
	for k, v := range y.panels {
		snapshot[k] = v
	}
	y.mu.Unlock()

	if err := y.store.Save(snapshot); err != nil {
		zlog.Warn().Msgf("panel: failed to persist locations: error=%v", err)
	}
}
