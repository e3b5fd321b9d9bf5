// Package session implements the per-guild playback scheduler.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/playback"
	"github.com/mlbx/melobox/internal/app/queue"
	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/domain/track"
)

// Errors
var (
	ErrNothingQueued = errors.New("nothing queued")
	ErrSessionClosed = errors.New("session closed")
	ErrPlaylistFetch = errors.New("playlist fetch failed")
	ErrPlaylistEmpty = errors.New("playlist has no tracks")
)

// Notifier delivers short best-effort user notices. Implementations must not
// block for long and must swallow their own delivery failures.
type Notifier interface {
	Notify(guildID snowflake.ID, message string)
}

// PlaylistItem is one track descriptor from a playlist provider page.
type PlaylistItem struct {
	Title   string
	Artists []string
}

// PlaylistPage is one window of a playlist. Providers may drop unplayable
// entries (episodes, removed tracks) from Items, but Span always reports the
// raw slots the window covered so the caller can advance its offset without
// re-reading slots behind a dropped entry.
type PlaylistPage struct {
	Items []PlaylistItem
	Span  int    // raw playlist slots covered, including dropped entries
	Total int    // raw playlist length
	Name  string // playlist display name, set on the first page
}

// PlaylistProvider fetches playlist contents page by page.
type PlaylistProvider interface {
	FetchPage(ctx context.Context, playlistRef string, offset, limit int) (PlaylistPage, error)
}

// Status is a point-in-time view of a session for displays and commands.
type Status struct {
	State        playback.State
	NowPlaying   *track.TrackRef
	Elapsed      time.Duration
	QueueDepth   int
	UpNext       []track.TrackRef
	Volume       float64
	Repeat       track.RepeatMode
	PlaylistMode bool
	PlaylistName string
	LastActiveAt time.Time
}

// Session owns one guild's queue, playback state and scheduler. All state is
// mutated exclusively on the session's command loop; exported methods post
// closures onto the loop and wait for the result. Completion signals from the
// transport goroutine are rethreaded through the same loop.
type Session struct {
	guildID  snowflake.ID
	queue    *queue.Queue
	ctrl     *playback.Controller
	resolver *resolve.Resolver
	notifier Notifier
	rng      *rand.Rand

	repeat       track.RepeatMode
	playlistMode bool
	playlistName string
	lastActiveAt time.Time

	// Set only while an advance is in flight. advanceSeq invalidates an
	// in-flight resolution or stream open when a skip or stop supersedes
	// it. starting narrows the advance to the stream-open phase: at most
	// one transport start may be in flight, so while it is set the next
	// advance step is deferred to the start's continuation.
	advancing  bool
	starting   bool
	advanceSeq uint64

	// onUpdate requests a display refresh after user-visible changes.
	// Replaceable until the first command runs; invoked on the loop.
	onUpdate func()

	cmds   chan func()
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a session and starts its command loop.
func New(guildID snowflake.ID, transport playback.VoiceTransport, resolver *resolve.Resolver, notifier Notifier, volume float64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:      guildID,
		queue:        queue.New(),
		resolver:     resolver,
		notifier:     notifier,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		lastActiveAt: time.Now(),
		onUpdate:     func() {},
		cmds:         make(chan func(), 32),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.ctrl = playback.NewController(transport, volume, s.handleCompletion)
	go s.run()
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() snowflake.ID {
	return s.guildID
}

// SetOnUpdate installs the display refresh hook.
func (s *Session) SetOnUpdate(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	_ = s.call(func() error {
		s.onUpdate = fn
		return nil
	})
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

// post schedules fn on the command loop without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

// call runs fn on the command loop and returns its result.
func (s *Session) call(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.cmds <- func() { errCh <- fn() }:
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Close stops playback and shuts down the command loop.
func (s *Session) Close() {
	_ = s.call(func() error {
		s.ctrl.Stop()
		s.queue.Clear()
		s.advanceSeq++
		s.advancing = false
		return nil
	})
	s.cancel()
}

// Enqueue resolves a query or URL eagerly and appends the result. An idle
// session starts playing immediately. Returns the queued track for notices.
func (s *Session) Enqueue(ctx context.Context, queryOrURL string) (track.TrackRef, error) {
	ref := track.TrackRef{ResolveQuery: queryOrURL}
	if isURL(queryOrURL) {
		ref = track.TrackRef{CanonicalURL: queryOrURL}
	}

	resolved, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return track.TrackRef{}, err
	}

	err = s.call(func() error {
		s.queue.Append(resolved)
		s.touch()
		s.maybeAdvance()
		s.onUpdate()
		return nil
	})
	return resolved, err
}

// EnqueuePlaylist imports a playlist page by page as pending refs. The
// offset advances by each page's raw span, so dropped entries never cause a
// window to be re-read; only delivered tracks count against maxTracks.
// Pages already appended stay queued if a later page fetch fails. Returns
// how many tracks were added.
func (s *Session) EnqueuePlaylist(ctx context.Context, provider PlaylistProvider, playlistRef string, pageSize, maxTracks int) (int, error) {
	offset := 0
	added := 0
	name := ""
	for added < maxTracks {
		limit := pageSize
		if remaining := maxTracks - added; remaining < limit {
			limit = remaining
		}

		page, err := provider.FetchPage(ctx, playlistRef, offset, limit)
		if err != nil {
			if added > 0 {
				zlog.Warn().Msgf("session: playlist import aborted mid-way: guild=%s added=%d error=%v", s.guildID, added, err)
				return added, errors.Wrapf(ErrPlaylistFetch, "after %d tracks: %v", added, err)
			}
			return 0, errors.Wrapf(ErrPlaylistFetch, "%v", err)
		}
		if page.Span == 0 {
			break
		}
		if offset == 0 {
			name = page.Name
		}
		offset += page.Span

		if len(page.Items) > 0 {
			refs := make([]track.TrackRef, 0, len(page.Items))
			for _, it := range page.Items {
				refs = append(refs, track.TrackRef{
					Title:        it.Title,
					ResolveQuery: track.BuildSearchQuery(it.Title, it.Artists),
				})
			}

			if err := s.call(func() error {
				s.queue.AppendAll(refs)
				s.playlistMode = true
				s.playlistName = name
				s.touch()
				s.maybeAdvance()
				s.onUpdate()
				return nil
			}); err != nil {
				return added, err
			}
			added += len(refs)
		}

		if offset >= page.Total {
			break
		}
	}

	if added == 0 {
		return 0, ErrPlaylistEmpty
	}
	return added, nil
}

// Play starts playback: resumes if paused, otherwise advances into a
// non-empty queue.
func (s *Session) Play() error {
	return s.call(func() error {
		s.touch()
		switch s.ctrl.State() {
		case playback.StatePlaying:
			return nil
		case playback.StatePaused:
			err := s.ctrl.Resume()
			s.onUpdate()
			return err
		}
		if s.queue.Len() == 0 && !s.advancing {
			return ErrNothingQueued
		}
		s.maybeAdvance()
		return nil
	})
}

// Pause pauses the current track.
func (s *Session) Pause() error {
	return s.call(func() error {
		s.touch()
		if err := s.ctrl.Pause(); err != nil {
			return err
		}
		s.onUpdate()
		return nil
	})
}

// Resume resumes a paused track.
func (s *Session) Resume() error {
	return s.call(func() error {
		s.touch()
		if err := s.ctrl.Resume(); err != nil {
			return err
		}
		s.onUpdate()
		return nil
	})
}

// Skip discards the current track, or an in-flight resolution or stream
// open, and advances.
func (s *Session) Skip() error {
	return s.call(func() error {
		s.touch()
		if s.advancing {
			// Invalidate the in-flight step. A pending resolution can
			// be walked past immediately; a stream open holds the one
			// start slot, so its continuation advances instead.
			s.advanceSeq++
			s.ctrl.Stop()
			if !s.starting {
				s.advanceStep()
			}
			return nil
		}
		if _, ok := s.ctrl.Current(); ok {
			s.ctrl.Stop()
			s.beginAdvance()
			return nil
		}
		return playback.ErrNoTrack
	})
}

// Stop halts playback and clears the queue.
func (s *Session) Stop() error {
	return s.call(func() error {
		s.touch()
		s.ctrl.Stop()
		s.queue.Clear()
		s.advanceSeq++
		s.advancing = false
		s.playlistMode = false
		s.playlistName = ""
		s.onUpdate()
		return nil
	})
}

// SetRepeatMode sets the repeat mode.
func (s *Session) SetRepeatMode(mode track.RepeatMode) error {
	return s.call(func() error {
		s.repeat = mode
		s.touch()
		s.onUpdate()
		return nil
	})
}

// CycleRepeatMode advances the repeat mode and returns the new value.
func (s *Session) CycleRepeatMode() (track.RepeatMode, error) {
	var mode track.RepeatMode
	err := s.call(func() error {
		s.repeat = s.repeat.Next()
		mode = s.repeat
		s.touch()
		s.onUpdate()
		return nil
	})
	return mode, err
}

// AdjustVolume applies a signed delta, clamped to [0, 1]. Returns the new
// volume.
func (s *Session) AdjustVolume(delta float64) (float64, error) {
	var volume float64
	err := s.call(func() error {
		volume = clampVolume(s.ctrl.Volume() + delta)
		s.touch()
		s.onUpdate()
		return s.ctrl.SetVolume(volume)
	})
	return volume, err
}

// Shuffle randomizes the queue order.
func (s *Session) Shuffle() error {
	return s.call(func() error {
		s.queue.Shuffle(s.rng)
		s.touch()
		s.onUpdate()
		return nil
	})
}

// Touch refreshes the activity timestamp without other effects.
func (s *Session) Touch() {
	_ = s.call(func() error {
		s.touch()
		return nil
	})
}

// Status returns a consistent snapshot of the session.
func (s *Session) Status() Status {
	var st Status
	_ = s.call(func() error {
		st = Status{
			State:        s.ctrl.State(),
			Elapsed:      s.ctrl.Elapsed(),
			QueueDepth:   s.queue.Len(),
			UpNext:       s.queue.Peek(5),
			Volume:       s.ctrl.Volume(),
			Repeat:       s.repeat,
			PlaylistMode: s.playlistMode,
			PlaylistName: s.playlistName,
			LastActiveAt: s.lastActiveAt,
		}
		if cur, ok := s.ctrl.Current(); ok {
			st.NowPlaying = &cur
		}
		return nil
	})
	return st
}

// handleCompletion rethreads a transport completion into the command loop.
// Runs on the transport goroutine; must not touch session state directly.
func (s *Session) handleCompletion(cp playback.Completion) {
	s.post(func() {
		if cp.Err != nil {
			zlog.Warn().Msgf("session: track failed mid-stream: guild=%s track=%q error=%v", s.guildID, cp.Track.Title, cp.Err)
			s.notify(fmt.Sprintf("Playback of %q failed, skipping.", cp.Track.Title))
		} else {
			s.queue.Reinsert(cp.Track, s.repeat)
		}
		if s.starting {
			// The track ended before its own start continuation ran. The
			// continuation holds the start slot, so hand the advance to it.
			s.advanceSeq++
			s.advancing = true
			return
		}
		s.beginAdvance()
	})
}

// maybeAdvance starts an advance when the session is idle.
func (s *Session) maybeAdvance() {
	if s.advancing {
		return
	}
	if _, ok := s.ctrl.Current(); ok {
		return
	}
	s.beginAdvance()
}

// beginAdvance opens a new advance cycle. No-op if one is already in
// flight. While a stream open holds the start slot, the first step is
// deferred to that start's continuation, which observes the bumped
// sequence and advances on the loop.
func (s *Session) beginAdvance() {
	if s.advancing {
		return
	}
	s.advancing = true
	s.advanceSeq++
	if !s.starting {
		s.advanceStep()
	}
}

// advanceStep pops and starts the next playable track. Pending refs are
// resolved off-loop; the continuation is posted back and checked against
// advanceSeq so a skip or stop issued meanwhile discards the stale result.
// Each failed ref is discarded, so a fully failing queue drains to idle.
func (s *Session) advanceStep() {
	next, ok := s.queue.PopFront()
	if !ok {
		s.advancing = false
		s.playlistMode = false
		s.playlistName = ""
		s.onUpdate()
		return
	}

	if next.Resolved() {
		s.startTrack(next)
		return
	}

	seq := s.advanceSeq
	go func() {
		resolved, err := s.resolver.Resolve(s.ctx, next)
		s.post(func() {
			if seq != s.advanceSeq {
				zlog.Debug().Msgf("session: discarding superseded resolution: guild=%s track=%q", s.guildID, next.SearchQuery())
				return
			}
			if err != nil {
				zlog.Warn().Msgf("session: resolution failed, skipping: guild=%s query=%q error=%v", s.guildID, next.SearchQuery(), err)
				s.notify(fmt.Sprintf("Could not find a stream for %q, skipping.", displayName(next)))
				s.advanceStep()
				return
			}
			s.startTrack(resolved)
		})
	}()
}

// startTrack opens the stream off-loop and commits the result through a
// posted continuation. The stream open is a suspension point: the loop
// stays free to serve commands while it runs. A skip or stop issued
// meanwhile bumps advanceSeq; the stale continuation then tears down
// whatever the start left behind and, if an advance is still wanted, takes
// the next step itself. Start failures fall through to the next queued
// track.
func (s *Session) startTrack(t track.TrackRef) {
	s.starting = true
	seq := s.advanceSeq
	go func() {
		err := s.ctrl.Start(s.ctx, t)
		s.post(func() {
			s.starting = false
			if seq != s.advanceSeq {
				s.ctrl.Stop()
				if s.advancing {
					s.advanceStep()
				}
				return
			}
			if err != nil {
				zlog.Warn().Msgf("session: start failed, skipping: guild=%s track=%q error=%v", s.guildID, t.Title, err)
				s.notify(fmt.Sprintf("Could not play %q, skipping.", displayName(t)))
				s.advanceStep()
				return
			}
			s.advancing = false
			s.touch()
			s.onUpdate()
		})
	}()
}

func (s *Session) touch() {
	s.lastActiveAt = time.Now()
}

func (s *Session) notify(message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(s.guildID, message)
}

func displayName(t track.TrackRef) string {
	if t.Title != "" {
		return t.Title
	}
	return t.SearchQuery()
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
