package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/domain/track"
)

// Errors
var (
	ErrNoTrack     = errors.New("no track playing")
	ErrNotPlaying  = errors.New("not playing")
	ErrNotPaused   = errors.New("not paused")
	ErrNotResolved = errors.New("track has no stream URL")
)

// VoiceTransport is the audio sink a controller drives. Play returns once
// streaming has started; done is invoked exactly once when the stream ends,
// from the transport's own goroutine.
type VoiceTransport interface {
	Play(ctx context.Context, streamURL string, volume float64, done func(err error)) error
	Stop()
	Pause() error
	Resume() error
	SetVolume(volume float64) error
}

// Completion describes how a started track finished. Err is nil on natural
// stream end.
type Completion struct {
	Track track.TrackRef
	Err   error
}

// Controller manages one session's playback state over a voice transport.
// Stale transport callbacks (from a track that was already stopped or
// superseded) are discarded via a generation counter.
type Controller struct {
	mu sync.Mutex

	transport VoiceTransport
	state     State
	current   *track.TrackRef
	volume    float64
	gen       uint64

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	onComplete func(Completion)
}

// NewController creates a controller. onComplete is invoked without locks
// held whenever a started track finishes for any reason other than Stop.
func NewController(transport VoiceTransport, volume float64, onComplete func(Completion)) *Controller {
	return &Controller{
		transport:  transport,
		state:      StateIdle,
		volume:     volume,
		onComplete: onComplete,
	}
}

// Start begins playback of a resolved track. Any current track is stopped
// first without emitting a completion. The stream open can stall, so the
// lock is not held across transport.Play: state queries and Stop stay
// responsive while a stream is opening, and a Stop issued meanwhile wins
// over the opening track.
func (c *Controller) Start(ctx context.Context, t track.TrackRef) error {
	if !t.Resolved() {
		return errors.Wrapf(ErrNotResolved, "track %q", t.Title)
	}

	c.mu.Lock()
	if c.current != nil {
		c.gen++
		c.transport.Stop()
	}

	c.gen++
	gen := c.gen
	c.current = &t
	c.state = StatePlaying
	c.startedAt = time.Now()
	c.pausedAt = time.Time{}
	c.pausedTotal = 0
	volume := c.volume
	c.mu.Unlock()

	err := c.transport.Play(ctx, t.StreamURL, volume, func(err error) {
		c.finish(gen, err)
	})
	if err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.current = nil
			c.state = StateIdle
			c.gen++
		}
		c.mu.Unlock()
		return errors.Wrapf(err, "failed to start track %q", t.Title)
	}

	zlog.Debug().Msgf("playback: started track=%q duration=%v", t.Title, t.Duration)
	return nil
}

// finish handles a transport done callback. Callbacks from superseded
// generations are ignored.
func (c *Controller) finish(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.current == nil {
		c.mu.Unlock()
		return
	}

	ended := *c.current
	c.current = nil
	c.state = StateIdle
	c.pausedAt = time.Time{}
	c.pausedTotal = 0
	onComplete := c.onComplete
	c.mu.Unlock()

	if onComplete != nil {
		onComplete(Completion{Track: ended, Err: err})
	}
}

// Stop halts playback. The interrupted track does not produce a completion.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}

	c.gen++
	c.transport.Stop()
	c.current = nil
	c.state = StateIdle
	c.pausedAt = time.Time{}
	c.pausedTotal = 0
}

// Pause pauses the current track.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	if err := c.transport.Pause(); err != nil {
		return errors.Wrap(err, "transport pause failed")
	}
	c.pausedAt = time.Now()
	c.state = StatePaused
	return nil
}

// Resume resumes a paused track.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoTrack
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}

	if err := c.transport.Resume(); err != nil {
		return errors.Wrap(err, "transport resume failed")
	}
	c.pausedTotal += time.Since(c.pausedAt)
	c.pausedAt = time.Time{}
	c.state = StatePlaying
	return nil
}

// SetVolume applies a new volume to the transport and remembers it for
// subsequent tracks.
func (c *Controller) SetVolume(volume float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = volume
	if c.current == nil {
		return nil
	}
	return errors.Wrap(c.transport.SetVolume(volume), "transport volume change failed")
}

// Volume returns the current volume.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a copy of the playing track, if any.
func (c *Controller) Current() (track.TrackRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return track.TrackRef{}, false
	}
	return *c.current, true
}

// Elapsed returns how long the current track has been audibly playing,
// excluding time spent paused.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return 0
	}

	elapsed := time.Since(c.startedAt) - c.pausedTotal
	if c.state == StatePaused && !c.pausedAt.IsZero() {
		elapsed -= time.Since(c.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
