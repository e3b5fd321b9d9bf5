package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlbx/melobox/internal/app/playback"
	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/domain/track"
)

const testGuild = snowflake.ID(123456789)

type fakeTransport struct {
	mu     sync.Mutex
	done   func(err error)
	played []string
	stops  int
	volume float64
}

func (f *fakeTransport) Play(_ context.Context, streamURL string, volume float64, done func(err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = done
	f.volume = volume
	f.played = append(f.played, streamURL)
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeTransport) Pause() error  { return nil }
func (f *fakeTransport) Resume() error { return nil }

func (f *fakeTransport) SetVolume(volume float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = volume
	return nil
}

func (f *fakeTransport) finish(err error) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	done(err)
}

func (f *fakeTransport) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func (f *fakeTransport) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// stallTransport parks stream opens on a gate so tests can observe the
// session mid-open.
type stallTransport struct {
	fakeTransport
	gate chan struct{}
}

func (f *stallTransport) Play(ctx context.Context, streamURL string, volume float64, done func(err error)) error {
	<-f.gate
	return f.fakeTransport.Play(ctx, streamURL, volume, done)
}

// fakeExtractor returns one candidate per target; targets listed in fail
// yield no candidates on either profile.
type fakeExtractor struct {
	mu   sync.Mutex
	fail map[string]bool
	gate chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, target string, _ resolve.Profile) (resolve.Extraction, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return resolve.Extraction{}, ctx.Err()
		}
	}
	f.mu.Lock()
	failed := f.fail[target]
	f.mu.Unlock()
	if failed {
		return resolve.Extraction{}, nil
	}
	return resolve.Extraction{
		Title:      "title of " + target,
		Duration:   3 * time.Minute,
		Candidates: []track.StreamCandidate{{URL: "stream://" + target, AudioBitrate: 128}},
	}, nil
}

// fakeSearcher maps every query to a synthetic page URL.
type fakeSearcher struct{}

func (fakeSearcher) Name() string { return "fake" }

func (fakeSearcher) Search(_ context.Context, query string) (string, string, error) {
	return "https://media.example/" + query, query, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ snowflake.ID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// listProvider serves a fixed raw playlist. A nil slot stands in for an
// entry with no playable track, the way episodes and removed tracks come
// back from a real provider.
type listProvider struct {
	name    string
	slots   []*PlaylistItem
	failAt  int // page index to fail on, -1 for never
	fetches int
}

func (p *listProvider) FetchPage(_ context.Context, _ string, offset, limit int) (PlaylistPage, error) {
	if p.failAt >= 0 && p.fetches == p.failAt {
		return PlaylistPage{}, errors.New("provider unavailable")
	}
	p.fetches++

	page := PlaylistPage{Total: len(p.slots)}
	if offset == 0 {
		page.Name = p.name
	}
	if offset >= len(p.slots) {
		return page, nil
	}
	end := offset + limit
	if end > len(p.slots) {
		end = len(p.slots)
	}
	page.Span = end - offset
	for _, it := range p.slots[offset:end] {
		if it != nil {
			page.Items = append(page.Items, *it)
		}
	}
	return page, nil
}

func playlistSlots(items ...PlaylistItem) []*PlaylistItem {
	out := make([]*PlaylistItem, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}

func newTestSession(t *testing.T, ex *fakeExtractor) (*Session, *fakeTransport, *fakeNotifier) {
	t.Helper()
	if ex == nil {
		ex = &fakeExtractor{}
	}
	tr := &fakeTransport{}
	nt := &fakeNotifier{}
	r := resolve.New(ex, []resolve.Searcher{fakeSearcher{}}, 0)
	s := New(testGuild, tr, r, nt, 0.15)
	t.Cleanup(s.Close)
	return s, tr, nt
}

func newSessionWithTransport(t *testing.T, tr playback.VoiceTransport) (*Session, *fakeNotifier) {
	t.Helper()
	nt := &fakeNotifier{}
	r := resolve.New(&fakeExtractor{}, []resolve.Searcher{fakeSearcher{}}, 0)
	s := New(testGuild, tr, r, nt, 0.15)
	t.Cleanup(s.Close)
	return s, nt
}

func waitPlaying(t *testing.T, s *Session, title string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.Status()
		return st.State == playback.StatePlaying && st.NowPlaying != nil && st.NowPlaying.Title == title
	}, time.Second, 5*time.Millisecond)
}

func TestSession_EnqueueIntoIdleStartsPlayback(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	first, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)
	assert.True(t, first.Resolved())

	_, err = s.Enqueue(context.Background(), "https://media.example/b")
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "https://media.example/c")
	require.NoError(t, err)

	waitPlaying(t, s, first.Title)

	st := s.Status()
	assert.Equal(t, 2, st.QueueDepth)
	require.Len(t, st.UpNext, 2)
	assert.Equal(t, "title of https://media.example/b", st.UpNext[0].Title)
	assert.Equal(t, "title of https://media.example/c", st.UpNext[1].Title)
	assert.Equal(t, 1, tr.playCount())
}

func TestSession_LazyResolutionByQueryOnly(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	p := &listProvider{slots: playlistSlots(PlaylistItem{Title: "Song A", Artists: []string{"Artist"}}), failAt: -1}
	added, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	waitPlaying(t, s, "Song A")
	assert.Equal(t, 0, s.Status().QueueDepth)
}

func TestSession_RepeatSingleReplaysCompletedTrack(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)
	require.NoError(t, s.SetRepeatMode(track.RepeatSingle))

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.playCount() == 1 }, time.Second, 5*time.Millisecond)
	before := s.Status()
	require.NotNil(t, before.NowPlaying)

	tr.finish(nil)

	require.Eventually(t, func() bool { return tr.playCount() == 2 }, time.Second, 5*time.Millisecond)

	st := s.Status()
	require.NotNil(t, st.NowPlaying)
	assert.Equal(t, before.NowPlaying.Title, st.NowPlaying.Title)
	assert.Equal(t, before.NowPlaying.StreamURL, st.NowPlaying.StreamURL)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestSession_RepeatAllRotatesQueue(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)
	require.NoError(t, s.SetRepeatMode(track.RepeatAll))

	a, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "https://media.example/b")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.playCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.finish(nil)

	require.Eventually(t, func() bool { return tr.playCount() == 2 }, time.Second, 5*time.Millisecond)

	st := s.Status()
	require.NotNil(t, st.NowPlaying)
	assert.Equal(t, "title of https://media.example/b", st.NowPlaying.Title)
	require.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, a.Title, st.UpNext[0].Title)
}

func TestSession_RepeatOffDiscardsCompletedTrack(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.playCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.finish(nil)

	require.Eventually(t, func() bool {
		return s.Status().State == playback.StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Status().QueueDepth)
}

func TestSession_SkipDiscardsCurrentWithoutReinsertion(t *testing.T) {
	s, tr, _ := newTestSession(t, nil)
	require.NoError(t, s.SetRepeatMode(track.RepeatSingle))

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "https://media.example/b")
	require.NoError(t, err)

	waitPlaying(t, s, "title of https://media.example/a")

	require.NoError(t, s.Skip())

	waitPlaying(t, s, "title of https://media.example/b")
	assert.Equal(t, 0, s.Status().QueueDepth)
	assert.Equal(t, 1, tr.stopCount())
}

func TestSession_RapidDoubleSkipKeepsSingleNowPlaying(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	for _, u := range []string{"a", "b", "c"} {
		_, err := s.Enqueue(context.Background(), "https://media.example/"+u)
		require.NoError(t, err)
	}

	waitPlaying(t, s, "title of https://media.example/a")

	require.NoError(t, s.Skip())
	require.NoError(t, s.Skip())

	waitPlaying(t, s, "title of https://media.example/c")
	assert.Equal(t, 0, s.Status().QueueDepth)
}

func TestSession_SkipDuringPendingResolutionDiscardsResult(t *testing.T) {
	ex := &fakeExtractor{gate: make(chan struct{})}
	s, tr, _ := newTestSession(t, ex)

	p := &listProvider{slots: playlistSlots(PlaylistItem{Title: "Blocked"}), failAt: -1}
	_, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	require.NoError(t, err)

	// The advance is now parked on the gated extractor.
	require.NoError(t, s.Skip())

	close(ex.gate)

	time.Sleep(50 * time.Millisecond)
	st := s.Status()
	assert.Equal(t, playback.StateIdle, st.State)
	assert.Nil(t, st.NowPlaying)
	assert.Equal(t, 0, tr.playCount())
}

func TestSession_CommandsServedDuringStreamOpen(t *testing.T) {
	tr := &stallTransport{gate: make(chan struct{})}
	s, _ := newSessionWithTransport(t, tr)

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)

	// The stream open is parked on the gate; the loop must keep serving.
	got := make(chan Status, 1)
	go func() { got <- s.Status() }()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("status blocked behind the stream open")
	}
	assert.Equal(t, 0, tr.playCount())

	close(tr.gate)
	require.Eventually(t, func() bool { return tr.playCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_SkipDuringStreamOpenDiscardsOpeningTrack(t *testing.T) {
	tr := &stallTransport{gate: make(chan struct{})}
	s, _ := newSessionWithTransport(t, tr)

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "https://media.example/b")
	require.NoError(t, err)

	require.NoError(t, s.Skip())
	close(tr.gate)

	waitPlaying(t, s, "title of https://media.example/b")
	assert.Equal(t, 0, s.Status().QueueDepth)
}

func TestSession_AllFailingQueueDrainsToIdleWithNotices(t *testing.T) {
	ex := &fakeExtractor{fail: map[string]bool{
		"https://media.example/Song 1": true,
		"https://media.example/Song 2": true,
		"https://media.example/Song 3": true,
	}}
	s, tr, nt := newTestSession(t, ex)

	p := &listProvider{
		slots:  playlistSlots(PlaylistItem{Title: "Song 1"}, PlaylistItem{Title: "Song 2"}, PlaylistItem{Title: "Song 3"}),
		failAt: -1,
	}
	added, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	require.NoError(t, err)
	require.Equal(t, 3, added)

	require.Eventually(t, func() bool {
		st := s.Status()
		return st.State == playback.StateIdle && st.QueueDepth == 0 && nt.count() == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.playCount())
}

func TestSession_StopClearsQueueAndState(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	for _, u := range []string{"a", "b"} {
		_, err := s.Enqueue(context.Background(), "https://media.example/"+u)
		require.NoError(t, err)
	}

	require.NoError(t, s.Stop())

	st := s.Status()
	assert.Equal(t, playback.StateIdle, st.State)
	assert.Nil(t, st.NowPlaying)
	assert.Equal(t, 0, st.QueueDepth)
	assert.False(t, st.PlaylistMode)
}

func TestSession_TransportFailureAdvancesQueue(t *testing.T) {
	s, tr, nt := newTestSession(t, nil)
	require.NoError(t, s.SetRepeatMode(track.RepeatSingle))

	_, err := s.Enqueue(context.Background(), "https://media.example/a")
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "https://media.example/b")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.playCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.finish(errors.New("stream reset"))

	require.Eventually(t, func() bool { return tr.playCount() == 2 }, time.Second, 5*time.Millisecond)

	// The failed track is not reinserted even under repeat single.
	waitPlaying(t, s, "title of https://media.example/b")
	assert.Equal(t, 0, s.Status().QueueDepth)
	assert.Equal(t, 1, nt.count())
}

func TestSession_VolumeClampsAtBounds(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	var v float64
	var err error
	for i := 0; i < 30; i++ {
		v, err = s.AdjustVolume(0.05)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, v)

	for i := 0; i < 30; i++ {
		v, err = s.AdjustVolume(-0.05)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, v)
}

func TestSession_PlaylistFetchFailureKeepsAddedTracks(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	items := make([]PlaylistItem, 150)
	for i := range items {
		items[i] = PlaylistItem{Title: "Track"}
	}
	p := &listProvider{slots: playlistSlots(items...), failAt: 1}

	added, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	assert.ErrorIs(t, err, ErrPlaylistFetch)
	assert.Equal(t, 100, added)

	// First page stays queued minus the one that auto-advanced.
	st := s.Status()
	assert.GreaterOrEqual(t, st.QueueDepth, 98)
	assert.True(t, st.PlaylistMode)
}

func TestSession_PlaylistImportRespectsCap(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	items := make([]PlaylistItem, 250)
	for i := range items {
		items[i] = PlaylistItem{Title: "Track"}
	}
	p := &listProvider{slots: playlistSlots(items...), failAt: -1}

	added, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, added)
}

func TestSession_PlaylistPagingSkipsUnplayableSlots(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	// Raw slot 2 holds an entry with no playable track; paging must step
	// past it instead of re-reading the slots behind it.
	p := &listProvider{
		slots: []*PlaylistItem{
			{Title: "T0"}, {Title: "T1"}, nil, {Title: "T3"}, {Title: "T4"}, {Title: "T5"},
		},
		failAt: -1,
	}

	added, err := s.EnqueuePlaylist(context.Background(), p, "pl", 3, 200)
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.Equal(t, 2, p.fetches)

	waitPlaying(t, s, "T0")

	st := s.Status()
	titles := make([]string, 0, len(st.UpNext))
	for _, u := range st.UpNext {
		titles = append(titles, u.Title)
	}
	assert.Equal(t, []string{"T1", "T3", "T4", "T5"}, titles)
}

func TestSession_PlaylistImportCapturesName(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	p := &listProvider{
		name:   "Road Trip",
		slots:  playlistSlots(PlaylistItem{Title: "Song A"}),
		failAt: -1,
	}
	_, err := s.EnqueuePlaylist(context.Background(), p, "pl", 100, 200)
	require.NoError(t, err)

	st := s.Status()
	assert.True(t, st.PlaylistMode)
	assert.Equal(t, "Road Trip", st.PlaylistName)

	require.NoError(t, s.Stop())
	assert.Empty(t, s.Status().PlaylistName)
}

func TestSession_PlayOnEmptyIdleQueue(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	assert.ErrorIs(t, s.Play(), ErrNothingQueued)
}

func TestSession_CycleRepeatMode(t *testing.T) {
	s, _, _ := newTestSession(t, nil)

	m, err := s.CycleRepeatMode()
	require.NoError(t, err)
	assert.Equal(t, track.RepeatAll, m)

	m, err = s.CycleRepeatMode()
	require.NoError(t, err)
	assert.Equal(t, track.RepeatSingle, m)

	m, err = s.CycleRepeatMode()
	require.NoError(t, err)
	assert.Equal(t, track.RepeatOff, m)
}
