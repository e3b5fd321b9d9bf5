// Package queue provides the per-session track queue.
package queue

import (
	"math/rand"

	"github.com/mlbx/melobox/internal/domain/track"
)

// Queue is an ordered collection of track refs. It is not self-locking:
// all access must happen inside the owning session's serialized context.
type Queue struct {
	items []track.TrackRef
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: make([]track.TrackRef, 0)}
}

// Append adds a track to the back of the queue.
func (q *Queue) Append(t track.TrackRef) {
	q.items = append(q.items, t)
}

// AppendAll adds multiple tracks to the back of the queue in order.
func (q *Queue) AppendAll(ts []track.TrackRef) {
	q.items = append(q.items, ts...)
}

// PopFront removes and returns the first track.
func (q *Queue) PopFront() (track.TrackRef, bool) {
	if len(q.items) == 0 {
		return track.TrackRef{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Peek returns up to n tracks from the front without removing them.
func (q *Queue) Peek(n int) []track.TrackRef {
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]track.TrackRef, n)
	copy(out, q.items[:n])
	return out
}

// Clear removes all tracks and returns how many were dropped.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = q.items[:0]
	return n
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.items)
}

// Shuffle randomizes the queue order in place.
func (q *Queue) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Reinsert applies the repeat policy to a naturally completed track:
// single puts it back at the front, all at the back, off discards it.
func (q *Queue) Reinsert(t track.TrackRef, mode track.RepeatMode) {
	switch mode {
	case track.RepeatSingle:
		q.items = append([]track.TrackRef{t}, q.items...)
	case track.RepeatAll:
		q.items = append(q.items, t)
	}
}
