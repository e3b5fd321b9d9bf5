// Package track provides the TrackRef domain entity.
package track

import (
	"sort"
	"strings"
	"time"
)

// TrackRef represents a queued or playing item. A ref is either resolved
// (StreamURL set) or pending (ResolveQuery set); resolution moves it from
// pending to resolved exactly once and a resolved ref is never mutated again.
type TrackRef struct {
	Title        string        // Display title
	CanonicalURL string        // Source page URL (optional)
	StreamURL    string        // Playable stream URL (set once by resolution)
	Duration     time.Duration // Track duration (zero if unknown)
	ThumbnailURL string        // Artwork URL (optional)
	ResolveQuery string        // Deferred search query for pending refs
}

// Resolved reports whether the ref carries a playable stream URL.
func (t *TrackRef) Resolved() bool {
	return t.StreamURL != ""
}

// SearchQuery returns the query a pending ref should be resolved with.
// Falls back to the title when no explicit query was recorded.
func (t *TrackRef) SearchQuery() string {
	if t.ResolveQuery != "" {
		return t.ResolveQuery
	}
	return t.Title
}

// BuildSearchQuery builds a synthetic search query for provider-sourced
// descriptors that have no direct media URL (e.g. playlist imports).
func BuildSearchQuery(title string, artists []string) string {
	parts := make([]string, 0, 2)
	if title != "" {
		parts = append(parts, title)
	}
	if joined := strings.Join(artists, ", "); joined != "" {
		parts = append(parts, joined)
	}
	return strings.Join(parts, " ")
}

// StreamCandidate is one encoding of a track offered by the extractor.
type StreamCandidate struct {
	URL          string
	AudioBitrate float64 // kbps, 0 if unknown
	TotalBitrate float64 // kbps, 0 if unknown
}

// SelectBestStream picks the candidate with the highest audio bitrate,
// breaking ties by total bitrate and then by first-seen order.
func SelectBestStream(candidates []StreamCandidate) (StreamCandidate, bool) {
	playable := make([]StreamCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.URL != "" {
			playable = append(playable, c)
		}
	}
	if len(playable) == 0 {
		return StreamCandidate{}, false
	}

	// Stable keeps first-seen order for equal scores.
	sort.SliceStable(playable, func(i, j int) bool {
		if playable[i].AudioBitrate != playable[j].AudioBitrate {
			return playable[i].AudioBitrate > playable[j].AudioBitrate
		}
		return playable[i].TotalBitrate > playable[j].TotalBitrate
	})
	return playable[0], true
}

// RepeatMode controls queue reinsertion on natural track completion.
type RepeatMode int

const (
	RepeatOff    RepeatMode = iota // Completed tracks are discarded
	RepeatAll                      // Completed tracks go to the back of the queue
	RepeatSingle                   // Completed tracks go to the front of the queue
)

// String returns the string representation of the mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatSingle:
		return "single"
	default:
		return "unknown"
	}
}

// Next cycles off -> all -> single -> off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatSingle
	default:
		return RepeatOff
	}
}

// ParseRepeatMode parses a mode name. Unknown names map to RepeatOff.
func ParseRepeatMode(s string) RepeatMode {
	switch strings.ToLower(s) {
	case "all":
		return RepeatAll
	case "single":
		return RepeatSingle
	default:
		return RepeatOff
	}
}
