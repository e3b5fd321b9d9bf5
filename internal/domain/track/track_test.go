package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectBestStream(t *testing.T) {
	tests := []struct {
		name       string
		candidates []StreamCandidate
		wantURL    string
		wantOK     bool
	}{
		{
			name: "highest audio bitrate wins",
			candidates: []StreamCandidate{
				{URL: "low", AudioBitrate: 64, TotalBitrate: 80},
				{URL: "high", AudioBitrate: 160, TotalBitrate: 180},
				{URL: "mid", AudioBitrate: 128, TotalBitrate: 256},
			},
			wantURL: "high",
			wantOK:  true,
		},
		{
			name: "total bitrate breaks audio ties",
			candidates: []StreamCandidate{
				{URL: "a", AudioBitrate: 128, TotalBitrate: 130},
				{URL: "b", AudioBitrate: 128, TotalBitrate: 256},
			},
			wantURL: "b",
			wantOK:  true,
		},
		{
			name: "first seen breaks full ties",
			candidates: []StreamCandidate{
				{URL: "first", AudioBitrate: 128, TotalBitrate: 128},
				{URL: "second", AudioBitrate: 128, TotalBitrate: 128},
			},
			wantURL: "first",
			wantOK:  true,
		},
		{
			name: "unknown bitrates still selectable",
			candidates: []StreamCandidate{
				{URL: "only"},
			},
			wantURL: "only",
			wantOK:  true,
		},
		{
			name: "empty URLs are skipped",
			candidates: []StreamCandidate{
				{URL: "", AudioBitrate: 320},
				{URL: "real", AudioBitrate: 96},
			},
			wantURL: "real",
			wantOK:  true,
		},
		{
			name:       "no candidates",
			candidates: nil,
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, ok := SelectBestStream(tt.candidates)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantURL, best.URL)
			}
		})
	}
}

func TestRepeatMode_Next(t *testing.T) {
	assert.Equal(t, RepeatAll, RepeatOff.Next())
	assert.Equal(t, RepeatSingle, RepeatAll.Next())
	assert.Equal(t, RepeatOff, RepeatSingle.Next())
}

func TestParseRepeatMode(t *testing.T) {
	assert.Equal(t, RepeatAll, ParseRepeatMode("all"))
	assert.Equal(t, RepeatSingle, ParseRepeatMode("Single"))
	assert.Equal(t, RepeatOff, ParseRepeatMode("off"))
	assert.Equal(t, RepeatOff, ParseRepeatMode("bogus"))
}

func TestBuildSearchQuery(t *testing.T) {
	assert.Equal(t, "Song A Artist 1, Artist 2", BuildSearchQuery("Song A", []string{"Artist 1", "Artist 2"}))
	assert.Equal(t, "Song A", BuildSearchQuery("Song A", nil))
	assert.Equal(t, "Artist", BuildSearchQuery("", []string{"Artist"}))
}

func TestTrackRef_SearchQuery(t *testing.T) {
	ref := TrackRef{Title: "Fallback Title"}
	assert.Equal(t, "Fallback Title", ref.SearchQuery())

	ref.ResolveQuery = "explicit query"
	assert.Equal(t, "explicit query", ref.SearchQuery())

	assert.False(t, ref.Resolved())
	ref.StreamURL = "https://cdn.example/audio"
	assert.True(t, ref.Resolved())
}
