package ytstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlbx/melobox/internal/domain/track"
	"github.com/mlbx/melobox/internal/infra/config"
)

func TestParseDump(t *testing.T) {
	data := []byte(`{
		"title": "Some Song",
		"webpage_url": "https://www.youtube.com/watch?v=abc123",
		"duration": 212.5,
		"thumbnail": "https://img.example/abc123.jpg",
		"formats": [
			{"url": "https://cdn.example/video-only", "tbr": 1200, "acodec": "none"},
			{"url": "https://cdn.example/low", "abr": 64, "tbr": 70, "acodec": "opus"},
			{"url": "https://cdn.example/high", "abr": 160, "tbr": 165, "acodec": "opus"},
			{"url": "https://cdn.example/unknown-bitrate", "acodec": "mp4a.40.2"}
		]
	}`)

	ext, err := parseDump(data)
	require.NoError(t, err)

	assert.Equal(t, "Some Song", ext.Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", ext.CanonicalURL)
	assert.Equal(t, 212500*time.Millisecond, ext.Duration)
	assert.Equal(t, "https://img.example/abc123.jpg", ext.ThumbnailURL)

	// Video-only format is excluded.
	require.Len(t, ext.Candidates, 3)
	best, ok := track.SelectBestStream(ext.Candidates)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/high", best.URL)
}

func TestParseDump_NullBitrates(t *testing.T) {
	data := []byte(`{
		"title": "Live Stream",
		"formats": [{"url": "https://cdn.example/a", "abr": null, "tbr": null, "acodec": "opus"}]
	}`)

	ext, err := parseDump(data)
	require.NoError(t, err)
	require.Len(t, ext.Candidates, 1)
	assert.Equal(t, float64(0), ext.Candidates[0].AudioBitrate)
}

func TestParseDump_TopLevelURLFallback(t *testing.T) {
	data := []byte(`{
		"title": "Direct",
		"url": "https://cdn.example/direct"
	}`)

	ext, err := parseDump(data)
	require.NoError(t, err)
	require.Len(t, ext.Candidates, 1)
	assert.Equal(t, "https://cdn.example/direct", ext.Candidates[0].URL)
}

func TestParseDump_Invalid(t *testing.T) {
	_, err := parseDump([]byte("not json"))
	assert.Error(t, err)
}

func TestNewSearchers(t *testing.T) {
	searchers, err := NewSearchers([]config.SearcherConfig{
		{Type: "ytmusic"},
		{Type: "ytsearch", Settings: map[string]any{"append_terms": "Official Audio"}},
	})
	require.NoError(t, err)
	require.Len(t, searchers, 2)

	assert.Equal(t, "ytmusic", searchers[0].Name())
	vs, ok := searchers[1].(VideoSearcher)
	require.True(t, ok)
	assert.Equal(t, "Official Audio", vs.AppendTerms)
}

func TestNewSearchers_UnsupportedType(t *testing.T) {
	_, err := NewSearchers([]config.SearcherConfig{{Type: "bogus"}})
	assert.Error(t, err)
}

func TestNewSearchers_Empty(t *testing.T) {
	_, err := NewSearchers(nil)
	assert.Error(t, err)
}
