package ytstream

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

const watchURL = "https://www.youtube.com/watch?v="

// MusicSearcher queries the music-focused search index. Preferred for
// playlist-sourced "title artists" queries because it matches studio tracks
// over videos.
type MusicSearcher struct{}

// Name implements resolve.Searcher.
func (MusicSearcher) Name() string { return "ytmusic" }

// Search returns the first track hit for the query.
func (MusicSearcher) Search(ctx context.Context, query string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	s := ytmusic.TrackSearch(query)
	r, err := s.Next()
	if err != nil {
		return "", "", errors.Wrap(err, "music search failed")
	}

	for _, t := range r.Tracks {
		if t.VideoID == "" {
			continue
		}
		title := t.Title
		if len(t.Artists) > 0 {
			title = t.Artists[0].Name + " - " + t.Title
		}
		return watchURL + t.VideoID, title, nil
	}
	return "", "", nil
}

// VideoSearcher queries the general video search index. AppendTerms is
// added to every query to bias results toward audio uploads.
type VideoSearcher struct {
	AppendTerms string
}

// Name implements resolve.Searcher.
func (s VideoSearcher) Name() string { return "ytsearch" }

// Search returns the first video hit for the query.
func (s VideoSearcher) Search(ctx context.Context, query string) (string, string, error) {
	if s.AppendTerms != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(s.AppendTerms)) {
		query += " " + s.AppendTerms
	}

	c := ytsearch.NewClient(nil)
	r, err := c.Search(ctx, query)
	if err != nil {
		return "", "", errors.Wrap(err, "video search failed")
	}

	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		return watchURL + v.VideoID, v.Title, nil
	}
	return "", "", nil
}
