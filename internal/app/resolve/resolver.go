// Package resolve turns pending track refs into playable stream URLs.
package resolve

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/domain/track"
)

// ErrNoPlayableStream is returned when extraction yields no usable stream.
var ErrNoPlayableStream = errors.New("no playable stream found")

// ErrNoSearchResult is returned when every searcher came up empty.
var ErrNoSearchResult = errors.New("no search result for query")

// Profile selects the extractor client profile. The compat profile is a
// fallback for sources that reject the default one.
type Profile string

const (
	ProfileDefault Profile = "default"
	ProfileCompat  Profile = "compat"
)

// Extraction is what an extractor learns about a single media page.
type Extraction struct {
	Title        string
	CanonicalURL string
	Duration     time.Duration
	ThumbnailURL string
	Candidates   []track.StreamCandidate
}

// Extractor fetches stream candidates for a media page URL.
type Extractor interface {
	Extract(ctx context.Context, target string, profile Profile) (Extraction, error)
}

// Searcher maps a free-text query to a media page URL.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (url string, title string, err error)
}

// Resolver resolves track refs using an extractor and an ordered searcher
// chain. Searchers are tried in order until one returns a hit.
type Resolver struct {
	extractor Extractor
	searchers []Searcher
	timeout   time.Duration
}

// New creates a resolver. A zero timeout disables the per-resolution deadline.
func New(extractor Extractor, searchers []Searcher, timeout time.Duration) *Resolver {
	return &Resolver{
		extractor: extractor,
		searchers: searchers,
		timeout:   timeout,
	}
}

// Resolve fills in the stream URL of a ref. Refs that already carry a stream
// URL are returned unchanged. Pending refs are searched first when they have
// no page URL, then extracted; extraction failures retry once on the compat
// profile before giving up.
func (r *Resolver) Resolve(ctx context.Context, ref track.TrackRef) (track.TrackRef, error) {
	if ref.Resolved() {
		return ref, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	target := ref.CanonicalURL
	if target == "" {
		url, title, err := r.search(ctx, ref.SearchQuery())
		if err != nil {
			return ref, err
		}
		target = url
		if ref.Title == "" {
			ref.Title = title
		}
	}

	ext, err := r.extract(ctx, target)
	if err != nil {
		return ref, errors.Wrapf(err, "failed to resolve %q", ref.SearchQuery())
	}

	best, ok := track.SelectBestStream(ext.Candidates)
	if !ok {
		return ref, errors.Wrapf(ErrNoPlayableStream, "target %s", target)
	}

	ref.CanonicalURL = target
	ref.StreamURL = best.URL
	if ref.Title == "" {
		ref.Title = ext.Title
	}
	if ref.Duration == 0 {
		ref.Duration = ext.Duration
	}
	if ref.ThumbnailURL == "" {
		ref.ThumbnailURL = ext.ThumbnailURL
	}
	return ref, nil
}

func (r *Resolver) search(ctx context.Context, query string) (string, string, error) {
	if query == "" {
		return "", "", errors.New("empty resolve query")
	}

	for i, s := range r.searchers {
		zlog.Debug().Msgf("searching: index=%d total=%d searcher=%s query=%q",
			i+1, len(r.searchers), s.Name(), query)

		url, title, err := s.Search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", err
			}
			zlog.Warn().Msgf("searcher failed, trying next: searcher=%s error=%v", s.Name(), err)
			continue
		}
		if url == "" {
			zlog.Debug().Msgf("searcher returned no hit: searcher=%s", s.Name())
			continue
		}
		return url, title, nil
	}

	return "", "", errors.Wrapf(ErrNoSearchResult, "query %q", query)
}

func (r *Resolver) extract(ctx context.Context, target string) (Extraction, error) {
	ext, err := r.extractor.Extract(ctx, target, ProfileDefault)
	if err == nil {
		if _, ok := track.SelectBestStream(ext.Candidates); ok {
			return ext, nil
		}
		err = ErrNoPlayableStream
	}
	if ctx.Err() != nil {
		return Extraction{}, err
	}

	zlog.Info().Msgf("extraction failed, retrying with compat profile: target=%s error=%v", target, err)
	return r.extractor.Extract(ctx, target, ProfileCompat)
}
