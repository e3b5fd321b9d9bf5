// Package ytstream extracts playable streams and search hits via yt-dlp.
package ytstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/domain/track"
)

// Extractor runs yt-dlp to enumerate stream candidates for a media page.
type Extractor struct{}

// NewExtractor creates an extractor. Install ensures a yt-dlp binary is
// available, downloading one if the host has none.
func NewExtractor(ctx context.Context) (*Extractor, error) {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "failed to install yt-dlp")
	}
	return &Extractor{}, nil
}

// Extract fetches metadata and stream candidates for a page URL. The compat
// profile forces the web player client, which some videos require.
func (e *Extractor) Extract(ctx context.Context, target string, profile resolve.Profile) (resolve.Extraction, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		DumpSingleJSON()

	args := []string{target}
	if profile == resolve.ProfileCompat {
		args = append([]string{"--extractor-args", "youtube:player_client=web"}, args...)
	}

	res, err := cmd.Run(ctx, args...)
	if err != nil {
		return resolve.Extraction{}, errors.Wrapf(err, "yt-dlp failed for %s", target)
	}

	ext, err := parseDump([]byte(res.Stdout))
	if err != nil {
		return resolve.Extraction{}, err
	}

	zlog.Debug().Msgf("ytstream: extracted: target=%s profile=%s candidates=%d", target, profile, len(ext.Candidates))
	return ext, nil
}

type dumpFormat struct {
	URL          string  `json:"url"`
	AudioBitrate float64 `json:"abr"`
	TotalBitrate float64 `json:"tbr"`
	AudioCodec   string  `json:"acodec"`
}

type dumpInfo struct {
	Title      string       `json:"title"`
	WebpageURL string       `json:"webpage_url"`
	Duration   float64      `json:"duration"`
	Thumbnail  string       `json:"thumbnail"`
	URL        string       `json:"url"`
	Formats    []dumpFormat `json:"formats"`
}

// parseDump converts yt-dlp single-JSON output into an extraction. Formats
// without an audio track are dropped; a formatless dump falls back to the
// top-level URL.
func parseDump(data []byte) (resolve.Extraction, error) {
	var info dumpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return resolve.Extraction{}, errors.Wrap(err, "failed to parse yt-dlp output")
	}

	candidates := make([]track.StreamCandidate, 0, len(info.Formats))
	for _, f := range info.Formats {
		if f.AudioCodec == "none" {
			continue
		}
		candidates = append(candidates, track.StreamCandidate{
			URL:          f.URL,
			AudioBitrate: f.AudioBitrate,
			TotalBitrate: f.TotalBitrate,
		})
	}
	if len(candidates) == 0 && info.URL != "" {
		candidates = append(candidates, track.StreamCandidate{URL: info.URL})
	}

	return resolve.Extraction{
		Title:        info.Title,
		CanonicalURL: info.WebpageURL,
		Duration:     time.Duration(info.Duration * float64(time.Second)),
		ThumbnailURL: info.Thumbnail,
		Candidates:   candidates,
	}, nil
}
