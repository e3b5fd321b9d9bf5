package ytstream

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/mlbx/melobox/internal/app/resolve"
	"github.com/mlbx/melobox/internal/infra/config"
)

type videoSearcherSettings struct {
	AppendTerms string `mapstructure:"append_terms"`
}

// NewSearchers builds the searcher fallback chain from configuration.
func NewSearchers(cfgs []config.SearcherConfig) ([]resolve.Searcher, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no searchers configured")
	}

	searchers := make([]resolve.Searcher, 0, len(cfgs))
	for i, scfg := range cfgs {
		var searcher resolve.Searcher

		switch scfg.Type {
		case "ytmusic":
			searcher = MusicSearcher{}

		case "ytsearch":
			var settings videoSearcherSettings
			if err := mapstructure.Decode(scfg.Settings, &settings); err != nil {
				return nil, errors.Wrapf(err, "invalid settings for searcher %d", i)
			}
			searcher = VideoSearcher{AppendTerms: settings.AppendTerms}

		default:
			return nil, errors.Newf("unsupported searcher type: %s (index %d)", scfg.Type, i)
		}

		searchers = append(searchers, searcher)
		zlog.Info().Msgf("registered searcher: index=%d type=%s", i+1, scfg.Type)
	}

	return searchers, nil
}
