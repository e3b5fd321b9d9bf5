// Package panelstore persists panel locations as a JSON file.
package panelstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"

	"github.com/mlbx/melobox/internal/domain/panel"
)

// Store reads and writes the guild to panel location map. A missing file
// loads as an empty map; saves go through a temp file and rename so a crash
// never leaves a truncated store behind.
type Store struct {
	path string
}

// New creates a store backed by the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads all persisted panel locations.
func (s *Store) Load() (map[snowflake.ID]panel.Location, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[snowflake.ID]panel.Location), nil
		}
		return nil, errors.Wrap(err, "failed to read panel store")
	}

	locations := make(map[snowflake.ID]panel.Location)
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, errors.Wrap(err, "failed to parse panel store")
	}
	for guildID, loc := range locations {
		if !loc.Valid() {
			delete(locations, guildID)
		}
	}
	return locations, nil
}

// Save writes all panel locations, replacing the previous contents.
func (s *Store) Save(locations map[snowflake.ID]panel.Location) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create panel store directory")
	}

	data, err := json.MarshalIndent(locations, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode panel store")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write panel store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "failed to replace panel store")
	}
	return nil
}
