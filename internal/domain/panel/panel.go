// Package panel provides the persisted panel location entity.
package panel

import "github.com/disgoorg/snowflake/v2"

// Location identifies a live status panel: the message that renders it and
// the channel it lives in. Persisted across restarts so a prior panel can be
// re-attached on boot.
type Location struct {
	DisplayID snowflake.ID `json:"display_id"` // Panel message ID
	SurfaceID snowflake.ID `json:"surface_id"` // Channel ID
}

// Valid reports whether both identifiers are set.
func (l Location) Valid() bool {
	return l.DisplayID != 0 && l.SurfaceID != 0
}
