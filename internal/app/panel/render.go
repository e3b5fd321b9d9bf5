package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/mlbx/melobox/internal/app/playback"
	"github.com/mlbx/melobox/internal/app/session"
)

const progressCells = 18

// Content is the rendered panel, ready for a display surface.
type Content struct {
	Header       string
	Body         string
	Footer       string
	ThumbnailURL string
}

// Render builds panel content from a session snapshot.
func Render(st session.Status) Content {
	if st.NowPlaying == nil {
		return Content{
			Header: "Nothing playing",
			Body:   "Queue is empty. Add a track to get started.",
			Footer: footer(st),
		}
	}

	var b strings.Builder
	if st.NowPlaying.CanonicalURL != "" {
		fmt.Fprintf(&b, "**[%s](%s)**\n", st.NowPlaying.Title, st.NowPlaying.CanonicalURL)
	} else {
		fmt.Fprintf(&b, "**%s**\n", st.NowPlaying.Title)
	}
	b.WriteString(progressBar(st.Elapsed, st.NowPlaying.Duration))
	fmt.Fprintf(&b, "\n%s / %s", formatDuration(st.Elapsed), formatDuration(st.NowPlaying.Duration))

	header := "Now playing"
	if st.State == playback.StatePaused {
		header = "Paused"
	}

	return Content{
		Header:       header,
		Body:         b.String(),
		Footer:       footer(st),
		ThumbnailURL: st.NowPlaying.ThumbnailURL,
	}
}

func footer(st session.Status) string {
	parts := []string{
		fmt.Sprintf("Volume %d%%", int(st.Volume*100+0.5)),
		fmt.Sprintf("Repeat %s", st.Repeat),
		fmt.Sprintf("Queue %d", st.QueueDepth),
	}
	if st.PlaylistMode {
		label := "Playlist"
		if st.PlaylistName != "" {
			label = "Playlist: " + st.PlaylistName
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " | ")
}

// progressBar renders an 18-cell bar with a position marker. An unknown
// duration pins the marker to the start.
func progressBar(elapsed, duration time.Duration) string {
	pos := 0
	if duration > 0 {
		pos = int(float64(progressCells-1) * float64(elapsed) / float64(duration))
		if pos < 0 {
			pos = 0
		}
		if pos > progressCells-1 {
			pos = progressCells - 1
		}
	}

	var b strings.Builder
	for i := 0; i < progressCells; i++ {
		if i == pos {
			b.WriteString("🔘")
		} else {
			b.WriteString("▬")
		}
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
