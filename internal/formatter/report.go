package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/plbackup/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title   lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
}

func NewPalette(t, a, r, w, m string) *Palette {
	return &Palette{
		title:   NewBold(t),
		added:   NewStyle(a),
		removed: NewStyle(r),
		warn:    NewStyle(w),
		muted:   NewEm(m),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// TrackNames indexes "Artist - Title" by track id across the given snapshots.
// Later snapshots win, so pass them oldest first.
func TrackNames(snaps ...*models.Snapshot) map[string]string {
	names := make(map[string]string)
	for _, s := range snaps {
		if s == nil {
			continue
		}
		for _, p := range s.Playlists {
			for _, t := range p.Tracks {
				names[t.ID] = t.FullName()
			}
		}
	}
	return names
}

// RenderSummary renders the totals of one refresh.
func RenderSummary(account, snapshotID string, s models.Summary) string {
	var b strings.Builder

	b.WriteString(styles.title.Render(fmt.Sprintf("Snapshot %s for %s", snapshotID, account)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  playlists: %d, tracks: %d\n", s.Playlists, s.Tracks))

	if !s.Changed() {
		b.WriteString(styles.muted.Render("  No changes detected"))
		b.WriteString("\n")
		return b.String()
	}

	line := func(style lipgloss.Style, label string, n int) {
		if n > 0 {
			b.WriteString(style.Render(fmt.Sprintf("  %s: %d", label, n)))
			b.WriteString("\n")
		}
	}
	line(styles.added, "new playlists", s.NewPlaylists)
	line(styles.removed, "removed playlists", s.RemovedPlaylists)
	line(styles.added, "added tracks", s.Added)
	line(styles.removed, "removed tracks", s.Removed)
	line(styles.warn, "reordered playlists", s.Reordered)
	line(styles.removed, "unavailable tracks", s.Unavailable)
	line(styles.added, "restored tracks", s.Restored)

	return b.String()
}

// RenderChanges lists every change record in the order given.
// Track ids missing from names are printed as is.
func RenderChanges(records []models.ChangeRecord, names map[string]string) string {
	if len(records) == 0 {
		return styles.muted.Render("No changes detected") + "\n"
	}

	label := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return id
	}

	var b strings.Builder
	for _, c := range records {
		header := c.Name
		switch {
		case c.New:
			header += " (new)"
		case c.Removed:
			header += " (removed)"
		}
		b.WriteString(styles.title.Render(header))
		b.WriteString("\n")

		if c.Removed {
			continue
		}
		if c.Reordered {
			b.WriteString(styles.warn.Render("  ~ tracks reordered"))
			b.WriteString("\n")
		}
		for _, id := range c.Added {
			b.WriteString(styles.added.Render("  + " + label(id)))
			b.WriteString("\n")
		}
		for _, id := range c.RemovedTracks {
			b.WriteString(styles.removed.Render("  - " + label(id)))
			b.WriteString("\n")
		}
		for _, id := range c.Unavailable {
			b.WriteString(styles.removed.Render("  ! " + label(id) + " is no longer available"))
			b.WriteString("\n")
		}
		for _, id := range c.Restored {
			b.WriteString(styles.added.Render("  * " + label(id) + " is available again"))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderTable draws rows under a bold header row.
func RenderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.title.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String() + "\n"
}

// RenderRuns lays out journal entries, newest first as given.
func RenderRuns(runs []models.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := r.State
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		rows = append(rows, []string{
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			status,
			r.Duration().Round(time.Millisecond).String(),
			r.SnapshotID,
			strconv.Itoa(r.Summary.Playlists),
			strconv.Itoa(r.Summary.Tracks),
			fmt.Sprintf("+%d/-%d", r.Summary.Added, r.Summary.Removed),
		})
	}
	return RenderTable([]string{"Started", "State", "Took", "Snapshot", "Playlists", "Tracks", "Changes"}, rows)
}
