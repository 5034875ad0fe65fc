// package formatter renders snapshots to export formats (CSV, Markdown, plain text, JSON)
// and change reports for the terminal
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
)

// Format is an export format name as accepted on the command line.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatCSV, FormatMarkdown, FormatText, FormatJSON}

// ParseFormat resolves a format name. "md" and "text" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want csv, markdown, txt or json)", shared.ErrInvalidArgument, s)
	}
}

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// csvHeaders keeps the column names of the original tracks.csv and adds the playlist context.
var csvHeaders = []string{
	"playlist_id", "playlist", "position", "track_id", "artist", "title", "album", "duration_ms", "added_at", "is_deleted",
}

// Export renders the snapshot in the given format.
func Export(snap *models.Snapshot, f Format) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshot to export", shared.ErrSnapshotNotFound)
	}

	switch f {
	case FormatCSV:
		return ExportToCSV(snap)
	case FormatMarkdown:
		return ExportToMarkdown(snap)
	case FormatText:
		return ExportToText(snap)
	case FormatJSON:
		return ExportToJSON(snap)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, f)
	}
}

// ExportPlaylist renders a single playlist of snap, keeping the snapshot header.
func ExportPlaylist(snap *models.Snapshot, p models.Playlist, f Format) ([]byte, error) {
	single := &models.Snapshot{
		ID:         snap.ID,
		Version:    snap.Version,
		Account:    snap.Account,
		Provider:   snap.Provider,
		CapturedAt: snap.CapturedAt,
		Playlists:  []models.Playlist{p},
	}
	return Export(single, f)
}

// ExportToCSV writes one row per track across all playlists.
func ExportToCSV(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, p := range snap.Playlists {
		for i, track := range p.Tracks {
			record := []string{
				p.ID,
				p.Name,
				strconv.Itoa(i + 1),
				track.ID,
				track.Artist,
				track.Title,
				track.Album,
				strconv.Itoa(track.DurationMS),
				formatTime(track.AddedAt),
				boolDigit(!track.Available),
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown writes a document with one section per playlist.
// Unavailable tracks are struck through.
func ExportToMarkdown(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s (%s)\n\n", snap.Account, snap.Provider))
	buf.WriteString(fmt.Sprintf("**Captured**: %s\n", formatTime(snap.CapturedAt)))
	buf.WriteString(fmt.Sprintf("**Playlists**: %d\n", len(snap.Playlists)))
	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", snap.TrackCount()))

	for _, p := range snap.Playlists {
		buf.WriteString(fmt.Sprintf("\n## %s\n\n", p.Name))
		if p.Owner != "" {
			buf.WriteString(fmt.Sprintf("**Owner**: %s\n", p.Owner))
		}
		buf.WriteString(fmt.Sprintf("**Tracks**: %d\n\n", len(p.Tracks)))

		for i, track := range p.Tracks {
			albumPart := ""
			if track.Album != "" {
				albumPart = fmt.Sprintf(" (%s)", track.Album)
			}
			line := fmt.Sprintf("%s%s [%s]", track.FullName(), albumPart, FormatDuration(track.DurationMS))
			if !track.Available {
				line = "~~" + line + "~~ *unavailable*"
			}
			buf.WriteString(fmt.Sprintf("%d. %s\n", i+1, line))
		}
	}

	return buf.Bytes(), nil
}

// ExportToText writes a plain listing, one "Artist - Title" line per track.
func ExportToText(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Account: %s (%s)\n", snap.Account, snap.Provider))
	buf.WriteString(fmt.Sprintf("Captured: %s\n", formatTime(snap.CapturedAt)))

	for _, p := range snap.Playlists {
		buf.WriteString(fmt.Sprintf("\nPlaylist: %s\n", p.Name))
		buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(p.Tracks)))
		for i, track := range p.Tracks {
			suffix := ""
			if !track.Available {
				suffix = " [unavailable]"
			}
			buf.WriteString(fmt.Sprintf("%d. %s%s\n", i+1, track.FullName(), suffix))
		}
	}

	return buf.Bytes(), nil
}

// ExportToJSON writes the snapshot exactly as it is stored.
func ExportToJSON(snap *models.Snapshot) ([]byte, error) {
	data, err := shared.MarshalJSON(snap, true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteExport renders snap and writes it to path.
//
// Defaults to {account}_{snapshot id}.{ext} in the working directory.
func WriteExport(snap *models.Snapshot, f Format, path string) (string, error) {
	data, err := Export(snap, f)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = DefaultExportName(snap, f)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s export: %w", f, err)
	}
	return path, nil
}

// DefaultExportName is the file name used when no output path is given.
func DefaultExportName(snap *models.Snapshot, f Format) string {
	id := snap.ID
	if id == "" {
		id = snap.CapturedAt.UTC().Format("20060102T150405Z")
	}
	return fmt.Sprintf("%s_%s.%s", shared.SanitizePathSegment(snap.Account), id, f.Ext())
}

// FormatDuration renders milliseconds as m:ss, or h:mm:ss past an hour.
func FormatDuration(ms int) string {
	if ms <= 0 {
		return "0:00"
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
