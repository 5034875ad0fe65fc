package formatter

import (
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/plbackup/internal/shared"
)

// ExportManifest summarizes a split export: one entry per playlist file written.
type ExportManifest struct {
	Account           string          `json:"account"`
	Provider          string          `json:"provider"`
	SnapshotID        string          `json:"snapshot_id"`
	CapturedAt        time.Time       `json:"captured_at"`
	Format            Format          `json:"format"`
	ExportedAt        time.Time       `json:"exported_at"`
	TotalPlaylists    int             `json:"total_playlists"`
	SuccessfulExports int             `json:"successful_exports"`
	FailedExports     int             `json:"failed_exports"`
	Playlists         []ManifestEntry `json:"playlists"`
}

// ManifestEntry is the outcome for a single playlist.
type ManifestEntry struct {
	PlaylistID string `json:"playlist_id"`
	Name       string `json:"name"`
	Tracks     int    `json:"tracks"`
	Status     string `json:"status"` // success or failed
	File       string `json:"file,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// WriteExportManifest writes m as indented JSON to path.
func WriteExportManifest(m ExportManifest, path string) error {
	data, err := shared.MarshalJSON(m, true)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
