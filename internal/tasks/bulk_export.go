package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
)

// ManifestName is the file written next to split exports.
const ManifestName = "export_manifest.json"

// BulkExportOpts contains configuration for splitting a snapshot into per-playlist files.
type BulkExportOpts struct {
	Format     formatter.Format // Export format: json, csv, markdown, txt
	OutputDir  string           // Base output directory (default: {account}_{snapshot id})
	NumWorkers int              // Concurrent workers (default: 4)
	Now        func() time.Time // Manifest timestamp clock (default: time.Now)
}

// PlaylistExportResult is the outcome of writing one playlist.
type PlaylistExportResult struct {
	PlaylistID   string
	PlaylistName string
	Tracks       int
	File         string
	Success      bool
	Error        error
}

// BulkExportResult summarizes a split export.
type BulkExportResult struct {
	TotalPlaylists    int
	SuccessfulExports int
	FailedExports     int
	Results           []PlaylistExportResult // in snapshot order
	OutputDirectory   string
	ManifestPath      string
}

type exportJob struct {
	index    int
	playlist models.Playlist
}

// BulkExport writes every playlist of snap to its own file using a small worker pool,
// then writes a manifest describing each file. A failed playlist does not stop the others.
func BulkExport(ctx context.Context, prog chan<- ProgressUpdate, snap *models.Snapshot, opts BulkExportOpts) (*BulkExportResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nothing to export", shared.ErrSnapshotNotFound)
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("%s_%s", shared.SanitizePathSegment(snap.Account), snap.ID)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	total := len(snap.Playlists)
	result := &BulkExportResult{
		TotalPlaylists:  total,
		OutputDirectory: opts.OutputDir,
		Results:         make([]PlaylistExportResult, total),
	}

	jobs := make(chan exportJob, total)
	done := make(chan exportJob, total)

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result.Results[job.index] = exportSinglePlaylist(ctx, snap, job.playlist, opts)
				done <- job
			}
		}()
	}

	for i, p := range snap.Playlists {
		jobs <- exportJob{index: i, playlist: p}
		sendProgress(prog, exportingPlaylistUpdate(i+1, total, p.Name))
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(done)
	}()

	completed := 0
	for job := range done {
		completed++
		res := result.Results[job.index]
		if res.Success {
			sendProgress(prog, exportCompletedUpdate(completed, total, res.PlaylistName, res.File))
		} else {
			sendProgress(prog, exportFailedUpdate(completed, total, res.PlaylistName, res.Error))
		}
	}

	manifest := formatter.ExportManifest{
		Account:        snap.Account,
		Provider:       snap.Provider,
		SnapshotID:     snap.ID,
		CapturedAt:     snap.CapturedAt,
		Format:         opts.Format,
		ExportedAt:     opts.Now().UTC(),
		TotalPlaylists: total,
		Playlists:      make([]formatter.ManifestEntry, 0, total),
	}
	for _, res := range result.Results {
		entry := formatter.ManifestEntry{
			PlaylistID: res.PlaylistID,
			Name:       res.PlaylistName,
			Tracks:     res.Tracks,
			Status:     formatter.StatusSuccess,
		}
		if res.Success {
			result.SuccessfulExports++
			entry.File = filepath.Base(res.File)
		} else {
			result.FailedExports++
			entry.Status = formatter.StatusFailed
			entry.Error = res.Error.Error()
		}
		manifest.Playlists = append(manifest.Playlists, entry)
	}
	manifest.SuccessfulExports = result.SuccessfulExports
	manifest.FailedExports = result.FailedExports

	manifestPath := filepath.Join(opts.OutputDir, ManifestName)
	if err := formatter.WriteExportManifest(manifest, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// exportSinglePlaylist renders one playlist and writes it as {playlist id}.{ext}.
func exportSinglePlaylist(ctx context.Context, snap *models.Snapshot, p models.Playlist, opts BulkExportOpts) PlaylistExportResult {
	result := PlaylistExportResult{
		PlaylistID:   p.ID,
		PlaylistName: p.Name,
		Tracks:       len(p.Tracks),
	}

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	data, err := formatter.ExportPlaylist(snap, p, opts.Format)
	if err != nil {
		result.Error = fmt.Errorf("%s export failed: %w", opts.Format, err)
		return result
	}

	path := filepath.Join(opts.OutputDir, shared.SanitizePathSegment(p.ID)+"."+opts.Format.Ext())
	if err := os.WriteFile(path, data, 0644); err != nil {
		result.Error = fmt.Errorf("%s write failed: %w", opts.Format, err)
		return result
	}

	result.File = path
	result.Success = true
	return result
}
