package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/desertthunder/plbackup/internal/snapshots"
	"github.com/desertthunder/plbackup/internal/tasks"
	"github.com/urfave/cli/v3"
)

// snapshotEntry is the --json form of a listed snapshot.
type snapshotEntry struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Size       int64     `json:"size"`
	Latest     bool      `json:"latest"`
}

// snapshotDiff is the --json output of snapshots diff.
type snapshotDiff struct {
	From    string                `json:"from,omitempty"`
	To      string                `json:"to"`
	Summary models.Summary        `json:"summary"`
	Changes []models.ChangeRecord `json:"changes"`
}

// SnapshotsList prints the stored snapshots of --user, oldest first.
func (r *Runner) SnapshotsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}

	entries, err := store.List()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := make([]snapshotEntry, len(entries))
		for i, e := range entries {
			out[i] = snapshotEntry{ID: e.ID, CapturedAt: e.CapturedAt, Size: e.Size, Latest: e.Latest}
		}
		return r.writeJSON(out, true)
	}

	if len(entries) == 0 {
		return r.writePlain("No snapshots for %s\n", store.Account())
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		latest := ""
		if e.Latest {
			latest = "*"
		}
		rows[i] = []string{e.ID, e.CapturedAt.Local().Format(time.DateTime), formatSize(e.Size), latest}
	}
	r.writePlain("%s", formatter.RenderTable([]string{"ID", "Captured", "Size", "Latest"}, rows))
	return r.writePlain("%d snapshot(s)\n", len(entries))
}

// SnapshotsShow prints the playlists of a snapshot, the latest by default.
func (r *Runner) SnapshotsShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(store, cmd.String("id"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(snap, true)
	}

	r.writePlain("Snapshot %s (%s, %d playlists, %d tracks)\n",
		snap.ID, snap.Provider, len(snap.Playlists), snap.TrackCount())

	rows := make([][]string, len(snap.Playlists))
	for i, p := range snap.Playlists {
		unavailable := 0
		for _, t := range p.Tracks {
			if !t.Available {
				unavailable++
			}
		}
		rows[i] = []string{p.ID, p.Name, p.Owner, strconv.Itoa(len(p.Tracks)), strconv.Itoa(unavailable)}
	}
	return r.writePlain("%s", formatter.RenderTable([]string{"ID", "Name", "Owner", "Tracks", "Unavailable"}, rows))
}

// SnapshotsDiff compares two stored snapshots. Without flags it compares the latest
// snapshot with the one before it.
func (r *Runner) SnapshotsDiff(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}

	to, err := loadSnapshot(store, cmd.String("to"))
	if err != nil {
		return err
	}

	var from *models.Snapshot
	if id := cmd.String("from"); id != "" {
		from, err = store.Load(id)
	} else {
		from, err = store.Previous(to.ID)
	}
	if err != nil {
		return err
	}
	if from != nil && from.ID >= to.ID {
		return fmt.Errorf("%w: --from %s is not older than --to %s", shared.ErrInvalidArgument, from.ID, to.ID)
	}

	changes, err := tasks.Diff(from, to.Playlists)
	if err != nil {
		return err
	}
	records := tasks.SortedChanges(changes)
	summary := tasks.Summarize(changes, to.Playlists)

	if cmd.Bool("json") {
		out := snapshotDiff{To: to.ID, Summary: summary, Changes: records}
		if from != nil {
			out.From = from.ID
		}
		return r.writeJSON(out, true)
	}

	if from == nil {
		r.writePlain("%s is the oldest snapshot, comparing against nothing\n", to.ID)
	} else {
		r.writePlain("Changes from %s to %s\n", from.ID, to.ID)
	}
	r.writePlain("%s", formatter.RenderSummary(store.Account(), to.ID, summary))
	return r.writePlainln("%s", strings.TrimRight(formatter.RenderChanges(records, formatter.TrackNames(from, to)), "\n"))
}

// SnapshotsExport writes a snapshot in one of the export formats. With --split every
// playlist gets its own file and a manifest is written next to them.
func (r *Runner) SnapshotsExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(store, cmd.String("id"))
	if err != nil {
		return err
	}

	if !cmd.Bool("split") {
		path, err := formatter.WriteExport(snap, format, cmd.String("output"))
		if err != nil {
			return err
		}
		r.logger.Info("snapshot exported", "id", snap.ID, "format", format, "path", path)
		return r.writePlain("Exported %d playlists to %s\n", len(snap.Playlists), path)
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Debug(update.Message, "step", update.Step, "total", update.Total)
		}
	}()

	result, err := tasks.BulkExport(ctx, progress, snap, tasks.BulkExportOpts{
		Format:     format,
		OutputDir:  cmd.String("output"),
		NumWorkers: cmd.Int("workers"),
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	for _, res := range result.Results {
		if !res.Success {
			r.logger.Warn("playlist export failed", "playlist", res.PlaylistName, "err", res.Error)
		}
	}

	r.writePlain("Exported %d/%d playlists to %s\n", result.SuccessfulExports, result.TotalPlaylists, result.OutputDirectory)
	r.writePlain("Manifest: %s\n", result.ManifestPath)
	if result.FailedExports > 0 {
		return fmt.Errorf("%d playlist export(s) failed", result.FailedExports)
	}
	return nil
}

// loadSnapshot loads id, or the latest snapshot when id is empty.
func loadSnapshot(store *snapshots.Store, id string) (*models.Snapshot, error) {
	if id != "" {
		return store.Load(id)
	}

	snap, err := store.Latest()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshots for %s yet, run refresh first", shared.ErrSnapshotNotFound, store.Account())
	}
	return snap, nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
