package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/repositories"
	"github.com/urfave/cli/v3"
)

// historyEntry is the --json form of a journaled run.
type historyEntry struct {
	ID         string         `json:"id"`
	Provider   string         `json:"provider"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	State      string         `json:"state"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	SnapshotID string         `json:"snapshot_id,omitempty"`
	Summary    models.Summary `json:"summary"`
}

// History prints the most recent refresh runs of --user, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}

	path := filepath.Join(store.Dir(), journalFile)
	var (
		runs []models.Run
		last *models.Run
	)
	if _, err := os.Stat(path); err == nil {
		journal, closeJournal, err := repositories.OpenRunRepository(path)
		if err != nil {
			return err
		}
		defer closeJournal()

		if runs, err = journal.List(ctx, store.Account(), cmd.Int("limit")); err != nil {
			return err
		}
		if last, err = journal.LastSuccess(ctx, store.Account()); err != nil {
			return err
		}
	} else {
		r.logger.Debug("no run journal yet", "path", path)
	}

	if cmd.Bool("json") {
		out := make([]historyEntry, len(runs))
		for i, run := range runs {
			out[i] = historyEntry{
				ID:         run.ID,
				Provider:   run.Provider,
				StartedAt:  run.StartedAt,
				FinishedAt: run.FinishedAt,
				State:      run.State,
				ErrorKind:  run.ErrorKind,
				Error:      run.Error,
				SnapshotID: run.SnapshotID,
				Summary:    run.Summary,
			}
		}
		return r.writeJSON(out, true)
	}

	if len(runs) == 0 {
		return r.writePlain("No runs recorded for %s\n", store.Account())
	}
	if err := r.writePlain("%s", formatter.RenderRuns(runs)); err != nil {
		return err
	}
	if last == nil {
		return r.writePlain("No successful run yet\n")
	}
	return r.writePlain("Last successful run: %s at %s (snapshot %s)\n",
		last.ID, last.StartedAt.Local().Format(time.DateTime), last.SnapshotID)
}
