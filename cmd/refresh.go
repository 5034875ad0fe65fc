package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/repositories"
	"github.com/desertthunder/plbackup/internal/services"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/desertthunder/plbackup/internal/snapshots"
	"github.com/desertthunder/plbackup/internal/tasks"
	"github.com/urfave/cli/v3"
)

// journalFile is the run journal inside an account directory.
const journalFile = "history.db"

// refreshReport is the --json output of refresh.
type refreshReport struct {
	RunID      string                `json:"run_id"`
	Account    string                `json:"account"`
	Provider   string                `json:"provider"`
	State      string                `json:"state"`
	SnapshotID string                `json:"snapshot_id"`
	PreviousID string                `json:"previous_id,omitempty"`
	Summary    models.Summary        `json:"summary"`
	Changes    []models.ChangeRecord `json:"changes"`
	Pruned     []string              `json:"pruned,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	Took       string                `json:"took"`
}

// Refresh runs one capture cycle for --user and prints what changed.
func (r *Runner) Refresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(cmd); err != nil {
		return err
	}

	cfg, err := r.refreshConfig(cmd)
	if err != nil {
		return err
	}

	store, err := r.openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return err
	}
	account := store.Account()

	logger := shared.WithLogger(r.logger, "provider", cfg.Remote.Provider)
	remote, err := r.newRemote(cfg, logger)
	if err != nil {
		return err
	}

	opts := []tasks.EngineOption{tasks.WithLogger(logger)}
	journal, closeJournal, err := repositories.OpenRunRepository(filepath.Join(store.Dir(), journalFile))
	if err != nil {
		logger.Warn("run journal unavailable, this run will not be recorded", "err", err)
	} else {
		defer closeJournal()
		opts = append(opts, tasks.WithRecorder(journal))
	}

	engine := tasks.NewRefreshEngine(remote, store, opts...)

	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Debug(update.Message, "phase", update.Phase, "state", update.State)
		}
	}()

	result, err := engine.Run(ctx, progress, tasks.RefreshRequest{
		Account:    account,
		Credential: services.Credential{Token: r.getenv(cfg.Remote.TokenEnv)},
		Timeout:    cfg.Run.Timeout,
		Keep:       cfg.Store.Keep,
	})
	close(progress)
	<-done

	if err != nil {
		return reported(err)
	}

	changes := tasks.SortedChanges(result.Changes)

	if cmd.Bool("json") {
		return r.writeJSON(refreshReport{
			RunID:      result.RunID,
			Account:    account,
			Provider:   result.Snapshot.Provider,
			State:      result.State.String(),
			SnapshotID: result.Snapshot.ID,
			PreviousID: result.PreviousID,
			Summary:    result.Summary,
			Changes:    changes,
			Pruned:     result.Pruned,
			StartedAt:  result.StartedAt,
			Took:       result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond).String(),
		}, true)
	}

	r.writePlain("%s", formatter.RenderSummary(account, result.Snapshot.ID, result.Summary))
	if len(changes) > 0 {
		names := formatter.TrackNames(r.previousSnapshot(store, result.PreviousID), result.Snapshot)
		r.writePlainln("%s", strings.TrimRight(formatter.RenderChanges(changes, names), "\n"))
	}
	if len(result.Pruned) > 0 {
		r.writePlain("Pruned %d old snapshot(s)\n", len(result.Pruned))
	}
	return nil
}

// refreshConfig copies the loaded configuration and applies the refresh flags.
func (r *Runner) refreshConfig(cmd *cli.Command) (*shared.Config, error) {
	cfg := *r.config

	if proxy := cmd.String("proxy"); proxy != "" {
		cfg.Remote.Proxy = proxy
	}
	if provider := cmd.String("provider"); provider != "" {
		cfg.Remote.Provider = strings.ToLower(provider)
	}
	if timeout := cmd.Duration("timeout"); timeout > 0 {
		cfg.Run.Timeout = timeout
	}
	if keep := cmd.Int("keep"); keep >= 0 {
		cfg.Store.Keep = keep
	}
	if cmd.Bool("no-likes") {
		cfg.Run.Likes = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// previousSnapshot loads the snapshot a refresh was compared against, for track names
// of removed tracks. A missing one only costs readability.
func (r *Runner) previousSnapshot(store *snapshots.Store, id string) *models.Snapshot {
	if id == "" {
		return nil
	}
	snap, err := store.Load(id)
	if snapshots.IsNotFound(err) {
		r.logger.Debug("previous snapshot was pruned", "id", id)
		return nil
	}
	if err != nil {
		r.logger.Warn("previous snapshot unreadable", "id", id, "err", err)
		return nil
	}
	return snap
}
