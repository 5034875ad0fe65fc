package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

const runColumns = `
	id, account, provider, started_at, finished_at, state, error_kind, error, snapshot_id,
	playlists, tracks, new_playlists, removed_playlists, added, removed, reordered, unavailable, restored
`

// RunRepository persists [models.Run] journal entries.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// OpenRunRepository opens (or creates) the journal database at path and applies pending migrations.
// The returned close function releases the connection.
func OpenRunRepository(path string) (*RunRepository, func() error, error) {
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, nil, err
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return NewRunRepository(db), db.Close, nil
}

// Record inserts a run. A missing id is generated.
func (r *RunRepository) Record(ctx context.Context, run *models.Run) error {
	if run.Account == "" {
		return fmt.Errorf("%w: run account", shared.ErrMissingArgument)
	}
	if run.ID == "" {
		run.ID = shared.GenerateID()
	}

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s := run.Summary
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Account,
		run.Provider,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.State,
		run.ErrorKind,
		run.Error,
		run.SnapshotID,
		s.Playlists,
		s.Tracks,
		s.NewPlaylists,
		s.RemovedPlaylists,
		s.Added,
		s.Removed,
		s.Reordered,
		s.Unavailable,
		s.Restored,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs of account, newest first.
// limit <= 0 uses [DefaultListLimit].
func (r *RunRepository) List(ctx context.Context, account string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE account = ? ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// LastSuccess returns the newest run of account that reached the done state, or nil.
func (r *RunRepository) LastSuccess(ctx context.Context, account string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE account = ? AND state = 'done' ORDER BY started_at DESC, id DESC LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, account))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun reads one row in runColumns order.
func scanRun(row scanner) (*models.Run, error) {
	var (
		run        models.Run
		startedAt  time.Time
		finishedAt time.Time
	)

	s := &run.Summary
	err := row.Scan(
		&run.ID, &run.Account, &run.Provider, &startedAt, &finishedAt,
		&run.State, &run.ErrorKind, &run.Error, &run.SnapshotID,
		&s.Playlists, &s.Tracks, &s.NewPlaylists, &s.RemovedPlaylists,
		&s.Added, &s.Removed, &s.Reordered, &s.Unavailable, &s.Restored,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.StartedAt = startedAt.UTC()
	run.FinishedAt = finishedAt.UTC()
	return &run, nil
}
