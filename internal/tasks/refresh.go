package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/services"
	"github.com/desertthunder/plbackup/internal/shared"
)

// State is a step of the refresh state machine.
type State int

const (
	StateStart State = iota
	StateAuthenticated
	StateFetched
	StateDiffed
	StatePersisted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthenticated:
		return "authenticated"
	case StateFetched:
		return "fetched"
	case StateDiffed:
		return "diffed"
	case StatePersisted:
		return "persisted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return ""
	}
}

// SnapshotStore is the part of the snapshot store a refresh needs.
type SnapshotStore interface {
	Lock() (release func() error, err error)
	Latest() (*models.Snapshot, error)
	Persist(ctx context.Context, provider string, playlists []models.Playlist) (*models.Snapshot, error)
	Prune(keep int) ([]string, error)
}

// RunRecorder keeps the journal of refresh runs.
type RunRecorder interface {
	Record(ctx context.Context, run *models.Run) error
}

// RefreshRequest holds the inputs of a single refresh.
type RefreshRequest struct {
	Account    string
	Credential services.Credential
	Timeout    time.Duration // zero means no deadline beyond ctx
	Keep       int           // snapshots to retain, zero keeps all
}

// RefreshResult contains everything a refresh produced, including partial data on failure.
type RefreshResult struct {
	RunID      string
	State      State // StateDone or StateFailed
	FailedFrom State // last state reached before failing
	Snapshot   *models.Snapshot
	PreviousID string
	Changes    map[string]models.ChangeRecord
	Summary    models.Summary
	Pruned     []string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// RefreshEngine runs one capture cycle: lock, authenticate, fetch, diff, persist.
type RefreshEngine struct {
	remote   services.Remote
	store    SnapshotStore
	recorder RunRecorder
	logger   *log.Logger
	now      func() time.Time
}

type EngineOption func(*RefreshEngine)

// WithRecorder journals every run, successful or not.
func WithRecorder(r RunRecorder) EngineOption {
	return func(e *RefreshEngine) { e.recorder = r }
}

func WithLogger(l *log.Logger) EngineOption {
	return func(e *RefreshEngine) { e.logger = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *RefreshEngine) { e.now = now }
}

// NewRefreshEngine creates a new RefreshEngine
func NewRefreshEngine(remote services.Remote, store SnapshotStore, opts ...EngineOption) *RefreshEngine {
	e := &RefreshEngine{
		remote: remote,
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = shared.NewLogger(nil)
	}
	return e
}

// Run performs one refresh cycle and reports each transition on progress.
//
// The run lock is taken before any network call, so an overlapping run fails fast with
// [shared.ErrConcurrentRun]. Nothing is retried at this level. The returned result is never
// nil and carries the failure state alongside the error. Pruning and journaling happen after
// the snapshot is durable and only log on failure.
func (e *RefreshEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, req RefreshRequest) (*RefreshResult, error) {
	result := &RefreshResult{
		RunID:     shared.GenerateID(),
		State:     StateStart,
		StartedAt: e.now().UTC(),
	}
	logger := e.logger.With("run", result.RunID, "account", req.Account)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	phase := LockStore
	fail := func(err error) (*RefreshResult, error) {
		result.FailedFrom = result.State
		result.State = StateFailed
		result.Err = err
		result.FinishedAt = e.now().UTC()
		sendProgress(progress, failedUpdate(phase, result.FailedFrom, err))
		logger.Error("refresh failed", "phase", phase, "state", result.FailedFrom, "kind", shared.ErrorKind(err), "err", err)
		e.record(ctx, req, result)
		return result, err
	}

	if e.remote == nil || e.store == nil {
		return fail(fmt.Errorf("%w: refresh engine is missing its remote or store", shared.ErrInvalidConfig))
	}
	if req.Account == "" {
		return fail(fmt.Errorf("%w: account", shared.ErrMissingArgument))
	}

	release, err := e.store.Lock()
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn("failed to release run lock", "err", err)
		}
	}()

	phase = Authenticate
	if err := req.Credential.Validate(); err != nil {
		return fail(err)
	}
	sess, err := e.remote.Authenticate(ctx, req.Credential)
	if err != nil {
		return fail(err)
	}
	result.State = StateAuthenticated
	logger.Debug("authenticated", "provider", e.remote.Name(), "user", sess.UserID)
	sendProgress(progress, authenticatedUpdate(e.remote.Name(), sess.Login))

	phase = FetchPlaylists
	playlists, err := e.remote.FetchAllPlaylists(ctx, sess, req.Account)
	if err != nil {
		return fail(err)
	}
	result.State = StateFetched
	sendProgress(progress, fetchedUpdate(playlists))

	phase = ComparePlaylists
	previous, err := e.store.Latest()
	if err != nil {
		return fail(err)
	}
	if previous != nil {
		result.PreviousID = previous.ID
	}
	changes, err := Diff(previous, playlists)
	if err != nil {
		return fail(err)
	}
	result.Changes = changes
	result.Summary = Summarize(changes, playlists)
	result.State = StateDiffed
	sendProgress(progress, diffedUpdate(result.Summary, result.PreviousID))

	phase = PersistSnapshot
	snap, err := e.store.Persist(ctx, e.remote.Name(), playlists)
	if err != nil {
		return fail(err)
	}
	result.Snapshot = snap
	result.State = StatePersisted
	sendProgress(progress, persistedUpdate(snap))

	if req.Keep > 0 {
		phase = PruneSnapshots
		pruned, err := e.store.Prune(req.Keep)
		if err != nil {
			logger.Warn("failed to prune old snapshots", "keep", req.Keep, "err", err)
		} else if len(pruned) > 0 {
			result.Pruned = pruned
			logger.Debug("pruned snapshots", "removed", len(pruned))
			sendProgress(progress, prunedUpdate(pruned))
		}
	}

	result.State = StateDone
	result.FinishedAt = e.now().UTC()
	sendProgress(progress, doneUpdate(result.Summary))
	logger.Info("refresh complete",
		"snapshot", snap.ID,
		"playlists", result.Summary.Playlists,
		"tracks", result.Summary.Tracks,
		"added", result.Summary.Added,
		"removed", result.Summary.Removed,
	)
	e.record(ctx, req, result)
	return result, nil
}

// record journals the run. The journal must not turn a finished run into a failure,
// and a run that failed on its deadline still gets recorded.
func (e *RefreshEngine) record(ctx context.Context, req RefreshRequest, result *RefreshResult) {
	if e.recorder == nil {
		return
	}

	run := &models.Run{
		ID:         result.RunID,
		Account:    req.Account,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		State:      result.State.String(),
		ErrorKind:  shared.ErrorKind(result.Err),
		Summary:    result.Summary,
	}
	if e.remote != nil {
		run.Provider = e.remote.Name()
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	if result.Snapshot != nil {
		run.SnapshotID = result.Snapshot.ID
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.Record(ctx, run); err != nil {
		e.logger.Warn("failed to record run", "run", run.ID, "err", err)
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

