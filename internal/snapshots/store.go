// package snapshots persists playlist snapshots on the local filesystem.
package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

const (
	// IDLayout formats capture times into snapshot ids. Fixed width, so lexical order is time order.
	IDLayout = "20060102T150405.000000Z"

	pointerFile  = "LATEST"
	lockFile     = ".lock"
	snapshotsDir = "snapshots"
	snapshotExt  = ".json"
)

// Entry describes a committed snapshot file.
type Entry struct {
	ID         string
	CapturedAt time.Time
	Path       string
	Size       int64
	Latest     bool
}

// Store keeps the snapshots of one account under <root>/<account>.
//
// Snapshots are never modified once written. A new snapshot is staged, synced and
// renamed into place before the LATEST pointer is switched to it, so a failed or
// interrupted write leaves the previous latest snapshot untouched.
type Store struct {
	account string
	dir     string
	snapDir string
	logger  *log.Logger
	now     func() time.Time
	write   func(w io.Writer, data []byte) error

	mu   sync.Mutex
	lock *flock.Flock
	held bool
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens the snapshot store for account under root. Nothing is created on disk
// until the store is initialized or locked.
func New(root, account string, opts ...Option) (*Store, error) {
	if err := shared.ValidateAccount(account); err != nil {
		return nil, err
	}
	account = strings.TrimSpace(account)

	dir := filepath.Join(root, account)
	s := &Store{
		account: account,
		dir:     dir,
		snapDir: filepath.Join(dir, snapshotsDir),
		now:     time.Now,
		write:   writeAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}

	s.lock = flock.New(filepath.Join(dir, lockFile))

	return s, nil
}

// Init creates the account and snapshot directories.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.snapDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create snapshot directory: %v", shared.ErrStore, err)
	}
	return nil
}

// Dir returns the account directory.
func (s *Store) Dir() string { return s.dir }

// Account returns the account the store belongs to.
func (s *Store) Account() string { return s.account }

// Lock takes the account's run lock without blocking. Another holder, in this or any
// other process, makes it fail with [shared.ErrConcurrentRun].
func (s *Store) Lock() (release func() error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		return nil, fmt.Errorf("%w: lock already held by this store", shared.ErrConcurrentRun)
	}
	if err := s.Init(); err != nil {
		return nil, err
	}

	ok, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire lock: %v", shared.ErrStore, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked", shared.ErrConcurrentRun, s.lock.Path())
	}
	s.held = true

	var once sync.Once
	return func() error {
		var unlockErr error
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.held = false
			if err := s.lock.Unlock(); err != nil {
				unlockErr = fmt.Errorf("%w: failed to release lock: %v", shared.ErrStore, err)
			}
		})
		return unlockErr
	}, nil
}

// ensureLocked takes the lock for the duration of one operation unless the caller already holds it.
func (s *Store) ensureLocked() (func() error, error) {
	s.mu.Lock()
	held := s.held
	s.mu.Unlock()

	if held {
		return func() error { return nil }, nil
	}
	return s.Lock()
}

// Latest returns the current snapshot, or nil when nothing has been captured yet.
//
// The LATEST pointer is authoritative. Without a pointer the newest committed file wins.
func (s *Store) Latest() (*models.Snapshot, error) {
	id, err := s.readPointer()
	if err != nil {
		return nil, err
	}

	if id == "" {
		entries, err := s.List()
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, nil
		}
		id = entries[len(entries)-1].ID
	}

	snap, err := s.Load(id)
	if err != nil {
		return nil, fmt.Errorf("%w: latest snapshot %s unreadable: %w", shared.ErrStore, id, err)
	}
	return snap, nil
}

// Load reads the snapshot with the given id.
func (s *Store) Load(id string) (*models.Snapshot, error) {
	if _, err := ParseID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", shared.ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to read snapshot %s: %v", shared.ErrStore, id, err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: snapshot %s is corrupt: %v", shared.ErrStore, id, err)
	}
	if snap.Version < 1 || snap.Version > models.SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot %s has unsupported version %d", shared.ErrStore, id, snap.Version)
	}

	snap.ID = id
	return &snap, nil
}

// List returns committed snapshots, oldest first.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.snapDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list snapshots: %v", shared.ErrStore, err)
	}

	latest, err := s.readPointer()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		id := strings.TrimSuffix(name, snapshotExt)
		capturedAt, err := ParseID(id)
		if err != nil {
			s.logger.Debug("skipping unrecognized file", "file", name)
			continue
		}

		var size int64
		if info, err := f.Info(); err == nil {
			size = info.Size()
		}

		entries = append(entries, Entry{
			ID:         id,
			CapturedAt: capturedAt,
			Path:       filepath.Join(s.snapDir, name),
			Size:       size,
			Latest:     id == latest,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	if latest == "" && len(entries) > 0 {
		entries[len(entries)-1].Latest = true
	}
	return entries, nil
}

// Previous returns the snapshot captured right before id, or nil if id is the oldest.
func (s *Store) Previous(id string) (*models.Snapshot, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	for i, e := range entries {
		if e.ID != id {
			continue
		}
		if i == 0 {
			return nil, nil
		}
		return s.Load(entries[i-1].ID)
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrSnapshotNotFound, id)
}

// Persist writes a new snapshot of playlists and publishes it as the latest one.
//
// Capture times are strictly increasing: a clock reading that is not after the
// current latest snapshot is moved one microsecond past it.
func (s *Store) Persist(ctx context.Context, provider string, playlists []models.Playlist) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStore, err)
	}

	release, err := s.ensureLocked()
	if err != nil {
		return nil, err
	}
	defer release()

	s.removeStaging()

	previous, err := s.Latest()
	if err != nil {
		return nil, err
	}

	capturedAt := s.now().UTC().Truncate(time.Microsecond)
	if previous != nil && !capturedAt.After(previous.CapturedAt) {
		capturedAt = previous.CapturedAt.Add(time.Microsecond)
	}

	snap := &models.Snapshot{
		ID:         capturedAt.Format(IDLayout),
		Version:    models.SnapshotVersion,
		Account:    s.account,
		Provider:   provider,
		CapturedAt: capturedAt,
		Playlists:  clonePlaylists(playlists),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode snapshot: %v", shared.ErrStore, err)
	}
	data = append(data, '\n')

	finalPath := s.snapshotPath(snap.ID)
	if _, err := os.Stat(finalPath); err == nil {
		return nil, fmt.Errorf("%w: snapshot %s already exists", shared.ErrStore, snap.ID)
	}

	if err := s.writeSnapshot(ctx, finalPath, data); err != nil {
		return nil, fmt.Errorf("%w: failed to write snapshot: %w", shared.ErrStore, err)
	}

	if err := s.writePointer(snap.ID); err != nil {
		if rmErr := os.Remove(finalPath); rmErr != nil {
			s.logger.Warn("failed to discard unpublished snapshot", "path", finalPath, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: failed to publish snapshot: %w", shared.ErrStore, err)
	}

	s.logger.Debug("snapshot published", "id", snap.ID, "playlists", len(snap.Playlists), "bytes", len(data))
	return snap, nil
}

// Prune deletes the oldest snapshots so that at most keep remain. The latest snapshot
// is never deleted. keep <= 0 disables pruning.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	release, err := s.ensureLocked()
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	excess := len(entries) - keep
	var removed []string
	for _, e := range entries {
		if excess <= 0 {
			break
		}
		if e.Latest {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return removed, fmt.Errorf("%w: failed to prune %s: %v", shared.ErrStore, e.ID, err)
		}
		removed = append(removed, e.ID)
		excess--
	}
	return removed, nil
}

// ParseID validates a snapshot id and returns its capture time.
func ParseID(id string) (time.Time, error) {
	t, err := time.Parse(IDLayout, id)
	if err != nil || t.Format(IDLayout) != id {
		return time.Time{}, fmt.Errorf("%w: malformed snapshot id %q", shared.ErrInvalidArgument, id)
	}
	return t, nil
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.snapDir, id+snapshotExt)
}

func (s *Store) readPointer() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, pointerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: failed to read latest pointer: %v", shared.ErrStore, err)
	}

	id := strings.TrimSpace(string(data))
	if _, err := ParseID(id); err != nil {
		return "", fmt.Errorf("%w: latest pointer is corrupt: %q", shared.ErrStore, id)
	}
	return id, nil
}

// writeSnapshot stages data next to path and renames it into place once it is on disk.
func (s *Store) writeSnapshot(ctx context.Context, path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithTempDir(s.snapDir), renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer pending.Cleanup()

	if err := s.write(pending, data); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	syncDir(s.snapDir)
	return nil
}

// writePointer switches LATEST to id.
func (s *Store) writePointer(id string) error {
	path := filepath.Join(s.dir, pointerFile)
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0644, renameio.WithTempDir(s.dir)); err != nil {
		return err
	}

	syncDir(s.dir)
	return nil
}

// stagingGlobs match the dot-prefixed temp files renameio creates beside LATEST and
// each snapshot.
func (s *Store) stagingGlobs() []string {
	return []string{
		filepath.Join(s.dir, "."+pointerFile+"*"),
		filepath.Join(s.snapDir, ".*"+snapshotExt+"*"),
	}
}

// removeStaging deletes staging files left behind by a crashed run. Callers hold the lock.
func (s *Store) removeStaging() {
	for _, pattern := range s.stagingGlobs() {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				s.logger.Warn("failed to remove stale staging file", "path", m, "error", err)
				continue
			}
			s.logger.Info("removed stale staging file", "path", m)
		}
	}
}

// syncDir flushes directory metadata so a rename survives a crash.
// Not every platform supports syncing a directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

func writeAll(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

func clonePlaylists(in []models.Playlist) []models.Playlist {
	out := make([]models.Playlist, len(in))
	for i, p := range in {
		out[i] = p
		out[i].Tracks = append([]models.Track(nil), p.Tracks...)
		if out[i].Tracks == nil {
			out[i].Tracks = []models.Track{}
		}
	}
	return out
}

// IsNotFound reports whether err means the requested snapshot does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrSnapshotNotFound)
}
