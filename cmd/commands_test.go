package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/services"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/desertthunder/plbackup/internal/snapshots"
	tu "github.com/desertthunder/plbackup/internal/testing"
)

const testToken = "secret-token"

type fakeRemote struct {
	mu        sync.Mutex
	playlists []models.Playlist
	err       error
	fetches   int
	cfg       *shared.Config
}

func newFakeRemote(playlists ...models.Playlist) *fakeRemote {
	return &fakeRemote{playlists: playlists}
}

func (f *fakeRemote) factory(cfg *shared.Config, _ *log.Logger) (services.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return f, nil
}

func (f *fakeRemote) Name() string { return shared.ProviderSpotify }

func (f *fakeRemote) Authenticate(ctx context.Context, cred services.Credential) (*services.Session, error) {
	if cred.Token != testToken {
		return nil, fmt.Errorf("%w: status 401", shared.ErrAuth)
	}
	return &services.Session{Provider: f.Name(), UserID: "alice", Login: "alice"}, nil
}

func (f *fakeRemote) FetchAllPlaylists(ctx context.Context, s *services.Session, account string) ([]models.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Playlist, len(f.playlists))
	for i, p := range f.playlists {
		out[i] = p
		out[i].Tracks = append([]models.Track(nil), p.Tracks...)
	}
	return out, nil
}

func (f *fakeRemote) set(playlists ...models.Playlist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists = playlists
}

// harness runs the CLI against a temp data dir and a fake remote.
type harness struct {
	t      *testing.T
	dir    string
	out    bytes.Buffer
	logs   bytes.Buffer
	env    map[string]string
	remote *fakeRemote
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:   t,
		dir: filepath.Join(t.TempDir(), "backups"),
		env: map[string]string{"PLBACKUP_TOKEN": testToken},
		remote: newFakeRemote(
			tu.Playlist("p1", "Road Trip", "a1", "a2"),
			tu.Playlist("p2", "Focus", "b1"),
		),
	}
}

func (h *harness) run(args ...string) error {
	h.t.Helper()
	h.out.Reset()

	runner := NewRunner(RunnerOpts{
		Config:    shared.DefaultConfig(),
		Output:    &h.out,
		LogOutput: &h.logs,
		Getenv:    func(k string) string { return h.env[k] },
		NewRemote: h.remote.factory,
	})
	defer runner.close()

	argv := append([]string{"plbackup", "--data-dir", h.dir}, args...)
	return runner.app().Run(context.Background(), argv)
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	if err := h.run(args...); err != nil {
		h.t.Fatalf("%s failed: %v\nlogs:\n%s", strings.Join(args, " "), err, h.logs.String())
	}
	return h.out.String()
}

func (h *harness) snapshotFiles() []string {
	h.t.Helper()
	files, err := filepath.Glob(filepath.Join(h.dir, "alice", "snapshots", "*.json"))
	if err != nil {
		h.t.Fatal(err)
	}
	return files
}

func TestRefreshCommand(t *testing.T) {
	t.Run("first run captures everything as new", func(t *testing.T) {
		h := newHarness(t)

		out := h.mustRun("refresh", "-u", "alice")

		if !strings.Contains(out, "Snapshot ") || !strings.Contains(out, "new playlists: 2") {
			t.Errorf("unexpected summary:\n%s", out)
		}
		if !strings.Contains(out, "Road Trip (new)") {
			t.Errorf("expected change list, got:\n%s", out)
		}
		if n := len(h.snapshotFiles()); n != 1 {
			t.Errorf("expected 1 snapshot, got %d", n)
		}
		tu.AssertFileExists(t, filepath.Join(h.dir, "alice", journalFile))
	})

	t.Run("unchanged playlists report no changes", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("refresh", "-u", "alice")

		out := h.mustRun("refresh", "-u", "alice")
		if !strings.Contains(out, "No changes detected") {
			t.Errorf("expected no changes, got:\n%s", out)
		}
		if n := len(h.snapshotFiles()); n != 2 {
			t.Errorf("expected 2 snapshots, got %d", n)
		}
	})

	t.Run("changes are named after the tracks", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("refresh", "-u", "alice")

		h.remote.set(
			tu.Playlist("p1", "Road Trip", "a1", "a3"),
			tu.Playlist("p2", "Focus", "b1"),
		)
		out := h.mustRun("refresh", "-u", "alice")

		for _, want := range []string{"added tracks: 1", "removed tracks: 1", "+ Artist a3 - Song a3", "- Artist a2 - Song a2"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json output", func(t *testing.T) {
		h := newHarness(t)

		out := h.mustRun("refresh", "-u", "alice", "--json")

		var report refreshReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if report.State != "done" || report.Account != "alice" || report.SnapshotID == "" {
			t.Errorf("unexpected report: %+v", report)
		}
		if report.Summary.Playlists != 2 || report.Summary.Tracks != 3 || len(report.Changes) != 2 {
			t.Errorf("unexpected summary: %+v", report.Summary)
		}
	})

	t.Run("missing token fails with the auth exit code", func(t *testing.T) {
		h := newHarness(t)
		delete(h.env, "PLBACKUP_TOKEN")

		err := h.run("refresh", "-u", "alice")
		if !errors.Is(err, shared.ErrAuth) {
			t.Fatalf("expected ErrAuth, got %v", err)
		}
		if shared.ExitCode(err) != shared.ExitAuth {
			t.Errorf("expected exit code %d, got %d", shared.ExitAuth, shared.ExitCode(err))
		}
		if !isReported(err) {
			t.Error("refresh failures are logged by the engine")
		}
		if h.remote.fetches != 0 {
			t.Error("nothing should be fetched without a credential")
		}
		if n := len(h.snapshotFiles()); n != 0 {
			t.Errorf("expected no snapshot, got %d", n)
		}
	})

	t.Run("remote failure keeps the store untouched", func(t *testing.T) {
		h := newHarness(t)
		h.remote.err = fmt.Errorf("%w: status 503", shared.ErrRemote)

		err := h.run("refresh", "-u", "alice")
		if shared.ExitCode(err) != shared.ExitRemote {
			t.Fatalf("expected exit code %d, got %d (%v)", shared.ExitRemote, shared.ExitCode(err), err)
		}
		if n := len(h.snapshotFiles()); n != 0 {
			t.Errorf("expected no snapshot, got %d", n)
		}
	})

	t.Run("flags override the configuration", func(t *testing.T) {
		h := newHarness(t)

		h.mustRun("refresh", "-u", "alice", "-x", "127.0.0.1:8080", "--no-likes", "--timeout", "5s", "--keep", "2", "--provider", "YANDEX")

		cfg := h.remote.cfg
		if cfg.Remote.Proxy != "127.0.0.1:8080" || cfg.Run.Likes || cfg.Run.Timeout != 5*time.Second || cfg.Store.Keep != 2 {
			t.Errorf("overrides not applied: %+v %+v %+v", cfg.Remote, cfg.Run, cfg.Store)
		}
		if cfg.Remote.Provider != shared.ProviderYandex {
			t.Errorf("expected provider %s, got %s", shared.ProviderYandex, cfg.Remote.Provider)
		}
	})

	t.Run("unknown provider is a config error", func(t *testing.T) {
		h := newHarness(t)

		err := h.run("refresh", "-u", "alice", "--provider", "deezer")
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
		if shared.ExitCode(err) != shared.ExitFailure {
			t.Errorf("expected exit code %d, got %d", shared.ExitFailure, shared.ExitCode(err))
		}
	})

	t.Run("user is required", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run("refresh"); err == nil {
			t.Fatal("expected error without --user")
		}
	})

	t.Run("account locked by another run", func(t *testing.T) {
		h := newHarness(t)
		holder, err := snapshots.New(h.dir, "alice")
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		release, err := holder.Lock()
		if err != nil {
			t.Fatalf("failed to take lock: %v", err)
		}
		defer release()

		err = h.run("refresh", "-u", "alice")
		if !errors.Is(err, shared.ErrConcurrentRun) {
			t.Fatalf("expected ErrConcurrentRun, got %v", err)
		}
		if shared.ExitCode(err) != shared.ExitConcurrent {
			t.Errorf("expected exit code %d, got %d", shared.ExitConcurrent, shared.ExitCode(err))
		}
		if !isReported(err) {
			t.Error("refresh failures are logged by the engine")
		}
		if h.remote.fetches != 0 {
			t.Error("nothing should be fetched while another run holds the lock")
		}
		if n := len(h.snapshotFiles()); n != 0 {
			t.Errorf("expected no snapshot, got %d", n)
		}

		release()
		h.mustRun("refresh", "-u", "alice")
		if n := len(h.snapshotFiles()); n != 1 {
			t.Errorf("expected a snapshot once the lock is free, got %d", n)
		}
	})

	t.Run("account with a path separator is rejected", func(t *testing.T) {
		h := newHarness(t)

		err := h.run("refresh", "-u", "a/b")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if _, statErr := os.Stat(filepath.Join(h.dir, "a_b")); !os.IsNotExist(statErr) {
			t.Error("a rejected account must not create a directory")
		}
	})

	t.Run("retention keeps the newest snapshots", func(t *testing.T) {
		h := newHarness(t)
		for range 3 {
			h.mustRun("refresh", "-u", "alice", "--keep", "1")
		}

		if n := len(h.snapshotFiles()); n != 1 {
			t.Errorf("expected 1 snapshot after pruning, got %d", n)
		}
	})
}

func TestSnapshotsCommand(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		h := newHarness(t)

		if out := h.mustRun("snapshots", "list", "-u", "alice"); !strings.Contains(out, "No snapshots for alice") {
			t.Errorf("expected empty listing, got:\n%s", out)
		}

		h.mustRun("refresh", "-u", "alice")
		h.mustRun("refresh", "-u", "alice")

		var entries []snapshotEntry
		out := h.mustRun("snapshots", "list", "-u", "alice", "--json")
		if err := json.Unmarshal([]byte(out), &entries); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
		if entries[0].Latest || !entries[1].Latest {
			t.Errorf("the newest entry should be the latest: %+v", entries)
		}

		if out := h.mustRun("snapshots", "list", "-u", "alice"); !strings.Contains(out, "2 snapshot(s)") {
			t.Errorf("unexpected table output:\n%s", out)
		}
	})

	t.Run("show", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run("snapshots", "show", "-u", "alice"); !errors.Is(err, shared.ErrSnapshotNotFound) {
			t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
		}

		h.mustRun("refresh", "-u", "alice")
		out := h.mustRun("snapshots", "show", "-u", "alice")
		if !strings.Contains(out, "Road Trip") || !strings.Contains(out, "2 playlists, 3 tracks") {
			t.Errorf("unexpected show output:\n%s", out)
		}

		if err := h.run("snapshots", "show", "-u", "alice", "--id", "bogus"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for a malformed id, got %v", err)
		}
	})

	t.Run("diff", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("refresh", "-u", "alice")

		if out := h.mustRun("snapshots", "diff", "-u", "alice"); !strings.Contains(out, "oldest snapshot") {
			t.Errorf("expected oldest notice, got:\n%s", out)
		}

		h.remote.set(tu.Playlist("p1", "Road Trip", "a2", "a1"))
		h.mustRun("refresh", "-u", "alice")

		var diff snapshotDiff
		out := h.mustRun("snapshots", "diff", "-u", "alice", "--json")
		if err := json.Unmarshal([]byte(out), &diff); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if diff.From == "" || diff.To == "" || diff.From >= diff.To {
			t.Errorf("unexpected range %q..%q", diff.From, diff.To)
		}
		if diff.Summary.Reordered != 1 || diff.Summary.RemovedPlaylists != 1 {
			t.Errorf("unexpected summary: %+v", diff.Summary)
		}

		err := h.run("snapshots", "diff", "-u", "alice", "--from", diff.To, "--to", diff.From)
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for a reversed range, got %v", err)
		}
	})

	t.Run("export", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("refresh", "-u", "alice")
		outDir := t.TempDir()

		path := filepath.Join(outDir, "alice.csv")
		h.mustRun("snapshots", "export", "-u", "alice", "--format", "csv", "-o", path)
		if content := tu.MustReadFile(t, path); !strings.HasPrefix(content, "playlist_id,playlist,position") {
			t.Errorf("unexpected csv export:\n%s", content)
		}

		split := filepath.Join(outDir, "split")
		out := h.mustRun("snapshots", "export", "-u", "alice", "--format", "md", "--split", "-o", split)
		if !strings.Contains(out, "Exported 2/2 playlists") {
			t.Errorf("unexpected export output:\n%s", out)
		}
		tu.AssertFileExists(t, filepath.Join(split, "p1.md"))
		tu.AssertFileExists(t, filepath.Join(split, "export_manifest.json"))

		var manifest formatter.ExportManifest
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, filepath.Join(split, "export_manifest.json"))), &manifest); err != nil {
			t.Fatalf("manifest is not JSON: %v", err)
		}
		if manifest.SuccessfulExports != 2 || manifest.Format != formatter.FormatMarkdown {
			t.Errorf("unexpected manifest: %+v", manifest)
		}

		if err := h.run("snapshots", "export", "-u", "alice", "--format", "pdf"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for an unknown format, got %v", err)
		}
	})
}

func TestReadOnlyCommandsCreateNothing(t *testing.T) {
	h := newHarness(t)

	h.mustRun("snapshots", "list", "-u", "alcie")
	h.mustRun("history", "-u", "alcie")
	if err := h.run("snapshots", "diff", "-u", "alcie"); !errors.Is(err, shared.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(h.dir, "alcie")); !os.IsNotExist(err) {
		t.Errorf("a mistyped account should leave no directory behind, stat err = %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(t)

	if out := h.mustRun("history", "-u", "alice"); !strings.Contains(out, "No runs recorded for alice") {
		t.Errorf("expected empty history, got:\n%s", out)
	}

	h.mustRun("refresh", "-u", "alice")
	delete(h.env, "PLBACKUP_TOKEN")
	if err := h.run("refresh", "-u", "alice"); err == nil {
		t.Fatal("expected refresh without token to fail")
	}

	var runs []historyEntry
	out := h.mustRun("history", "-u", "alice", "--json")
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].State != "failed" || runs[0].ErrorKind != "auth" {
		t.Errorf("newest run should be the auth failure: %+v", runs[0])
	}
	if runs[1].State != "done" || runs[1].SnapshotID == "" || runs[1].Summary.Playlists != 2 {
		t.Errorf("oldest run should be the successful capture: %+v", runs[1])
	}

	limited := h.mustRun("history", "-u", "alice", "--limit", "1", "--json")
	if err := json.Unmarshal([]byte(limited), &runs); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run with --limit 1, got %d", len(runs))
	}

	out = h.mustRun("history", "-u", "alice")
	if !strings.Contains(out, "failed (auth)") {
		t.Errorf("expected the failure kind in the table:\n%s", out)
	}
	if !strings.Contains(out, "Last successful run:") {
		t.Errorf("expected the last successful run line:\n%s", out)
	}
}

func TestSetupCommand(t *testing.T) {
	h := newHarness(t)
	configPath := filepath.Join(t.TempDir(), "conf", "config.toml")

	out := h.mustRun("--config", configPath, "setup", "-u", "alice")

	tu.AssertFileExists(t, configPath)
	tu.AssertDirExists(t, h.dir)
	tu.AssertFileExists(t, filepath.Join(h.dir, "alice", journalFile))
	if !strings.Contains(out, "Created "+configPath) {
		t.Errorf("expected config creation notice, got:\n%s", out)
	}

	if _, err := shared.LoadConfig(configPath); err != nil {
		t.Errorf("written config should load: %v", err)
	}

	before, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	out = h.mustRun("--config", configPath, "setup")
	if strings.Contains(out, "Created") {
		t.Errorf("an existing config must not be rewritten:\n%s", out)
	}
	if after := tu.MustReadFile(t, configPath); after != string(before) {
		t.Error("config file changed on second setup")
	}
}
