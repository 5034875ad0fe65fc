package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
	th "github.com/desertthunder/plbackup/internal/testing"
)

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		ID:         "20261018T150405.000000Z",
		Version:    models.SnapshotVersion,
		Account:    "alice",
		Provider:   "yandex",
		CapturedAt: time.Date(2026, 10, 18, 15, 4, 5, 0, time.UTC),
		Playlists: []models.Playlist{
			{
				ID:    "p1",
				Name:  "Road Trip",
				Owner: "alice",
				Tracks: []models.Track{
					{ID: "t1", Title: "Song One", Artist: "Artist One", Album: "Album One", DurationMS: 180000, Available: true,
						AddedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
					{ID: "t2", Title: "Song, Two", Artist: "Artist Two", DurationMS: 245000, Available: false},
				},
			},
			{ID: "liked", Name: "Liked tracks", Tracks: []models.Track{
				{ID: "t3", Title: "Song Three", Artist: "Artist Three", DurationMS: 3725000, Available: true},
			}},
		},
	}
}

func TestExporters(t *testing.T) {
	snap := testSnapshot()

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(snap)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 4 {
			t.Fatalf("expected header and 3 rows, got %d lines:\n%s", len(lines), data)
		}
		if lines[0] != "playlist_id,playlist,position,track_id,artist,title,album,duration_ms,added_at,is_deleted" {
			t.Errorf("unexpected header: %s", lines[0])
		}
		if lines[1] != "p1,Road Trip,1,t1,Artist One,Song One,Album One,180000,2026-01-02T03:04:05Z,0" {
			t.Errorf("unexpected first row: %s", lines[1])
		}
		if !strings.Contains(lines[2], `"Song, Two"`) {
			t.Errorf("comma in title should be quoted: %s", lines[2])
		}
		if !strings.HasSuffix(lines[2], ",1") {
			t.Errorf("unavailable track should be flagged as deleted: %s", lines[2])
		}
		if !strings.HasPrefix(lines[3], "liked,Liked tracks,1,t3") {
			t.Errorf("position should restart per playlist: %s", lines[3])
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(snap)
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# alice (yandex)",
			"**Playlists**: 2",
			"**Tracks**: 3",
			"## Road Trip",
			"**Owner**: alice",
			"1. Artist One - Song One (Album One) [3:00]",
			"2. ~~Artist Two - Song, Two [4:05]~~ *unavailable*",
			"## Liked tracks",
			"1. Artist Three - Song Three [1:02:05]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(snap)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"Account: alice (yandex)",
			"Captured: 2026-10-18T15:04:05Z",
			"Playlist: Road Trip",
			"1. Artist One - Song One\n",
			"2. Artist Two - Song, Two [unavailable]\n",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("text missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(snap)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded models.Snapshot
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded.Account != "alice" || len(decoded.Playlists) != 2 {
			t.Errorf("unexpected decoded snapshot: %+v", decoded)
		}
		if strings.Contains(string(data), snap.ID) {
			t.Error("snapshot id is not part of the stored form")
		}
	})

	t.Run("ExportPlaylist", func(t *testing.T) {
		data, err := ExportPlaylist(snap, snap.Playlists[1], FormatText)
		if err != nil {
			t.Fatalf("ExportPlaylist failed: %v", err)
		}
		output := string(data)
		if strings.Contains(output, "Road Trip") || !strings.Contains(output, "Liked tracks") {
			t.Errorf("expected only the liked playlist, got:\n%s", output)
		}
	})

	t.Run("Export", func(t *testing.T) {
		if _, err := Export(nil, FormatCSV); !errors.Is(err, shared.ErrSnapshotNotFound) {
			t.Errorf("nil snapshot: expected ErrSnapshotNotFound, got %v", err)
		}
		if _, err := Export(snap, Format("xml")); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("unknown format: expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"md", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"text", FormatText, false},
		{" txt ", FormatText, false},
		{"json", FormatJSON, false},
		{"xlsx", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if FormatMarkdown.Ext() != "md" || FormatText.Ext() != "txt" {
		t.Error("unexpected extensions")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int]string{
		0:       "0:00",
		-5:      "0:00",
		999:     "0:00",
		61000:   "1:01",
		600000:  "10:00",
		3600000: "1:00:00",
		3725000: "1:02:05",
	}
	for ms, want := range tests {
		if got := FormatDuration(ms); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestWriters(t *testing.T) {
	snap := testSnapshot()

	t.Run("WriteExport", func(t *testing.T) {
		t.Run("WithCustomPath", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "backup.csv")

			written, err := WriteExport(snap, FormatCSV, path)
			if err != nil {
				t.Fatalf("WriteExport failed: %v", err)
			}
			if written != path {
				t.Errorf("expected %s, got %s", path, written)
			}

			th.AssertFileExists(t, path)
			if content := th.MustReadFile(t, path); !strings.Contains(content, "Song One") {
				t.Errorf("CSV missing track data")
			}
		})

		t.Run("UnknownFormat", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "backup.xml")
			if _, err := WriteExport(snap, Format("xml"), path); err == nil {
				t.Fatal("expected error for unknown format")
			}
		})
	})

	t.Run("DefaultExportName", func(t *testing.T) {
		if got := DefaultExportName(snap, FormatMarkdown); got != "alice_20261018T150405.000000Z.md" {
			t.Errorf("unexpected default name %q", got)
		}

		unsaved := *snap
		unsaved.ID = ""
		unsaved.Account = "a/b"
		if got := DefaultExportName(&unsaved, FormatJSON); got != "a_b_20261018T150405Z.json" {
			t.Errorf("unexpected default name %q", got)
		}
	})

	t.Run("WriteExportManifest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.json")
		m := ExportManifest{
			Account:           "alice",
			Provider:          "yandex",
			SnapshotID:        snap.ID,
			Format:            FormatCSV,
			TotalPlaylists:    2,
			SuccessfulExports: 1,
			FailedExports:     1,
			Playlists: []ManifestEntry{
				{PlaylistID: "p1", Name: "Road Trip", Tracks: 2, Status: StatusSuccess, File: "p1.csv"},
				{PlaylistID: "liked", Name: "Liked tracks", Tracks: 1, Status: StatusFailed, Error: "disk full"},
			},
		}

		if err := WriteExportManifest(m, path); err != nil {
			t.Fatalf("WriteExportManifest failed: %v", err)
		}

		var decoded ExportManifest
		if err := json.Unmarshal([]byte(th.MustReadFile(t, path)), &decoded); err != nil {
			t.Fatalf("manifest is not valid JSON: %v", err)
		}
		if decoded.Format != FormatCSV || decoded.FailedExports != 1 || len(decoded.Playlists) != 2 {
			t.Errorf("unexpected manifest: %+v", decoded)
		}
		if decoded.Playlists[1].Status != StatusFailed || decoded.Playlists[1].Error != "disk full" {
			t.Errorf("unexpected failed entry: %+v", decoded.Playlists[1])
		}
	})

	t.Run("WriteExportManifestInvalidPath", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "manifest.json")
		if err := WriteExportManifest(ExportManifest{}, path); err == nil {
			t.Error("expected error writing into a missing directory")
		}
	})
}
