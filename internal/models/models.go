// package models defines the data model for playlist backups
package models

import (
	"time"
)

// SnapshotVersion is the current on-disk snapshot format version.
const SnapshotVersion = 1

// LikedPlaylistID identifies the synthetic playlist holding the account's liked/saved tracks.
const LikedPlaylistID = "liked"

// Track represents a single playlist entry.
type Track struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album,omitempty"`
	DurationMS int       `json:"duration_ms,omitempty"`
	AddedAt    time.Time `json:"added_at,omitzero"`
	Available  bool      `json:"available"`
}

// FullName returns "Artist - Title".
func (t Track) FullName() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// Playlist represents a remote playlist with its tracks in remote order.
type Playlist struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Owner    string  `json:"owner,omitempty"`
	Revision string  `json:"revision,omitempty"` // remote last-modified marker
	Tracks   []Track `json:"tracks"`
}

// TrackIDs returns the track ids in playlist order.
func (p Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// Snapshot is an immutable capture of all playlists of an account at one point in time.
// ID is assigned by the store and is not part of the serialized form.
type Snapshot struct {
	ID         string     `json:"-"`
	Version    int        `json:"version"`
	Account    string     `json:"account"`
	Provider   string     `json:"provider"`
	CapturedAt time.Time  `json:"captured_at"`
	Playlists  []Playlist `json:"playlists"`
}

// TrackCount returns the number of tracks across all playlists.
func (s *Snapshot) TrackCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Playlists {
		n += len(p.Tracks)
	}
	return n
}

// Playlist returns the playlist with the given id.
func (s *Snapshot) Playlist(id string) (Playlist, bool) {
	if s == nil {
		return Playlist{}, false
	}
	for _, p := range s.Playlists {
		if p.ID == id {
			return p, true
		}
	}
	return Playlist{}, false
}

// ChangeRecord describes how one playlist changed between two states.
type ChangeRecord struct {
	PlaylistID    string   `json:"playlist_id"`
	Name          string   `json:"name"`
	New           bool     `json:"new,omitempty"`
	Removed       bool     `json:"removed,omitempty"`
	Added         []string `json:"added,omitempty"`
	RemovedTracks []string `json:"removed_tracks,omitempty"`
	Reordered     bool     `json:"reordered,omitempty"`
	Unavailable   []string `json:"unavailable,omitempty"` // available before, unavailable now
	Restored      []string `json:"restored,omitempty"`    // unavailable before, available now
}

// Empty reports whether the record carries no change at all.
func (c ChangeRecord) Empty() bool {
	return !c.New && !c.Removed && !c.Reordered &&
		len(c.Added) == 0 && len(c.RemovedTracks) == 0 &&
		len(c.Unavailable) == 0 && len(c.Restored) == 0
}

// Summary aggregates change records for reporting.
type Summary struct {
	Playlists        int `json:"playlists"`
	Tracks           int `json:"tracks"`
	NewPlaylists     int `json:"new_playlists"`
	RemovedPlaylists int `json:"removed_playlists"`
	Added            int `json:"added"`
	Removed          int `json:"removed"`
	Reordered        int `json:"reordered"`
	Unavailable      int `json:"unavailable"`
	Restored         int `json:"restored"`
}

// Changed reports whether any change was counted.
func (s Summary) Changed() bool {
	return s.NewPlaylists+s.RemovedPlaylists+s.Added+s.Removed+s.Reordered+s.Unavailable+s.Restored > 0
}

// Run is one entry of the refresh journal.
type Run struct {
	ID         string
	Account    string
	Provider   string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	ErrorKind  string
	Error      string
	SnapshotID string
	Summary    Summary
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
