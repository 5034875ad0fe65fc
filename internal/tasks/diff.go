package tasks

import (
	"fmt"
	"sort"

	"github.com/desertthunder/plbackup/internal/models"
	"github.com/desertthunder/plbackup/internal/shared"
)

// Diff compares freshly fetched playlists against the previous snapshot.
//
// Membership is compared as sets of track ids, reordering as the relative order of the ids
// both states share. A nil previous snapshot is the first run: every playlist is new and
// every track added. Playlists missing from current are reported as removed.
// Only playlists that changed appear in the result. Neither input is modified.
func Diff(previous *models.Snapshot, current []models.Playlist) (map[string]models.ChangeRecord, error) {
	if err := validatePlaylists(current); err != nil {
		return nil, err
	}

	var prevPlaylists []models.Playlist
	if previous != nil {
		prevPlaylists = previous.Playlists
	}

	prevByID := make(map[string]models.Playlist, len(prevPlaylists))
	for _, p := range prevPlaylists {
		if _, seen := prevByID[p.ID]; !seen {
			prevByID[p.ID] = p
		}
	}

	changes := make(map[string]models.ChangeRecord)
	seen := make(map[string]bool, len(current))

	for _, cur := range current {
		seen[cur.ID] = true

		prev, ok := prevByID[cur.ID]
		var record models.ChangeRecord
		if !ok {
			record = models.ChangeRecord{
				PlaylistID: cur.ID,
				Name:       cur.Name,
				New:        true,
				Added:      uniqueIDs(cur.TrackIDs()),
			}
		} else {
			record = comparePlaylist(prev, cur)
		}

		if !record.Empty() {
			changes[cur.ID] = record
		}
	}

	for _, prev := range prevPlaylists {
		if seen[prev.ID] {
			continue
		}
		seen[prev.ID] = true
		changes[prev.ID] = models.ChangeRecord{
			PlaylistID: prev.ID,
			Name:       prev.Name,
			Removed:    true,
		}
	}

	return changes, nil
}

// comparePlaylist diffs two versions of the same playlist.
func comparePlaylist(prev, cur models.Playlist) models.ChangeRecord {
	record := models.ChangeRecord{PlaylistID: cur.ID, Name: cur.Name}

	prevTracks := indexTracks(prev.Tracks)
	curTracks := indexTracks(cur.Tracks)

	var prevCommon, curCommon []string

	for _, id := range uniqueIDs(cur.TrackIDs()) {
		p, ok := prevTracks[id]
		if !ok {
			record.Added = append(record.Added, id)
			continue
		}
		curCommon = append(curCommon, id)

		c := curTracks[id]
		switch {
		case p.Available && !c.Available:
			record.Unavailable = append(record.Unavailable, id)
		case !p.Available && c.Available:
			record.Restored = append(record.Restored, id)
		}
	}

	for _, id := range uniqueIDs(prev.TrackIDs()) {
		if _, ok := curTracks[id]; !ok {
			record.RemovedTracks = append(record.RemovedTracks, id)
			continue
		}
		prevCommon = append(prevCommon, id)
	}

	record.Reordered = !sameOrder(prevCommon, curCommon)
	return record
}

// indexTracks maps id to the first occurrence of the track.
func indexTracks(tracks []models.Track) map[string]models.Track {
	idx := make(map[string]models.Track, len(tracks))
	for _, t := range tracks {
		if _, ok := idx[t.ID]; !ok {
			idx[t.ID] = t
		}
	}
	return idx
}

// uniqueIDs keeps the first occurrence of each id, in order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// validatePlaylists rejects data the remote client should never produce.
func validatePlaylists(playlists []models.Playlist) error {
	ids := make(map[string]bool, len(playlists))
	for i, p := range playlists {
		if p.ID == "" {
			return fmt.Errorf("%w: playlist at position %d has an empty id", shared.ErrValidation, i)
		}
		if ids[p.ID] {
			return fmt.Errorf("%w: duplicate playlist id %q", shared.ErrValidation, p.ID)
		}
		ids[p.ID] = true

		for j, t := range p.Tracks {
			if t.ID == "" {
				return fmt.Errorf("%w: track at position %d of playlist %q has an empty id", shared.ErrValidation, j, p.ID)
			}
		}
	}
	return nil
}

// Summarize totals change records. Playlist and track counts describe the current state.
func Summarize(changes map[string]models.ChangeRecord, current []models.Playlist) models.Summary {
	s := models.Summary{Playlists: len(current)}
	for _, p := range current {
		s.Tracks += len(p.Tracks)
	}

	for _, c := range changes {
		if c.New {
			s.NewPlaylists++
		}
		if c.Removed {
			s.RemovedPlaylists++
		}
		if c.Reordered {
			s.Reordered++
		}
		s.Added += len(c.Added)
		s.Removed += len(c.RemovedTracks)
		s.Unavailable += len(c.Unavailable)
		s.Restored += len(c.Restored)
	}
	return s
}

// SortedChanges returns change records ordered by playlist name, then id.
func SortedChanges(changes map[string]models.ChangeRecord) []models.ChangeRecord {
	out := make([]models.ChangeRecord, 0, len(changes))
	for _, c := range changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PlaylistID < out[j].PlaylistID
	})
	return out
}
