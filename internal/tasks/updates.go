package tasks

import (
	"fmt"

	"github.com/desertthunder/plbackup/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	State   State  // Refresh state reached, when the phase is part of a refresh
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	LockStore Phase = iota
	Authenticate
	FetchPlaylists
	ComparePlaylists
	PersistSnapshot
	PruneSnapshots
	RefreshDone
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case LockStore:
		return "lock_store"
	case Authenticate:
		return "authenticate"
	case FetchPlaylists:
		return "fetch_playlists"
	case ComparePlaylists:
		return "compare_playlists"
	case PersistSnapshot:
		return "persist_snapshot"
	case PruneSnapshots:
		return "prune_snapshots"
	case RefreshDone:
		return "refresh_done"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

// refreshSteps is the number of transitions a successful refresh goes through.
const refreshSteps = 5

func authenticatedUpdate(provider, user string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Authenticate,
		State:   StateAuthenticated,
		Step:    1,
		Total:   refreshSteps,
		Message: fmt.Sprintf("Authenticated with %s as %s", provider, user),
	}
}

func fetchedUpdate(playlists []models.Playlist) ProgressUpdate {
	tracks := 0
	for _, p := range playlists {
		tracks += len(p.Tracks)
	}
	return ProgressUpdate{
		Phase:   FetchPlaylists,
		State:   StateFetched,
		Step:    2,
		Total:   refreshSteps,
		Message: fmt.Sprintf("Fetched %d playlists (%d tracks)", len(playlists), tracks),
	}
}

func diffedUpdate(summary models.Summary, previousID string) ProgressUpdate {
	msg := "First snapshot for this account"
	if previousID != "" {
		msg = fmt.Sprintf("Compared against %s: +%d/-%d tracks", previousID, summary.Added, summary.Removed)
	}
	return ProgressUpdate{
		Phase:   ComparePlaylists,
		State:   StateDiffed,
		Step:    3,
		Total:   refreshSteps,
		Message: msg,
		Data:    summary,
	}
}

func persistedUpdate(snap *models.Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PersistSnapshot,
		State:   StatePersisted,
		Step:    4,
		Total:   refreshSteps,
		Message: fmt.Sprintf("Saved snapshot %s", snap.ID),
		Data:    snap,
	}
}

func doneUpdate(summary models.Summary) ProgressUpdate {
	msg := "No changes detected"
	if summary.Changed() {
		msg = "Changes recorded"
	}
	return ProgressUpdate{
		Phase:   RefreshDone,
		State:   StateDone,
		Step:    refreshSteps,
		Total:   refreshSteps,
		Message: msg,
	}
}

func failedUpdate(phase Phase, from State, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		State:   StateFailed,
		Message: fmt.Sprintf("Refresh failed during %s (last state %s): %v", phase, from, err),
	}
}

func prunedUpdate(removed []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PruneSnapshots,
		State:   StatePersisted,
		Step:    len(removed),
		Total:   len(removed),
		Message: fmt.Sprintf("Pruned %d old snapshots", len(removed)),
		Data:    removed,
	}
}

func exportingPlaylistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting: %s...", step, total, name),
	}
}

func exportCompletedUpdate(step, total int, name, file string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%s)", step, total, name, file),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}
