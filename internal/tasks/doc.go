// Package tasks runs playlist backups and reports their progress.
//
// # Core Operations
//
//  1. [RefreshEngine.Run] : one capture cycle
//     - Takes the account's run lock before any network call
//     - Authenticates and fetches every playlist from the [services.Remote]
//     - Diffs the fetched state against the latest snapshot
//     - Persists a new snapshot, prunes old ones and journals the run
//
//  2. [Diff] : pure comparison of a snapshot with freshly fetched playlists
//     - Added and removed tracks, reordering, availability transitions
//     - Playlists that appeared or disappeared
//
//  3. [BulkExport] : split a snapshot into one file per playlist with a manifest
//
// # State Machine
//
// A refresh moves through Start, Authenticated, Fetched, Diffed, Persisted and Done.
// Any error moves it to Failed and the result records the last state reached, so a
// failure is never mistaken for a partial success. Nothing is retried at this level;
// transient network errors are handled by the transport.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, state, step counters, messages, and optional data.
// Updates use select with default so a slow reader never stalls a run.
package tasks
