// Package repositories implements SQLite persistence for the refresh journal.
//
// Key Implementations:
//   - [RunRepository] : one row per refresh invocation, successful or not, with the
//     change counters of its summary
//
// The schema lives in the embedded migrations of the shared package and is applied by
// [OpenRunRepository]. Journal writes never decide the outcome of a refresh; callers log
// failures and move on.
package repositories
