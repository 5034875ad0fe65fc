// Package models defines the domain types shared by the remote providers, the snapshot store and the refresh engine.
//
// Fetched state:
//   - [Playlist] : a remote playlist with its ordered tracks
//   - [Track] : a playlist entry, identified by its remote id
//
// Persisted state:
//   - [Snapshot] : an immutable capture of every playlist of an account
//   - [Run] : one row of the refresh journal
//
// Derived state:
//   - [ChangeRecord] : what changed in one playlist between two states
//   - [Summary] : totals across all change records of a run
//
// Tracks compare by ID only, so reordering is detected independently from membership changes.
package models
