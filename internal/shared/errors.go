package shared

import (
	"errors"
	"fmt"
)

var (
	// Refresh failure taxonomy. Each maps to its own exit code.
	ErrAuth          = fmt.Errorf("authentication failed")
	ErrRemote        = fmt.Errorf("remote request failed")
	ErrValidation    = fmt.Errorf("invalid playlist data")
	ErrStore         = fmt.Errorf("snapshot store failure")
	ErrConcurrentRun = fmt.Errorf("another refresh is already running")

	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")

	ErrSnapshotNotFound = fmt.Errorf("snapshot not found")
)

// Process exit codes for scripting and monitoring.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitAuth       = 2
	ExitRemote     = 3
	ExitValidation = 4
	ExitStore      = 5
	ExitConcurrent = 6
)

type errorClass struct {
	err  error
	kind string
	code int
}

// Checked in order: a concurrent-run error from the store is reported as such even
// though the store wraps it with context of its own.
var errorClasses = []errorClass{
	{ErrConcurrentRun, "concurrent_run", ExitConcurrent},
	{ErrAuth, "auth", ExitAuth},
	{ErrValidation, "validation", ExitValidation},
	{ErrRemote, "remote", ExitRemote},
	{ErrStore, "store", ExitStore},
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ExitFailure
}

// ErrorKind returns a short stable name for the error class, "" for nil and
// "other" for errors outside the refresh taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return "other"
}
