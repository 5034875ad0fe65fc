// package shared defines shared helpers
package shared

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewConfiguredLogger builds a logger from [LogConfig]. When a log file is configured,
// output is teed to w and a size-rotated file. The returned closer releases the file.
func NewConfiguredLogger(w io.Writer, cfg LogConfig) (*log.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(w, rotator)
		closer = rotator
	}

	logger := NewLogger(w)
	if cfg.Level != "" {
		level, err := log.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, cfg.Level)
		}
		logger.SetLevel(level)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// MarshalJSON encodes v as JSON, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// ValidateAccount checks that account can name its own directory. Separators are
// rejected rather than rewritten so two accounts never share one directory.
func ValidateAccount(account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("%w: account", ErrMissingArgument)
	}
	if account == "." || account == ".." {
		return fmt.Errorf("%w: account %q is not a valid name", ErrInvalidArgument, account)
	}
	if strings.ContainsFunc(account, isUnsafePathRune) {
		return fmt.Errorf("%w: account %q contains a path separator or control character", ErrInvalidArgument, account)
	}
	return nil
}

func isUnsafePathRune(r rune) bool {
	return r == '/' || r == '\\' || r == ':' || r < 0x20
}

// SanitizePathSegment makes an identifier safe to use as a single file name.
func SanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case isUnsafePathRune(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}
