package shared

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestExitCode(t *testing.T) {
	tc := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{name: "nil", err: nil, wantCode: ExitOK, wantKind: ""},
		{name: "auth", err: fmt.Errorf("%w: token rejected", ErrAuth), wantCode: ExitAuth, wantKind: "auth"},
		{name: "remote", err: fmt.Errorf("%w: status 503", ErrRemote), wantCode: ExitRemote, wantKind: "remote"},
		{name: "validation", err: fmt.Errorf("%w: empty id", ErrValidation), wantCode: ExitValidation, wantKind: "validation"},
		{name: "store", err: fmt.Errorf("%w: disk full", ErrStore), wantCode: ExitStore, wantKind: "store"},
		{name: "concurrent", err: fmt.Errorf("%w: %w", ErrStore, ErrConcurrentRun), wantCode: ExitConcurrent, wantKind: "concurrent_run"},
		{name: "other", err: errors.New("boom"), wantCode: ExitFailure, wantKind: "other"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", got, tt.wantCode)
			}
			if got := ErrorKind(tt.err); got != tt.wantKind {
				t.Errorf("ErrorKind() = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestSanitizePathSegment(t *testing.T) {
	tc := []struct {
		in   string
		want string
	}{
		{in: "alice", want: "alice"},
		{in: " bob ", want: "bob"},
		{in: "../etc", want: ".._etc"},
		{in: "a/b\\c:d", want: "a_b_c_d"},
		{in: "..", want: "_"},
		{in: "", want: "_"},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizePathSegment(tt.in); got != tt.want {
				t.Errorf("SanitizePathSegment(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateAccount(t *testing.T) {
	tc := []struct {
		name    string
		account string
		wantErr error
	}{
		{name: "plain", account: "alice"},
		{name: "dotted login", account: "alice.smith-1"},
		{name: "numeric uid", account: "12345"},
		{name: "padded", account: " bob "},
		{name: "empty", account: "  ", wantErr: ErrMissingArgument},
		{name: "slash", account: "a/b", wantErr: ErrInvalidArgument},
		{name: "backslash", account: `a\b`, wantErr: ErrInvalidArgument},
		{name: "colon", account: "a:b", wantErr: ErrInvalidArgument},
		{name: "control", account: "a\nb", wantErr: ErrInvalidArgument},
		{name: "parent", account: "..", wantErr: ErrInvalidArgument},
		{name: "current", account: ".", wantErr: ErrInvalidArgument},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccount(tt.account)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateAccount(%q) = %v, want nil", tt.account, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAccount(%q) = %v, want %v", tt.account, err, tt.wantErr)
			}
		})
	}

	t.Run("separators never collapse onto another account", func(t *testing.T) {
		if ValidateAccount("a_b") != nil {
			t.Fatal("a_b is a valid account")
		}
		if ValidateAccount("a/b") == nil {
			t.Error("a/b must be rejected instead of sharing a_b's directory")
		}
	})
}

func TestNewConfiguredLogger(t *testing.T) {
	t.Run("level from config", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := NewConfiguredLogger(&buf, LogConfig{Level: "warn"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer closer.Close()

		if logger.GetLevel() != log.WarnLevel {
			t.Errorf("expected warn level, got %v", logger.GetLevel())
		}
		logger.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("info should be filtered at warn level, got %q", buf.String())
		}
	})

	t.Run("unknown level", func(t *testing.T) {
		_, _, err := NewConfiguredLogger(&bytes.Buffer{}, LogConfig{Level: "loud"})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("tees to rotating file", func(t *testing.T) {
		var buf bytes.Buffer
		logPath := filepath.Join(t.TempDir(), "logs", "plbackup.log")
		logger, closer, err := NewConfiguredLogger(&buf, LogConfig{Level: "info", File: logPath, MaxSizeMB: 1, MaxBackups: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		logger.Info("snapshot persisted", "playlists", 3)
		if err := closer.Close(); err != nil {
			t.Fatalf("failed to close log file: %v", err)
		}

		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "snapshot persisted") {
			t.Errorf("log file missing entry: %q", data)
		}
		if !strings.Contains(buf.String(), "snapshot persisted") {
			t.Errorf("writer missing entry: %q", buf.String())
		}
	})
}
