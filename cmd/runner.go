package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/plbackup/internal/services"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/desertthunder/plbackup/internal/snapshots"
	"github.com/urfave/cli/v3"
)

// RemoteFactory builds the provider for a resolved configuration.
type RemoteFactory func(cfg *shared.Config, logger *log.Logger) (services.Remote, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	logOutput  io.Writer
	logCloser  io.Closer
	output     io.Writer
	getenv     func(string) string
	newRemote  RemoteFactory
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	// Config skips loading --config when set.
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	LogOutput  io.Writer
	Output     io.Writer
	Getenv     func(string) string
	NewRemote  RemoteFactory
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(opts.LogOutput)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.NewRemote == nil {
		opts.NewRemote = defaultRemote
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		logOutput:  opts.LogOutput,
		output:     opts.Output,
		getenv:     opts.Getenv,
		newRemote:  opts.NewRemote,
	}
}

func defaultRemote(cfg *shared.Config, logger *log.Logger) (services.Remote, error) {
	return services.New(cfg, services.WithLogger(logger))
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		refreshCommand, snapshotsCommand, historyCommand, setupCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// prepare loads the configuration named by --config (unless one was injected),
// applies the global overrides and rebuilds the logger from the [log] section.
func (r *Runner) prepare(cmd *cli.Command) error {
	if r.config == nil {
		path := cmd.String("config")
		if path == "" {
			path = r.configPath
		}
		cfg, err := shared.LoadConfigOrDefault(path)
		if err != nil {
			return err
		}
		r.config = cfg
		r.configPath = path
	}

	if dir := cmd.String("data-dir"); dir != "" {
		r.config.Store.DataDir = dir
	}

	if r.logCloser == nil {
		logger, closer, err := shared.NewConfiguredLogger(r.logOutput, r.config.Log)
		if err != nil {
			return err
		}
		r.logger, r.logCloser = logger, closer
	}
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	return nil
}

// close releases the log file, if any.
func (r *Runner) close() {
	if r.logCloser != nil {
		r.logCloser.Close()
		r.logCloser = nil
	}
}

// openStore opens the snapshot store of the account named by --user.
func (r *Runner) openStore(cmd *cli.Command) (*snapshots.Store, error) {
	account := strings.TrimSpace(cmd.String("user"))
	if account == "" {
		return nil, fmt.Errorf("%w: --user", shared.ErrMissingArgument)
	}
	return snapshots.New(r.config.Store.DataDir, account, snapshots.WithLogger(r.logger))
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// reportedError marks an error that was already logged, so main only maps it to an exit code.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

func isReported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}
