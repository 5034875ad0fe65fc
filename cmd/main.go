package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnv(); err != nil {
		logger.Warn("ignoring .env", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runner := NewRunner(RunnerOpts{Logger: logger})
	err := runner.app().Run(ctx, os.Args)
	stop()
	runner.close()

	if err != nil {
		if !isReported(err) {
			runner.logger.Error("plbackup failed", "err", err)
		}
		os.Exit(shared.ExitCode(err))
	}
}

func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:      "plbackup",
		Usage:     "Snapshot and diff playlists from Spotify & Yandex Music",
		Version:   "0.1.0",
		Writer:    r.output,
		ErrWriter: r.logOutput,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding snapshots (overrides store.data_dir)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: r.register(),
	}
}
