package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/plbackup/internal/repositories"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/desertthunder/plbackup/internal/snapshots"
	"github.com/urfave/cli/v3"
)

// Setup writes the example config when none exists, creates the data directory and,
// with --user, initializes that account's store and run journal.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	created := false
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := createConfig(configPath); err != nil {
			return err
		}
		created = true
	}

	if err := r.prepare(cmd); err != nil {
		return err
	}

	dataDir := r.config.Store.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	r.logger.Info("data directory ready", "path", dataDir)

	if account := strings.TrimSpace(cmd.String("user")); account != "" {
		store, err := snapshots.New(dataDir, account, snapshots.WithLogger(r.logger))
		if err != nil {
			return err
		}
		if err := store.Init(); err != nil {
			return err
		}

		path := filepath.Join(store.Dir(), journalFile)
		r.logger.Info("initializing run journal", "path", path)
		_, closeDB, err := repositories.OpenRunRepository(path)
		if err != nil {
			return err
		}
		if err := closeDB(); err != nil {
			return fmt.Errorf("failed to close journal: %w", err)
		}
	}

	if created {
		r.writePlain("Created %s\n", configPath)
	}
	r.writePlain("Setup complete, snapshots are stored in %s\n", dataDir)
	return nil
}

func createConfig(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return shared.CreateConfigFile(path)
}
