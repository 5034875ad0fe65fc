// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/plbackup/internal/formatter"
	"github.com/desertthunder/plbackup/internal/repositories"
	"github.com/desertthunder/plbackup/internal/shared"
	"github.com/urfave/cli/v3"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Account whose playlists are backed up",
		Required: true,
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// refreshCommand captures a new snapshot
func refreshCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Fetch all playlists, diff them against the latest snapshot and store a new one",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{
				Name:    "proxy",
				Aliases: []string{"x"},
				Usage:   "Proxy for API requests (host:port or URL)",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Music service: " + shared.ProviderSpotify + " or " + shared.ProviderYandex,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Upper bound for the whole run (overrides run.timeout)",
			},
			&cli.IntFlag{
				Name:  "keep",
				Usage: "Number of snapshots to retain, 0 keeps all (overrides store.keep)",
				Value: -1,
			},
			&cli.BoolFlag{
				Name:  "no-likes",
				Usage: "Skip liked/saved tracks",
			},
			jsonFlag(),
		},
		Action: r.Refresh,
	}
}

// snapshotsCommand inspects stored snapshots
func snapshotsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "snapshots",
		Aliases: []string{"snap"},
		Usage:   "Inspect stored snapshots",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List snapshots, oldest first",
				Flags: []cli.Flag{
					userFlag(),
					jsonFlag(),
				},
				Action: r.SnapshotsList,
			},
			{
				Name:  "show",
				Usage: "Show the playlists of a snapshot",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "id",
						Usage: "Snapshot ID (default: latest)",
					},
					jsonFlag(),
				},
				Action: r.SnapshotsShow,
			},
			{
				Name:  "diff",
				Usage: "Compare two snapshots (default: previous vs latest)",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "from",
						Usage: "Older snapshot ID (default: the one before --to)",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "Newer snapshot ID (default: latest)",
					},
					jsonFlag(),
				},
				Action: r.SnapshotsDiff,
			},
			{
				Name:  "export",
				Usage: "Export a snapshot as " + formatList(),
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "id",
						Usage: "Snapshot ID (default: latest)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: " + formatList(),
						Value:   string(formatter.FormatJSON),
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file, or directory with --split",
					},
					&cli.BoolFlag{
						Name:  "split",
						Usage: "Write one file per playlist plus a manifest",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Parallel writers for --split",
						Value: 4,
					},
				},
				Action: r.SnapshotsExport,
			},
		},
	}
}

// historyCommand shows the run journal
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent refresh runs",
		Flags: []cli.Flag{
			userFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show",
				Value: repositories.DefaultListLimit,
			},
			jsonFlag(),
		},
		Action: r.History,
	}
}

// setupCommand writes the example configuration and prepares the data directory.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Write config.toml and create the data directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Also initialize the store and run journal of this account",
			},
		},
		Action: r.Setup,
	}
}

func formatList() string {
	names := make([]string, len(formatter.Formats))
	for i, f := range formatter.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
