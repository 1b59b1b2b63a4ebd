// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// queryFlags are the recording filter flags shared by query-shaped commands.
func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "type",
			Usage: "Recording type (thermalRaw, audio)",
		},
		&cli.StringFlag{
			Name:  "tag-mode",
			Usage: "Tag mode filter (any, untagged, tagged, human-only, automatic-only, automatic+human, no-human)",
		},
		&cli.StringSliceFlag{
			Name:  "tag",
			Usage: "Tag to match, repeatable",
		},
		&cli.IntFlag{
			Name:  "min-duration",
			Usage: "Minimum duration in seconds (default: server default of 5)",
		},
		&cli.IntSliceFlag{
			Name:  "device-id",
			Usage: "Restrict to a device id, repeatable",
		},
		&cli.IntSliceFlag{
			Name:  "group-id",
			Usage: "Restrict to a group id, repeatable",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of recordings to return",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "offset",
			Usage: "Pagination offset",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "Query as this user (default: configured admin)",
		},
		&cli.StringFlag{
			Name:  "password",
			Usage: "Password for --user (default: derived)",
		},
	}
}

// setupCommand handles setup operations for the run log and the target server.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize the local run log and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:  "server",
				Usage: "Bootstrap the target server: admin account and default group",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "scope",
						Usage: "Name prefix for entities created during this session",
						Value: "cli",
					},
				},
				Action: r.SetupServer,
			},
		},
	}
}

// recordingsCommand handles recording queries and lifecycle operations.
func recordingsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "recordings",
		Aliases: []string{"rec"},
		Usage:   "Query and manage recordings",
		Commands: []*cli.Command{
			{
				Name:  "query",
				Usage: "List recordings matching the filters",
				Flags: append(queryFlags(),
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format (text, csv, markdown)",
						Value: "text",
					},
					&cli.StringFlag{
						Name:    "save",
						Aliases: []string{"o"},
						Usage:   "Base path for a CSV export ({base}_recordings.csv)",
					},
				),
				Action: r.RecordingsQuery,
			},
			{
				Name:  "get",
				Usage: "Fetch one recording by id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "user", Usage: "Fetch as this user"},
					&cli.StringFlag{Name: "password", Usage: "Password for --user"},
					&cli.IntFlag{
						Name:  "lat-long-prec",
						Usage: "Requested location precision in meters",
					},
				},
				Action: r.RecordingsGet,
			},
			{
				Name:  "reprocess",
				Usage: "Send recordings back through the processing pipeline",
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntSliceFlag{
						Name:     "id",
						Usage:    "Recording id, repeatable",
						Required: true,
					},
					&cli.StringFlag{Name: "user", Usage: "Reprocess as this user"},
					&cli.StringFlag{Name: "password", Usage: "Password for --user"},
				},
				Action: r.RecordingsReprocess,
			},
			{
				Name:  "export",
				Usage: "Export matching recordings to disk, one file set each",
				Flags: append(queryFlags(),
					configFlag(),
					&cli.StringFlag{
						Name:  "format",
						Usage: "Export format (json, csv, markdown, txt)",
						Value: "json",
					},
					&cli.StringFlag{
						Name:    "output-dir",
						Aliases: []string{"o"},
						Usage:   "Output directory (default: recordings_export_{epoch})",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent export workers",
						Value: 5,
					},
					&cli.FloatFlag{
						Name:  "rate-limit",
						Usage: "Requests per second against the service",
						Value: 5,
					},
				),
				Action: r.RecordingsExport,
			},
			{
				Name:   "report",
				Usage:  "Download the server-side CSV report for matching recordings",
				Flags:  append(queryFlags(), configFlag()),
				Action: r.RecordingsReport,
			},
		},
	}
}

// uploadCommand uploads a recording as a device.
func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload a recording as a device",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "device",
				Usage:    "Device name to authenticate as",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "Device password (default: derived)",
			},
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the recording file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "props",
				Usage: "Recording properties as JSON",
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Run id to log this upload under",
			},
		},
		Action: r.Upload,
	}
}

// processCommand drives the file-processing API.
func processCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Claim and complete processing jobs",
		Commands: []*cli.Command{
			{
				Name:  "claim",
				Usage: "Claim one processing job and print it",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "type",
						Usage:    "Recording type (thermalRaw, audio)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "state",
						Usage:    "Processing state to claim from",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.ProcessClaim,
			},
			{
				Name:  "work",
				Usage: "Drain the processing queue for a recording type",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "type",
						Usage: "Recording type (thermalRaw, audio)",
						Value: "thermalRaw",
					},
					&cli.IntFlag{
						Name:  "max",
						Usage: "Maximum number of jobs to complete (0 = unlimited)",
					},
				},
				Action: r.ProcessWork,
			},
		},
	}
}

// runsCommand inspects the local run log.
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect the local run log",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List recorded runs, newest first",
				Flags:  []cli.Flag{configFlag()},
				Action: r.RunsList,
			},
			{
				Name:  "show",
				Usage: "Show one run with its uploads",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.RunsShow,
			},
		},
	}
}

// serveCommand runs the in-memory stand-in server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run an in-memory recordings server for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: "127.0.0.1:1080",
			},
		},
		Action: r.Serve,
	}
}

// smokeCommand runs one end-to-end scenario against the configured server.
func smokeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "smoke",
		Usage: "Upload, tag and verify one recording end to end",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Name prefix for entities created during this run",
				Value: "smoke",
			},
		},
		Action: r.Smoke,
	}
}

// tuiCommand returns the top-level TUI command for interactive browsing.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Browse recordings interactively",
		Flags: append(queryFlags(),
			configFlag(),
		),
		Action: r.TUI,
	}
}
