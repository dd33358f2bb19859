// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// initCommand handles first-run setup: config file and run history database.
func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a config file and initialize the run history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Init,
	}
}

// serveCommand starts the control panel server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the control panel server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to bind",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
			},
			&cli.BoolFlag{
				Name:  "no-auth",
				Usage: "Disable token authentication",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: r.Serve,
	}
}

// projectsCommand inspects the configured projects.
func projectsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "List configured projects and their metadata",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Projects,
	}
}

// submitCommand exposes the submitter directly, without the panel.
func submitCommand(r *Runner) *cli.Command {
	return r.tool.Command()
}

// historyCommand lists recorded runs from the history database.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "project",
				Usage: "Only show runs for this project path",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to return",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.History,
	}
}

// tuiCommand returns the top-level TUI command for interactive submission.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for project submission",
		Action:  r.TUI,
	}
}
