package submit

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"pipedeck/internal/project"
)

// StatusFlagChoices are the per-sample statuses `check --flags` can filter on.
var StatusFlagChoices = []string{"completed", "running", "failed", "waiting", "partial"}

// timeDelayMax caps the staggering delay between submissions, in seconds.
const timeDelayMax = 30

// Command builds the submitter's CLI surface. The same command tree backs the
// headless `submit` subcommands and, via [FromCommand], the argument model
// the web form is derived from.
func (t *Local) Command() *cli.Command {
	subcommands := make([]*cli.Command, 0, len(ActionNames))
	for _, action := range ActionNames {
		subcommands = append(subcommands, t.actionCommand(action))
	}

	return &cli.Command{
		Name:     "submit",
		Usage:    "Run submitter actions against a project from the terminal",
		Commands: subcommands,
	}
}

// ArgumentModel implements [Tool]. The model is rebuilt on every call because
// form construction substitutes live project attributes into option bounds.
func (t *Local) ArgumentModel() Model {
	model := FromCommand(t.Command()).
		withChoices(ActionCheck, "flags", StatusFlagChoices).
		withBounds(ActionRun, "time-delay", 0, timeDelayMax).
		withBounds(ActionRerun, "time-delay", 0, timeDelayMax)

	for _, action := range []string{ActionRun, ActionRerun} {
		model = model.
			withSampleBound(action, "limit").
			withSampleBound(action, "lumpn")
	}
	return model
}

func (t *Local) actionCommand(action string) *cli.Command {
	return &cli.Command{
		Name:  action,
		Usage: actionUsage[action],
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "config"},
		},
		Flags:  actionFlags(action),
		Action: t.headless(action),
	}
}

var actionUsage = map[string]string{
	ActionRun:       "Submit all samples for processing",
	ActionRerun:     "Resubmit samples, including already completed ones",
	ActionCheck:     "Report per-sample status flags",
	ActionDestroy:   "Remove all generated results",
	ActionSummarize: "Aggregate results and build the summary page",
	ActionClean:     "Remove submission scripts and logs",
}

// actionFlags assembles the flag set for one action. Every action carries the
// shared selector and bookkeeping flags; run-like actions add submission
// controls, check adds status filters, destructive actions add confirmation.
func actionFlags(action string) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "sp", Usage: "Subproject to activate"},
		&cli.StringFlag{Name: "compute", Usage: "Compute package to submit with"},
		&cli.StringFlag{Name: "env", Usage: "Compute environment file"},
		&cli.StringFlag{Name: "selector-attribute", Usage: "Sample attribute the selectors match on", Value: "protocol"},
		&cli.StringFlag{Name: "selector-include", Usage: "Only process samples matching this value"},
		&cli.StringFlag{Name: "selector-exclude", Usage: "Skip samples matching this value"},
		&cli.BoolFlag{Name: "file-checks", Usage: "Verify sample input files exist before acting"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be done without doing it"},
	}

	switch action {
	case ActionRun, ActionRerun:
		flags = append(flags,
			&cli.BoolFlag{Name: "ignore-flags", Usage: "Submit even when status flags already exist"},
			&cli.BoolFlag{Name: "allow-duplicate-names", Usage: "Permit samples sharing a name"},
			&cli.IntFlag{Name: "limit", Usage: "Submit at most this many samples"},
			&cli.IntFlag{Name: "lumpn", Usage: "Bundle this many samples per submission"},
			&cli.Float64Flag{Name: "lump", Usage: "Bundle samples up to this input size, in GB"},
			&cli.IntFlag{Name: "time-delay", Usage: "Seconds to stagger consecutive submissions"},
		)
	case ActionCheck:
		flags = append(flags,
			&cli.BoolFlag{Name: "all-folders", Usage: "Scan all result folders, not just flagged ones"},
			&cli.StringFlag{Name: "flags", Usage: "Only report samples with this status flag"},
		)
	case ActionDestroy, ActionClean:
		flags = append(flags,
			&cli.BoolFlag{Name: "force-yes", Usage: "Skip the confirmation prompt"},
		)
	}

	return flags
}

// headless adapts one action into a CLI handler: resolve the project from the
// positional config path, collect flag values under the model's destination
// keys, and execute.
func (t *Local) headless(action string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.StringArg("config")
		if configPath == "" {
			return fmt.Errorf("usage: submit %s <project config>", action)
		}

		prj, err := project.Resolve(configPath)
		if err != nil {
			return err
		}
		if sp := cmd.String("sp"); sp != "" {
			if err := prj.ActivateSubproject(sp); err != nil {
				return err
			}
		}

		args := Args{}
		for _, spec := range t.ArgumentModel()[action] {
			if spec.Long == "" {
				continue
			}
			args[spec.Dest] = cmd.Value(spec.Long)
		}
		args[DestConfigFile] = prj.ConfigPath()
		args[DestLogfile] = prj.LogPath()
		args[DestComputePackage] = cmd.String("compute")
		if sp := prj.Subproject(); sp != "" {
			args[DestSubproject] = sp
		}

		return t.Execute(ctx, action, args, prj)
	}
}
