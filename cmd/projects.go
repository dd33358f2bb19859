package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Projects lists the configured projects with their resolved metadata.
func (r *Runner) Projects(ctx context.Context, cmd *cli.Command) error {
	metas := r.catalog.List()

	if cmd.Bool("json") {
		return r.writeJSON(metas, cmd.Bool("pretty"))
	}

	for _, meta := range metas {
		if meta.Missing {
			r.writePlain("%s\t(unavailable: %s)\n", meta.Path, meta.Error)
			continue
		}
		r.writePlain("%s\t%s\t%d samples", meta.Path, meta.Name, meta.SampleCount)
		if len(meta.Subprojects) > 0 {
			r.writePlain("\t%v", meta.Subprojects)
		}
		r.writePlain("\n")
	}
	return nil
}

// History lists recorded runs from the history database.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	store, closeStore, err := r.openHistory()
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.Recent(cmd.String("project"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, true)
	}

	for _, run := range runs {
		r.writePlain("%s\t%s\t%s\t%s\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.ProjectName, run.Action, run.Status)
	}
	return nil
}
