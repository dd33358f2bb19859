// package runner drives one submitter action at a time on behalf of the
// panel, turning tool failures into reportable outcomes instead of crashes.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"pipedeck/internal/project"
	"pipedeck/internal/session"
	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
)

// Outcome statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Outcome describes one finished action execution.
type Outcome struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	ProjectPath string    `json:"project_path"`
	ProjectName string    `json:"project_name"`
	Subproject  string    `json:"subproject,omitempty"`
	LogPath     string    `json:"log_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Failed reports whether the execution failed.
func (o Outcome) Failed() bool { return o.Status == StatusFailed }

// Recorder persists finished outcomes. Recording failures are logged, never
// surfaced to the operator.
type Recorder interface {
	Record(outcome Outcome) error
}

// Runner executes validated argument bundles against the submitter, holding
// the session's single execution slot for the duration.
type Runner struct {
	tool     submit.Tool
	sess     *session.Session
	logger   *log.Logger
	recorder Recorder
}

// New creates a Runner. The recorder may be nil when history is disabled.
func New(tool submit.Tool, sess *session.Session, logger *log.Logger, recorder Recorder) *Runner {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Runner{tool: tool, sess: sess, logger: logger, recorder: recorder}
}

// Run executes one action with the given bundle against the currently
// activated project.
//
// The call blocks until the tool returns: the triggering request does not
// come back before the action finishes or fails. The execution slot is
// claimed up front and released on every exit path, including panics inside
// the tool; a tool failure comes back as a failed Outcome, not an error.
// Errors are reserved for refusals: Busy while another action is in flight,
// InvalidState when no project is selected, NotFound for unknown actions.
func (r *Runner) Run(ctx context.Context, action string, args submit.Args) (Outcome, error) {
	if !submit.KnownAction(action) {
		return Outcome{}, fmt.Errorf("%w: action %q", shared.ErrNotFound, action)
	}

	release, err := r.sess.Begin(action)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	prj := r.sess.Project()
	outcome := Outcome{
		ID:          shared.GenerateID(),
		Action:      action,
		ProjectPath: prj.ConfigPath(),
		ProjectName: prj.Name(),
		Subproject:  prj.Subproject(),
		LogPath:     args.String(submit.DestLogfile),
		StartedAt:   time.Now(),
	}

	execErr := r.execute(ctx, action, args, prj)
	outcome.FinishedAt = time.Now()

	if execErr != nil {
		outcome.Status = StatusFailed
		outcome.Detail = execErr.Error()
		r.logger.Error("action failed", "action", action, "project", prj.Name(), "err", execErr)
	} else {
		outcome.Status = StatusCompleted
		r.logger.Info("action completed", "action", action, "project", prj.Name(),
			"duration", outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
	}

	r.sess.RecordOutcome(action, execErr == nil)
	r.record(outcome)

	return outcome, nil
}

// execute invokes the tool behind a panic guard so a defective action cannot
// take the server down or leave the flight slot held.
func (r *Runner) execute(ctx context.Context, action string, args submit.Args, prj *project.Handle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s panicked: %v", shared.ErrExecution, action, rec)
		}
	}()
	return r.tool.Execute(ctx, action, args, prj)
}

func (r *Runner) record(outcome Outcome) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(outcome); err != nil {
		r.logger.Warn("could not record run history", "err", err)
	}
}
