// package submit implements the batch submitter the panel drives: a fixed set
// of actions over a project's samples, described by a CLI argument model and
// executable as a library call.
package submit

import (
	"context"
	"slices"

	"pipedeck/internal/project"
)

// Action names. The set is fixed; the panel and the CLI expose the same six.
const (
	ActionRun       = "run"
	ActionRerun     = "rerun"
	ActionCheck     = "check"
	ActionDestroy   = "destroy"
	ActionSummarize = "summarize"
	ActionClean     = "clean"
)

// ActionNames lists the actions in presentation order.
var ActionNames = []string{ActionRun, ActionRerun, ActionCheck, ActionDestroy, ActionSummarize, ActionClean}

// KnownAction reports whether name is one of the fixed actions.
func KnownAction(name string) bool {
	return slices.Contains(ActionNames, name)
}

// Destination keys the panel sets on every bundle, regardless of the form.
const (
	DestLogfile        = "logfile"
	DestConfigFile     = "config_file"
	DestSubproject     = "subproject"
	DestComputePackage = "compute_package"
	DestForceYes       = "force_yes"
)

// Args is a validated argument bundle: destination key to a typed scalar
// (bool, int, float64, string, or nil).
type Args map[string]any

// Bool reads a boolean value; absent or non-boolean values read as false.
func (a Args) Bool(key string) bool {
	v, ok := a[key].(bool)
	return ok && v
}

// Int reads an integer value; absent or non-integer values read as the fallback.
func (a Args) Int(key string, fallback int) int {
	if v, ok := a[key].(int); ok {
		return v
	}
	return fallback
}

// Float reads a float value, accepting ints; absent values read as the fallback.
func (a Args) Float(key string, fallback float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// String reads a string value; absent, nil, or non-string values read as "".
func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Tool is the submitter as the panel sees it: an introspectable argument
// model and a callable action.
type Tool interface {
	// ArgumentModel describes the tool's CLI surface, one option list per action.
	ArgumentModel() Model

	// Execute runs one action against a project. It blocks until the action
	// finishes and returns any execution error; it never panics across this
	// boundary.
	Execute(ctx context.Context, action string, args Args, prj *project.Handle) error
}
