// package session holds the panel's server-side operator state: which
// project is selected, which subproject overlay is active, and whether an
// action is in flight.
//
// The panel is a multi-step wizard spanning several HTTP round trips, so this
// state is process-wide and shared, owned by one Session value behind a
// mutex -- never package globals.
package session

import (
	"fmt"
	"path/filepath"
	"sync"

	"pipedeck/internal/project"
	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
)

// ResetSentinels are subproject names that mean "clear the activation".
var ResetSentinels = []string{"None", "reset"}

// Snapshot is a point-in-time copy of the session state, safe to serialize
// while an action is running.
type Snapshot struct {
	ProjectPath    string   `json:"project_path,omitempty"`
	ProjectName    string   `json:"project_name,omitempty"`
	SampleCount    int      `json:"sample_count"`
	OutputDir      string   `json:"output_dir,omitempty"`
	Subprojects    []string `json:"subprojects,omitempty"`
	Subproject     string   `json:"subproject,omitempty"`
	InFlight       bool     `json:"in_flight"`
	Action         string   `json:"action,omitempty"`
	Ran            bool     `json:"ran"`
	SummaryReady   bool     `json:"summary_ready"`
	LogPath        string   `json:"log_path,omitempty"`
	ComputePackage string   `json:"compute_package"`
	PollInterval   int      `json:"poll_interval"`
}

// Session is the selection and activation state machine. All transitions are
// serialized by its mutex; exactly one action may be in flight at a time.
type Session struct {
	mu sync.Mutex

	prj        *project.Handle
	inFlight   bool
	action     string
	ran        bool
	summary    bool
	lastAction string

	computePackage string
	pollInterval   int
}

// New creates an idle session with no project selected.
func New(pollInterval int) *Session {
	if pollInterval <= 0 {
		pollInterval = 5
	}
	return &Session{
		computePackage: shared.DefaultComputePackage,
		pollInterval:   pollInterval,
	}
}

// SelectProject resolves path and makes it the active project, discarding the
// previous selection along with its subproject activation and run flag.
//
// Re-selecting the path that is already active is a no-op and preserves all
// state. Resolution failure leaves the previous selection untouched. Fails
// with [shared.ErrBusy] while an action is in flight.
func (s *Session) SelectProject(path string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return s.snapshotLocked(), fmt.Errorf("%w: cannot change selection", shared.ErrBusy)
	}

	if s.prj != nil {
		if abs, err := filepath.Abs(shared.ExpandPath(path)); err == nil && abs == s.prj.ConfigPath() {
			return s.snapshotLocked(), nil
		}
	}

	handle, err := project.Resolve(path)
	if err != nil {
		return s.snapshotLocked(), err
	}

	s.prj = handle
	s.ran = false
	s.summary = handle.SummaryExists()
	s.lastAction = ""
	return s.snapshotLocked(), nil
}

// ActivateSubproject overlays the named subproject on the active project.
// The reset sentinel clears the activation. When the effective view actually
// changes the run flag is cleared, since prior run status is stale; naming
// the already-active subproject (or resetting with none active) is a no-op,
// like re-selecting the active project path. Unknown names fail with
// [shared.ErrNotFound] and change nothing.
func (s *Session) ActivateSubproject(name string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return s.snapshotLocked(), fmt.Errorf("%w: cannot change selection", shared.ErrBusy)
	}
	if s.prj == nil {
		return s.snapshotLocked(), fmt.Errorf("%w: no project selected", shared.ErrInvalidState)
	}

	target := name
	if isResetSentinel(name) {
		target = ""
	}
	if target == s.prj.Subproject() {
		return s.snapshotLocked(), nil
	}

	if target == "" {
		s.prj.DeactivateSubproject()
	} else if err := s.prj.ActivateSubproject(target); err != nil {
		return s.snapshotLocked(), err
	}

	s.ran = false
	s.summary = s.prj.SummaryExists()
	return s.snapshotLocked(), nil
}

// ResetAll discards the selection and every derived flag, returning the
// session to its initial state. Operator preferences survive.
func (s *Session) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return fmt.Errorf("%w: cannot reset", shared.ErrBusy)
	}

	s.prj = nil
	s.ran = false
	s.summary = false
	s.action = ""
	s.lastAction = ""
	return nil
}

// Begin claims the single execution slot for an action. It fails fast with
// [shared.ErrBusy] when another action is in flight and [shared.ErrInvalidState]
// when no project is selected; it never blocks or queues. The returned
// release function must be called on every exit path.
func (s *Session) Begin(action string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prj == nil {
		return nil, fmt.Errorf("%w: no project selected", shared.ErrInvalidState)
	}
	if s.inFlight {
		return nil, fmt.Errorf("%w: %q still running", shared.ErrBusy, s.action)
	}

	s.inFlight = true
	s.action = action

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.inFlight = false
			s.lastAction = action
			s.action = ""
		})
	}, nil
}

// RecordOutcome updates the derived flags after an action finishes: a
// successful run marks the project as run, a successful summarize refreshes
// the summary pointer.
func (s *Session) RecordOutcome(action string, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !succeeded {
		return
	}
	switch action {
	case submit.ActionRun, submit.ActionRerun:
		s.ran = true
	case submit.ActionSummarize:
		if s.prj != nil {
			s.summary = s.prj.SummaryExists()
		}
	}
}

// Project returns the active project handle, or nil. The handle must only be
// mutated through the session's own transitions.
func (s *Session) Project() *project.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prj
}

// Ran reports whether the current project view has completed a run.
func (s *Session) Ran() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

// SetComputePackage records the operator's compute package preference. It is
// not project data and survives selection changes.
func (s *Session) SetComputePackage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computePackage = name
}

// ComputePackage returns the operator's compute package preference.
func (s *Session) ComputePackage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.computePackage
}

// SetPollInterval records the suggested seconds between status polls.
func (s *Session) SetPollInterval(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seconds > 0 {
		s.pollInterval = seconds
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		InFlight:       s.inFlight,
		Ran:            s.ran,
		SummaryReady:   s.summary,
		ComputePackage: s.computePackage,
		PollInterval:   s.pollInterval,
	}
	if s.action != "" {
		snap.Action = s.action
	} else {
		snap.Action = s.lastAction
	}
	if s.prj != nil {
		snap.ProjectPath = s.prj.ConfigPath()
		snap.ProjectName = s.prj.Name()
		snap.SampleCount = s.prj.SampleCount()
		snap.OutputDir = s.prj.OutputDir()
		snap.Subprojects = s.prj.SubprojectNames()
		snap.Subproject = s.prj.Subproject()
		snap.LogPath = s.prj.LogPath()
	}
	return snap
}

func isResetSentinel(name string) bool {
	for _, sentinel := range ResetSentinels {
		if name == sentinel {
			return true
		}
	}
	return false
}
