package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"pipedeck/internal/project"
	"pipedeck/internal/session"
	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
	tu "pipedeck/internal/testing"
)

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (m *memoryRecorder) Record(outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New(5)
	path := tu.WriteProjectConfig(t, t.TempDir(), tu.ProjectSpec{
		Name:    "alpha",
		Samples: []project.Sample{{Name: "s1", Protocol: "wgs"}},
	})
	if _, err := sess.SelectProject(path); err != nil {
		t.Fatalf("SelectProject failed: %v", err)
	}
	return sess
}

func TestRun(t *testing.T) {
	t.Run("successful execution produces a completed outcome", func(t *testing.T) {
		sess := newSession(t)
		tool := tu.NewMockTool()
		rec := &memoryRecorder{}
		run := New(tool, sess, shared.NewLogger(nil), rec)

		args := submit.Args{submit.DestLogfile: "/tmp/alpha.log"}
		outcome, err := run.Run(context.Background(), submit.ActionRun, args)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if outcome.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", outcome.Status)
		}
		if outcome.ID == "" {
			t.Error("expected a generated outcome ID")
		}
		if outcome.ProjectName != "alpha" {
			t.Errorf("expected project alpha, got %s", outcome.ProjectName)
		}
		if outcome.LogPath != "/tmp/alpha.log" {
			t.Errorf("expected log path from the bundle, got %s", outcome.LogPath)
		}
		if outcome.FinishedAt.Before(outcome.StartedAt) {
			t.Error("finish precedes start")
		}

		calls := tool.Calls()
		if len(calls) != 1 || calls[0].Action != submit.ActionRun {
			t.Errorf("expected one run call, got %+v", calls)
		}
		if len(rec.outcomes) != 1 {
			t.Errorf("expected outcome recorded, got %d", len(rec.outcomes))
		}
		if !sess.Ran() {
			t.Error("expected session marked as run")
		}
	})

	t.Run("tool failure becomes a failed outcome, not an error", func(t *testing.T) {
		sess := newSession(t)
		tool := tu.NewMockTool()
		tool.Err = errors.New("scheduler rejected the job")
		run := New(tool, sess, shared.NewLogger(nil), nil)

		outcome, err := run.Run(context.Background(), submit.ActionRun, submit.Args{})
		if err != nil {
			t.Fatalf("Run returned an error for a tool failure: %v", err)
		}
		if !outcome.Failed() {
			t.Error("expected a failed outcome")
		}
		if !strings.Contains(outcome.Detail, "scheduler rejected") {
			t.Errorf("expected detail to carry the tool error, got %q", outcome.Detail)
		}
		if sess.Ran() {
			t.Error("failed run must not mark the session as run")
		}
	})

	t.Run("tool panic is contained and releases the slot", func(t *testing.T) {
		sess := newSession(t)
		tool := tu.NewMockTool()
		tool.Panic = true
		run := New(tool, sess, shared.NewLogger(nil), nil)

		outcome, err := run.Run(context.Background(), submit.ActionRun, submit.Args{})
		if err != nil {
			t.Fatalf("Run returned an error for a panicking tool: %v", err)
		}
		if !outcome.Failed() {
			t.Error("expected a failed outcome after panic")
		}
		if snap := sess.Snapshot(); snap.InFlight {
			t.Error("execution slot still held after panic")
		}

		// The session must accept the next action.
		tool.Panic = false
		if _, err := run.Run(context.Background(), submit.ActionCheck, submit.Args{}); err != nil {
			t.Errorf("follow-up action refused: %v", err)
		}
	})

	t.Run("unknown action is refused before claiming the slot", func(t *testing.T) {
		sess := newSession(t)
		run := New(tu.NewMockTool(), sess, shared.NewLogger(nil), nil)

		if _, err := run.Run(context.Background(), "defrag", submit.Args{}); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent action is refused with busy", func(t *testing.T) {
		sess := newSession(t)
		slow := tu.NewSlowTool()
		run := New(slow, sess, shared.NewLogger(nil), nil)

		done := make(chan error, 1)
		go func() {
			_, err := run.Run(context.Background(), submit.ActionRun, submit.Args{})
			done <- err
		}()
		<-slow.Started

		if _, err := run.Run(context.Background(), submit.ActionCheck, submit.Args{}); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}

		slow.Release()
		if err := <-done; err != nil {
			t.Errorf("first action failed: %v", err)
		}
	})

	t.Run("recorder failure is swallowed", func(t *testing.T) {
		sess := newSession(t)
		rec := &memoryRecorder{err: errors.New("disk full")}
		run := New(tu.NewMockTool(), sess, shared.NewLogger(nil), rec)

		if _, err := run.Run(context.Background(), submit.ActionRun, submit.Args{}); err != nil {
			t.Errorf("recording failure leaked to the operator: %v", err)
		}
	})
}
