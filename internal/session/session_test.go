package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pipedeck/internal/project"
	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
	tu "pipedeck/internal/testing"
)

func writeProject(t *testing.T, name string) string {
	t.Helper()
	return tu.WriteProjectConfig(t, t.TempDir(), tu.ProjectSpec{
		Name: name,
		Samples: []project.Sample{
			{Name: "s1", Protocol: "wgs"},
			{Name: "s2", Protocol: "rna"},
		},
		Subprojects: map[string]project.Subproject{
			"batch2": {Protocols: []string{"rna"}},
		},
	})
}

func TestSelectProject(t *testing.T) {
	t.Run("activates a resolvable project", func(t *testing.T) {
		sess := New(5)
		path := writeProject(t, "alpha")

		snap, err := sess.SelectProject(path)
		if err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		if snap.ProjectName != "alpha" {
			t.Errorf("expected project alpha, got %s", snap.ProjectName)
		}
		if snap.SampleCount != 2 {
			t.Errorf("expected 2 samples, got %d", snap.SampleCount)
		}
		if snap.Ran {
			t.Error("fresh selection should not be marked as run")
		}
	})

	t.Run("resolution failure keeps the previous selection", func(t *testing.T) {
		sess := New(5)
		path := writeProject(t, "alpha")
		if _, err := sess.SelectProject(path); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}

		_, err := sess.SelectProject(filepath.Join(t.TempDir(), "missing.toml"))
		if !errors.Is(err, shared.ErrProjectResolve) {
			t.Fatalf("expected ErrProjectResolve, got %v", err)
		}
		if snap := sess.Snapshot(); snap.ProjectName != "alpha" {
			t.Errorf("previous selection lost, got %q", snap.ProjectName)
		}
	})

	t.Run("replacing the selection discards derived state", func(t *testing.T) {
		sess := New(5)
		first := writeProject(t, "alpha")
		second := writeProject(t, "beta")

		if _, err := sess.SelectProject(first); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		if _, err := sess.ActivateSubproject("batch2"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		sess.RecordOutcome(submit.ActionRun, true)

		snap, err := sess.SelectProject(second)
		if err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		if snap.ProjectName != "beta" {
			t.Errorf("expected beta, got %s", snap.ProjectName)
		}
		if snap.Subproject != "" {
			t.Errorf("subproject activation leaked across selection: %q", snap.Subproject)
		}
		if snap.Ran {
			t.Error("run flag leaked across selection")
		}
	})

	t.Run("re-selecting the same path preserves state", func(t *testing.T) {
		sess := New(5)
		path := writeProject(t, "alpha")

		if _, err := sess.SelectProject(path); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		if _, err := sess.ActivateSubproject("batch2"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		sess.RecordOutcome(submit.ActionRun, true)

		snap, err := sess.SelectProject(path)
		if err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		if snap.Subproject != "batch2" {
			t.Errorf("expected subproject preserved, got %q", snap.Subproject)
		}
		if !snap.Ran {
			t.Error("expected run flag preserved")
		}
	})

	t.Run("refuses while an action is in flight", func(t *testing.T) {
		sess := New(5)
		path := writeProject(t, "alpha")
		if _, err := sess.SelectProject(path); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}

		release, err := sess.Begin("run")
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		defer release()

		if _, err := sess.SelectProject(writeProject(t, "beta")); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}
	})
}

func TestActivateSubproject(t *testing.T) {
	newSelected := func(t *testing.T) *Session {
		t.Helper()
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		return sess
	}

	t.Run("narrows the effective sample set", func(t *testing.T) {
		sess := newSelected(t)

		snap, err := sess.ActivateSubproject("batch2")
		if err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		if snap.Subproject != "batch2" {
			t.Errorf("expected batch2, got %q", snap.Subproject)
		}
		if snap.SampleCount != 1 {
			t.Errorf("expected 1 sample after overlay, got %d", snap.SampleCount)
		}
	})

	t.Run("unknown name fails and changes nothing", func(t *testing.T) {
		sess := newSelected(t)
		if _, err := sess.ActivateSubproject("batch2"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}

		_, err := sess.ActivateSubproject("nope")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if snap := sess.Snapshot(); snap.Subproject != "batch2" {
			t.Errorf("activation changed on failure: %q", snap.Subproject)
		}
	})

	t.Run("reset sentinels clear the activation", func(t *testing.T) {
		for _, sentinel := range ResetSentinels {
			t.Run(sentinel, func(t *testing.T) {
				sess := newSelected(t)
				if _, err := sess.ActivateSubproject("batch2"); err != nil {
					t.Fatalf("ActivateSubproject failed: %v", err)
				}

				snap, err := sess.ActivateSubproject(sentinel)
				if err != nil {
					t.Fatalf("sentinel activation failed: %v", err)
				}
				if snap.Subproject != "" {
					t.Errorf("expected cleared activation, got %q", snap.Subproject)
				}
				if snap.SampleCount != 2 {
					t.Errorf("expected full sample set back, got %d", snap.SampleCount)
				}
			})
		}
	})

	t.Run("activation clears the run flag", func(t *testing.T) {
		sess := newSelected(t)
		sess.RecordOutcome(submit.ActionRun, true)

		if _, err := sess.ActivateSubproject("batch2"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		if sess.Ran() {
			t.Error("run flag should be stale after the view changed")
		}
	})

	t.Run("re-activating the active subproject preserves state", func(t *testing.T) {
		sess := newSelected(t)
		if _, err := sess.ActivateSubproject("batch2"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		sess.RecordOutcome(submit.ActionRun, true)

		snap, err := sess.ActivateSubproject("batch2")
		if err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		if snap.Subproject != "batch2" {
			t.Errorf("expected batch2 still active, got %q", snap.Subproject)
		}
		if !sess.Ran() {
			t.Error("run flag should survive a no-op activation")
		}
	})

	t.Run("sentinel with no activation is a no-op", func(t *testing.T) {
		sess := newSelected(t)
		sess.RecordOutcome(submit.ActionRun, true)

		if _, err := sess.ActivateSubproject("None"); err != nil {
			t.Fatalf("sentinel activation failed: %v", err)
		}
		if !sess.Ran() {
			t.Error("run flag should survive resetting an inactive overlay")
		}
	})

	t.Run("without a project fails with invalid state", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.ActivateSubproject("batch2"); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestBegin(t *testing.T) {
	t.Run("claims and releases the execution slot", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}

		release, err := sess.Begin("run")
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if snap := sess.Snapshot(); !snap.InFlight || snap.Action != "run" {
			t.Errorf("expected in-flight run, got %+v", snap)
		}

		release()
		if snap := sess.Snapshot(); snap.InFlight {
			t.Error("slot still held after release")
		}

		// release is idempotent
		release()
	})

	t.Run("refuses a second action", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}

		release, err := sess.Begin("run")
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		defer release()

		if _, err := sess.Begin("check"); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}
	})

	t.Run("refuses without a project", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.Begin("run"); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("only one concurrent claimant wins", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}

		// Hold every claimed slot until all claimants have finished, so a
		// winner's release cannot hand the slot to a later goroutine.
		var wg sync.WaitGroup
		var mu sync.Mutex
		var releases []func()
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if release, err := sess.Begin("run"); err == nil {
					mu.Lock()
					releases = append(releases, release)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(releases) != 1 {
			t.Errorf("expected exactly one winner, got %d", len(releases))
		}
		if snap := sess.Snapshot(); !snap.InFlight {
			t.Error("expected the slot to still be held")
		}
		for _, release := range releases {
			release()
		}
		if snap := sess.Snapshot(); snap.InFlight {
			t.Error("slot still held after release")
		}
	})
}

func TestRecordOutcome(t *testing.T) {
	newSelected := func(t *testing.T) *Session {
		t.Helper()
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		return sess
	}

	t.Run("successful run marks ran", func(t *testing.T) {
		sess := newSelected(t)
		sess.RecordOutcome(submit.ActionRun, true)
		if !sess.Ran() {
			t.Error("expected ran after successful run")
		}
	})

	t.Run("failed run does not mark ran", func(t *testing.T) {
		sess := newSelected(t)
		sess.RecordOutcome(submit.ActionRun, false)
		if sess.Ran() {
			t.Error("failed run should not mark ran")
		}
	})

	t.Run("successful summarize refreshes the summary flag", func(t *testing.T) {
		sess := newSelected(t)
		prj := sess.Project()

		if err := os.WriteFile(filepath.Join(prj.OutputDir(), prj.SummaryFileName()), []byte("<html></html>"), 0o644); err != nil {
			t.Fatalf("failed to write summary page: %v", err)
		}
		sess.RecordOutcome(submit.ActionSummarize, true)

		if snap := sess.Snapshot(); !snap.SummaryReady {
			t.Error("expected summary ready after summarize")
		}
	})
}

func TestResetAll(t *testing.T) {
	t.Run("returns to the initial state keeping preferences", func(t *testing.T) {
		sess := New(7)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		sess.SetComputePackage("slurm")
		sess.RecordOutcome(submit.ActionRun, true)

		if err := sess.ResetAll(); err != nil {
			t.Fatalf("ResetAll failed: %v", err)
		}

		snap := sess.Snapshot()
		if snap.ProjectPath != "" || snap.Ran || snap.SummaryReady {
			t.Errorf("expected pristine state, got %+v", snap)
		}
		if snap.ComputePackage != "slurm" {
			t.Errorf("compute preference lost: %q", snap.ComputePackage)
		}
		if snap.PollInterval != 7 {
			t.Errorf("poll interval lost: %d", snap.PollInterval)
		}
	})

	t.Run("refuses while in flight", func(t *testing.T) {
		sess := New(5)
		if _, err := sess.SelectProject(writeProject(t, "alpha")); err != nil {
			t.Fatalf("SelectProject failed: %v", err)
		}
		release, err := sess.Begin("run")
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		defer release()

		if err := sess.ResetAll(); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("expected ErrBusy, got %v", err)
		}
	})
}
