package history

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"pipedeck/internal/runner"
	"pipedeck/internal/shared"
)

func newStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return NewStore(db), db
}

func outcome(id, projectPath, action, status string) runner.Outcome {
	now := time.Now().UTC()
	return runner.Outcome{
		ID:          id,
		Action:      action,
		Status:      status,
		ProjectPath: projectPath,
		ProjectName: "alpha",
		LogPath:     "/out/pipedeck.log",
		StartedAt:   now.Add(-time.Minute),
		FinishedAt:  now,
	}
}

func TestStore(t *testing.T) {
	t.Run("record and read back", func(t *testing.T) {
		store, _ := newStore(t)

		if err := store.Record(outcome("id-1", "/prj/a.toml", "run", runner.StatusCompleted)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		runs, err := store.Recent("", 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("expected 1 run, got %d", len(runs))
		}

		run := runs[0]
		if run.ID != "id-1" || run.Action != "run" || run.Status != runner.StatusCompleted {
			t.Errorf("unexpected run: %+v", run)
		}
		if run.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", run.Sequence)
		}
		if run.FinishedAt.Before(run.StartedAt) {
			t.Error("timestamps lost ordering through the database")
		}
	})

	t.Run("newest first with monotonic sequences", func(t *testing.T) {
		store, _ := newStore(t)

		for i := 1; i <= 3; i++ {
			if err := store.Record(outcome(fmt.Sprintf("id-%d", i), "/prj/a.toml", "run", runner.StatusCompleted)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		runs, err := store.Recent("", 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(runs) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(runs))
		}
		for i, run := range runs {
			if want := 3 - i; run.Sequence != want {
				t.Errorf("run %d: expected sequence %d, got %d", i, want, run.Sequence)
			}
		}
	})

	t.Run("project filter and limit", func(t *testing.T) {
		store, _ := newStore(t)

		for i := range 5 {
			path := "/prj/a.toml"
			if i%2 == 1 {
				path = "/prj/b.toml"
			}
			if err := store.Record(outcome(fmt.Sprintf("id-%d", i), path, "check", runner.StatusCompleted)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		runs, err := store.Recent("/prj/a.toml", 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(runs) != 3 {
			t.Errorf("expected 3 runs for the project, got %d", len(runs))
		}
		for _, run := range runs {
			if run.ProjectPath != "/prj/a.toml" {
				t.Errorf("filter leaked run for %s", run.ProjectPath)
			}
		}

		limited, err := store.Recent("", 2)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 runs with limit, got %d", len(limited))
		}
	})

	t.Run("failed outcomes keep their detail", func(t *testing.T) {
		store, _ := newStore(t)

		failed := outcome("id-f", "/prj/a.toml", "destroy", runner.StatusFailed)
		failed.Detail = "refusing to destroy results without confirmation"
		if err := store.Record(failed); err != nil {
			t.Fatalf("Record failed: %v", err)
		}

		runs, err := store.Recent("", 1)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if runs[0].Detail != failed.Detail {
			t.Errorf("detail lost: %q", runs[0].Detail)
		}
	})
}
