package project

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pipedeck/internal/shared"
)

const projectTOML = `
name = "alpha"
output_dir = "results"
pipeline_dir = "pipeline"

[[samples]]
name = "s1"
protocol = "wgs"
input = "data/s1.fq"

[[samples]]
name = "s2"
protocol = "rna"
input = "data/s2.fq"

[[samples]]
name = "s3"
protocol = "rna"
input = "data/s3.fq"

[subprojects.rna_only]
protocols = ["rna"]

[subprojects.picked]
samples = ["s1", "s3"]
output_dir = "picked_results"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alpha.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write project config: %v", err)
	}
	return path
}

func TestResolve(t *testing.T) {
	t.Run("loads a complete definition", func(t *testing.T) {
		path := writeConfig(t, projectTOML)

		h, err := Resolve(path)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		if h.Name() != "alpha" {
			t.Errorf("expected name alpha, got %s", h.Name())
		}
		if !filepath.IsAbs(h.ConfigPath()) {
			t.Errorf("expected absolute config path, got %s", h.ConfigPath())
		}
		if h.SampleCount() != 3 {
			t.Errorf("expected 3 samples, got %d", h.SampleCount())
		}
		if got := h.SubprojectNames(); len(got) != 2 || got[0] != "picked" || got[1] != "rna_only" {
			t.Errorf("expected sorted subproject names, got %v", got)
		}
	})

	t.Run("relative directories resolve against the config dir", func(t *testing.T) {
		path := writeConfig(t, projectTOML)
		h, err := Resolve(path)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		wantOut := filepath.Join(filepath.Dir(path), "results")
		if h.OutputDir() != wantOut {
			t.Errorf("expected output dir %s, got %s", wantOut, h.OutputDir())
		}
		if h.LogPath() != filepath.Join(wantOut, LogFilename) {
			t.Errorf("unexpected log path %s", h.LogPath())
		}
	})

	t.Run("name defaults to the file name", func(t *testing.T) {
		path := writeConfig(t, "output_dir = \"results\"\n")
		h, err := Resolve(path)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if h.Name() != "alpha" {
			t.Errorf("expected name from file, got %s", h.Name())
		}
	})

	t.Run("failures wrap the resolve error", func(t *testing.T) {
		cases := []struct {
			name string
			path func(t *testing.T) string
		}{
			{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.toml") }},
			{"malformed toml", func(t *testing.T) string { return writeConfig(t, "name = [broken") }},
			{"missing output_dir", func(t *testing.T) string { return writeConfig(t, "name = \"x\"\n") }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := Resolve(tc.path(t)); !errors.Is(err, shared.ErrProjectResolve) {
					t.Errorf("expected ErrProjectResolve, got %v", err)
				}
			})
		}
	})
}

func TestSubprojects(t *testing.T) {
	resolve := func(t *testing.T) *Handle {
		t.Helper()
		h, err := Resolve(writeConfig(t, projectTOML))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		return h
	}

	t.Run("protocol filter narrows samples", func(t *testing.T) {
		h := resolve(t)
		if err := h.ActivateSubproject("rna_only"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}

		samples := h.Samples()
		if len(samples) != 2 {
			t.Fatalf("expected 2 rna samples, got %d", len(samples))
		}
		for _, s := range samples {
			if s.Protocol != "rna" {
				t.Errorf("sample %s has protocol %s", s.Name, s.Protocol)
			}
		}
	})

	t.Run("explicit sample list narrows samples", func(t *testing.T) {
		h := resolve(t)
		if err := h.ActivateSubproject("picked"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}

		samples := h.Samples()
		if len(samples) != 2 || samples[0].Name != "s1" || samples[1].Name != "s3" {
			t.Errorf("expected s1 and s3, got %v", samples)
		}
	})

	t.Run("overlay overrides the output dir", func(t *testing.T) {
		h := resolve(t)
		if err := h.ActivateSubproject("picked"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}

		want := filepath.Join(filepath.Dir(h.ConfigPath()), "picked_results")
		if h.OutputDir() != want {
			t.Errorf("expected overridden output dir %s, got %s", want, h.OutputDir())
		}
	})

	t.Run("unknown subproject leaves the activation", func(t *testing.T) {
		h := resolve(t)
		if err := h.ActivateSubproject("rna_only"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		if err := h.ActivateSubproject("nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if h.Subproject() != "rna_only" {
			t.Errorf("activation changed on failure: %q", h.Subproject())
		}
	})

	t.Run("deactivation restores the full view", func(t *testing.T) {
		h := resolve(t)
		if err := h.ActivateSubproject("rna_only"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		h.DeactivateSubproject()
		if h.SampleCount() != 3 {
			t.Errorf("expected full sample set, got %d", h.SampleCount())
		}
	})

	t.Run("activation races cleanly with readers", func(t *testing.T) {
		// Request handlers read through a shared handle while the session
		// switches subprojects; run under -race this exercises that overlap.
		h := resolve(t)
		done := make(chan struct{})
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done)
			for range 200 {
				if err := h.ActivateSubproject("picked"); err != nil {
					t.Errorf("ActivateSubproject failed: %v", err)
					return
				}
				h.DeactivateSubproject()
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_ = h.OutputDir()
				_ = h.SummaryFileName()
				_ = h.SampleCount()
				_ = h.SummaryExists()
			}
		}()

		wg.Wait()
		if h.Subproject() != "" {
			t.Errorf("expected no active subproject, got %q", h.Subproject())
		}
	})
}

func TestSummary(t *testing.T) {
	t.Run("summary file name tracks the active view", func(t *testing.T) {
		h, err := Resolve(writeConfig(t, projectTOML))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}

		if got := h.SummaryFileName(); got != "alpha_summary.html" {
			t.Errorf("expected alpha_summary.html, got %s", got)
		}
		if err := h.ActivateSubproject("rna_only"); err != nil {
			t.Fatalf("ActivateSubproject failed: %v", err)
		}
		if got := h.SummaryFileName(); got != "alpha_rna_only_summary.html" {
			t.Errorf("expected alpha_rna_only_summary.html, got %s", got)
		}
	})

	t.Run("existence follows the file on disk", func(t *testing.T) {
		h, err := Resolve(writeConfig(t, projectTOML))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if h.SummaryExists() {
			t.Error("summary should not exist yet")
		}

		if err := os.MkdirAll(h.OutputDir(), 0o755); err != nil {
			t.Fatalf("failed to create output dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(h.OutputDir(), h.SummaryFileName()), []byte("<html></html>"), 0o644); err != nil {
			t.Fatalf("failed to write summary: %v", err)
		}
		if !h.SummaryExists() {
			t.Error("summary should exist")
		}
	})
}

func TestCatalog(t *testing.T) {
	t.Run("lists resolvable and missing projects", func(t *testing.T) {
		good := writeConfig(t, projectTOML)
		missing := filepath.Join(t.TempDir(), "gone.toml")

		catalog, err := NewCatalog([]string{good, missing})
		if err != nil {
			t.Fatalf("NewCatalog failed: %v", err)
		}

		metas := catalog.List()
		if len(metas) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(metas))
		}
		if metas[0].Missing || metas[0].Name != "alpha" || metas[0].SampleCount != 3 {
			t.Errorf("unexpected meta for resolvable project: %+v", metas[0])
		}
		if !metas[1].Missing || metas[1].Error == "" {
			t.Errorf("expected missing entry with error, got %+v", metas[1])
		}
	})

	t.Run("invalidate picks up definition changes", func(t *testing.T) {
		path := writeConfig(t, projectTOML)
		catalog, err := NewCatalog([]string{path})
		if err != nil {
			t.Fatalf("NewCatalog failed: %v", err)
		}

		if got := catalog.List()[0].SampleCount; got != 3 {
			t.Fatalf("expected 3 samples, got %d", got)
		}

		if err := os.WriteFile(path, []byte("name = \"alpha\"\noutput_dir = \"results\"\n"), 0o644); err != nil {
			t.Fatalf("failed to rewrite config: %v", err)
		}

		if got := catalog.List()[0].SampleCount; got != 3 {
			t.Errorf("expected cached metadata before invalidation, got %d", got)
		}
		catalog.Invalidate(path)
		if got := catalog.List()[0].SampleCount; got != 0 {
			t.Errorf("expected refreshed metadata after invalidation, got %d", got)
		}
	})

	t.Run("invalidate accepts an alternate path spelling", func(t *testing.T) {
		path := writeConfig(t, projectTOML)
		catalog, err := NewCatalog([]string{path})
		if err != nil {
			t.Fatalf("NewCatalog failed: %v", err)
		}

		if got := catalog.List()[0].SampleCount; got != 3 {
			t.Fatalf("expected 3 samples, got %d", got)
		}
		if err := os.WriteFile(path, []byte("name = \"alpha\"\noutput_dir = \"results\"\n"), 0o644); err != nil {
			t.Fatalf("failed to rewrite config: %v", err)
		}

		// Same file, uncleaned spelling: dir/../dir/alpha.toml.
		dir := filepath.Dir(path)
		alt := dir + string(filepath.Separator) + ".." + string(filepath.Separator) + filepath.Base(dir) + string(filepath.Separator) + filepath.Base(path)
		catalog.Invalidate(alt)

		if got := catalog.List()[0].SampleCount; got != 0 {
			t.Errorf("expected refreshed metadata after invalidation, got %d", got)
		}
	})
}
