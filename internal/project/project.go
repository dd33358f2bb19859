// package project loads file-backed project definitions and exposes the view
// of one project the rest of the app works against.
//
// A project file is TOML: a name, an output directory, a pipeline directory,
// a list of samples, and optional subproject overlays. Activating a
// subproject changes the effective sample set and output directory without
// touching the file or the config path.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"

	"pipedeck/internal/shared"
)

// LogFilename is the fixed name of the per-run action log inside a project's
// output directory.
const LogFilename = "pipedeck.log"

// Sample is one unit of work within a project.
type Sample struct {
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"`
	Input    string `toml:"input"`
}

// Subproject is a named overlay on a project's settings.
type Subproject struct {
	Protocols []string `toml:"protocols"`
	Samples   []string `toml:"samples"`
	OutputDir string   `toml:"output_dir"`
}

// definition mirrors the on-disk TOML structure.
type definition struct {
	Name        string                `toml:"name"`
	OutputDir   string                `toml:"output_dir"`
	PipelineDir string                `toml:"pipeline_dir"`
	Samples     []Sample              `toml:"samples"`
	Subprojects map[string]Subproject `toml:"subprojects"`
}

// Handle is a resolved project definition plus the currently active
// subproject overlay. The definition and config path are immutable after
// resolution; the active overlay name is guarded so a handle can be read
// by request handlers while the session switches subprojects.
type Handle struct {
	configPath string
	def        definition

	mu         sync.RWMutex
	subproject string
}

// Resolve loads the project definition at path. The path has env vars and ~
// expanded and is made absolute. Failures wrap [shared.ErrProjectResolve] so
// callers can keep their previous selection.
func Resolve(path string) (*Handle, error) {
	expanded := shared.ExpandPath(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrProjectResolve, path, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrProjectResolve, path, err)
	}

	var def definition
	if err := toml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrProjectResolve, path, err)
	}
	if def.Name == "" {
		def.Name = trimExt(filepath.Base(abs))
	}
	if def.OutputDir == "" {
		return nil, fmt.Errorf("%w: %s: missing output_dir", shared.ErrProjectResolve, path)
	}

	return &Handle{configPath: abs, def: def}, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// ConfigPath returns the absolute path of the project definition file.
func (h *Handle) ConfigPath() string { return h.configPath }

// Name returns the project's display name.
func (h *Handle) Name() string { return h.def.Name }

// PipelineDir returns the configured pipeline directory, resolved against the
// project file's directory when relative.
func (h *Handle) PipelineDir() string {
	return h.resolveDir(h.def.PipelineDir)
}

// OutputDir returns the effective output directory, honoring an active
// subproject override.
func (h *Handle) OutputDir() string {
	return h.outputDirFor(h.active())
}

// LogPath returns the fixed per-run log file location for the project.
func (h *Handle) LogPath() string {
	return filepath.Join(h.OutputDir(), LogFilename)
}

// SubprojectNames lists the project's subproject names, sorted for stable output.
func (h *Handle) SubprojectNames() []string {
	names := make([]string, 0, len(h.def.Subprojects))
	for name := range h.def.Subprojects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Subproject returns the active subproject name, or the empty string.
func (h *Handle) Subproject() string { return h.active() }

// ActivateSubproject applies the named overlay. Unknown names fail with
// [shared.ErrNotFound] and leave the current activation unchanged.
func (h *Handle) ActivateSubproject(name string) error {
	if _, ok := h.def.Subprojects[name]; !ok {
		return fmt.Errorf("%w: subproject %q in project %q", shared.ErrNotFound, name, h.def.Name)
	}
	h.mu.Lock()
	h.subproject = name
	h.mu.Unlock()
	return nil
}

// DeactivateSubproject clears any active overlay.
func (h *Handle) DeactivateSubproject() {
	h.mu.Lock()
	h.subproject = ""
	h.mu.Unlock()
}

// Samples returns the effective sample set: all samples, narrowed by the
// active subproject's protocol filter and/or explicit sample list.
func (h *Handle) Samples() []Sample {
	sp, ok := h.overlayFor(h.active())
	if !ok {
		return slices.Clone(h.def.Samples)
	}

	var out []Sample
	for _, s := range h.def.Samples {
		if len(sp.Protocols) > 0 && !slices.Contains(sp.Protocols, s.Protocol) {
			continue
		}
		if len(sp.Samples) > 0 && !slices.Contains(sp.Samples, s.Name) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SampleCount returns the effective sample count.
func (h *Handle) SampleCount() int { return len(h.Samples()) }

// SummaryFileName returns the name of the summary page for the current view:
// <name>_summary.html, with the subproject appended when one is active.
func (h *Handle) SummaryFileName() string {
	return h.summaryFileFor(h.active())
}

// SummaryExists reports whether the summary page for the current view has
// been generated. The active overlay is read once so the directory and the
// filename belong to the same view.
func (h *Handle) SummaryExists() bool {
	active := h.active()
	_, err := os.Stat(filepath.Join(h.outputDirFor(active), h.summaryFileFor(active)))
	return err == nil
}

func (h *Handle) active() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subproject
}

func (h *Handle) overlayFor(name string) (Subproject, bool) {
	if name == "" {
		return Subproject{}, false
	}
	sp, ok := h.def.Subprojects[name]
	return sp, ok
}

func (h *Handle) outputDirFor(name string) string {
	dir := h.def.OutputDir
	if sp, ok := h.overlayFor(name); ok && sp.OutputDir != "" {
		dir = sp.OutputDir
	}
	return h.resolveDir(dir)
}

func (h *Handle) summaryFileFor(name string) string {
	file := h.def.Name
	if name != "" {
		file += "_" + name
	}
	return file + "_summary.html"
}

func (h *Handle) resolveDir(dir string) string {
	dir = shared.ExpandPath(dir)
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(filepath.Dir(h.configPath), dir)
}
