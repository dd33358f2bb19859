// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pipedeck/internal/project"
	"pipedeck/internal/submit"
)

// MockTool is a test double for [submit.Tool]. It records every Execute call
// and can be primed to fail or panic.
type MockTool struct {
	mu    sync.Mutex
	calls []ToolCall

	Model submit.Model
	Err   error
	Panic bool
}

// ToolCall captures the arguments of one Execute invocation.
type ToolCall struct {
	Action string
	Args   submit.Args
	Path   string
}

func NewMockTool() *MockTool {
	return &MockTool{Model: DefaultModel()}
}

func (m *MockTool) ArgumentModel() submit.Model { return m.Model }

func (m *MockTool) Execute(ctx context.Context, action string, args submit.Args, prj *project.Handle) error {
	m.mu.Lock()
	call := ToolCall{Action: action, Args: args}
	if prj != nil {
		call.Path = prj.ConfigPath()
	}
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.Panic {
		panic("mock tool panic")
	}
	return m.Err
}

// Calls returns a copy of the recorded Execute invocations.
func (m *MockTool) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// DefaultModel returns a small argument model covering every element kind.
func DefaultModel() submit.Model {
	return submit.Model{
		submit.ActionRun: {
			{Long: "dry-run", Dest: "dry_run", Kind: submit.KindBool, Default: false},
			{Long: "limit", Dest: "limit", Kind: submit.KindInt, Default: 0, SampleBounded: true},
			{Long: "time-delay", Dest: "time_delay", Kind: submit.KindInt, Default: 0, Min: 0, Max: 30, HasBounds: true},
			{Long: "lump", Dest: "lump", Kind: submit.KindFloat, Default: 0.0},
			{Long: "selector-attribute", Dest: "selector_attribute", Kind: submit.KindString, Default: "protocol"},
			{Long: "compute", Dest: "compute_package", Kind: submit.KindString, Default: ""},
			{Long: "sp", Dest: "subproject", Kind: submit.KindString, Default: ""},
		},
		submit.ActionCheck: {
			{Long: "flags", Dest: "flags", Kind: submit.KindString, Default: "", Choices: submit.StatusFlagChoices},
			{Long: "all-folders", Dest: "all_folders", Kind: submit.KindBool, Default: false},
		},
		submit.ActionSummarize: {
			{Long: "dry-run", Dest: "dry_run", Kind: submit.KindBool, Default: false},
		},
	}
}

// SlowTool blocks inside Execute until Release is called, for exercising
// in-flight behavior.
type SlowTool struct {
	Started chan struct{}
	Gate    chan struct{}
	Model   submit.Model
}

func NewSlowTool() *SlowTool {
	return &SlowTool{
		Started: make(chan struct{}),
		Gate:    make(chan struct{}),
		Model:   DefaultModel(),
	}
}

func (s *SlowTool) ArgumentModel() submit.Model { return s.Model }

func (s *SlowTool) Execute(ctx context.Context, action string, args submit.Args, prj *project.Handle) error {
	close(s.Started)
	<-s.Gate
	return nil
}

// Release unblocks a pending Execute call.
func (s *SlowTool) Release() { close(s.Gate) }

// ProjectSpec configures WriteProjectConfig.
type ProjectSpec struct {
	Name        string
	Samples     []project.Sample
	Subprojects map[string]project.Subproject
	PipelineDir string
}

// WriteProjectConfig writes a project definition under dir and returns the
// config path. The output directory is created next to it.
func WriteProjectConfig(t *testing.T, dir string, spec ProjectSpec) string {
	t.Helper()

	if spec.Name == "" {
		spec.Name = "proj"
	}
	outDir := filepath.Join(dir, spec.Name+"_results")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("Failed to create output dir: %v", err)
	}

	var b []byte
	b = fmt.Appendf(b, "name = %q\noutput_dir = %q\n", spec.Name, outDir)
	if spec.PipelineDir != "" {
		b = fmt.Appendf(b, "pipeline_dir = %q\n", spec.PipelineDir)
	}
	for _, s := range spec.Samples {
		b = fmt.Appendf(b, "\n[[samples]]\nname = %q\nprotocol = %q\ninput = %q\n", s.Name, s.Protocol, s.Input)
	}
	for name, sp := range spec.Subprojects {
		b = fmt.Appendf(b, "\n[subprojects.%s]\n", name)
		if len(sp.Protocols) > 0 {
			b = fmt.Appendf(b, "protocols = %s\n", tomlStrings(sp.Protocols))
		}
		if len(sp.Samples) > 0 {
			b = fmt.Appendf(b, "samples = %s\n", tomlStrings(sp.Samples))
		}
		if sp.OutputDir != "" {
			b = fmt.Appendf(b, "output_dir = %q\n", sp.OutputDir)
		}
	}

	path := filepath.Join(dir, spec.Name+".toml")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("Failed to write project config: %v", err)
	}
	return path
}

func tomlStrings(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}

// MustResolve resolves a project config or fails the test.
func MustResolve(t *testing.T, path string) *project.Handle {
	t.Helper()
	h, err := project.Resolve(path)
	if err != nil {
		t.Fatalf("Failed to resolve project %s: %v", path, err)
	}
	return h
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
