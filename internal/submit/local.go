package submit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"pipedeck/internal/project"
	"pipedeck/internal/shared"
)

// Local is the in-process submitter implementation. Submission scripts, flag
// files, and summary artifacts are written under the project's output
// directory; there is no remote scheduler behind it.
type Local struct {
	config *shared.Config
	logger *log.Logger
}

// NewLocal creates a Local submitter. A nil logger falls back to the shared default.
func NewLocal(config *shared.Config, logger *log.Logger) *Local {
	if config == nil {
		config = shared.DefaultConfig()
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Local{config: config, logger: logger}
}

// SetLogger swaps the process logger used alongside the per-run action log.
func (t *Local) SetLogger(logger *log.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Execute implements [Tool]. The action log goes to the bundle's logfile when
// one is set, with a copy of every line on the process logger.
func (t *Local) Execute(ctx context.Context, action string, args Args, prj *project.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", shared.ErrExecution, action, r)
		}
	}()

	if !KnownAction(action) {
		return fmt.Errorf("%w: action %q", shared.ErrNotFound, action)
	}
	if prj == nil {
		return fmt.Errorf("%w: no project to execute against", shared.ErrInvalidState)
	}

	logger, closeLog, err := t.actionLogger(args)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = shared.WithLogger(logger, "action", action, "project", prj.Name())

	logger.Info("starting action", "samples", prj.SampleCount(), "subproject", args.String(DestSubproject))

	switch action {
	case ActionRun:
		err = t.run(ctx, logger, args, prj, false)
	case ActionRerun:
		err = t.run(ctx, logger, args, prj, true)
	case ActionCheck:
		err = t.check(logger, args, prj)
	case ActionDestroy:
		err = t.destroy(logger, args, prj)
	case ActionClean:
		err = t.clean(logger, args, prj)
	case ActionSummarize:
		err = t.summarize(logger, args, prj)
	}

	if err != nil {
		logger.Error("action failed", "err", err)
		return fmt.Errorf("%w: %s: %w", shared.ErrExecution, action, err)
	}
	logger.Info("action finished")
	return nil
}

// actionLogger binds a file logger to the bundle's logfile, tee-ing to the
// process logger. The returned closer is safe to call when no file was opened.
func (t *Local) actionLogger(args Args) (*log.Logger, func(), error) {
	logPath := args.String(DestLogfile)
	if logPath == "" {
		return t.logger, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("%w: creating log directory: %v", shared.ErrExecution, err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening log file: %v", shared.ErrExecution, err)
	}
	return shared.NewFileLogger(file), func() { file.Close() }, nil
}

// run submits samples. rerun forces resubmission of samples that already
// carry a status flag.
func (t *Local) run(ctx context.Context, logger *log.Logger, args Args, prj *project.Handle, rerun bool) error {
	pipelineDir := prj.PipelineDir()
	if pipelineDir == "" {
		return fmt.Errorf("no pipeline_dir configured for %q", prj.Name())
	}
	if _, err := os.Stat(pipelineDir); err != nil {
		return fmt.Errorf("pipeline_dir: %q: %v", pipelineDir, err)
	}

	samples := t.selectSamples(args, prj)
	if limit := args.Int("limit", 0); limit > 0 && limit < len(samples) {
		samples = samples[:limit]
	}

	if args.Bool("file_checks") {
		for _, s := range samples {
			if s.Input == "" {
				continue
			}
			if _, err := os.Stat(s.Input); err != nil {
				return fmt.Errorf("input file for sample %q: %v", s.Name, err)
			}
		}
	}
	if !args.Bool("allow_duplicate_names") {
		seen := map[string]bool{}
		for _, s := range samples {
			if seen[s.Name] {
				return fmt.Errorf("duplicate sample name %q", s.Name)
			}
			seen[s.Name] = true
		}
	}

	pkg, err := t.computePackage(args)
	if err != nil {
		return err
	}

	submissionDir := filepath.Join(prj.OutputDir(), "submission")
	if !args.Bool("dry_run") {
		if err := os.MkdirAll(submissionDir, 0755); err != nil {
			return err
		}
	}

	// Stagger submissions so a real scheduler behind the submitter command
	// is not flooded.
	limiter := rate.NewLimiter(rate.Inf, 1)
	if delay := args.Int("time_delay", 0); delay > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(delay)*time.Second), 1)
	}

	submitted, skipped := 0, 0
	for _, bundle := range bundleSamples(samples, args) {
		if !rerun && !args.Bool("ignore_flags") {
			if allFlagged(prj, bundle) {
				skipped += len(bundle)
				logger.Info("skipping flagged samples", "samples", sampleNames(bundle))
				continue
			}
		}

		if args.Bool("dry_run") {
			logger.Info("dry run, would submit", "samples", sampleNames(bundle))
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		script := submissionScript(bundle, prj, pkg)
		scriptPath := filepath.Join(submissionDir, bundle[0].Name+".sub")
		if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
			return fmt.Errorf("writing submission script: %v", err)
		}

		for _, s := range bundle {
			status := "completed"
			if s.Input != "" {
				if _, err := os.Stat(s.Input); err != nil {
					status = "failed"
					logger.Error("sample input missing", "sample", s.Name, "input", s.Input)
				}
			}
			if err := writeFlag(prj, s.Name, status); err != nil {
				return err
			}
		}
		submitted += len(bundle)
		logger.Info("submitted", "script", scriptPath, "samples", sampleNames(bundle), "submitter", pkg.Submitter)
	}

	logger.Info("submission complete", "submitted", submitted, "skipped", skipped)
	return nil
}

// check reads status flags without mutating anything.
func (t *Local) check(logger *log.Logger, args Args, prj *project.Handle) error {
	filter := args.String("flags")
	if filter != "" && !slices.Contains(StatusFlagChoices, filter) {
		return fmt.Errorf("%w: --flags %q, expected one of %s", shared.ErrInvalidFlag, filter, strings.Join(StatusFlagChoices, ", "))
	}

	tally := map[string]int{}
	unflagged := 0
	for _, s := range prj.Samples() {
		status, ok := readFlag(prj, s.Name)
		if !ok {
			if args.Bool("all_folders") {
				logger.Info("sample status", "sample", s.Name, "status", "no flag")
			}
			unflagged++
			continue
		}
		tally[status]++
		if filter == "" || filter == status {
			logger.Info("sample status", "sample", s.Name, "status", status)
		}
	}

	for _, status := range StatusFlagChoices {
		if tally[status] > 0 {
			logger.Info("status tally", "status", status, "count", tally[status])
		}
	}
	logger.Info("status tally", "status", "unflagged", "count", unflagged)
	return nil
}

// destroy removes generated results. The confirmation normally asked on the
// command line arrives pre-answered in the bundle.
func (t *Local) destroy(logger *log.Logger, args Args, prj *project.Handle) error {
	if args.Bool("dry_run") {
		logger.Info("dry run, would remove results", "dir", resultsDir(prj))
		return nil
	}
	if !args.Bool(DestForceYes) {
		return fmt.Errorf("refusing to destroy results without confirmation")
	}
	if err := os.RemoveAll(resultsDir(prj)); err != nil {
		return err
	}
	logger.Info("removed results", "dir", resultsDir(prj))
	return nil
}

// clean removes submission scripts and stray logs, leaving results in place.
func (t *Local) clean(logger *log.Logger, args Args, prj *project.Handle) error {
	submissionDir := filepath.Join(prj.OutputDir(), "submission")
	if args.Bool("dry_run") {
		logger.Info("dry run, would remove submission scripts", "dir", submissionDir)
		return nil
	}
	if !args.Bool(DestForceYes) {
		return fmt.Errorf("refusing to clean without confirmation")
	}
	if err := os.RemoveAll(submissionDir); err != nil {
		return err
	}
	logger.Info("removed submission scripts", "dir", submissionDir)
	return nil
}

// summarize tallies sample statuses and writes the summary page and stats
// table into the output directory.
func (t *Local) summarize(logger *log.Logger, args Args, prj *project.Handle) error {
	samples := prj.Samples()
	tally := map[string]int{}
	var rows []string
	for _, s := range samples {
		status, ok := readFlag(prj, s.Name)
		if !ok {
			status = "unflagged"
		}
		tally[status]++
		rows = append(rows, fmt.Sprintf("%s\t%s\t%s", s.Name, s.Protocol, status))
	}

	if args.Bool("dry_run") {
		logger.Info("dry run, would summarize", "samples", len(samples))
		return nil
	}

	if err := os.MkdirAll(prj.OutputDir(), 0755); err != nil {
		return err
	}

	statsName := strings.TrimSuffix(prj.SummaryFileName(), "_summary.html") + "_stats_summary.tsv"
	statsPath := filepath.Join(prj.OutputDir(), statsName)
	tsv := "sample_name\tprotocol\tstatus\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(statsPath, []byte(tsv), 0644); err != nil {
		return err
	}

	summaryPath := filepath.Join(prj.OutputDir(), prj.SummaryFileName())
	if err := os.WriteFile(summaryPath, []byte(summaryPage(prj, samples, tally)), 0644); err != nil {
		return err
	}

	logger.Info("summary written", "page", summaryPath, "stats", statsPath)
	return nil
}

func (t *Local) computePackage(args Args) (shared.ComputeConfig, error) {
	name := args.String(DestComputePackage)
	if name == "" {
		name = shared.DefaultComputePackage
	}
	return t.config.ComputePackage(name)
}

// selectSamples applies the selector flags to the project's effective samples.
func (t *Local) selectSamples(args Args, prj *project.Handle) []project.Sample {
	attribute := args.String("selector_attribute")
	include := args.String("selector_include")
	exclude := args.String("selector_exclude")
	if include == "" && exclude == "" {
		return prj.Samples()
	}

	var out []project.Sample
	for _, s := range prj.Samples() {
		value := s.Protocol
		if attribute == "name" {
			value = s.Name
		}
		if include != "" && value != include {
			continue
		}
		if exclude != "" && value == exclude {
			continue
		}
		out = append(out, s)
	}
	return out
}

// bundleSamples groups samples for submission: by count when lumpn is set, by
// cumulative input size when lump (GB) is set, else one sample per bundle.
func bundleSamples(samples []project.Sample, args Args) [][]project.Sample {
	lumpn := args.Int("lumpn", 0)
	lumpGB := args.Float("lump", 0)

	var bundles [][]project.Sample
	switch {
	case lumpn > 1:
		for start := 0; start < len(samples); start += lumpn {
			end := min(start+lumpn, len(samples))
			bundles = append(bundles, samples[start:end])
		}
	case lumpGB > 0:
		budget := int64(lumpGB * 1e9)
		var current []project.Sample
		var size int64
		for _, s := range samples {
			current = append(current, s)
			size += inputSize(s)
			if size >= budget {
				bundles = append(bundles, current)
				current, size = nil, 0
			}
		}
		if len(current) > 0 {
			bundles = append(bundles, current)
		}
	default:
		for _, s := range samples {
			bundles = append(bundles, []project.Sample{s})
		}
	}
	return bundles
}

func inputSize(s project.Sample) int64 {
	if s.Input == "" {
		return 0
	}
	info, err := os.Stat(s.Input)
	if err != nil {
		return 0
	}
	return info.Size()
}

func sampleNames(samples []project.Sample) string {
	names := make([]string, len(samples))
	for i, s := range samples {
		names[i] = s.Name
	}
	return strings.Join(names, ",")
}

func resultsDir(prj *project.Handle) string {
	return filepath.Join(prj.OutputDir(), "results")
}

// writeFlag records a sample's status, replacing any previous flag.
func writeFlag(prj *project.Handle, sample, status string) error {
	dir := filepath.Join(resultsDir(prj), sample)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, old := range StatusFlagChoices {
		os.Remove(filepath.Join(dir, sample+"."+old+".flag"))
	}
	return os.WriteFile(filepath.Join(dir, sample+"."+status+".flag"), nil, 0644)
}

// readFlag returns a sample's recorded status, if any.
func readFlag(prj *project.Handle, sample string) (string, bool) {
	dir := filepath.Join(resultsDir(prj), sample)
	for _, status := range StatusFlagChoices {
		if _, err := os.Stat(filepath.Join(dir, sample+"."+status+".flag")); err == nil {
			return status, true
		}
	}
	return "", false
}

func allFlagged(prj *project.Handle, samples []project.Sample) bool {
	for _, s := range samples {
		if _, ok := readFlag(prj, s.Name); !ok {
			return false
		}
	}
	return true
}

// submissionScript renders the per-bundle submission script with the compute
// package's settings baked in.
func submissionScript(bundle []project.Sample, prj *project.Handle, pkg shared.ComputeConfig) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	if pkg.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", pkg.Partition)
	}
	if pkg.MemoryLimit != "" {
		fmt.Fprintf(&b, "#SBATCH --mem=%s\n", pkg.MemoryLimit)
	}
	if pkg.Cores > 0 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", pkg.Cores)
	}
	for _, s := range bundle {
		fmt.Fprintf(&b, "%s/run_pipeline --sample %q --protocol %q --input %q --output %q\n",
			prj.PipelineDir(), s.Name, s.Protocol, s.Input, filepath.Join(resultsDir(prj), s.Name))
	}
	return b.String()
}

func summaryPage(prj *project.Handle, samples []project.Sample, tally map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>%s summary</title></head>\n<body>\n", prj.Name())
	fmt.Fprintf(&b, "<h1>%s</h1>\n", prj.Name())
	if sp := prj.Subproject(); sp != "" {
		fmt.Fprintf(&b, "<h2>subproject: %s</h2>\n", sp)
	}
	fmt.Fprintf(&b, "<p>%d samples</p>\n<table>\n<tr><th>status</th><th>count</th></tr>\n", len(samples))
	for _, status := range append(append([]string{}, StatusFlagChoices...), "unflagged") {
		if tally[status] > 0 {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%d</td></tr>\n", status, tally[status])
		}
	}
	b.WriteString("</table>\n</body>\n</html>\n")
	return b.String()
}
