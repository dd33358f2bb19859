package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"pipedeck/internal/forms"
	"pipedeck/internal/history"
	"pipedeck/internal/project"
	"pipedeck/internal/runner"
	"pipedeck/internal/session"
	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
)

// logExcerptBytes caps the log excerpt returned with execution outcomes and
// default /log responses.
const logExcerptBytes = 8 * 1024

// Panel wires the panel's endpoints to the session, the submitter, and the
// run history. It is the only owner of request-visible state transitions.
type Panel struct {
	config   *shared.Config
	catalog  *project.Catalog
	sess     *session.Session
	tool     submit.Tool
	runner   *runner.Runner
	store    *history.Store
	logger   *log.Logger
	shutdown func()
}

// PanelOpts contains the dependencies for creating a Panel.
type PanelOpts struct {
	Config   *shared.Config
	Catalog  *project.Catalog
	Session  *session.Session
	Tool     submit.Tool
	Runner   *runner.Runner
	Store    *history.Store
	Logger   *log.Logger
	Shutdown func()
}

// NewPanel creates a Panel with the provided dependencies.
func NewPanel(opts PanelOpts) *Panel {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Panel{
		config:   opts.Config,
		catalog:  opts.Catalog,
		sess:     opts.Session,
		tool:     opts.Tool,
		runner:   opts.Runner,
		store:    opts.Store,
		logger:   opts.Logger,
		shutdown: opts.Shutdown,
	}
}

// Register mounts every panel endpoint on the router. The polling endpoints
// additionally pass through the given limiter middleware when non-nil.
func (p *Panel) Register(router Router, poll Middleware) {
	router.Handle(http.MethodGet, "/", http.HandlerFunc(p.handleIndex))
	router.Handle(http.MethodPost, "/select", http.HandlerFunc(p.handleSelect))
	router.Handle(http.MethodPost, "/reset", http.HandlerFunc(p.handleReset))
	router.Handle(http.MethodGet, "/form", http.HandlerFunc(p.handleForm))
	router.Handle(http.MethodPost, "/execute", http.HandlerFunc(p.handleExecute))
	router.Handle(http.MethodGet, "/preferences", http.HandlerFunc(p.handlePreferences))
	router.Handle(http.MethodPost, "/preferences", http.HandlerFunc(p.handleSetPreferences))
	router.Handle(http.MethodGet, "/history", http.HandlerFunc(p.handleHistory))
	router.Handle(http.MethodGet, "/summary", http.HandlerFunc(p.handleSummary))
	router.Handle(http.MethodGet, "/summary/", http.HandlerFunc(p.handleSummaryFile))
	router.Handle(http.MethodPost, "/shutdown", http.HandlerFunc(p.handleShutdown))

	status := http.Handler(http.HandlerFunc(p.handleStatus))
	logTail := http.Handler(http.HandlerFunc(p.handleLog))
	if poll != nil {
		status = poll(status)
		logTail = poll(logTail)
	}
	router.Handle(http.MethodGet, "/status", status)
	router.Handle(http.MethodGet, "/log", logTail)
}

// handleIndex lists the selectable projects with their metadata, plus the
// current session snapshot.
func (p *Panel) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": p.catalog.List(),
		"status":   p.sess.Snapshot(),
	})
}

type selectRequest struct {
	Path       string `json:"path"`
	Subproject string `json:"subproject"`
}

// handleSelect activates a project and, optionally, one of its subprojects.
func (p *Panel) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" {
		writeError(w, fmt.Errorf("%w: path", shared.ErrMissingArgument))
		return
	}

	snap, err := p.sess.SelectProject(req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	p.catalog.Invalidate(req.Path)

	if req.Subproject != "" {
		snap, err = p.sess.ActivateSubproject(req.Subproject)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleReset discards the selection and all derived state.
func (p *Panel) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := p.sess.ResetAll(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.sess.Snapshot())
}

// handleForm derives the options form for one action from the submitter's
// argument model, resolved against the active project.
func (p *Panel) handleForm(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		action = submit.ActionRun
	}

	prj := p.sess.Project()
	if prj == nil {
		writeError(w, fmt.Errorf("%w: no project selected, choose one first", shared.ErrInvalidState))
		return
	}

	descriptors, err := forms.DescribeOptions(p.tool.ArgumentModel(), action)
	if err != nil {
		writeError(w, err)
		return
	}
	form, err := forms.Build(action, descriptors, prj)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, form)
}

// handleExecute interprets the submitted form and runs the action. The
// request blocks until the action finishes; a concurrent execution attempt
// gets Busy immediately.
func (p *Panel) handleExecute(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err))
		return
	}

	action := r.PostForm.Get("action")
	if action == "" {
		writeError(w, fmt.Errorf("%w: action", shared.ErrMissingArgument))
		return
	}
	if !submit.KnownAction(action) {
		writeError(w, fmt.Errorf("%w: action %q", shared.ErrNotFound, action))
		return
	}

	prj := p.sess.Project()
	if prj == nil {
		writeError(w, fmt.Errorf("%w: no project selected, choose one first", shared.ErrInvalidState))
		return
	}
	if action == submit.ActionSummarize && !p.sess.Ran() {
		writeError(w, fmt.Errorf("%w: no samples were run yet, there is nothing to summarize", shared.ErrInvalidState))
		return
	}

	descriptors, err := forms.DescribeOptions(p.tool.ArgumentModel(), action)
	if err != nil {
		writeError(w, err)
		return
	}
	form, err := forms.Build(action, descriptors, prj)
	if err != nil {
		writeError(w, err)
		return
	}

	raw := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		if key == "action" {
			continue
		}
		raw[key] = r.PostForm.Get(key)
	}

	args := forms.Interpret(raw, form, forms.Fixed{
		LogPath:        prj.LogPath(),
		ConfigPath:     prj.ConfigPath(),
		Subproject:     prj.Subproject(),
		ComputePackage: p.sess.ComputePackage(),
	})

	outcome, err := p.runner.Run(r.Context(), action, args)
	if err != nil {
		writeError(w, err)
		return
	}

	excerpt, _ := tailFile(outcome.LogPath, logExcerptBytes)
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":     outcome,
		"log_excerpt": excerpt,
	})
}

// handleStatus returns the session snapshot the frontend polls.
func (p *Panel) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.sess.Snapshot())
}

// handleLog returns the tail of the active project's action log, or the full
// file with ?full=1.
func (p *Panel) handleLog(w http.ResponseWriter, r *http.Request) {
	prj := p.sess.Project()
	if prj == nil {
		writeError(w, fmt.Errorf("%w: no project selected", shared.ErrInvalidState))
		return
	}

	logPath := prj.LogPath()
	var content string
	var err error
	if r.URL.Query().Get("full") == "1" {
		var data []byte
		data, err = os.ReadFile(logPath)
		content = string(data)
	} else {
		content, err = tailFile(logPath, logExcerptBytes)
	}
	if err != nil {
		writeError(w, fmt.Errorf("%w: log file %q", shared.ErrNotFound, logPath))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, content)
}

// handlePreferences lists the compute packages and the active preference.
func (p *Panel) handlePreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"compute_packages": p.config.ComputePackageNames(),
		"active":           p.sess.ComputePackage(),
		"poll_interval":    p.sess.Snapshot().PollInterval,
	})
}

type preferencesRequest struct {
	Compute  string `json:"compute"`
	Interval int    `json:"interval"`
}

// handleSetPreferences activates a compute package and/or adjusts the poll
// interval. Unknown packages are rejected and the preference is unchanged.
func (p *Panel) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Compute != "" {
		if _, err := p.config.ComputePackage(req.Compute); err != nil {
			writeError(w, err)
			return
		}
		p.sess.SetComputePackage(req.Compute)
	}
	if req.Interval > 0 {
		p.sess.SetPollInterval(req.Interval)
	}

	p.handlePreferences(w, r)
}

// handleHistory lists recent recorded runs, optionally for one project.
func (p *Panel) handleHistory(w http.ResponseWriter, r *http.Request) {
	if p.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []history.Run{}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := p.store.Recent(r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleSummary redirects to the active project view's summary page when it
// has been generated.
func (p *Panel) handleSummary(w http.ResponseWriter, r *http.Request) {
	prj := p.sess.Project()
	if prj == nil {
		writeError(w, fmt.Errorf("%w: no project selected", shared.ErrInvalidState))
		return
	}
	if !prj.SummaryExists() {
		writeError(w, fmt.Errorf("%w: summary has not been generated yet", shared.ErrNotFound))
		return
	}
	http.Redirect(w, r, "/summary/"+prj.SummaryFileName(), http.StatusFound)
}

// handleSummaryFile serves generated report files out of the active project's
// output directory. One handler parameterized by the session, not a route
// registered per project.
func (p *Panel) handleSummaryFile(w http.ResponseWriter, r *http.Request) {
	prj := p.sess.Project()
	if prj == nil {
		writeError(w, fmt.Errorf("%w: no project selected", shared.ErrInvalidState))
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/summary/")
	clean := filepath.Clean("/" + name)
	http.ServeFile(w, r, filepath.Join(prj.OutputDir(), clean))
}

// handleShutdown stops the server after the response is written.
func (p *Panel) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if p.shutdown == nil {
		writeError(w, shared.ErrNotImplemented)
		return
	}
	p.logger.Info("shutdown requested")
	writeJSON(w, http.StatusOK, map[string]any{"message": "server is shutting down"})
	go p.shutdown()
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// tailFile returns up to limit trailing bytes of the file at path.
func tailFile(path string, limit int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	offset := int64(0)
	if info.Size() > limit {
		offset = info.Size() - limit
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// writeError maps the error taxonomy onto HTTP statuses: unknown names are
// 404, refusals while busy are 429 with a retry hint, state problems are 409,
// bad input is 400, everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, shared.ErrBusy):
		code = http.StatusTooManyRequests
	case errors.Is(err, shared.ErrInvalidState):
		code = http.StatusConflict
	case errors.Is(err, shared.ErrProjectResolve),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrMissingArgument),
		errors.Is(err, shared.ErrInvalidFlag):
		code = http.StatusBadRequest
	case errors.Is(err, shared.ErrInvalidToken):
		code = http.StatusForbidden
	}
	writeJSON(w, code, errorBody(err.Error()))
}
