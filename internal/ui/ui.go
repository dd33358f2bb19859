package ui

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"pipedeck/internal/forms"
	"pipedeck/internal/project"
	"pipedeck/internal/runner"
	"pipedeck/internal/session"
	"pipedeck/internal/submit"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ProjectListView ViewState = iota
	ActionListView
	ConfirmView
	RunView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	sess    *session.Session
	catalog *project.Catalog
	tool    submit.Tool
	runner  *runner.Runner

	width  int
	height int

	projectList list.Model
	actionList  list.Model
	action      string
	outcome     runner.Outcome
	spin        spinner.Model
	err         error
	help        help.Model
	keys        keyMap
}

// projectItem wraps [project.Meta] to implement list.Item.
type projectItem struct {
	meta project.Meta
}

func (i projectItem) FilterValue() string { return i.meta.Name }
func (i projectItem) Title() string {
	if i.meta.Missing {
		return fmt.Sprintf("%s (unavailable)", i.meta.Name)
	}
	return i.meta.Name
}
func (i projectItem) Description() string {
	if i.meta.Missing {
		return i.meta.Error
	}
	desc := fmt.Sprintf("%d samples", i.meta.SampleCount)
	if len(i.meta.Subprojects) > 0 {
		desc = fmt.Sprintf("%s • %d subprojects", desc, len(i.meta.Subprojects))
	}
	return desc
}

// actionItem wraps an action name to implement list.Item.
type actionItem struct {
	name string
}

func (i actionItem) FilterValue() string { return i.name }
func (i actionItem) Title() string       { return i.name }
func (i actionItem) Description() string {
	switch i.name {
	case submit.ActionRun:
		return "submit the project's samples"
	case submit.ActionRerun:
		return "resubmit failed samples"
	case submit.ActionCheck:
		return "tally sample status flags"
	case submit.ActionDestroy:
		return "remove all results"
	case submit.ActionSummarize:
		return "generate the summary page"
	case submit.ActionClean:
		return "remove intermediate files"
	default:
		return ""
	}
}

type projectsLoadedMsg struct {
	projects []project.Meta
}

type projectSelectedMsg struct {
	snap session.Snapshot
	err  error
}

type runCompleteMsg struct {
	outcome runner.Outcome
	err     error
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, sess *session.Session, catalog *project.Catalog, tool submit.Tool, run *runner.Runner) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		ctx:     ctx,
		view:    ProjectListView,
		sess:    sess,
		catalog: catalog,
		tool:    tool,
		runner:  run,
		spin:    sp,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init initializes the TUI by loading the project catalog.
func (m *Model) Init() tea.Cmd {
	return m.loadProjects()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.projectList.Width() == 0 {
			m.projectList.SetSize(msg.Width-4, msg.Height-8)
		}
		if m.actionList.Width() == 0 {
			m.actionList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ProjectListView:
			return m.handleProjectListKeys(msg)
		case ActionListView:
			return m.handleActionListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case projectsLoadedMsg:
		items := make([]list.Item, len(msg.projects))
		for i, meta := range msg.projects {
			items[i] = projectItem{meta: meta}
		}
		m.projectList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.projectList.Title = "Projects"
		m.projectList.SetSize(m.width-4, m.height-8)
		return m, nil

	case projectSelectedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(submit.ActionNames))
		for i, name := range submit.ActionNames {
			items[i] = actionItem{name: name}
		}
		m.actionList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.actionList.Title = fmt.Sprintf("Actions for '%s'", msg.snap.ProjectName)
		m.actionList.SetSize(m.width-4, m.height-8)
		m.view = ActionListView
		return m, nil

	case runCompleteMsg:
		m.outcome = msg.outcome
		m.err = msg.err
		m.view = ResultView
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m.updateLists(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ProjectListView:
		return m.renderProjectList()
	case ActionListView:
		return m.renderActionList()
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleProjectListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "enter":
		selected := m.projectList.SelectedItem()
		if selected != nil {
			if item, ok := selected.(projectItem); ok && !item.meta.Missing {
				return m, m.selectProject(item.meta.Path)
			}
		}
	}

	var cmd tea.Cmd
	m.projectList, cmd = m.projectList.Update(msg)
	return m, cmd
}

func (m *Model) handleActionListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.view = ProjectListView
		return m, nil
	case "enter":
		selected := m.actionList.SelectedItem()
		if selected != nil {
			if item, ok := selected.(actionItem); ok {
				m.action = item.name
				m.view = ConfirmView
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.actionList, cmd = m.actionList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "n", "esc":
		m.view = ActionListView
		return m, nil
	case "y":
		m.view = RunView
		return m, tea.Batch(m.spin.Tick, m.startRun())
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.view = ActionListView
		m.err = nil
		return m, nil
	case "esc":
		m.view = ProjectListView
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ProjectListView:
		m.projectList, cmd = m.projectList.Update(msg)
	case ActionListView:
		m.actionList, cmd = m.actionList.Update(msg)
	}
	return m, cmd
}

func (m *Model) loadProjects() tea.Cmd {
	return func() tea.Msg {
		return projectsLoadedMsg{projects: m.catalog.List()}
	}
}

func (m *Model) selectProject(path string) tea.Cmd {
	return func() tea.Msg {
		snap, err := m.sess.SelectProject(path)
		return projectSelectedMsg{snap: snap, err: err}
	}
}

// startRun executes the confirmed action through the shared runner with the
// action's default arguments.
func (m *Model) startRun() tea.Cmd {
	action := m.action
	return func() tea.Msg {
		prj := m.sess.Project()
		descriptors, err := forms.DescribeOptions(m.tool.ArgumentModel(), action)
		if err != nil {
			return runCompleteMsg{err: err}
		}
		form, err := forms.Build(action, descriptors, prj)
		if err != nil {
			return runCompleteMsg{err: err}
		}
		args := forms.Interpret(nil, form, forms.Fixed{
			LogPath:        prj.LogPath(),
			ConfigPath:     prj.ConfigPath(),
			Subproject:     prj.Subproject(),
			ComputePackage: m.sess.ComputePackage(),
		})

		outcome, err := m.runner.Run(m.ctx, action, args)
		return runCompleteMsg{outcome: outcome, err: err}
	}
}

func (m *Model) renderProjectList() string {
	view := m.projectList.View()
	if m.err != nil {
		view += "\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", view, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderActionList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.actionList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	snap := m.sess.Snapshot()
	title := styles.title.Render(fmt.Sprintf("Run '%s' on '%s'?", m.action, snap.ProjectName))
	info := fmt.Sprintf("\nProject: %s\nSamples: %d\nCompute: %s\n", snap.ProjectPath, snap.SampleCount, snap.ComputePackage)

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderRun() string {
	title := styles.title.Render(fmt.Sprintf("Running '%s'", m.action))
	return fmt.Sprintf("%s\n\n%s working...", title, m.spin.View())
}

func (m *Model) renderResult() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Action failed: %v\n\nPress r to retry, q to quit", m.err))
	}

	var title string
	if m.outcome.Failed() {
		title = styles.err.Render(fmt.Sprintf("✗ %s failed", m.outcome.Action))
	} else {
		title = styles.ok.Render(fmt.Sprintf("✓ %s complete", m.outcome.Action))
	}

	info := fmt.Sprintf("\nProject: %s\nDetail: %s\nLog: %s", m.outcome.ProjectName, m.outcome.Detail, m.outcome.LogPath)

	helpKeys := []key.Binding{m.keys.restart, m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s%s\n\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

// Run starts the TUI program and blocks until it exits.
func Run(ctx context.Context, sess *session.Session, catalog *project.Catalog, tool submit.Tool, run *runner.Runner) error {
	model := NewModel(ctx, sess, catalog, tool, run)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(os.Stderr))
	_, err := program.Run()
	return err
}
