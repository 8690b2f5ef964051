// Package tui provides the factory monitor terminal UI for Midnight.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	statusPending   = lipgloss.NewStyle().Foreground(warningColor)
	statusActing    = lipgloss.NewStyle().Foreground(cyanColor)
	statusCompleted = lipgloss.NewStyle().Foreground(successColor)
	statusEscalated = lipgloss.NewStyle().Foreground(errorColor)
	statusMuted     = lipgloss.NewStyle().Foreground(mutedColor)
)

var filters = []string{"", "pending", "leased", "acting", "reviewing", "completed", "escalated", "cancelled"}
var filterNames = []string{"ALL", "PENDING", "LEASED", "ACTING", "REVIEWING", "DONE", "ESCALATED", "CANCELLED"}

const refreshInterval = 2 * time.Second

// App is the factory monitor application model.
type App struct {
	client       *Client
	tasks        []TaskItem
	selectedIdx  int
	viewport     viewport.Model
	width        int
	height       int
	mode         string // "list", "detail"
	currentTask  *TaskDetail
	reviews      []ReviewDetail
	filterIdx    int
	daemonOnline bool
	message      string
}

// New creates a new monitor application.
func New(apiAddr string) *App {
	return &App{
		client:   NewClient(apiAddr),
		viewport: viewport.New(80, 20),
		mode:     "list",
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init schedules the first fetch and the refresh tick.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetchTasks(), a.checkDaemon(), a.tickCmd())
}

type tasksLoadedMsg []TaskItem
type taskDetailLoadedMsg struct {
	task    *TaskDetail
	reviews []ReviewDetail
}
type daemonStatusMsg bool
type tickMsg time.Time
type errMsg error

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" {
				a.mode = "list"
				a.currentTask = nil
			}
			return a, nil

		case "up", "k":
			if a.mode == "list" && a.selectedIdx > 0 {
				a.selectedIdx--
				return a, nil
			}

		case "down", "j":
			if a.mode == "list" && a.selectedIdx < len(a.tasks)-1 {
				a.selectedIdx++
				return a, nil
			}

		case "tab":
			if a.mode == "list" {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.selectedIdx = 0
				return a, a.fetchTasks()
			}
			return a, nil

		case "enter":
			if a.mode == "list" && len(a.tasks) > 0 {
				return a, a.fetchTaskDetail(a.tasks[a.selectedIdx].ID)
			}
			return a, nil

		case "r":
			return a, tea.Batch(a.fetchTasks(), a.checkDaemon())
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		if msg.Height > 6 {
			a.viewport.Height = msg.Height - 6
		}

	case tasksLoadedMsg:
		a.tasks = msg
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = 0
		}

	case taskDetailLoadedMsg:
		a.currentTask = msg.task
		a.reviews = msg.reviews
		a.mode = "detail"
		a.viewport.SetContent(a.renderTaskDetail())
		a.viewport.GotoTop()

	case daemonStatusMsg:
		a.daemonOnline = bool(msg)

	case tickMsg:
		return a, tea.Batch(a.fetchTasks(), a.checkDaemon(), a.tickCmd())

	case errMsg:
		a.message = msg.Error()
	}

	// Detail mode scrolls through the viewport.
	if a.mode == "detail" {
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}
	return a, nil
}

// View renders the current screen.
func (a *App) View() string {
	var b strings.Builder

	daemon := statusEscalated.Render("● daemon offline")
	if a.daemonOnline {
		daemon = statusCompleted.Render("● daemon online")
	}
	b.WriteString(titleStyle.Render("Midnight Factory") + "  " + daemon + "\n\n")

	switch a.mode {
	case "detail":
		b.WriteString(a.viewport.View())
	default:
		b.WriteString(a.renderTaskList())
	}

	if a.message != "" {
		b.WriteString("\n" + statusEscalated.Render(a.message))
	}

	var status string
	switch a.mode {
	case "detail":
		status = " Esc:back | r:refresh | q:quit"
	default:
		status = fmt.Sprintf(" Tasks: %d | Filter: %s | ↑↓:nav | Tab:filter | Enter:detail | q:quit",
			len(a.tasks), filterNames[a.filterIdx])
	}
	b.WriteString("\n" + statusBarStyle.Render(status))
	return b.String()
}

func (a *App) renderTaskList() string {
	if len(a.tasks) == 0 {
		return helpStyle.Render("  No tasks. Submit one with: midnight task add --desc \"...\"") + "\n"
	}

	var b strings.Builder
	for i, t := range a.tasks {
		score := ""
		if t.LastScore != nil {
			score = fmt.Sprintf(" [%d]", *t.LastScore)
		}
		line := fmt.Sprintf("%-9s att:%d%s  %s", a.formatStatus(t.Status), t.Attempt, score, truncate(t.Description, 60))
		if i == a.selectedIdx {
			b.WriteString(selectedStyle.Render(line) + "\n")
		} else {
			b.WriteString(taskItemStyle.Render(line) + "\n")
		}
	}
	return b.String()
}

func (a *App) renderTaskDetail() string {
	t := a.currentTask
	if t == nil {
		return helpStyle.Render("  Loading...") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  ID:          %s\n", t.ID)
	fmt.Fprintf(&b, "  Description: %s\n", t.Description)
	if t.Scope != "" {
		fmt.Fprintf(&b, "  Scope:       %s\n", t.Scope)
	}
	fmt.Fprintf(&b, "  Status:      %s\n", a.formatStatus(t.Status))
	fmt.Fprintf(&b, "  Attempt:     %d\n", t.Attempt)
	if t.LastScore != nil {
		fmt.Fprintf(&b, "  Last score:  %d\n", *t.LastScore)
	}
	if t.LastNotes != "" {
		fmt.Fprintf(&b, "  Last notes:  %s\n", truncate(t.LastNotes, 100))
	}
	fmt.Fprintf(&b, "  Created:     %s\n", t.CreatedAt)

	if len(a.reviews) > 0 {
		b.WriteString("\n  Reviews:\n")
		for _, r := range a.reviews {
			fmt.Fprintf(&b, "    attempt %d: %d/100 (%s) %s\n", r.Attempt, r.Score, r.Reviewer, truncate(r.Notes, 70))
		}
	}
	return b.String()
}

func (a *App) formatStatus(status string) string {
	switch status {
	case "pending":
		return statusPending.Render(status)
	case "leased", "acting", "reviewing":
		return statusActing.Render(status)
	case "completed":
		return statusCompleted.Render(status)
	case "escalated":
		return statusEscalated.Render(status)
	case "cancelled":
		return statusMuted.Render(status)
	default:
		return status
	}
}

func (a *App) fetchTasks() tea.Cmd {
	filter := filters[a.filterIdx]
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(filter)
		if err != nil {
			return errMsg(err)
		}
		return tasksLoadedMsg(tasks)
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg(err)
		}
		reviews, err := a.client.GetReviews(taskID)
		if err != nil {
			return errMsg(err)
		}
		return taskDetailLoadedMsg{task: task, reviews: reviews}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return daemonStatusMsg(a.client.Health())
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
