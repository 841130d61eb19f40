// Package tui is the interactive dispatch-table inspector. It polls the
// introspection API and renders the loaded extensions, hook bindings and
// route table as switchable views.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/plugway/internal/inspect"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	tabActive   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 1)
	tabInactive = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
)

// --- Types ---

type view int

const (
	viewExtensions view = iota
	viewBindings
	viewRoutes
)

var viewNames = []string{"Extensions", "Hook Bindings", "Routes"}

type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	active view
	report *inspect.Report
	errMsg string

	health struct {
		Status           string
		UptimeSeconds    int64
		ExtensionsLoaded int
	}

	tables [3]table.Model
}

type reportMsg *inspect.Report
type healthMsg struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ExtensionsLoaded int    `json:"extensions_loaded"`
}
type errMsg error

// --- Init ---

func NewInspector(apiURL, apiKey string) *Model {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	columns := [3][]table.Column{
		{
			{Title: "#", Width: 3},
			{Title: "Name", Width: 20},
			{Title: "Catalog", Width: 14},
			{Title: "Version", Width: 10},
			{Title: "Description", Width: 36},
		},
		{
			{Title: "Hook", Width: 20},
			{Title: "Kind", Width: 8},
			{Title: "Pos", Width: 4},
			{Title: "Unit", Width: 28},
			{Title: "Gated", Width: 6},
		},
		{
			{Title: "Methods", Width: 12},
			{Title: "Path", Width: 28},
			{Title: "Owner", Width: 18},
			{Title: "Wraps", Width: 24},
		},
	}

	m := &Model{apiURL: apiURL, apiKey: apiKey}
	for i, cols := range columns {
		t := table.New(
			table.WithColumns(cols),
			table.WithFocused(true),
			table.WithHeight(12),
		)
		t.SetStyles(styles)
		m.tables[i] = t
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.pollReport(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right":
			m.active = (m.active + 1) % 3
		case "shift+tab", "left":
			m.active = (m.active + 2) % 3
		case "r":
			return m, m.pollReport()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for i := range m.tables {
			m.tables[i].SetWidth(m.width - 6)
		}

	case reportMsg:
		m.report = msg
		m.errMsg = ""
		m.updateTables()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchReport()
		})

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ExtensionsLoaded = msg.ExtensionsLoaded
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		m.errMsg = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchReport()
		})
	}

	m.tables[m.active], cmd = m.tables[m.active].Update(msg)
	return m, cmd
}

func (m *Model) updateTables() {
	var extRows []table.Row
	for _, ext := range m.report.Extensions {
		extRows = append(extRows, table.Row{
			strconv.Itoa(ext.Index), ext.Name, ext.Catalog, ext.Version, ext.Description,
		})
	}
	m.tables[viewExtensions].SetRows(extRows)

	var bindRows []table.Row
	for _, b := range m.report.Bindings {
		gated := ""
		if b.Gated {
			gated = "yes"
		}
		bindRows = append(bindRows, table.Row{
			b.Hook, b.Kind, strconv.Itoa(b.Position), b.Unit, gated,
		})
	}
	m.tables[viewBindings].SetRows(bindRows)

	var routeRows []table.Row
	for _, route := range m.report.Routes {
		routeRows = append(routeRows, table.Row{
			strings.Join(route.Methods, ","), route.Path, route.Owner, strings.Join(route.Wraps, ","),
		})
	}
	m.tables[viewRoutes].SetRows(routeRows)
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()

	var tabs []string
	for i, name := range viewNames {
		if view(i) == m.active {
			tabs = append(tabs, tabActive.Render(name))
		} else {
			tabs = append(tabs, tabInactive.Render(name))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	body := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(viewNames[m.active]),
			m.tables[m.active].View(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [tab] Switch View • [r] Refresh • [↑/↓] Scroll")

	parts := []string{header, tabBar, body, help}
	if m.errMsg != "" {
		parts = append(parts, statusFailed.Render(" "+m.errMsg))
	}

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Extensions: %d", m.health.ExtensionsLoaded),
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[0]),
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[1]),
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[2]),
		),
	)
}

// --- Commands ---

func (m Model) pollReport() tea.Cmd {
	return func() tea.Msg {
		return m.fetchReport()
	}
}

func (m Model) fetchReport() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, _ := http.NewRequest("GET", m.apiURL+"/v1/report", nil)
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("report request failed: %s", resp.Status))
	}

	var report inspect.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return errMsg(err)
	}
	return reportMsg(&report)
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, _ := http.NewRequest("GET", m.apiURL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
