package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/lilyview/pkg/diag"
	"github.com/matzehuels/lilyview/pkg/preview"
)

// Watch view styles
var (
	watchStatusStyle = lipgloss.NewStyle().Foreground(colorGray)
	watchBusyStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	watchErrorStyle  = lipgloss.NewStyle().Foreground(colorRed)
	watchDimStyle    = lipgloss.NewStyle().Foreground(colorDim)
)

// maxDiagnosticRows bounds the diagnostics table.
const maxDiagnosticRows = 8

// =============================================================================
// Messages
// =============================================================================

type (
	statusMsg struct {
		status  preview.Status
		message string
	}
	artifactMsg preview.ArtifactUpdate
	cursorMsg   preview.CursorUpdate
	clearMsg    struct{}
	errorMsg    string
)

// =============================================================================
// teaSurface - preview.Surface backed by a bubbletea program
// =============================================================================

// teaSurface forwards pushes to a running program. Send returns at once
// after the program exits.
type teaSurface struct {
	p *tea.Program
}

var _ preview.Surface = teaSurface{}

func (s teaSurface) PushStatus(status preview.Status, message string) {
	s.p.Send(statusMsg{status, message})
}
func (s teaSurface) PushArtifact(u preview.ArtifactUpdate) { s.p.Send(artifactMsg(u)) }
func (s teaSurface) PushCursor(u preview.CursorUpdate)     { s.p.Send(cursorMsg(u)) }
func (s teaSurface) PushCursorClear()                      { s.p.Send(clearMsg{}) }
func (s teaSurface) ShowError(message string)              { s.p.Send(errorMsg(message)) }

// =============================================================================
// WatchModel - live status view
// =============================================================================

// WatchModel is the bubbletea model for the watch command's status view.
type WatchModel struct {
	Path    string
	URL     string
	Status  preview.Status
	Message string
	Title   string
	Version int
	Pages   int
	Partial bool
	Diags   []diag.Diagnostic
	Anchor  string
	Error   string
	Updated time.Time

	// render requests a manual render. It runs as a command, off the
	// event loop, since the controller pushes back into the program.
	render func()
}

// NewWatchModel creates a watch model for path served at url.
func NewWatchModel(path, url string, render func()) WatchModel {
	return WatchModel{Path: path, URL: url, Status: preview.StatusIdle, render: render}
}

func (m WatchModel) Init() tea.Cmd {
	return nil
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.render != nil {
				render := m.render
				return m, func() tea.Msg { render(); return nil }
			}
		}
	case urlMsg:
		m.URL = string(msg)
	case statusMsg:
		m.Status, m.Message = msg.status, msg.message
	case artifactMsg:
		m.Title = msg.Title
		m.Version = msg.Version
		m.Pages = msg.PageCount
		m.Partial = msg.Partial
		m.Diags = diag.Parse(msg.Diagnostics)
		m.Error = ""
		m.Updated = time.Now()
	case cursorMsg:
		m.Anchor = msg.AnchorID
	case clearMsg:
		m.Anchor = ""
	case errorMsg:
		m.Error = string(msg)
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	title := m.Title
	if title == "" {
		title = filepath.Base(m.Path)
	}
	if m.Partial {
		title += " (selection)"
	}
	b.WriteString(StyleTitle.Render(title))
	b.WriteString("\n")
	if m.URL != "" {
		b.WriteString(StyleLink.Render(m.URL))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.Error != "" {
		b.WriteString(watchErrorStyle.Render(m.Error))
		b.WriteString("\n")
	}
	if len(m.Diags) > 0 {
		b.WriteString("\n")
		b.WriteString(m.diagnosticsTable())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(watchDimStyle.Render("r render  q quit"))
	return b.String()
}

func (m WatchModel) statusLine() string {
	var parts []string
	switch m.Status {
	case preview.StatusUpdating:
		parts = append(parts, watchBusyStyle.Render("● rendering"))
	case preview.StatusError:
		parts = append(parts, watchErrorStyle.Render("● error"))
	default:
		parts = append(parts, StyleSuccess.Render("● ready"))
	}
	if m.Message != "" {
		parts = append(parts, watchStatusStyle.Render(m.Message))
	}
	if m.Version > 0 {
		parts = append(parts, watchDimStyle.Render("v"+strconv.Itoa(m.Version)))
	}
	if m.Anchor != "" {
		parts = append(parts, StyleHighlight.Render(m.Anchor))
	}
	if !m.Updated.IsZero() {
		parts = append(parts, watchDimStyle.Render(m.Updated.Format("15:04:05")))
	}
	return strings.Join(parts, watchDimStyle.Render(" · "))
}

func (m WatchModel) diagnosticsTable() string {
	rows := make([][]string, 0, min(len(m.Diags), maxDiagnosticRows))
	for i, d := range m.Diags {
		if i == maxDiagnosticRows {
			break
		}
		rows = append(rows, []string{
			string(d.Severity),
			fmt.Sprintf("%s:%d:%d", filepath.Base(d.Path), d.Line, d.Column),
			d.Message,
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Severity", "Location", "Message").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 && row < len(rows) {
				if rows[row][0] == string(diag.Error) {
					return watchErrorStyle
				}
				return StyleWarning
			}
			return lipgloss.NewStyle()
		})

	out := t.Render()
	if extra := len(m.Diags) - len(rows); extra > 0 {
		out += "\n" + watchDimStyle.Render(fmt.Sprintf("  … %d more", extra))
	}
	return out
}
