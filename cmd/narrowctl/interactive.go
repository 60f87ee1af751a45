package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/narrow/layout"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	padStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1A1A")).
			Background(lipgloss.Color("#666666"))

	dispatchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1A1A")).
			Background(lipgloss.Color("#87CEEB"))

	payloadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1A1A")).
			Background(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// diagramWidth is the number of cells the block bar is scaled to.
const diagramWidth = 48

type exploreModel struct {
	err      error
	inputs   []textinput.Model
	plan     layout.Layout
	size     uintptr
	align    uintptr
	focusIdx int
}

func newExploreModel() *exploreModel {
	m := &exploreModel{}
	for i, f := range []struct{ prompt, value string }{
		{"size:  ", "24"},
		{"align: ", "8"},
	} {
		ti := textinput.New()
		ti.Prompt = f.prompt
		ti.Placeholder = "bytes"
		ti.SetValue(f.value)
		ti.CharLimit = 20
		ti.Width = 20
		if i == 0 {
			ti.Focus()
		}
		m.inputs = append(m.inputs, ti)
	}
	m.recompute()
	return m
}

func (m *exploreModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab", "shift+tab", "up", "down":
			m.inputs[m.focusIdx].Blur()
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
			return m, m.inputs[m.focusIdx].Focus()
		}
	}

	var cmds []tea.Cmd
	for i := range m.inputs {
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	m.recompute()
	return m, tea.Batch(cmds...)
}

// recompute parses the inputs and plans the block.
func (m *exploreModel) recompute() {
	size, err := strconv.ParseUint(strings.TrimSpace(m.inputs[0].Value()), 0, 64)
	if err != nil {
		m.err = fmt.Errorf("size: %w", err)
		return
	}
	align, err := strconv.ParseUint(strings.TrimSpace(m.inputs[1].Value()), 0, 64)
	if err != nil {
		m.err = fmt.Errorf("align: %w", err)
		return
	}
	if err := layout.Check(uintptr(size), uintptr(align)); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.size, m.align = uintptr(size), uintptr(align)
	m.plan = layout.Plan(m.size, m.align)
}

func (m *exploreModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Narrow Layout Explorer"))
	b.WriteString("\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else {
		b.WriteString(bar(m.plan))
		b.WriteString("\n\n")
		b.WriteString(resultStyle.Render(m.plan.String()))
		b.WriteString("\n")
		b.WriteString("union: " + unionVerdict(m.align))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("tab switch field • esc quit"))
	return b.String()
}

// bar renders the block as colored segments scaled to diagramWidth cells.
func bar(l layout.Layout) string {
	total := l.Size
	if total == 0 {
		return ""
	}
	cells := func(n uintptr) int {
		if n == 0 {
			return 0
		}
		c := int(n * diagramWidth / total)
		if c < 1 {
			c = 1
		}
		return c
	}

	seg := func(style lipgloss.Style, label string, n uintptr) string {
		w := cells(n)
		if w == 0 {
			return ""
		}
		return style.Width(w).MaxWidth(w).Render(label)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		seg(padStyle, "pad", l.Padding()),
		seg(dispatchStyle, "tbl", layout.WordSize),
		seg(payloadStyle, "payload", l.PayloadSize()),
	)
}

func runInteractive() error {
	p := tea.NewProgram(newExploreModel(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
