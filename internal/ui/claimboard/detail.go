package claimboard

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// DetailBubble renders the selected task's markdown description.
type DetailBubble struct {
	content string
	width   int
}

func NewDetailBubble() DetailBubble {
	return DetailBubble{width: 80}
}

// SetDetailMsg replaces the detail pane content.
type SetDetailMsg struct {
	Content string
}

func (d DetailBubble) Update(msg tea.Msg) (DetailBubble, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = typed.Width
	case SetDetailMsg:
		d.content = typed.Content
	}
	return d, nil
}

func (d DetailBubble) View() string {
	if strings.TrimSpace(d.content) == "" {
		return lipgloss.NewStyle().Width(d.width).Render("")
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(d.width),
	)
	if err != nil {
		return d.content
	}
	rendered, err := renderer.Render(d.content)
	if err != nil {
		return d.content
	}
	return strings.TrimRight(rendered, "\n")
}
