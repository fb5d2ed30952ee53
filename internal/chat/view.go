package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	muted     lipgloss.Style
	errText   lipgloss.Style
	thinking  lipgloss.Style
	ready     lipgloss.Style
	inputBox  lipgloss.Style
	divider   lipgloss.Style
	spinner   lipgloss.Style
}

func newStyles() styles {
	primary := lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	accent := lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	good := lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	bad := lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}

	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(primary),
		user:      lipgloss.NewStyle().Bold(true).Foreground(primary).MarginTop(1),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(accent),
		muted:     lipgloss.NewStyle().Foreground(muted),
		errText:   lipgloss.NewStyle().Foreground(bad),
		thinking:  lipgloss.NewStyle().Foreground(accent),
		ready:     lipgloss.NewStyle().Foreground(good),
		inputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		divider: lipgloss.NewStyle().Foreground(muted),
		spinner: lipgloss.NewStyle().Foreground(accent),
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Starting chat..."
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.styles.inputBox.Width(m.viewport.Width).Render(m.textinput.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	title := m.styles.title.Render("OllamaPy Chat")

	status := m.styles.ready.Render("Ready")
	if m.isLoading {
		status = m.styles.thinking.Render(m.spinner.View() + " Thinking...")
	}

	width := m.width - 2
	if width < 1 {
		width = 1
	}
	divider := m.styles.divider.Render(strings.Repeat("─", width))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status),
		divider,
	)
}

func (m Model) renderFooter() string {
	if m.err != nil {
		return m.styles.errText.Render("error: " + m.err.Error())
	}
	help := fmt.Sprintf("%s • enter: send • up/down: input history • /help: commands • esc: quit",
		m.client.Model())
	return m.styles.muted.Render(help)
}

// renderHistory lays out the transcript for the viewport.
func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		switch msg.Role {
		case "user":
			sb.WriteString(m.styles.user.Render("You"))
			sb.WriteString("\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		case "assistant":
			sb.WriteString(m.styles.assistant.Render("AI"))
			sb.WriteString("\n")
			if len(msg.Skills) > 0 {
				sb.WriteString(m.styles.muted.Render("used skills: " + strings.Join(msg.Skills, ", ")))
				sb.WriteString("\n")
			}
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
		}
	}
	return sb.String()
}

// safeRenderMarkdown guards against glamour panics on odd input, falling
// back to the raw text.
func (m Model) safeRenderMarkdown(content string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = content + "\n"
		}
	}()

	if m.renderer == nil {
		return content + "\n"
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}
