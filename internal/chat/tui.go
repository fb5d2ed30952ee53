package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ScienceIsVeryCool/OllamaPy/internal/gateway"
	"github.com/ScienceIsVeryCool/OllamaPy/internal/skills"
)

// exchangeTimeout bounds one full dispatch-and-respond round trip,
// including any model pull the server decides to do on first use.
const exchangeTimeout = 10 * time.Minute

// Message is one rendered entry in the chat transcript.
type Message struct {
	Role    string
	Content string
	Skills  []string
	Time    time.Time
}

type responseMsg struct {
	text   string
	skills []string
}

type errorMsg error

// Model is the bubbletea state for the chat screen.
type Model struct {
	session  *Session
	client   *gateway.OllamaClient
	registry *skills.Registry

	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	styles    styles

	history      []Message
	inputHistory []string
	historyIndex int

	width     int
	height    int
	ready     bool
	isLoading bool
	err       error
}

// NewModel assembles the chat UI over an existing session. registry may
// be nil when skill dispatch is disabled; the /skills command then just
// says so.
func NewModel(session *Session, client *gateway.OllamaClient, registry *skills.Registry) Model {
	st := newStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask me anything... (Enter to send, Esc to quit)"
	ti.Focus()
	ti.Prompt = "| "
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.spinner

	vp := viewport.New(80, 20)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	dispatch := "off"
	if registry != nil {
		dispatch = fmt.Sprintf("on, %d skills loaded", registry.Count())
	}
	greeting := Message{
		Role:    "assistant",
		Content: fmt.Sprintf("Chatting with `%s`. Skill dispatch is %s. Type `/help` for commands.", client.Model(), dispatch),
		Time:    time.Now(),
	}

	return Model{
		session:   session,
		client:    client,
		registry:  registry,
		viewport:  vp,
		textinput: ti,
		spinner:   sp,
		renderer:  renderer,
		styles:    st,
		history:   []Message{greeting},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}

		case tea.KeyUp:
			if m.historyIndex > 0 {
				m.historyIndex--
				m.textinput.SetValue(m.inputHistory[m.historyIndex])
				m.textinput.CursorEnd()
			}
			return m, nil

		case tea.KeyDown:
			if m.historyIndex < len(m.inputHistory) {
				m.historyIndex++
				if m.historyIndex == len(m.inputHistory) {
					m.textinput.SetValue("")
				} else {
					m.textinput.SetValue(m.inputHistory[m.historyIndex])
					m.textinput.CursorEnd()
				}
			}
			return m, nil
		}

		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		inputHeight := 3
		chatWidth := msg.Width - 4
		if chatWidth < 1 {
			chatWidth = 1
		}
		chatHeight := msg.Height - headerHeight - footerHeight - inputHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(chatWidth, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = chatWidth
			m.viewport.Height = chatHeight
		}
		m.textinput.Width = chatWidth - 4

		// Re-wrap markdown at the new width.
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(chatWidth-4),
		)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case responseMsg:
		m.isLoading = false
		m.err = nil
		m.history = append(m.history, Message{
			Role:    "assistant",
			Content: msg.text,
			Skills:  msg.skills,
			Time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case errorMsg:
		m.isLoading = false
		m.err = msg
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.history = append(m.history, Message{
		Role:    "user",
		Content: input,
		Time:    time.Now(),
	})
	if len(m.inputHistory) == 0 || m.inputHistory[len(m.inputHistory)-1] != input {
		m.inputHistory = append(m.inputHistory, input)
	}
	m.historyIndex = len(m.inputHistory)

	m.textinput.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()

	m.isLoading = true
	return m, tea.Batch(
		m.spinner.Tick,
		m.processInput(input),
	)
}

// processInput runs one exchange in the background and reports the
// outcome back to Update.
func (m Model) processInput(input string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
		defer cancel()

		reply, err := m.session.Send(ctx, input, nil)
		if err != nil {
			return errorMsg(err)
		}

		var used []string
		if reply.Dispatch != nil {
			for _, o := range reply.Dispatch.Executed() {
				used = append(used, o.Skill)
			}
		}
		return responseMsg{text: reply.Text, skills: used}
	}
}

func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := parts[0]

	switch cmd {
	case "/quit", "/exit", "/bye", "/q":
		return m, tea.Quit

	case "/clear":
		m.session.Clear()
		m.history = []Message{}
		m.viewport.SetContent("")
		m.textinput.Reset()
		return m, nil

	case "/help":
		return m.addNotice(`## Available Commands

| Command | Description |
|---------|-------------|
| /help | Show this help message |
| /clear | Clear the conversation |
| /skills | List the loaded skills |
| /model | Show the chat model |
| /model <name> | Switch the chat model |
| /models | List models on the server |
| /quit | Exit the chat |

Plain messages are checked against every skill first; anything a skill
produces is handed to the model as context for its answer.`)

	case "/model":
		if len(parts) > 1 {
			m.client.SetModel(parts[1])
			return m.addNotice(fmt.Sprintf("Chat model switched to `%s`. The conversation carries over.", parts[1]))
		}
		return m.addNotice(fmt.Sprintf("Chat model: `%s`", m.client.Model()))

	case "/models":
		m.textinput.Reset()
		m.isLoading = true
		return m, tea.Batch(m.spinner.Tick, m.fetchModels())

	case "/skills":
		if m.registry == nil {
			return m.addNotice("Skill dispatch is disabled for this session.")
		}
		loaded := m.registry.List("")
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Skills (%d)\n\n", len(loaded))
		for _, sk := range loaded {
			fmt.Fprintf(&sb, "- `%s` (%s): %s\n", sk.Name, sk.Role, sk.Description)
		}
		return m.addNotice(sb.String())

	default:
		return m.addNotice(fmt.Sprintf("Unknown command `%s`. Try `/help`.", cmd))
	}
}

// addNotice appends an assistant-role note to the transcript without
// touching the conversation the model sees.
func (m Model) addNotice(content string) (tea.Model, tea.Cmd) {
	m.history = append(m.history, Message{
		Role:    "assistant",
		Content: content,
		Time:    time.Now(),
	})
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	m.textinput.Reset()
	return m, nil
}

func (m Model) fetchModels() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		models, err := m.client.ListModels(ctx)
		if err != nil {
			return errorMsg(err)
		}

		var sb strings.Builder
		sb.WriteString("## Available Models\n\n")
		for _, name := range models {
			current := ""
			if name == m.client.Model() {
				current = " *(current)*"
			}
			fmt.Fprintf(&sb, "- `%s`%s\n", name, current)
		}
		return responseMsg{text: sb.String()}
	}
}

// Run starts the interactive chat and blocks until the user quits.
func Run(session *Session, client *gateway.OllamaClient, registry *skills.Registry) error {
	p := tea.NewProgram(NewModel(session, client, registry), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
