package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragqa/internal/domain"
	"ragqa/internal/generation/extractive"
)

// Asker is the TUI-facing subset of the pipeline.
type Asker interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
	Summary() string
}

// answerMsg carries the outcome of an asynchronous Answer call.
type answerMsg struct {
	question string
	answer   *domain.Answer
	err      error
	elapsed  time.Duration
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  Asker
	input    textinput.Model
	viewport viewport.Model
	answer   *domain.Answer
	status   string
	cursor   int
	ready    bool
	busy     bool
}

// New creates a new TUI model instance.
func New(service Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, status: "Index ready. Ask a question."}
}

// Run starts the program and blocks until the user quits.
func Run(service Asker) error {
	_, err := tea.NewProgram(New(service), tea.WithAltScreen()).Run()
	return err
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.answer = msg.answer
			m.cursor = 0
			m.status = fmt.Sprintf("Answered %q in %s", msg.question, msg.elapsed.Round(time.Millisecond))
			if msg.answer.ContextEmpty() {
				m.status += " (no context fitted the prompt)"
			}
		}
		m.viewport.SetContent(m.render())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			return m, m.ask(q)
		case "down":
			if n := m.results(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if n := m.results(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		start := time.Now()
		ans, err := svc.Answer(context.Background(), q)
		return answerMsg{question: q, answer: ans, err: err, elapsed: time.Since(start)}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Question Answering")
	summary := summaryStyle.Render(m.service.Summary())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if strings.HasPrefix(m.status, "Error:") {
		status = errorStyle.Render(m.status)
	}
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) results() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Retrieved)
}

func (m Model) render() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(strings.TrimSpace(m.answer.Text)))
	b.WriteString("\n\n")
	if len(m.answer.Retrieved) == 0 {
		b.WriteString("No context retrieved.")
		return b.String()
	}
	r := m.answer.Retrieved[m.cursor]
	used := "in prompt"
	if !isUsed(m.answer, r.Document.ID) {
		used = "dropped by prompt budget"
	}
	fmt.Fprintf(&b, "Context %d/%d  %s  score=%.3f  (%s)\n\n", m.cursor+1, len(m.answer.Retrieved), r.Document.ID, r.Score, used)
	b.WriteString(highlightBestSentence(r.Document.Text, m.answer.Question))
	return b.String()
}

func isUsed(a *domain.Answer, id string) bool {
	for _, d := range a.Used {
		if d.ID == id {
			return true
		}
	}
	return false
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	summaryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func highlightBestSentence(text, query string) string {
	sentences, best := extractive.BestSentence(text, query)
	if len(sentences) == 0 {
		return text
	}
	for i := range sentences {
		if i == best {
			sentences[i] = highlightStyle.Render(sentences[i])
		}
	}
	return strings.Join(sentences, " ")
}
