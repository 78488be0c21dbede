package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

type stubAsker struct {
	ans *domain.Answer
	err error
}

func (s stubAsker) Answer(context.Context, string) (*domain.Answer, error) { return s.ans, s.err }
func (s stubAsker) Summary() string                                        { return "Corpus summary." }

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func typeQuestion(m Model, q string) Model {
	m.input.SetValue(q)
	return m
}

func sampleAnswer() *domain.Answer {
	paris := domain.Document{ID: "row-0", Text: "Paris is the capital of France. It is large."}
	tokyo := domain.Document{ID: "row-1", Text: "Tokyo is the capital of Japan."}
	return &domain.Answer{
		Question:  "capital of France?",
		Text:      "Paris",
		Retrieved: []domain.SearchResult{{Document: paris, Score: 0.8}, {Document: tokyo, Score: 0.2}},
		Used:      []domain.Document{paris},
	}
}

func TestEnterRunsQuestionAsync(t *testing.T) {
	m := typeQuestion(sized(New(stubAsker{ans: sampleAnswer()})), "capital of France?")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	msg := cmd()
	require.IsType(t, answerMsg{}, msg)
	next, _ = m.Update(msg)
	m = next.(Model)

	assert.False(t, m.busy)
	assert.Contains(t, m.status, "Answered")
	view := m.View()
	assert.Contains(t, view, "Paris")
	assert.Contains(t, view, "Context 1/2")
	assert.Contains(t, view, "Corpus summary.")
}

func TestCursorCyclesContext(t *testing.T) {
	m := sized(New(stubAsker{}))
	next, _ := m.Update(answerMsg{question: "q", answer: sampleAnswer()})
	m = next.(Model)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.render(), "dropped by prompt budget")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, next.(Model).cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, next.(Model).cursor)
}

func TestErrorShownInStatus(t *testing.T) {
	m := sized(New(stubAsker{}))
	next, _ := m.Update(answerMsg{question: "q", err: errors.New("generation failure")})
	m = next.(Model)
	assert.True(t, strings.HasPrefix(m.status, "Error:"))
	assert.Nil(t, m.answer)
}

func TestEmptyContextNoted(t *testing.T) {
	m := sized(New(stubAsker{}))
	next, _ := m.Update(answerMsg{question: "q", answer: &domain.Answer{Question: "q", Text: "I don't know."}})
	m = next.(Model)
	assert.Contains(t, m.status, "no context")
	assert.Contains(t, m.render(), "No context retrieved.")
}

func TestBlankEnterIgnored(t *testing.T) {
	m := sized(New(stubAsker{}))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Cats purr. Paris is the capital of France.", "capital of France")
	assert.Contains(t, out, "Cats purr.")
	assert.Contains(t, out, "Paris is the capital of France.")
	assert.Equal(t, "", highlightBestSentence("", "q"))
}
