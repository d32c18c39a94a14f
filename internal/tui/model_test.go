package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docsearch/internal/client"
)

type fakeSearcher struct {
	results []client.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Query(_ context.Context, text string) ([]client.Result, error) {
	f.queries = append(f.queries, text)
	return f.results, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func typeQuery(m Model, q string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(q)})
	return next.(Model)
}

func TestModel_LoadingBeforeSize(t *testing.T) {
	m := New(&fakeSearcher{}, "3 documents")
	assert.Equal(t, "Loading...", m.View())

	m = sized(t, m)
	view := m.View()
	assert.Contains(t, view, "docsearch")
	assert.Contains(t, view, "3 documents")
	assert.Contains(t, view, "No results yet.")
}

func TestModel_SearchFlow(t *testing.T) {
	s := &fakeSearcher{results: []client.Result{
		{Filename: "a.txt", Score: 0.1, Text: "Cats purr. Dogs bark."},
		{Filename: "b.txt", Score: 0.4, Text: "Birds sing."},
	}}
	m := sized(t, New(s, ""))
	m = typeQuery(m, "dogs")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.searching)

	msg := cmd()
	assert.Equal(t, []string{"dogs"}, s.queries)

	next, _ = m.Update(msg)
	m = next.(Model)
	assert.False(t, m.searching)
	assert.Equal(t, `2 results for "dogs"`, m.status)
	assert.Contains(t, m.renderCurrentResult(), "Result 1/2  a.txt")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.renderCurrentResult(), "Result 2/2  b.txt")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
}

func TestModel_EmptyQueryIgnored(t *testing.T) {
	s := &fakeSearcher{}
	m := sized(t, New(s, ""))
	m = typeQuery(m, "   ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, s.queries)
}

func TestModel_SearchError(t *testing.T) {
	s := &fakeSearcher{err: errors.New("server returned status 500: Embedding error: down")}
	m := sized(t, New(s, ""))
	m = typeQuery(m, "x")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next, _ = next.(Model).Update(cmd())
	m = next.(Model)
	assert.True(t, strings.HasPrefix(m.status, "Error: "))
	assert.Nil(t, m.results)
}

func TestModel_NoResults(t *testing.T) {
	m := sized(t, New(&fakeSearcher{}, ""))
	next, _ := m.Update(resultsMsg{query: "nothing"})
	m = next.(Model)
	assert.Equal(t, `No results for "nothing"`, m.status)
}

func TestModel_Quit(t *testing.T) {
	m := New(&fakeSearcher{}, "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Cats purr. Dogs bark loudly.", "dogs")
	assert.Contains(t, out, "Cats purr.")
	assert.Contains(t, out, "Dogs bark loudly.")

	assert.Equal(t, "", highlightBestSentence("", "x"))
	assert.Equal(t, "Plain text", highlightBestSentence("Plain text", ""))
}
