package service

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scored(title, chunk string, score float64) domain.ScoredEntry {
	return domain.ScoredEntry{
		Entry: domain.IndexEntry{ID: title, Title: title, Path: "https://kb/" + title, Chunk: chunk},
		Score: score,
	}
}

func testComposer(maxChars int) *Composer {
	return NewComposer(ComposerConfig{
		SystemMessage:      "answer from sources",
		NoGroundingMessage: "NO GROUNDING CONTEXT: say you do not know.",
		MaxContextChars:    maxChars,
		MaxHistoryTurns:    2,
	})
}

// sourcesOf returns the rendered source block of a prompt.
func sourcesOf(p domain.Prompt) string {
	_, block, _ := strings.Cut(p.User, sourcesHeader)
	return block
}

func TestComposer_EmptyResultCarriesNoGroundingMarker(t *testing.T) {
	c := testComposer(1000)

	for _, result := range []*domain.RetrievalResult{nil, {Query: "q"}, {Query: "q", Degraded: true}} {
		p := c.Compose("What is the warranty period?", result, nil)
		assert.Contains(t, p.User, NoGroundingMarker)
		assert.True(t, strings.HasPrefix(p.User, "What is the warranty period?"))
		assert.False(t, p.Grounded)
		assert.Empty(t, p.Sources)
	}
}

func TestComposer_MarkerAddedToCustomMessage(t *testing.T) {
	c := NewComposer(ComposerConfig{NoGroundingMessage: "Nothing found, be careful."})
	p := c.Compose("q", &domain.RetrievalResult{}, nil)
	assert.Contains(t, p.User, NoGroundingMarker)
	assert.Contains(t, p.User, "Nothing found, be careful.")
}

func TestComposer_WarrantyScenarioOrdersByScore(t *testing.T) {
	c := testComposer(1000)
	result := &domain.RetrievalResult{Entries: []domain.ScoredEntry{
		scored("returns.md", "Returns are accepted within 30 days.", 0.4),
		scored("warranty.md", "The warranty period is two years.", 0.9),
	}}

	p := c.Compose("What is the warranty period?", result, nil)

	require.True(t, p.Grounded)
	require.Len(t, p.Sources, 2)
	assert.Equal(t, "warranty.md", p.Sources[0].Entry.Title)
	assert.Less(t, strings.Index(p.User, "warranty.md"), strings.Index(p.User, "returns.md"))
	assert.Contains(t, p.User, "warranty.md :: https://kb/warranty.md :: warranty period two years ||\n")
	assert.NotContains(t, p.User, NoGroundingMarker)

	// Input is not reordered in place.
	assert.Equal(t, "returns.md", result.Entries[0].Entry.Title)
}

func TestComposer_TiesKeepServiceOrder(t *testing.T) {
	c := testComposer(1000)
	result := &domain.RetrievalResult{Entries: []domain.ScoredEntry{
		scored("b.md", "beta", 0.5),
		scored("a.md", "alpha", 0.5),
		scored("c.md", "gamma", 0.7),
	}}

	p := c.Compose("q", result, nil)
	titles := []string{}
	for _, s := range p.Sources {
		titles = append(titles, s.Entry.Title)
	}
	assert.Equal(t, []string{"c.md", "b.md", "a.md"}, titles)
}

func TestComposer_BudgetDropsLowestScoredFirst(t *testing.T) {
	entries := []domain.ScoredEntry{}
	for i := 0; i < 6; i++ {
		entries = append(entries, scored(fmt.Sprintf("doc%d.md", i), strings.Repeat("content ", 10), float64(10-i)))
	}

	for _, budget := range []int{60, 120, 200, 400, 5000} {
		p := testComposer(budget).Compose("q", &domain.RetrievalResult{Entries: entries}, nil)
		block := sourcesOf(p)
		assert.LessOrEqual(t, utf8.RuneCountInString(block), budget, "budget %d", budget)

		for i, s := range p.Sources {
			assert.Equal(t, fmt.Sprintf("doc%d.md", i), s.Entry.Title, "kept entries are the top scored, budget %d", budget)
		}
	}
}

func TestComposer_SingleEntryIsCutToBudget(t *testing.T) {
	c := testComposer(80)
	result := &domain.RetrievalResult{Entries: []domain.ScoredEntry{
		scored("manual.md", strings.Repeat("battery ", 100), 0.8),
	}}

	p := c.Compose("q", result, nil)
	require.True(t, p.Grounded)
	block := sourcesOf(p)
	assert.LessOrEqual(t, utf8.RuneCountInString(block), 80)
	assert.True(t, strings.HasPrefix(block, "manual.md :: https://kb/manual.md :: battery"))
	assert.True(t, strings.HasSuffix(block, " ||\n"))
}

func TestComposer_BudgetTooSmallForAnySource(t *testing.T) {
	c := testComposer(10)
	result := &domain.RetrievalResult{Entries: []domain.ScoredEntry{scored("manual.md", "battery life", 0.8)}}

	p := c.Compose("q", result, nil)
	assert.False(t, p.Grounded)
	assert.Contains(t, p.User, NoGroundingMarker)
}

func TestComposer_HistorySkipsErrorsAndIsCapped(t *testing.T) {
	c := testComposer(1000)
	history := []domain.ConversationTurn{
		domain.NewAnswerTurn("first", domain.Prompt{}, "one", nil, false),
		domain.NewErrorTurn("broken", domain.ErrGenerationTimeout),
		domain.NewAnswerTurn("second", domain.Prompt{}, "two", nil, false),
		domain.NewAnswerTurn("third", domain.Prompt{}, "three", nil, false),
	}

	p := c.Compose("fourth", nil, history)
	assert.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "second"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "third"},
		{Role: domain.RoleAssistant, Content: "three"},
	}, p.History)

	msgs := p.Messages()
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, domain.RoleUser, msgs[len(msgs)-1].Role)
}

func TestNormalizeSourceText(t *testing.T) {
	assert.Equal(t, "warranty covers parts labour 2 years",
		normalizeSourceText("The Warranty covers: parts, and labour (for 2 years)!"))
	assert.Equal(t, "", normalizeSourceText("the and of"))
	assert.Equal(t, "cafes menu", normalizeSourceText("Cafe's menu"))
}
