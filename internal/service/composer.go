package service

import (
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/ragchat/internal/domain"
)

// NoGroundingMarker is always present in the user message of a prompt built
// without sources.
const NoGroundingMarker = "NO GROUNDING CONTEXT"

const (
	defaultMaxContextChars = 12000
	defaultMaxHistoryTurns = 10

	sourcesHeader    = "Sources:\n"
	sourceSeparator  = " :: "
	sourceTerminator = " ||\n"
)

// ComposerConfig configures prompt composition.
type ComposerConfig struct {
	SystemMessage      string
	NoGroundingMessage string
	// MaxContextChars bounds the rendered source lines, in characters.
	MaxContextChars int
	// MaxHistoryTurns bounds the answer turns replayed as history.
	MaxHistoryTurns int
}

// Composer builds the model input for a turn. It performs no I/O.
type Composer struct {
	cfg ComposerConfig
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = defaultMaxContextChars
	}
	if cfg.MaxHistoryTurns < 0 {
		cfg.MaxHistoryTurns = defaultMaxHistoryTurns
	}
	if !strings.Contains(cfg.NoGroundingMessage, NoGroundingMarker) {
		cfg.NoGroundingMessage = strings.TrimSpace(NoGroundingMarker + ": " + cfg.NoGroundingMessage)
	}
	return &Composer{cfg: cfg}
}

// Compose merges the query, the retrieved sources and the session history
// into a prompt. Sources are listed by descending score; the lowest-scored
// ones are dropped until the source lines fit MaxContextChars, and a single
// remaining source is cut to fit. When no source fits the prompt carries the
// no-grounding instruction instead.
func (c *Composer) Compose(query string, result *domain.RetrievalResult, history []domain.ConversationTurn) domain.Prompt {
	prompt := domain.Prompt{
		System:  c.cfg.SystemMessage,
		History: c.historyMessages(history),
	}

	var entries []domain.ScoredEntry
	if !result.Empty() {
		entries = make([]domain.ScoredEntry, len(result.Entries))
		copy(entries, result.Entries)
		domain.SortByScore(entries)
	}

	lines, kept := c.fitSources(entries)
	if len(lines) == 0 {
		prompt.User = query + "\n\n" + c.cfg.NoGroundingMessage
		return prompt
	}

	prompt.Sources = kept
	prompt.Grounded = true
	prompt.User = query + "\n" + sourcesHeader + strings.Join(lines, "")
	return prompt
}

func (c *Composer) fitSources(entries []domain.ScoredEntry) ([]string, []domain.ScoredEntry) {
	lines := make([]string, len(entries))
	total := 0
	for i, e := range entries {
		lines[i] = sourceLine(e.Entry.Title, e.Entry.Path, normalizeSourceText(e.Entry.Chunk))
		total += utf8.RuneCountInString(lines[i])
	}

	n := len(lines)
	for n > 1 && total > c.cfg.MaxContextChars {
		n--
		total -= utf8.RuneCountInString(lines[n])
	}
	lines, entries = lines[:n], entries[:n]

	if n == 1 && total > c.cfg.MaxContextChars {
		e := entries[0].Entry
		overhead := utf8.RuneCountInString(sourceLine(e.Title, e.Path, ""))
		room := c.cfg.MaxContextChars - overhead
		if room <= 0 {
			return nil, nil
		}
		text := []rune(normalizeSourceText(e.Chunk))
		lines[0] = sourceLine(e.Title, e.Path, strings.TrimSpace(string(text[:room])))
	}
	return lines, entries
}

func sourceLine(title, path, text string) string {
	return title + sourceSeparator + path + sourceSeparator + text + sourceTerminator
}

// historyMessages replays the most recent answer turns as user/assistant
// pairs. Error turns are skipped.
func (c *Composer) historyMessages(turns []domain.ConversationTurn) []domain.ChatMessage {
	answers := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if !t.IsError() {
			answers = append(answers, t)
		}
	}
	if len(answers) > c.cfg.MaxHistoryTurns {
		answers = answers[len(answers)-c.cfg.MaxHistoryTurns:]
	}

	msgs := make([]domain.ChatMessage, 0, 2*len(answers))
	for _, t := range answers {
		msgs = append(msgs,
			domain.ChatMessage{Role: domain.RoleUser, Content: t.Query},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: t.Answer},
		)
	}
	return msgs
}
