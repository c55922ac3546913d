package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionState is the state of a chat session's turn loop.
type SessionState string

const (
	SessionStateIdle               SessionState = "idle"
	SessionStateAwaitingRetrieval  SessionState = "awaiting_retrieval"
	SessionStateAwaitingGeneration SessionState = "awaiting_generation"
	SessionStateRendering          SessionState = "rendering"
)

// TurnKind distinguishes answers from rendered failures.
type TurnKind string

const (
	TurnKindAnswer TurnKind = "answer"
	TurnKindError  TurnKind = "error"
)

// Chat message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message of a chat completion payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the model input for one turn.
type Prompt struct {
	System   string
	History  []ChatMessage
	User     string
	Sources  []ScoredEntry
	Grounded bool
}

// Messages renders the prompt as a chat payload: system, history, user.
func (p Prompt) Messages() []ChatMessage {
	msgs := make([]ChatMessage, 0, len(p.History)+2)
	if p.System != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: p.System})
	}
	msgs = append(msgs, p.History...)
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: p.User})
	return msgs
}

// Answer is the generated reply for a prompt.
type Answer struct {
	Text         string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// ConversationTurn records one completed turn of a session.
type ConversationTurn struct {
	ID           string
	Kind         TurnKind
	Query        string
	Prompt       Prompt
	Answer       string
	References   []Reference
	ErrorCode    string
	ErrorMessage string
	Degraded     bool
	CreatedAt    time.Time
}

// NewAnswerTurn creates an answer turn.
func NewAnswerTurn(query string, prompt Prompt, answer string, refs []Reference, degraded bool) ConversationTurn {
	return ConversationTurn{
		ID:         uuid.NewString(),
		Kind:       TurnKindAnswer,
		Query:      query,
		Prompt:     prompt,
		Answer:     answer,
		References: refs,
		Degraded:   degraded,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewErrorTurn creates an error turn from a failed component call.
func NewErrorTurn(query string, err error) ConversationTurn {
	code := CodeOf(err)
	if code == "" {
		code = ErrCodeInternalError
	}
	return ConversationTurn{
		ID:           uuid.NewString(),
		Kind:         TurnKindError,
		Query:        query,
		ErrorCode:    code,
		ErrorMessage: errorMessage(err),
		CreatedAt:    time.Now().UTC(),
	}
}

// IsError reports whether the turn renders a failure.
func (t ConversationTurn) IsError() bool {
	return t.Kind == TurnKindError
}

// errorMessage returns the user-facing part of err. Content filter messages
// are kept verbatim, including the upstream cause.
func errorMessage(err error) string {
	var de *DomainError
	if !errors.As(err, &de) {
		return err.Error()
	}
	if de.Code == ErrCodeContentFiltered && de.Err != nil {
		return de.Err.Error()
	}
	return de.Message
}
