package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"go.uber.org/zap"
)

// TurnRetriever fetches the sources of a turn.
type TurnRetriever interface {
	Retrieve(ctx context.Context, query string, k int) (*domain.RetrievalResult, error)
}

// PromptComposer builds the prompt of a turn.
type PromptComposer interface {
	Compose(query string, result *domain.RetrievalResult, history []domain.ConversationTurn) domain.Prompt
}

// AnswerGenerator produces the answer of a turn.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (*domain.Answer, error)
}

// SessionDeps are the components shared by every session.
type SessionDeps struct {
	Retriever TurnRetriever
	Composer  PromptComposer
	Generator AnswerGenerator
	TopK      int
	Logger    *zap.Logger
}

// Session runs the turns of one conversation, one at a time, and owns its
// history.
type Session struct {
	id   string
	deps SessionDeps
	now  func() time.Time

	mu         sync.Mutex
	state      domain.SessionState
	turns      []domain.ConversationTurn
	cancel     context.CancelFunc
	lastActive time.Time
}

// SessionSnapshot is a point-in-time copy of a session.
type SessionSnapshot struct {
	ID         string
	State      domain.SessionState
	Turns      []domain.ConversationTurn
	LastActive time.Time
}

func NewSession(id string, deps SessionDeps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	s := &Session{id: id, deps: deps, now: time.Now, state: domain.SessionStateIdle}
	s.lastActive = s.now()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns a copy of the session history.
func (s *Session) Turns() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConversationTurn(nil), s.turns...)
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ID:         s.id,
		State:      s.state,
		Turns:      append([]domain.ConversationTurn(nil), s.turns...),
		LastActive: s.lastActive,
	}
}

// idleSince reports whether the session is idle and was last active before t.
func (s *Session) idleSince(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.SessionStateIdle && s.lastActive.Before(t)
}

// Submit runs one turn: retrieve, compose, generate, render. A session that
// is not idle rejects the query with SESSION_BUSY. Component failures end the
// turn with an error turn, returned with a nil error. A retrieval timeout
// does not end the turn: it proceeds without sources and is marked degraded.
// A cancelled turn appends nothing and returns ErrTurnCancelled.
func (s *Session) Submit(ctx context.Context, query string) (domain.ConversationTurn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.ConversationTurn{}, domain.ErrEmptyQuery
	}

	s.mu.Lock()
	if s.state != domain.SessionStateIdle {
		s.mu.Unlock()
		return domain.ConversationTurn{}, domain.ErrSessionBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = domain.SessionStateAwaitingRetrieval
	history := s.turns
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.state = domain.SessionStateIdle
		s.cancel = nil
		s.lastActive = s.now()
		s.mu.Unlock()
	}()

	turnCtx, span := telemetry.StartSpan(turnCtx, "session.turn", telemetry.SpanAttributes{SessionID: s.id, Operation: "turn"})
	defer span.End()

	logger := s.deps.Logger.With(zap.String("session_id", s.id))

	result, err := s.deps.Retriever.Retrieve(turnCtx, query, s.deps.TopK)
	if err != nil {
		if turnCtx.Err() != nil {
			return s.cancelled(logger)
		}
		if !domain.HasCode(err, domain.ErrCodeRetrievalTimeout) {
			span.SetError(err)
			return s.fail(logger, query, err), nil
		}
		logger.Warn("retrieval timed out, answering without sources", zap.Error(err))
		result = &domain.RetrievalResult{Query: query, Degraded: true}
	}

	s.setState(domain.SessionStateAwaitingGeneration)
	prompt := s.deps.Composer.Compose(query, result, history)

	answer, err := s.deps.Generator.Generate(turnCtx, prompt)
	if err != nil {
		if turnCtx.Err() != nil {
			return s.cancelled(logger)
		}
		span.SetError(err)
		return s.fail(logger, query, err), nil
	}

	s.setState(domain.SessionStateRendering)
	refs := result.References()
	turn := domain.NewAnswerTurn(query, prompt, LinkReferences(answer.Text, refs), refs, result.Degraded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if turnCtx.Err() != nil {
		logger.Info("turn cancelled")
		return domain.ConversationTurn{}, domain.ErrTurnCancelled
	}
	s.turns = append(s.turns, turn)

	logger.Info("turn answered",
		zap.Int("sources", len(prompt.Sources)),
		zap.Bool("degraded", turn.Degraded),
		zap.Int("prompt_tokens", answer.PromptTokens),
		zap.Int("output_tokens", answer.OutputTokens))
	return turn, nil
}

// Cancel aborts the in-flight turn, if any.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) fail(logger *zap.Logger, query string, err error) domain.ConversationTurn {
	turn := domain.NewErrorTurn(query, err)
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()

	logger.Warn("turn failed", zap.String("code", turn.ErrorCode), zap.Error(err))
	return turn
}

func (s *Session) cancelled(logger *zap.Logger) (domain.ConversationTurn, error) {
	logger.Info("turn cancelled")
	return domain.ConversationTurn{}, domain.ErrTurnCancelled
}

// IsCancelled reports whether err ended a turn by cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, domain.ErrTurnCancelled) || errors.Is(err, context.Canceled)
}
