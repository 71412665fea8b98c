package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docpilot/src/core/session"
	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/postgres/sessionctrl"
)

// Turn statuses recorded for every answered query.
const (
	StatusAnswered         = "answered"
	StatusFallbackAnswered = "fallback_answered"
	StatusFailed           = "failed"
)

// Reply is the orchestrator's response to one query.
type Reply struct {
	SessionID  string    `json:"session_id"`
	Answer     string    `json:"answer"`
	Intent     Intent    `json:"intent"`
	Agent      string    `json:"agent"`
	Status     string    `json:"status"`
	Provenance []Attempt `json:"provenance"`
}

// Service routes each query to an agent, falls back from weak retrieval to
// web search at most once, and records the turn with its provenance trail.
type Service struct {
	router   *Router
	docList  *DocumentListAgent
	rag      *RAGAgent
	web      *WebSearchAgent
	sessions *session.Manager
}

func NewService(router *Router, docList *DocumentListAgent, rag *RAGAgent, web *WebSearchAgent, sessions *session.Manager) *Service {
	return &Service{
		router:   router,
		docList:  docList,
		rag:      rag,
		web:      web,
		sessions: sessions,
	}
}

// Respond handles one query end to end. Turns of the same session run
// strictly one at a time; the lock is held until the turn is persisted.
func (s *Service) Respond(ctx context.Context, sessionID, query string) (*Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	sessionID, release, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	decision := s.router.Route(ctx, query, history)
	answer, status, attempts := s.execute(ctx, decision.Intent, query, history)

	reply := &Reply{
		SessionID:  sessionID,
		Answer:     answer,
		Intent:     decision.Intent,
		Agent:      attempts[len(attempts)-1].Agent,
		Status:     status,
		Provenance: attempts,
	}

	provenance, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provenance: %w", err)
	}

	if _, err := s.sessions.Append(ctx, sessionID, sessionctrl.Turn{
		Query:      query,
		Intent:     string(decision.Intent),
		Answer:     answer,
		Status:     status,
		Provenance: string(provenance),
	}); err != nil {
		return nil, err
	}

	log.Info("turn completed", "session_id", sessionID, "intent", decision.Intent, "status", status)
	return reply, nil
}

// execute runs the routed agent. Only the retrieval path may fall back, and
// it falls back to web search exactly once.
func (s *Service) execute(ctx context.Context, intent Intent, query string, history []sessionctrl.Turn) (string, string, []Attempt) {
	switch intent {
	case IntentDocumentList:
		result := s.docList.Execute(ctx, query)
		return result.Answer, statusFor(result.Attempt.Outcome, false), []Attempt{result.Attempt}

	case IntentWebSearch:
		result := s.web.Execute(ctx, query)
		return result.Answer, statusFor(result.Attempt.Outcome, false), []Attempt{result.Attempt}

	default:
		first := s.rag.Execute(ctx, query, history)
		if first.Attempt.Outcome == OutcomeAnswered {
			return first.Answer, StatusAnswered, []Attempt{first.Attempt}
		}

		second := s.web.Execute(ctx, query)
		attempts := []Attempt{first.Attempt, second.Attempt}
		return second.Answer, statusFor(second.Attempt.Outcome, true), attempts
	}
}

func statusFor(outcome Outcome, fellBack bool) string {
	switch outcome {
	case OutcomeAnswered:
		if fellBack {
			return StatusFallbackAnswered
		}
		return StatusAnswered
	case OutcomeInsufficient, OutcomeUnavailable:
		return StatusFailed
	default:
		return StatusFailed
	}
}
