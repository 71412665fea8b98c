package orchestrator

import (
	"context"
	"strings"

	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/postgres/sessionctrl"
)

// Intent names which agent should handle a query.
type Intent string

const (
	IntentDocumentList Intent = "document_list"
	IntentRAG          Intent = "rag"
	IntentWebSearch    Intent = "web_search"
)

// LLMProvider is the completion surface the orchestrator needs: a
// deterministic classifier and a sampled generator.
type LLMProvider interface {
	Classify(ctx context.Context, system string, prompt string) (string, error)
	Generate(ctx context.Context, system string, prompt string) (string, error)
}

// Decision is the routing outcome. FailedOpen is set when the classifier
// did not produce a usable label and the router defaulted.
type Decision struct {
	Intent     Intent `json:"intent"`
	FailedOpen bool   `json:"failed_open,omitempty"`
}

const routerSystemPrompt = `You are a query router for a document assistant. Classify the user's query into exactly one category:

- document_list: the user asks what documents, files or sources are available, uploaded or indexed.
- rag: the user asks a question that should be answered from the content of the uploaded documents.
- web_search: the user explicitly asks to search the web, or asks about current events, news, or anything clearly outside the uploaded documents.

Respond with only the category name, nothing else.`

// Router classifies queries into an intent. Every query routes somewhere:
// an unusable classification falls open to retrieval, never to an error.
type Router struct {
	llm LLMProvider
}

func NewRouter(llm LLMProvider) *Router {
	return &Router{llm: llm}
}

func (r *Router) Route(ctx context.Context, query string, history []sessionctrl.Turn) Decision {
	prompt := buildRouterPrompt(query, history)

	raw, err := r.llm.Classify(ctx, routerSystemPrompt, prompt)
	if err != nil {
		log.Info("router classification failed, defaulting to retrieval", "error", err.Error())
		return Decision{Intent: IntentRAG, FailedOpen: true}
	}

	switch normalizeIntent(raw) {
	case IntentDocumentList:
		return Decision{Intent: IntentDocumentList}
	case IntentWebSearch:
		return Decision{Intent: IntentWebSearch}
	case IntentRAG:
		return Decision{Intent: IntentRAG}
	default:
		log.Info("router returned unknown label, defaulting to retrieval", "label", raw)
		return Decision{Intent: IntentRAG, FailedOpen: true}
	}
}

func buildRouterPrompt(query string, history []sessionctrl.Turn) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			b.WriteString("User: ")
			b.WriteString(turn.Query)
			b.WriteString("\nAssistant: ")
			b.WriteString(turn.Answer)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Query: ")
	b.WriteString(query)
	return b.String()
}

func normalizeIntent(raw string) Intent {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, `"'.`)

	switch label {
	case "document_list", "document list", "documentlist":
		return IntentDocumentList
	case "rag", "retrieval":
		return IntentRAG
	case "web_search", "web search", "websearch":
		return IntentWebSearch
	default:
		return ""
	}
}
