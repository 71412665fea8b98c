package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"docpilot/src/core/chunkstore"
	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/postgres/documentctrl"
	"docpilot/src/storage/postgres/sessionctrl"
)

// Outcome is what a single agent attempt produced.
type Outcome string

const (
	// OutcomeAnswered means the agent produced a usable answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeInsufficient means the agent ran but its evidence was too weak
	// to answer from.
	OutcomeInsufficient Outcome = "insufficient"
	// OutcomeUnavailable means the agent's backing service failed.
	OutcomeUnavailable Outcome = "unavailable"
)

// Source points at one piece of evidence behind an answer.
type Source struct {
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Attempt records one agent execution for the turn's provenance trail.
type Attempt struct {
	Agent    string   `json:"agent"`
	Outcome  Outcome  `json:"outcome"`
	TopScore float64  `json:"top_score,omitempty"`
	Sources  []Source `json:"sources,omitempty"`
	ChunkIDs []int64  `json:"chunk_ids,omitempty"`
}

// Result is an agent's answer plus its provenance record.
type Result struct {
	Answer  string
	Attempt Attempt
}

type DocumentLister interface {
	ListByStatus(ctx context.Context, status documentctrl.Status) ([]documentctrl.Document, error)
}

// DocumentListAgent answers inventory questions from document metadata
// without touching the models at all. It enumerates ready documents only;
// pending, processing and failed uploads are not searchable yet.
type DocumentListAgent struct {
	documents DocumentLister
}

func NewDocumentListAgent(documents DocumentLister) *DocumentListAgent {
	return &DocumentListAgent{documents: documents}
}

func (a *DocumentListAgent) Execute(ctx context.Context, _ string) Result {
	docs, err := a.documents.ListByStatus(ctx, documentctrl.StatusReady)
	if err != nil {
		log.Error(err, "document list agent failed")
		return Result{
			Answer:  "I'm sorry, I couldn't look up the document list right now. Please try again.",
			Attempt: Attempt{Agent: string(IntentDocumentList), Outcome: OutcomeUnavailable},
		}
	}

	if len(docs) == 0 {
		return Result{
			Answer:  "There are no documents available yet. Upload one to get started.",
			Attempt: Attempt{Agent: string(IntentDocumentList), Outcome: OutcomeAnswered},
		}
	}

	var b strings.Builder
	b.WriteString("Available documents:\n")
	for _, doc := range docs {
		fmt.Fprintf(&b, "- %s (%d chunks)\n", doc.Filename, doc.ChunkCount)
	}

	return Result{
		Answer:  strings.TrimRight(b.String(), "\n"),
		Attempt: Attempt{Agent: string(IntentDocumentList), Outcome: OutcomeAnswered},
	}
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, documentIDs []int64) ([]chunkstore.ScoredChunk, error)
}

const ragSystemPrompt = `You are a helpful assistant that answers questions using only the provided document excerpts. If the excerpts do not contain the answer, say so plainly. Cite excerpts by their number, like [1] or [2].`

// RAGAgent answers from retrieved chunks. It declares itself insufficient,
// rather than guessing, when nothing scores above its confidence threshold.
type RAGAgent struct {
	retriever Retriever
	llm       LLMProvider
	threshold float64
}

func NewRAGAgent(retriever Retriever, llm LLMProvider, threshold float64) *RAGAgent {
	return &RAGAgent{
		retriever: retriever,
		llm:       llm,
		threshold: threshold,
	}
}

func (a *RAGAgent) Execute(ctx context.Context, query string, history []sessionctrl.Turn) Result {
	attempt := Attempt{Agent: string(IntentRAG)}

	chunks, err := a.retriever.Retrieve(ctx, query, nil)
	if err != nil {
		log.Error(err, "retrieval failed")
		attempt.Outcome = OutcomeUnavailable
		return Result{Attempt: attempt}
	}

	for _, chunk := range chunks {
		attempt.ChunkIDs = append(attempt.ChunkIDs, chunk.ChunkID)
		attempt.Sources = append(attempt.Sources, Source{Score: chunk.Score})
	}
	if len(chunks) > 0 {
		attempt.TopScore = chunks[0].Score
	}

	if len(chunks) == 0 || chunks[0].Score < a.threshold {
		attempt.Outcome = OutcomeInsufficient
		return Result{Attempt: attempt}
	}

	answer, err := a.llm.Generate(ctx, ragSystemPrompt, buildRAGPrompt(query, chunks, history))
	if err != nil {
		log.Error(err, "answer generation failed")
		attempt.Outcome = OutcomeUnavailable
		return Result{Attempt: attempt}
	}

	attempt.Outcome = OutcomeAnswered
	return Result{Answer: strings.TrimSpace(answer), Attempt: attempt}
}

func buildRAGPrompt(query string, chunks []chunkstore.ScoredChunk, history []sessionctrl.Turn) string {
	var b strings.Builder

	b.WriteString("Document excerpts:\n\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, chunk.Content)
	}

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

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// WebResult is one hit from a web search backend.
type WebResult struct {
	Title   string
	Snippet string
	URL     string
}

type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]WebResult, error)
}

const webSystemPrompt = `You are a helpful assistant that answers questions using the provided web search results. Mention which result supports each claim. If the results are unrelated to the question, say you could not find a good answer.`

// WebSearchAgent answers from live web results. A failing search backend
// yields an apology rather than an error, so the turn still completes.
type WebSearchAgent struct {
	search     SearchProvider
	llm        LLMProvider
	maxResults int
}

func NewWebSearchAgent(search SearchProvider, llm LLMProvider, maxResults int) *WebSearchAgent {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchAgent{
		search:     search,
		llm:        llm,
		maxResults: maxResults,
	}
}

func (a *WebSearchAgent) Execute(ctx context.Context, query string) Result {
	attempt := Attempt{Agent: string(IntentWebSearch)}

	results, err := a.search.Search(ctx, query, a.maxResults)
	if err != nil {
		log.Error(err, "web search failed")
		attempt.Outcome = OutcomeUnavailable
		return Result{
			Answer:  "I'm sorry, web search is unavailable right now, and I couldn't find an answer in the documents.",
			Attempt: attempt,
		}
	}

	if len(results) == 0 {
		attempt.Outcome = OutcomeInsufficient
		return Result{
			Answer:  "I'm sorry, I couldn't find anything relevant for that query.",
			Attempt: attempt,
		}
	}

	for _, result := range results {
		attempt.Sources = append(attempt.Sources, Source{Title: result.Title, URL: result.URL})
	}

	answer, err := a.llm.Generate(ctx, webSystemPrompt, buildWebPrompt(query, results))
	if err != nil {
		log.Error(err, "web answer generation failed")
		attempt.Outcome = OutcomeUnavailable
		return Result{
			Answer:  "I'm sorry, I found search results but couldn't compose an answer. Please try again.",
			Attempt: attempt,
		}
	}

	attempt.Outcome = OutcomeAnswered
	return Result{Answer: strings.TrimSpace(answer), Attempt: attempt}
}

func buildWebPrompt(query string, results []WebResult) string {
	var b strings.Builder

	b.WriteString("Search results:\n\n")
	for i, result := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, result.Title, result.Snippet, result.URL)
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
