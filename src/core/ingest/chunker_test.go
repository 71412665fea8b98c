package ingest

import (
	"strings"
	"testing"
)

func TestChunkerPacksSections(t *testing.T) {
	chunker, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	sections := []Section{
		{Text: "First paragraph.", Page: 1, Heading: "Intro"},
		{Text: "Second paragraph.", Page: 1, Heading: "Intro"},
		{Text: strings.Repeat("word ", 30), Page: 2, Heading: "Body"},
	}

	chunks, err := chunker.Chunk(sections)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if strings.TrimSpace(chunk.Content) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}

	if !strings.Contains(chunks[0].Content, "First paragraph.") {
		t.Errorf("first chunk missing first section: %q", chunks[0].Content)
	}
	if !strings.Contains(chunks[0].Content, "Second paragraph.") {
		t.Errorf("small adjacent sections should share a chunk: %q", chunks[0].Content)
	}
	if chunks[0].Heading != "Intro" {
		t.Errorf("expected heading Intro, got %q", chunks[0].Heading)
	}
}

func TestChunkerSplitsOversizedSection(t *testing.T) {
	chunker, err := NewChunker(80, 10)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	long := strings.TrimSpace(strings.Repeat("alpha beta gamma delta ", 20))
	chunks, err := chunker.Chunk([]Section{{Text: long, Page: 3, Heading: "Long"}})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("oversized section should split into multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Page != 3 || chunk.Heading != "Long" {
			t.Errorf("chunk %d lost metadata: page=%d heading=%q", i, chunk.Page, chunk.Heading)
		}
	}
}

func TestChunkerThreeParagraphsThreeChunks(t *testing.T) {
	// Each paragraph fits alone but no two fit together, so the chunk set
	// is exactly one chunk per paragraph with nothing dropped.
	paragraphs := []string{
		"The first paragraph describes the motivation for the system in detail.",
		"The second paragraph lays out the architecture and its main components.",
		"The third paragraph summarizes the results and the remaining open work.",
	}

	chunker, err := NewChunker(80, 10)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	sections := make([]Section, len(paragraphs))
	for i, p := range paragraphs {
		sections[i] = Section{Text: p, Page: 1}
	}

	chunks, err := chunker.Chunk(sections)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected exactly 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if chunk.Content != paragraphs[i] {
			t.Errorf("chunk %d lost text:\n got %q\nwant %q", i, chunk.Content, paragraphs[i])
		}
	}
}

func TestChunkerSkipsBlankSections(t *testing.T) {
	chunker, err := NewChunker(100, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks, err := chunker.Chunk([]Section{
		{Text: "   "},
		{Text: ""},
		{Text: "only real content"},
	})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "only real content" {
		t.Errorf("unexpected content %q", chunks[0].Content)
	}
}

func TestNewChunkerValidation(t *testing.T) {
	if _, err := NewChunker(0, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
	if _, err := NewChunker(100, 100); err == nil {
		t.Error("expected error for overlap equal to chunk size")
	}
	if _, err := NewChunker(100, -1); err == nil {
		t.Error("expected error for negative overlap")
	}
}
