package ingest

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Section is one structural unit of a parsed document, usually a paragraph
// or table, in document order.
type Section struct {
	Text    string
	Page    int
	Heading string
}

// ChunkText is a chunk of document text with its provenance metadata.
type ChunkText struct {
	Index   int
	Content string
	Page    int
	Heading string
}

// Chunker packs document sections into chunks of bounded size. Sections are
// joined greedily while they fit; a single section larger than the bound is
// split with a sliding character window.
type Chunker struct {
	maxChars int
	overlap  int
}

func NewChunker(maxChars, overlap int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", maxChars, overlap)
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}, nil
}

// Chunk converts ordered sections into ordered chunks. Every non-blank
// character of input appears in at least one chunk, and chunk indexes are
// contiguous starting at zero.
func (c *Chunker) Chunk(sections []Section) ([]ChunkText, error) {
	var chunks []ChunkText

	var buf strings.Builder
	var page int
	var heading string

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			buf.Reset()
			return
		}
		chunks = append(chunks, ChunkText{
			Index:   len(chunks),
			Content: text,
			Page:    page,
			Heading: heading,
		})
		buf.Reset()
	}

	for _, section := range sections {
		text := strings.TrimSpace(section.Text)
		if text == "" {
			continue
		}

		if len(text) > c.maxChars {
			flush()
			pieces, err := c.split(text)
			if err != nil {
				return nil, err
			}
			for _, piece := range pieces {
				chunks = append(chunks, ChunkText{
					Index:   len(chunks),
					Content: piece,
					Page:    section.Page,
					Heading: section.Heading,
				})
			}
			continue
		}

		// +2 accounts for the blank line joining sections.
		if buf.Len() > 0 && buf.Len()+2+len(text) > c.maxChars {
			flush()
		}
		if buf.Len() == 0 {
			page = section.Page
			heading = section.Heading
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(text)
	}
	flush()

	return chunks, nil
}

// split breaks an oversized section into overlapping windows.
func (c *Chunker) split(text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.maxChars),
		textsplitter.WithChunkOverlap(c.overlap),
	)

	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split oversized section: %w", err)
	}

	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out, nil
}
