package ingest

import (
	"context"
	"fmt"
	"strings"

	"docpilot/src/infrastructure/integrations/unstructured"
)

// UnstructuredParser converts partitioned elements into ordered sections,
// tracking the most recent title as the heading of the sections under it.
type UnstructuredParser struct {
	service *unstructured.UnstructuredService
}

func NewUnstructuredParser(service *unstructured.UnstructuredService) *UnstructuredParser {
	return &UnstructuredParser{service: service}
}

func (p *UnstructuredParser) Parse(ctx context.Context, filename string, content []byte) ([]Section, error) {
	elements, err := p.service.Partition(ctx, filename, content)
	if err != nil {
		return nil, fmt.Errorf("failed to partition %s: %w", filename, err)
	}

	sections := make([]Section, 0, len(elements))
	var heading string

	for _, element := range elements {
		text := strings.TrimSpace(element.Text)
		if text == "" {
			continue
		}

		if element.Type == "Title" {
			heading = text
		}

		sections = append(sections, Section{
			Text:    text,
			Page:    element.Metadata.PageNumber,
			Heading: heading,
		})
	}

	return sections, nil
}
