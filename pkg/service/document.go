package service

import (
	"context"
	"strings"
)

// DocumentSummary is the public view of a stored document.
type DocumentSummary struct {
	Title *string
	Date  *string
	File  string
}

func (s *service) ListDocuments(ctx context.Context, query string) ([]DocumentSummary, error) {
	docs, err := s.repository.ListDocuments(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}

	summaries := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, DocumentSummary{
			Title: doc.Title,
			Date:  doc.PublicationDate,
			File:  doc.Filename,
		})
	}
	return summaries, nil
}
