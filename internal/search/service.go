package search

import (
	"context"
	"strings"

	"poetate/api/pkg/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service normalizes queries before handing them to a Searcher.
type Service struct {
	searcher Searcher
}

func NewService(searcher Searcher) *Service {
	return &Service{searcher: searcher}
}

func (s *Service) Search(ctx context.Context, q Query) (domain.SearchResponse, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	if q.Text == "" {
		return domain.SearchResponse{Results: []domain.SearchResult{}, Query: q.Text}, nil
	}

	results, total, err := s.searcher.Search(ctx, q)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	return domain.SearchResponse{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

func nonNil(r []domain.SearchResult) []domain.SearchResult {
	if r == nil {
		return []domain.SearchResult{}
	}
	return r
}
