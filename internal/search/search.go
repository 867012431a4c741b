package search

import (
	"context"

	"poetate/api/pkg/domain"
)

// Query describes a search request. Only poems the user owns or collaborates
// on, and annotations on those poems, are searched.
type Query struct {
	Text       string
	UserID     string
	FilterType string // empty = poems and annotations
	Limit      int
	Offset     int
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]domain.SearchResult, int, error)
}
