package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"poetate/api/pkg/domain"
)

// PgFTS implements Searcher using PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

const visiblePoems = `
	WITH visible AS (
		SELECT p.id, p.title, p.content
		FROM poems p
		WHERE p.owner_id = $2
			OR EXISTS (SELECT 1 FROM collaborators c WHERE c.poem_id = p.id AND c.user_id = $2)
	)`

// Search runs a UNION ALL over poems and annotations using plainto_tsquery
// and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]domain.SearchResult, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.UserID == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.UserID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == domain.SearchPoem {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'poem'::text AS type, v.id, v.id AS poem_id, v.title,
				ts_headline('english', v.content, %s, 'MaxFragments=1,MaxWords=20') AS snippet,
				ts_rank(to_tsvector('english', v.title || ' ' || v.content), %s) AS rank
			FROM visible v
			WHERE to_tsvector('english', v.title || ' ' || v.content) @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == domain.SearchAnnotation {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, a.poem_id, v.title,
				ts_headline('english', a.body, %s, 'MaxFragments=1,MaxWords=20') AS snippet,
				ts_rank(to_tsvector('english', a.body), %s) AS rank
			FROM annotations a
			JOIN visible v ON v.id = a.poem_id
			WHERE to_tsvector('english', a.body) @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	countSQL := fmt.Sprintf("%s SELECT count(*) FROM (%s) sub", visiblePoems, union)
	dataSQL := fmt.Sprintf(`%s SELECT type, id, poem_id, title, snippet
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, visiblePoems, union, q.Limit, q.Offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.Type, &r.ID, &r.PoemID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
