package domain

// Search result kinds.
const (
	SearchPoem       = "poem"
	SearchAnnotation = "annotation"
)

// SearchResult is one full-text hit.
type SearchResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	PoemID  string `json:"poemId"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the envelope returned by the search endpoint.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}
