// Package client talks to the poetate API over HTTP and to its realtime
// channel over a websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"poetate/api/pkg/domain"
)

// Client is the poetate API client.
type Client struct {
	baseURL    string
	token      string
	shareID    string
	httpClient *http.Client
}

// New creates a new API client. token may be empty for anonymous use.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithShare returns a copy of c that presents shareID on every request, which
// lets an editable share link authorize annotation changes.
func (c *Client) WithShare(shareID string) *Client {
	clone := *c
	clone.shareID = shareID
	return &clone
}

// WithToken returns a copy of c authenticated with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register creates an account and returns a session for it.
func (c *Client) Register(ctx context.Context, email, password, name string) (*domain.LoginResult, error) {
	var result domain.LoginResult
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.post(ctx, "/api/session/register", body, &result); err != nil {
		return nil, fmt.Errorf("client.Register: %w", err)
	}
	return &result, nil
}

// Login opens a session with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	var result domain.LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/api/session/login", body, &result); err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	return &result, nil
}

// CreatePoem submits a poem. An empty title is derived from the first line.
func (c *Client) CreatePoem(ctx context.Context, content, title string) (*domain.Poem, error) {
	body := map[string]string{"content": content}
	if title != "" {
		body["title"] = title
	}
	var poem domain.Poem
	if err := c.post(ctx, "/api/poems", body, &poem); err != nil {
		return nil, fmt.Errorf("client.CreatePoem: %w", err)
	}
	return &poem, nil
}

// GetPoem fetches a single poem by ID.
func (c *Client) GetPoem(ctx context.Context, poemID string) (*domain.Poem, error) {
	var poem domain.Poem
	if err := c.get(ctx, "/api/poems/"+url.PathEscape(poemID), &poem); err != nil {
		return nil, fmt.Errorf("client.GetPoem: %w", err)
	}
	return &poem, nil
}

// ListMyPoems returns the poems owned by the logged-in user.
func (c *Client) ListMyPoems(ctx context.Context) ([]domain.Poem, error) {
	var poems []domain.Poem
	if err := c.get(ctx, "/api/poems/user", &poems); err != nil {
		return nil, fmt.Errorf("client.ListMyPoems: %w", err)
	}
	return poems, nil
}

// ListSharedWithMe returns poems the logged-in user collaborates on.
func (c *Client) ListSharedWithMe(ctx context.Context) ([]domain.SharedPoem, error) {
	var poems []domain.SharedPoem
	if err := c.get(ctx, "/api/poems/shared-with-me", &poems); err != nil {
		return nil, fmt.Errorf("client.ListSharedWithMe: %w", err)
	}
	return poems, nil
}

func (c *Client) RenamePoem(ctx context.Context, poemID, title string) (*domain.Poem, error) {
	var poem domain.Poem
	if err := c.doRequest(ctx, http.MethodPatch, "/api/poems/"+url.PathEscape(poemID), map[string]string{"title": title}, &poem); err != nil {
		return nil, fmt.Errorf("client.RenamePoem: %w", err)
	}
	return &poem, nil
}

func (c *Client) DeletePoem(ctx context.Context, poemID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/poems/"+url.PathEscape(poemID), nil, nil); err != nil {
		return fmt.Errorf("client.DeletePoem: %w", err)
	}
	return nil
}

// CreateShare returns the poem's share link for mode, reusing an existing one.
func (c *Client) CreateShare(ctx context.Context, poemID, mode string) (*domain.ShareResult, error) {
	var result domain.ShareResult
	if err := c.post(ctx, "/api/poems/"+url.PathEscape(poemID)+"/share", map[string]string{"mode": mode}, &result); err != nil {
		return nil, fmt.Errorf("client.CreateShare: %w", err)
	}
	return &result, nil
}

// OpenShare resolves a share link. When logged in, this also records the
// caller as a collaborator.
func (c *Client) OpenShare(ctx context.Context, shareID string) (*domain.ShareView, error) {
	var view domain.ShareView
	if err := c.get(ctx, "/api/shares/"+url.PathEscape(shareID), &view); err != nil {
		return nil, fmt.Errorf("client.OpenShare: %w", err)
	}
	return &view, nil
}

// CreateAnnotation persists a draft and returns the stored record carrying
// the durable id.
func (c *Client) CreateAnnotation(ctx context.Context, draft domain.AnnotationDraft) (*domain.Annotation, error) {
	var created domain.Annotation
	if err := c.post(ctx, "/api/annotations", draft, &created); err != nil {
		return nil, &PersistenceError{Op: "create annotation", Err: err}
	}
	return &created, nil
}

// UpdateAnnotationText replaces an annotation's body.
func (c *Client) UpdateAnnotationText(ctx context.Context, id, text string) (*domain.Annotation, error) {
	return c.updateAnnotation(ctx, id, domain.AnnotationUpdate{Text: &text})
}

// UpdateAnnotationPosition stores an annotation's offset from its anchor.
func (c *Client) UpdateAnnotationPosition(ctx context.Context, id string, offset domain.Offset) (*domain.Annotation, error) {
	return c.updateAnnotation(ctx, id, domain.AnnotationUpdate{Offset: &offset})
}

func (c *Client) updateAnnotation(ctx context.Context, id string, update domain.AnnotationUpdate) (*domain.Annotation, error) {
	var updated domain.Annotation
	if err := c.doRequest(ctx, http.MethodPut, "/api/annotations/"+url.PathEscape(id), update, &updated); err != nil {
		return nil, &PersistenceError{Op: "update annotation", Err: err}
	}
	return &updated, nil
}

// DeleteAnnotation removes an annotation. Deleting one that is already gone
// returns an error matching ErrNotFound.
func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/annotations/"+url.PathEscape(id), nil, nil); err != nil {
		return &PersistenceError{Op: "delete annotation", Err: err}
	}
	return nil
}

// ListAnnotations returns every annotation on a poem.
func (c *Client) ListAnnotations(ctx context.Context, poemID string) ([]domain.Annotation, error) {
	var items []domain.Annotation
	if err := c.get(ctx, "/api/annotations/"+url.PathEscape(poemID), &items); err != nil {
		return nil, fmt.Errorf("client.ListAnnotations: %w", err)
	}
	return items, nil
}

// ListMyAnnotations returns annotations written by the logged-in user.
func (c *Client) ListMyAnnotations(ctx context.Context) ([]domain.Annotation, error) {
	var items []domain.Annotation
	if err := c.get(ctx, "/api/annotations/user", &items); err != nil {
		return nil, fmt.Errorf("client.ListMyAnnotations: %w", err)
	}
	return items, nil
}

// Search runs a full-text search over the caller's poems and their
// annotations. kind may be empty, "poem" or "annotation".
func (c *Client) Search(ctx context.Context, text, kind string, limit int) (*domain.SearchResponse, error) {
	params := url.Values{"q": {text}}
	if kind != "" {
		params.Set("type", kind)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp domain.SearchResponse
	if err := c.get(ctx, "/api/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("client.Search: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.shareID != "" {
		req.Header.Set("X-Share-Id", c.shareID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Error}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}
