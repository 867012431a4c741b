package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"poetate/api/internal/realtime"
	"poetate/api/pkg/domain"
)

type HTTPServer struct {
	service    *Service
	realtime   http.Handler
	corsOrigin string
}

// NewHTTPServer serves the REST API. realtime, when non-nil, handles the
// websocket endpoint at /ws.
func NewHTTPServer(service *Service, realtime http.Handler, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, realtime: realtime, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/ws" {
		if s.realtime == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		actor, err := s.socketActor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		ctx := realtime.WithAuthorizer(r.Context(), s.service.RoomAuthorizer(actor))
		s.realtime.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID})
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/api/session/login" || r.URL.Path == "/api/session/register") {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			Name     string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		var (
			session Session
			err     error
			status  = http.StatusOK
		)
		if r.URL.Path == "/api/session/register" {
			session, err = s.service.Register(r.Context(), body.Email, body.Password, body.Name)
			status = http.StatusCreated
		} else {
			session, err = s.service.Login(r.Context(), body.Email, body.Password)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, status, domain.LoginResult{
			Token:    session.Token,
			UserID:   session.UserID,
			UserName: session.UserName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		_ = s.service.Logout(r.Context(), bearerToken(r))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	actor, err := s.actor(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "poems":
		s.handlePoems(w, r, actor, parts[2:])
	case "shares":
		if len(parts) == 3 && r.Method == http.MethodGet {
			view, err := s.service.OpenShare(r.Context(), actor, parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case "annotations":
		s.handleAnnotations(w, r, actor, parts[2:])
	case "search":
		if len(parts) != 2 || r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if !requireUser(w, actor) {
			return
		}
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		resp, err := s.service.Search(r.Context(), actor, query.Get("q"), query.Get("type"), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handlePoems(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
			Title   string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		poem, err := s.service.CreatePoem(r.Context(), actor, body.Content, body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, poem)

	case len(parts) == 1 && parts[0] == "user" && r.Method == http.MethodGet:
		if !requireUser(w, actor) {
			return
		}
		poems, err := s.service.ListMyPoems(r.Context(), actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, poems)

	case len(parts) == 1 && parts[0] == "shared-with-me" && r.Method == http.MethodGet:
		if !requireUser(w, actor) {
			return
		}
		poems, err := s.service.ListSharedWithMe(r.Context(), actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, poems)

	case len(parts) == 1 && r.Method == http.MethodGet:
		poem, err := s.service.GetPoem(r.Context(), actor, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, poem)

	case len(parts) == 1 && r.Method == http.MethodPatch:
		if !requireUser(w, actor) {
			return
		}
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		poem, err := s.service.RenamePoem(r.Context(), actor, parts[0], body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, poem)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !requireUser(w, actor) {
			return
		}
		if err := s.service.DeletePoem(r.Context(), actor, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "share" && r.Method == http.MethodPost:
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		result, err := s.service.CreateShareLink(r.Context(), actor, parts[0], body.Mode)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// offsetBody keeps dx and dy optional so a partial offset can be told apart
// from an explicit zero.
type offsetBody struct {
	DX *float64 `json:"dx"`
	DY *float64 `json:"dy"`
}

func (b *offsetBody) offset() *domain.Offset {
	if b == nil || b.DX == nil || b.DY == nil {
		return nil
	}
	return &domain.Offset{DX: *b.DX, DY: *b.DY}
}

func (s *HTTPServer) handleAnnotations(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			PoemID      string      `json:"poemId"`
			EphemeralID string      `json:"ephemeralId"`
			Text        string      `json:"text"`
			Anchors     []int       `json:"anchors"`
			ColorTag    string      `json:"colorTag"`
			Offset      *offsetBody `json:"offset"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		created, err := s.service.CreateAnnotation(r.Context(), actor, domain.AnnotationDraft{
			PoemID:      body.PoemID,
			EphemeralID: body.EphemeralID,
			Text:        body.Text,
			Anchors:     body.Anchors,
			ColorTag:    body.ColorTag,
			Offset:      body.Offset.offset(),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case len(parts) == 1 && parts[0] == "user" && r.Method == http.MethodGet:
		if !requireUser(w, actor) {
			return
		}
		items, err := s.service.ListUserAnnotations(r.Context(), actor)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case len(parts) == 1 && r.Method == http.MethodGet:
		items, err := s.service.ListAnnotations(r.Context(), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body struct {
			Text   *string     `json:"text"`
			Offset *offsetBody `json:"offset"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateAnnotation(r.Context(), actor, parts[0], domain.AnnotationUpdate{
			Text:   body.Text,
			Offset: body.Offset.offset(),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteAnnotation(r.Context(), actor, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": parts[0]})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// actor resolves the optional bearer session and share header. A token that
// does not resolve is rejected rather than treated as anonymous.
func (s *HTTPServer) actor(r *http.Request) (Actor, error) {
	actor := Actor{ShareID: strings.TrimSpace(r.Header.Get("X-Share-Id"))}
	token := bearerToken(r)
	if token == "" {
		return actor, nil
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Actor{}, err
	}
	actor.UserID = session.UserID
	actor.UserName = session.UserName
	return actor, nil
}

// socketActor is actor for the websocket upgrade. Browsers cannot set headers
// on a websocket handshake, so token and share may also come from the query.
func (s *HTTPServer) socketActor(r *http.Request) (Actor, error) {
	query := r.URL.Query()
	if bearerToken(r) == "" {
		if token := strings.TrimSpace(query.Get("token")); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if strings.TrimSpace(r.Header.Get("X-Share-Id")) == "" {
		r.Header.Set("X-Share-Id", query.Get("share"))
	}
	return s.actor(r)
}

func requireUser(w http.ResponseWriter, actor Actor) bool {
	if actor.UserID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf(`{"request_id":"%s","error":%q}`, requestID(r.Context()), err.Error())
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Share-Id")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

