package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"poetate/api/internal/access"
	"poetate/api/internal/authpw"
	"poetate/api/internal/config"
	"poetate/api/internal/realtime"
	"poetate/api/internal/search"
	"poetate/api/internal/session"
	"poetate/api/internal/store"
	"poetate/api/internal/util"
	"poetate/api/pkg/domain"
)

const maxTitleLength = 50

// Actor is whoever issued a request: an optional logged-in user and an
// optional share link presented alongside it.
type Actor struct {
	UserID   string
	UserName string
	ShareID  string
}

type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertPoem(context.Context, store.Poem) (store.Poem, error)
	GetPoem(context.Context, string) (store.Poem, error)
	ListPoemsByOwner(context.Context, string) ([]store.Poem, error)
	ListSharedPoems(context.Context, string) ([]store.SharedPoem, error)
	RenamePoem(context.Context, string, string, string) (store.Poem, error)
	DeletePoem(context.Context, string, string) error
	EnsureShareLink(context.Context, string, string, string) (store.ShareLink, error)
	GetShareLink(context.Context, string) (store.ShareLink, error)
	ListShareLinks(context.Context, string) ([]store.ShareLink, error)
	GetCollaborator(context.Context, string, string) (store.Collaborator, error)
	ListCollaborators(context.Context, string) ([]store.Collaborator, error)
	SaveCollaborator(context.Context, store.Collaborator) error
	InsertAnnotation(context.Context, store.Annotation) (store.Annotation, error)
	GetAnnotation(context.Context, string) (store.Annotation, error)
	UpdateAnnotation(context.Context, string, store.AnnotationPatch) (store.Annotation, error)
	DeleteAnnotation(context.Context, string) error
	ListAnnotationsByPoem(context.Context, string) ([]store.Annotation, error)
	ListAnnotationsByUser(context.Context, string) ([]store.Annotation, error)
	Ping(ctx context.Context) error
}

// SessionStore keeps login sessions keyed by token hash. Both the Redis store
// and the Postgres store satisfy it.
type SessionStore interface {
	SaveSession(context.Context, string, store.User, time.Time) error
	LookupSession(context.Context, string) (store.User, error)
	RevokeSession(context.Context, string) error
}

type searchService interface {
	Search(context.Context, search.Query) (domain.SearchResponse, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	auth     *authpw.Service
	search   searchService
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		auth:     authpw.NewService(dataStore, cfg.BcryptCost),
		search:   search.NewService(search.NewPgFTS(dataStore.DB())),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates an account and opens a session for it.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	return s.openSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.openSession(ctx, user)
}

func (s *Service) openSession(ctx context.Context, user store.User) (Session, error) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(s.sessionTTL())
	sessionUser := store.User{ID: user.ID, DisplayName: user.DisplayName}
	if err := s.sessions.SaveSession(ctx, session.HashToken(token), sessionUser, expiresAt); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) sessionTTL() time.Duration {
	if s.cfg.SessionTTL > 0 {
		return s.cfg.SessionTTL
	}
	return 24 * time.Hour
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	user, err := s.sessions.LookupSession(ctx, session.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, unauthorized()
	}
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, UserName: user.DisplayName}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, session.HashToken(token))
}

// accessMode resolves the caller's mode on poem. Poems without an owner are
// open to every caller for reading and annotating.
func (s *Service) accessMode(ctx context.Context, poem store.Poem, actor Actor) (access.Mode, error) {
	if poem.OwnerID == "" {
		return access.ModeEditable, nil
	}
	if actor.UserID != "" && actor.UserID == poem.OwnerID {
		return access.ModeOwner, nil
	}

	mode := access.ModeNone
	if actor.UserID != "" {
		collaborator, err := s.store.GetCollaborator(ctx, poem.ID, actor.UserID)
		switch {
		case err == nil:
			mode = access.Mode(collaborator.Mode)
		case !errors.Is(err, store.ErrNotFound):
			return access.ModeNone, err
		}
	}
	if actor.ShareID != "" {
		link, err := s.store.GetShareLink(ctx, actor.ShareID)
		switch {
		case err == nil && link.PoemID == poem.ID:
			mode = access.Upgrade(mode, access.Mode(link.Mode))
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return access.ModeNone, err
		}
	}
	return mode, nil
}

// RoomAuthorizer resolves what actor may do in a poem's realtime room. Unknown
// poems are closed.
func (s *Service) RoomAuthorizer(actor Actor) realtime.Authorizer {
	return func(ctx context.Context, poemID string) (realtime.Access, error) {
		poem, err := s.store.GetPoem(ctx, poemID)
		if errors.Is(err, store.ErrNotFound) {
			return realtime.AccessNone, nil
		}
		if err != nil {
			return realtime.AccessNone, err
		}
		mode, err := s.accessMode(ctx, poem, actor)
		if err != nil {
			return realtime.AccessNone, err
		}
		switch {
		case access.Can(mode, access.ActionAnnotate):
			return realtime.AccessWrite, nil
		case access.Can(mode, access.ActionRead):
			return realtime.AccessRead, nil
		default:
			return realtime.AccessNone, nil
		}
	}
}

func (s *Service) authorize(ctx context.Context, poem store.Poem, actor Actor, action access.Action) error {
	mode, err := s.accessMode(ctx, poem, actor)
	if err != nil {
		return err
	}
	if !access.Can(mode, action) {
		return forbidden("Forbidden", map[string]any{"action": string(action)})
	}
	return nil
}

func (s *Service) CreatePoem(ctx context.Context, actor Actor, content, title string) (domain.Poem, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Poem{}, validationError("content is required", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle(content)
	}

	created, err := s.store.InsertPoem(ctx, store.Poem{
		ID:      util.NewID("poem"),
		Content: content,
		Title:   title,
		OwnerID: actor.UserID,
	})
	if err != nil {
		return domain.Poem{}, err
	}
	return toDomainPoem(created), nil
}

// defaultTitle is the first non-empty line of content, cut to maxTitleLength
// characters.
func defaultTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleLength {
			line = string([]rune(line)[:maxTitleLength])
		}
		return line
	}
	return "Untitled"
}

// GetPoem returns the poem. Share links and collaborators are only listed for
// the owner.
func (s *Service) GetPoem(ctx context.Context, actor Actor, poemID string) (domain.Poem, error) {
	poem, err := s.store.GetPoem(ctx, poemID)
	if err != nil {
		return domain.Poem{}, err
	}
	result := toDomainPoem(poem)
	if poem.OwnerID == "" || actor.UserID != poem.OwnerID {
		return result, nil
	}

	links, err := s.store.ListShareLinks(ctx, poemID)
	if err != nil {
		return domain.Poem{}, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, poemID)
	if err != nil {
		return domain.Poem{}, err
	}
	for _, link := range links {
		result.ShareLinks = append(result.ShareLinks, domain.ShareLink{ID: link.ID, Mode: link.Mode})
	}
	for _, collaborator := range collaborators {
		result.Collaborators = append(result.Collaborators, domain.Collaborator{UserID: collaborator.UserID, Mode: collaborator.Mode})
	}
	return result, nil
}

func (s *Service) ListMyPoems(ctx context.Context, actor Actor) ([]domain.Poem, error) {
	poems, err := s.store.ListPoemsByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Poem, 0, len(poems))
	for _, poem := range poems {
		items = append(items, toDomainPoem(poem))
	}
	return items, nil
}

func (s *Service) ListSharedWithMe(ctx context.Context, actor Actor) ([]domain.SharedPoem, error) {
	shared, err := s.store.ListSharedPoems(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SharedPoem, 0, len(shared))
	for _, item := range shared {
		items = append(items, domain.SharedPoem{Poem: toDomainPoem(item.Poem), Mode: item.Mode})
	}
	return items, nil
}

func (s *Service) RenamePoem(ctx context.Context, actor Actor, poemID, title string) (domain.Poem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Poem{}, validationError("title is required", nil)
	}
	poem, err := s.store.GetPoem(ctx, poemID)
	if err != nil {
		return domain.Poem{}, err
	}
	if poem.OwnerID == "" || poem.OwnerID != actor.UserID {
		return domain.Poem{}, forbidden("Only the owner can rename a poem", nil)
	}
	renamed, err := s.store.RenamePoem(ctx, poemID, actor.UserID, title)
	if err != nil {
		return domain.Poem{}, err
	}
	return toDomainPoem(renamed), nil
}

// DeletePoem removes the poem and every annotation on it.
func (s *Service) DeletePoem(ctx context.Context, actor Actor, poemID string) error {
	poem, err := s.store.GetPoem(ctx, poemID)
	if err != nil {
		return err
	}
	if poem.OwnerID == "" || poem.OwnerID != actor.UserID {
		return forbidden("Only the owner can delete a poem", nil)
	}
	return s.store.DeletePoem(ctx, poemID, actor.UserID)
}

// CreateShareLink returns the poem's link for mode. An existing link with the
// same mode is reused.
func (s *Service) CreateShareLink(ctx context.Context, actor Actor, poemID, mode string) (domain.ShareResult, error) {
	shareMode, ok := access.ParseShareMode(mode)
	if !ok {
		return domain.ShareResult{}, validationError("mode must be readonly or editable", map[string]any{"mode": mode})
	}
	poem, err := s.store.GetPoem(ctx, poemID)
	if err != nil {
		return domain.ShareResult{}, err
	}
	if poem.OwnerID != "" && poem.OwnerID != actor.UserID {
		return domain.ShareResult{}, forbidden("Only the owner can share a poem", nil)
	}

	link, err := s.store.EnsureShareLink(ctx, poemID, string(shareMode), uuid.NewString())
	if err != nil {
		return domain.ShareResult{}, err
	}
	return domain.ShareResult{ShareID: link.ID, Mode: link.Mode}, nil
}

// OpenShare resolves a share link. A logged-in visitor who is not the owner
// becomes a collaborator with the link's mode, or is upgraded to it; a mode
// is never lowered.
func (s *Service) OpenShare(ctx context.Context, actor Actor, shareID string) (domain.ShareView, error) {
	link, err := s.store.GetShareLink(ctx, shareID)
	if err != nil {
		return domain.ShareView{}, err
	}
	poem, err := s.store.GetPoem(ctx, link.PoemID)
	if err != nil {
		return domain.ShareView{}, err
	}

	if actor.UserID != "" && actor.UserID != poem.OwnerID {
		current := access.ModeNone
		existing, err := s.store.GetCollaborator(ctx, poem.ID, actor.UserID)
		switch {
		case err == nil:
			current = access.Mode(existing.Mode)
		case !errors.Is(err, store.ErrNotFound):
			return domain.ShareView{}, err
		}
		if next := access.Upgrade(current, access.Mode(link.Mode)); next != current {
			if err := s.store.SaveCollaborator(ctx, store.Collaborator{
				PoemID: poem.ID,
				UserID: actor.UserID,
				Mode:   string(next),
			}); err != nil {
				return domain.ShareView{}, err
			}
		}
	}

	annotations, err := s.ListAnnotations(ctx, poem.ID)
	if err != nil {
		return domain.ShareView{}, err
	}
	return domain.ShareView{
		Poem:        toDomainPoem(poem),
		Annotations: annotations,
		Editable:    link.Mode == domain.ModeEditable,
	}, nil
}

func (s *Service) CreateAnnotation(ctx context.Context, actor Actor, draft domain.AnnotationDraft) (domain.Annotation, error) {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(draft.PoemID) == "" {
		missing = append(missing, "poemId")
	}
	if strings.TrimSpace(draft.Text) == "" {
		missing = append(missing, "text")
	}
	if len(draft.Anchors) == 0 {
		missing = append(missing, "anchors")
	}
	if len(missing) > 0 {
		return domain.Annotation{}, validationError("poemId, text and anchors are required", map[string]any{"missing": missing})
	}

	poem, err := s.store.GetPoem(ctx, draft.PoemID)
	if err != nil {
		return domain.Annotation{}, err
	}
	if err := s.authorize(ctx, poem, actor, access.ActionAnnotate); err != nil {
		return domain.Annotation{}, err
	}
	if err := domain.ValidateAnchors(draft.Anchors, domain.WordCount(poem.Content)); err != nil {
		return domain.Annotation{}, validationError(err.Error(), nil)
	}

	item := store.Annotation{
		ID:          util.NewID("ann"),
		PoemID:      poem.ID,
		EphemeralID: draft.EphemeralID,
		Body:        draft.Text,
		Anchors:     draft.Anchors,
		ColorTag:    draft.ColorTag,
		UserID:      actor.UserID,
	}
	if draft.Offset != nil {
		item.Offset = &store.Offset{DX: draft.Offset.DX, DY: draft.Offset.DY}
	}
	created, err := s.store.InsertAnnotation(ctx, item)
	if err != nil {
		return domain.Annotation{}, err
	}
	return toDomainAnnotation(created), nil
}

func (s *Service) UpdateAnnotation(ctx context.Context, actor Actor, annotationID string, update domain.AnnotationUpdate) (domain.Annotation, error) {
	patch := store.AnnotationPatch{Body: update.Text}
	if update.Offset != nil {
		patch.Offset = &store.Offset{DX: update.Offset.DX, DY: update.Offset.DY}
	}
	if patch.Empty() {
		return domain.Annotation{}, validationError("text or offset is required", nil)
	}

	existing, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return domain.Annotation{}, err
	}
	if err := s.authorizeAnnotation(ctx, existing, actor); err != nil {
		return domain.Annotation{}, err
	}
	updated, err := s.store.UpdateAnnotation(ctx, annotationID, patch)
	if err != nil {
		return domain.Annotation{}, err
	}
	return toDomainAnnotation(updated), nil
}

func (s *Service) DeleteAnnotation(ctx context.Context, actor Actor, annotationID string) error {
	existing, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return err
	}
	if err := s.authorizeAnnotation(ctx, existing, actor); err != nil {
		return err
	}
	return s.store.DeleteAnnotation(ctx, annotationID)
}

func (s *Service) authorizeAnnotation(ctx context.Context, item store.Annotation, actor Actor) error {
	poem, err := s.store.GetPoem(ctx, item.PoemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.authorize(ctx, poem, actor, access.ActionAnnotate)
}

func (s *Service) ListAnnotations(ctx context.Context, poemID string) ([]domain.Annotation, error) {
	items, err := s.store.ListAnnotationsByPoem(ctx, poemID)
	if err != nil {
		return nil, err
	}
	return toDomainAnnotations(items), nil
}

func (s *Service) ListUserAnnotations(ctx context.Context, actor Actor) ([]domain.Annotation, error) {
	items, err := s.store.ListAnnotationsByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return toDomainAnnotations(items), nil
}

// Search finds poems and annotations matching text among the poems the actor
// owns or collaborates on.
func (s *Service) Search(ctx context.Context, actor Actor, text, kind string, limit, offset int) (domain.SearchResponse, error) {
	switch kind {
	case "", domain.SearchPoem, domain.SearchAnnotation:
	default:
		return domain.SearchResponse{}, validationError("type must be poem or annotation", nil)
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		UserID:     actor.UserID,
		FilterType: kind,
		Limit:      limit,
		Offset:     offset,
	})
}

func toDomainPoem(item store.Poem) domain.Poem {
	poem := domain.Poem{
		ID:        item.ID,
		Title:     item.Title,
		Content:   item.Content,
		CreatedAt: item.CreatedAt,
	}
	if item.OwnerID != "" {
		owner := item.OwnerID
		poem.OwnerID = &owner
	}
	return poem
}

func toDomainAnnotation(item store.Annotation) domain.Annotation {
	annotation := domain.Annotation{
		ID:          item.ID,
		EphemeralID: item.EphemeralID,
		PoemID:      item.PoemID,
		Text:        item.Body,
		Anchors:     item.Anchors,
		ColorTag:    item.ColorTag,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	if annotation.Anchors == nil {
		annotation.Anchors = []int{}
	}
	if item.Offset != nil {
		annotation.Offset = &domain.Offset{DX: item.Offset.DX, DY: item.Offset.DY}
	}
	if item.UserID != "" {
		userID := item.UserID
		annotation.UserID = &userID
	}
	return annotation
}

func toDomainAnnotations(items []store.Annotation) []domain.Annotation {
	result := make([]domain.Annotation, 0, len(items))
	for _, item := range items {
		result = append(result, toDomainAnnotation(item))
	}
	return result
}
