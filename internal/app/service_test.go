package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"poetate/api/internal/authpw"
	"poetate/api/internal/config"
	"poetate/api/internal/store"
	"poetate/api/pkg/domain"
)

type fakeStore struct {
	users                   map[string]store.User
	getUserByIDFn           func(context.Context, string) (store.User, error)
	insertPoemFn            func(context.Context, store.Poem) (store.Poem, error)
	getPoemFn               func(context.Context, string) (store.Poem, error)
	listPoemsByOwnerFn      func(context.Context, string) ([]store.Poem, error)
	listSharedPoemsFn       func(context.Context, string) ([]store.SharedPoem, error)
	renamePoemFn            func(context.Context, string, string, string) (store.Poem, error)
	deletePoemFn            func(context.Context, string, string) error
	ensureShareLinkFn       func(context.Context, string, string, string) (store.ShareLink, error)
	getShareLinkFn          func(context.Context, string) (store.ShareLink, error)
	listShareLinksFn        func(context.Context, string) ([]store.ShareLink, error)
	getCollaboratorFn       func(context.Context, string, string) (store.Collaborator, error)
	listCollaboratorsFn     func(context.Context, string) ([]store.Collaborator, error)
	saveCollaboratorFn      func(context.Context, store.Collaborator) error
	insertAnnotationFn      func(context.Context, store.Annotation) (store.Annotation, error)
	getAnnotationFn         func(context.Context, string) (store.Annotation, error)
	updateAnnotationFn      func(context.Context, string, store.AnnotationPatch) (store.Annotation, error)
	deleteAnnotationFn      func(context.Context, string) error
	listAnnotationsByPoemFn func(context.Context, string) ([]store.Annotation, error)
	listAnnotationsByUserFn func(context.Context, string) ([]store.Annotation, error)
	pingFn                  func(context.Context) error
}

// GetUserByEmail and CreateUser keep registered users in memory.
func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}
func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	if f.users == nil {
		f.users = make(map[string]store.User)
	}
	if _, ok := f.users[user.Email]; ok {
		return store.User{}, store.ErrConflict
	}
	f.users[user.Email] = user
	return user, nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) InsertPoem(ctx context.Context, item store.Poem) (store.Poem, error) {
	if f.insertPoemFn != nil {
		return f.insertPoemFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) GetPoem(ctx context.Context, poemID string) (store.Poem, error) {
	if f.getPoemFn != nil {
		return f.getPoemFn(ctx, poemID)
	}
	return store.Poem{}, store.ErrNotFound
}
func (f *fakeStore) ListPoemsByOwner(ctx context.Context, ownerID string) ([]store.Poem, error) {
	if f.listPoemsByOwnerFn != nil {
		return f.listPoemsByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}
func (f *fakeStore) ListSharedPoems(ctx context.Context, userID string) ([]store.SharedPoem, error) {
	if f.listSharedPoemsFn != nil {
		return f.listSharedPoemsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) RenamePoem(ctx context.Context, poemID, ownerID, title string) (store.Poem, error) {
	if f.renamePoemFn != nil {
		return f.renamePoemFn(ctx, poemID, ownerID, title)
	}
	return store.Poem{ID: poemID, OwnerID: ownerID, Title: title}, nil
}
func (f *fakeStore) DeletePoem(ctx context.Context, poemID, ownerID string) error {
	if f.deletePoemFn != nil {
		return f.deletePoemFn(ctx, poemID, ownerID)
	}
	return nil
}
func (f *fakeStore) EnsureShareLink(ctx context.Context, poemID, mode, newID string) (store.ShareLink, error) {
	if f.ensureShareLinkFn != nil {
		return f.ensureShareLinkFn(ctx, poemID, mode, newID)
	}
	return store.ShareLink{ID: newID, PoemID: poemID, Mode: mode}, nil
}
func (f *fakeStore) GetShareLink(ctx context.Context, shareID string) (store.ShareLink, error) {
	if f.getShareLinkFn != nil {
		return f.getShareLinkFn(ctx, shareID)
	}
	return store.ShareLink{}, store.ErrNotFound
}
func (f *fakeStore) ListShareLinks(ctx context.Context, poemID string) ([]store.ShareLink, error) {
	if f.listShareLinksFn != nil {
		return f.listShareLinksFn(ctx, poemID)
	}
	return nil, nil
}
func (f *fakeStore) GetCollaborator(ctx context.Context, poemID, userID string) (store.Collaborator, error) {
	if f.getCollaboratorFn != nil {
		return f.getCollaboratorFn(ctx, poemID, userID)
	}
	return store.Collaborator{}, store.ErrNotFound
}
func (f *fakeStore) ListCollaborators(ctx context.Context, poemID string) ([]store.Collaborator, error) {
	if f.listCollaboratorsFn != nil {
		return f.listCollaboratorsFn(ctx, poemID)
	}
	return nil, nil
}
func (f *fakeStore) SaveCollaborator(ctx context.Context, item store.Collaborator) error {
	if f.saveCollaboratorFn != nil {
		return f.saveCollaboratorFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) InsertAnnotation(ctx context.Context, item store.Annotation) (store.Annotation, error) {
	if f.insertAnnotationFn != nil {
		return f.insertAnnotationFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) GetAnnotation(ctx context.Context, annotationID string) (store.Annotation, error) {
	if f.getAnnotationFn != nil {
		return f.getAnnotationFn(ctx, annotationID)
	}
	return store.Annotation{}, store.ErrNotFound
}
func (f *fakeStore) UpdateAnnotation(ctx context.Context, annotationID string, patch store.AnnotationPatch) (store.Annotation, error) {
	if f.updateAnnotationFn != nil {
		return f.updateAnnotationFn(ctx, annotationID, patch)
	}
	return store.Annotation{ID: annotationID}, nil
}
func (f *fakeStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	if f.deleteAnnotationFn != nil {
		return f.deleteAnnotationFn(ctx, annotationID)
	}
	return nil
}
func (f *fakeStore) ListAnnotationsByPoem(ctx context.Context, poemID string) ([]store.Annotation, error) {
	if f.listAnnotationsByPoemFn != nil {
		return f.listAnnotationsByPoemFn(ctx, poemID)
	}
	return nil, nil
}
func (f *fakeStore) ListAnnotationsByUser(ctx context.Context, userID string) ([]store.Annotation, error) {
	if f.listAnnotationsByUserFn != nil {
		return f.listAnnotationsByUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeSessions keeps sessions in a map keyed by token hash.
type fakeSessions struct {
	users map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{users: make(map[string]store.User)}
}

func (f *fakeSessions) SaveSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.users[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.users[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}
func (f *fakeSessions) RevokeSession(_ context.Context, tokenHash string) error {
	delete(f.users, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{SessionTTL: time.Hour},
		store:    fs,
		sessions: newFakeSessions(),
		auth:     authpw.NewService(fs, bcrypt.MinCost),
		search:   &fakeSearch{},
	}
}

const testPoemContent = "Shall I compare thee\nto a summer's day"

func ownedPoem(owner string) func(context.Context, string) (store.Poem, error) {
	return func(_ context.Context, poemID string) (store.Poem, error) {
		if poemID != "poem_1" {
			return store.Poem{}, store.ErrNotFound
		}
		return store.Poem{ID: "poem_1", Content: testPoemContent, Title: "Sonnet 18", OwnerID: owner}, nil
	}
}

func statusOf(err error) int {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status
	}
	status, _, _, _ := mapError(err)
	return status
}

func TestCreatePoemDefaultsTitleToFirstLine(t *testing.T) {
	var inserted store.Poem
	svc := newTestService(&fakeStore{
		insertPoemFn: func(_ context.Context, item store.Poem) (store.Poem, error) {
			inserted = item
			return item, nil
		},
	})

	long := strings.Repeat("a", 70)
	poem, err := svc.CreatePoem(context.Background(), Actor{UserID: "usr_1"}, "\n  "+long+"\nsecond line", "")
	if err != nil {
		t.Fatalf("CreatePoem: %v", err)
	}
	if poem.Title != strings.Repeat("a", 50) {
		t.Fatalf("expected title truncated to 50 characters, got %q", poem.Title)
	}
	if inserted.OwnerID != "usr_1" || poem.OwnerID == nil || *poem.OwnerID != "usr_1" {
		t.Fatalf("expected owner usr_1, got %+v", inserted)
	}
	if !strings.HasPrefix(inserted.ID, "poem_") {
		t.Fatalf("expected poem id prefix, got %q", inserted.ID)
	}

	anonymous, err := svc.CreatePoem(context.Background(), Actor{}, "one line", "Given")
	if err != nil {
		t.Fatalf("CreatePoem anonymous: %v", err)
	}
	if anonymous.OwnerID != nil || anonymous.Title != "Given" {
		t.Fatalf("unexpected anonymous poem %+v", anonymous)
	}

	if _, err := svc.CreatePoem(context.Background(), Actor{}, "   ", ""); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank content, got %v", err)
	}
}

func TestCreateAnnotationValidation(t *testing.T) {
	inserted := false
	svc := newTestService(&fakeStore{
		getPoemFn: ownedPoem(""),
		insertAnnotationFn: func(_ context.Context, item store.Annotation) (store.Annotation, error) {
			inserted = true
			return item, nil
		},
	})
	ctx := context.Background()

	cases := []struct {
		name   string
		draft  domain.AnnotationDraft
		status int
	}{
		{name: "missing poem", draft: domain.AnnotationDraft{Text: "x", Anchors: []int{0}}, status: http.StatusBadRequest},
		{name: "blank text", draft: domain.AnnotationDraft{PoemID: "poem_1", Text: " ", Anchors: []int{0}}, status: http.StatusBadRequest},
		{name: "no anchors", draft: domain.AnnotationDraft{PoemID: "poem_1", Text: "x"}, status: http.StatusBadRequest},
		{name: "anchor past last word", draft: domain.AnnotationDraft{PoemID: "poem_1", Text: "x", Anchors: []int{8}}, status: http.StatusBadRequest},
		{name: "negative anchor", draft: domain.AnnotationDraft{PoemID: "poem_1", Text: "x", Anchors: []int{-1}}, status: http.StatusBadRequest},
		{name: "unknown poem", draft: domain.AnnotationDraft{PoemID: "poem_2", Text: "x", Anchors: []int{0}}, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateAnnotation(ctx, Actor{}, tc.draft)
			if statusOf(err) != tc.status {
				t.Fatalf("expected %d, got %v", tc.status, err)
			}
		})
	}
	if inserted {
		t.Fatal("rejected drafts must not reach the store")
	}

	created, err := svc.CreateAnnotation(ctx, Actor{}, domain.AnnotationDraft{
		PoemID:      "poem_1",
		EphemeralID: "eph-1",
		Text:        "a question",
		Anchors:     []int{3, 7},
		Offset:      &domain.Offset{DX: 4, DY: 2},
	})
	if err != nil {
		t.Fatalf("CreateAnnotation: %v", err)
	}
	if !strings.HasPrefix(created.ID, "ann_") || created.EphemeralID != "eph-1" {
		t.Fatalf("unexpected ids %q %q", created.ID, created.EphemeralID)
	}
	if created.UserID != nil {
		t.Fatalf("anonymous annotation must have no user, got %v", *created.UserID)
	}
	if created.Offset == nil || created.Offset.DX != 4 {
		t.Fatalf("expected offset to persist, got %+v", created.Offset)
	}
}

func TestAnnotationAccessOnOwnedPoem(t *testing.T) {
	fs := &fakeStore{
		getPoemFn: ownedPoem("usr_owner"),
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return store.Annotation{ID: id, PoemID: "poem_1"}, nil
		},
		getCollaboratorFn: func(_ context.Context, _, userID string) (store.Collaborator, error) {
			switch userID {
			case "usr_reader":
				return store.Collaborator{Mode: "readonly"}, nil
			case "usr_editor":
				return store.Collaborator{Mode: "editable"}, nil
			}
			return store.Collaborator{}, store.ErrNotFound
		},
		getShareLinkFn: func(_ context.Context, shareID string) (store.ShareLink, error) {
			switch shareID {
			case "share-edit":
				return store.ShareLink{ID: shareID, PoemID: "poem_1", Mode: "editable"}, nil
			case "share-read":
				return store.ShareLink{ID: shareID, PoemID: "poem_1", Mode: "readonly"}, nil
			case "share-other":
				return store.ShareLink{ID: shareID, PoemID: "poem_9", Mode: "editable"}, nil
			}
			return store.ShareLink{}, store.ErrNotFound
		},
	}
	svc := newTestService(fs)
	text := "edited"

	cases := []struct {
		name    string
		actor   Actor
		allowed bool
	}{
		{name: "owner", actor: Actor{UserID: "usr_owner"}, allowed: true},
		{name: "editable collaborator", actor: Actor{UserID: "usr_editor"}, allowed: true},
		{name: "readonly collaborator", actor: Actor{UserID: "usr_reader"}},
		{name: "readonly collaborator with editable link", actor: Actor{UserID: "usr_reader", ShareID: "share-edit"}, allowed: true},
		{name: "anonymous with editable link", actor: Actor{ShareID: "share-edit"}, allowed: true},
		{name: "anonymous with readonly link", actor: Actor{ShareID: "share-read"}},
		{name: "link for another poem", actor: Actor{ShareID: "share-other"}},
		{name: "stranger", actor: Actor{UserID: "usr_stranger"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateAnnotation(context.Background(), tc.actor, "ann_1", domain.AnnotationUpdate{Text: &text})
			if tc.allowed && err != nil {
				t.Fatalf("expected update allowed, got %v", err)
			}
			if !tc.allowed && statusOf(err) != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", err)
			}
		})
	}
}

func TestUpdateAnnotationRequiresAField(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.UpdateAnnotation(context.Background(), Actor{}, "ann_1", domain.AnnotationUpdate{})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}

	_, err = svc.UpdateAnnotation(context.Background(), Actor{}, "ann_missing", domain.AnnotationUpdate{Offset: &domain.Offset{DX: 1}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteAnnotationReportsNotFound(t *testing.T) {
	deleted := ""
	svc := newTestService(&fakeStore{
		getPoemFn: ownedPoem(""),
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			if id == "ann_1" {
				return store.Annotation{ID: id, PoemID: "poem_1"}, nil
			}
			return store.Annotation{}, store.ErrNotFound
		},
		deleteAnnotationFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	})

	if err := svc.DeleteAnnotation(context.Background(), Actor{}, "ann_1"); err != nil {
		t.Fatalf("DeleteAnnotation: %v", err)
	}
	if deleted != "ann_1" {
		t.Fatalf("expected ann_1 deleted, got %q", deleted)
	}
	if err := svc.DeleteAnnotation(context.Background(), Actor{}, "ann_2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestShareModeOnlyUpgrades(t *testing.T) {
	collaborators := map[string]string{}
	links := map[string]store.ShareLink{
		"share-read": {ID: "share-read", PoemID: "poem_1", Mode: "readonly"},
		"share-edit": {ID: "share-edit", PoemID: "poem_1", Mode: "editable"},
	}
	saves := 0
	fs := &fakeStore{
		getPoemFn: ownedPoem("usr_owner"),
		getShareLinkFn: func(_ context.Context, id string) (store.ShareLink, error) {
			link, ok := links[id]
			if !ok {
				return store.ShareLink{}, store.ErrNotFound
			}
			return link, nil
		},
		getCollaboratorFn: func(_ context.Context, poemID, userID string) (store.Collaborator, error) {
			mode, ok := collaborators[userID]
			if !ok {
				return store.Collaborator{}, store.ErrNotFound
			}
			return store.Collaborator{PoemID: poemID, UserID: userID, Mode: mode}, nil
		},
		saveCollaboratorFn: func(_ context.Context, item store.Collaborator) error {
			saves++
			collaborators[item.UserID] = item.Mode
			return nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	view, err := svc.OpenShare(ctx, Actor{UserID: "usr_a"}, "share-read")
	if err != nil {
		t.Fatalf("OpenShare: %v", err)
	}
	if view.Editable || collaborators["usr_a"] != "readonly" {
		t.Fatalf("expected readonly collaborator, got editable=%v mode=%q", view.Editable, collaborators["usr_a"])
	}
	if _, err := svc.OpenShare(ctx, Actor{UserID: "usr_a"}, "share-edit"); err != nil {
		t.Fatalf("OpenShare: %v", err)
	}
	if collaborators["usr_a"] != "editable" {
		t.Fatalf("expected upgrade to editable, got %q", collaborators["usr_a"])
	}

	if _, err := svc.OpenShare(ctx, Actor{UserID: "usr_b"}, "share-edit"); err != nil {
		t.Fatalf("OpenShare: %v", err)
	}
	view, err = svc.OpenShare(ctx, Actor{UserID: "usr_b"}, "share-read")
	if err != nil {
		t.Fatalf("OpenShare: %v", err)
	}
	if collaborators["usr_b"] != "editable" {
		t.Fatalf("readonly link must not downgrade, got %q", collaborators["usr_b"])
	}
	if view.Editable {
		t.Fatal("editable reflects the link mode, not the collaborator mode")
	}

	if _, err := svc.OpenShare(ctx, Actor{UserID: "usr_owner"}, "share-read"); err != nil {
		t.Fatalf("OpenShare as owner: %v", err)
	}
	if _, ok := collaborators["usr_owner"]; ok {
		t.Fatal("owner must not become a collaborator")
	}
	if saves != 3 {
		t.Fatalf("expected 3 collaborator writes, got %d", saves)
	}

	if _, err := svc.OpenShare(ctx, Actor{}, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateShareLinkRules(t *testing.T) {
	var requestedMode string
	svc := newTestService(&fakeStore{
		getPoemFn: ownedPoem("usr_owner"),
		ensureShareLinkFn: func(_ context.Context, poemID, mode, newID string) (store.ShareLink, error) {
			requestedMode = mode
			return store.ShareLink{ID: "existing-" + mode, PoemID: poemID, Mode: mode}, nil
		},
	})
	ctx := context.Background()

	result, err := svc.CreateShareLink(ctx, Actor{UserID: "usr_owner"}, "poem_1", "editable")
	if err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}
	if result.ShareID != "existing-editable" || requestedMode != "editable" {
		t.Fatalf("expected the stored link to be returned, got %+v", result)
	}
	if _, err := svc.CreateShareLink(ctx, Actor{UserID: "usr_owner"}, "poem_1", "admin"); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid mode, got %v", err)
	}
	if _, err := svc.CreateShareLink(ctx, Actor{UserID: "usr_other"}, "poem_1", "readonly"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %v", err)
	}
}

func TestGetPoemListsSharingOnlyForOwner(t *testing.T) {
	svc := newTestService(&fakeStore{
		getPoemFn: ownedPoem("usr_owner"),
		listShareLinksFn: func(context.Context, string) ([]store.ShareLink, error) {
			return []store.ShareLink{{ID: "s1", Mode: "readonly"}}, nil
		},
		listCollaboratorsFn: func(context.Context, string) ([]store.Collaborator, error) {
			return []store.Collaborator{{UserID: "usr_a", Mode: "editable"}}, nil
		},
	})

	owned, err := svc.GetPoem(context.Background(), Actor{UserID: "usr_owner"}, "poem_1")
	if err != nil {
		t.Fatalf("GetPoem: %v", err)
	}
	if len(owned.ShareLinks) != 1 || len(owned.Collaborators) != 1 {
		t.Fatalf("expected sharing details for owner, got %+v", owned)
	}

	visitor, err := svc.GetPoem(context.Background(), Actor{UserID: "usr_a"}, "poem_1")
	if err != nil {
		t.Fatalf("GetPoem: %v", err)
	}
	if len(visitor.ShareLinks) != 0 || len(visitor.Collaborators) != 0 {
		t.Fatalf("expected no sharing details for visitor, got %+v", visitor)
	}
}

const testPassword = "correct horse"

func TestLoginSessionLifecycle(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, "  ", testPassword, ""); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank email, got %v", err)
	}
	if _, err := svc.Register(ctx, "ada@example.com", "short", ""); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %v", err)
	}

	registered, err := svc.Register(ctx, "ada@example.com", testPassword, "Ada")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if registered.Token == "" || !strings.HasPrefix(registered.UserID, "usr_") {
		t.Fatalf("unexpected session %+v", registered)
	}

	session, err := svc.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.UserID != registered.UserID || session.Token == registered.Token {
		t.Fatalf("expected a new session for the same user, got %+v", session)
	}

	resolved, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil || resolved.UserName != "Ada" {
		t.Fatalf("SessionFromToken: %+v %v", resolved, err)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, session.Token); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func TestLoginRejectsWrongPasswordAndDuplicateEmail(t *testing.T) {
	fs := &fakeStore{}
	sessions := newFakeSessions()
	svc := newTestService(fs)
	svc.sessions = sessions
	ctx := context.Background()

	if _, err := svc.Register(ctx, "owner@example.com", testPassword, "Owner"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "owner@example.com", "not the password"); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "stranger@example.com", testPassword); statusOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %v", err)
	}
	if _, err := svc.Register(ctx, "Owner@Example.com", "another password", "Impostor"); statusOf(err) != http.StatusConflict {
		t.Fatalf("expected 409 for taken email, got %v", err)
	}
	if len(fs.users) != 1 || len(sessions.users) != 1 {
		t.Fatalf("rejected attempts must not create users or sessions: users=%d sessions=%d", len(fs.users), len(sessions.users))
	}
	for _, user := range sessions.users {
		if user.PasswordHash != "" {
			t.Fatal("sessions must not carry the password hash")
		}
	}
}
