package domain

import "time"

// Share link and collaborator modes.
const (
	ModeReadonly = "readonly"
	ModeEditable = "editable"
)

// Poem is the document being annotated.
type Poem struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	OwnerID       *string        `json:"ownerId"`
	ShareLinks    []ShareLink    `json:"shareLinks,omitempty"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ShareLink grants its mode to whoever opens it.
type ShareLink struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

// Collaborator is a user with an effective mode on someone else's poem.
type Collaborator struct {
	UserID string `json:"userId"`
	Mode   string `json:"mode"`
}

// SharedPoem is a poem listed for one of its collaborators.
type SharedPoem struct {
	Poem
	Mode string `json:"mode"`
}

// ShareView is what a share link resolves to.
type ShareView struct {
	Poem        Poem         `json:"poem"`
	Annotations []Annotation `json:"annotations"`
	Editable    bool         `json:"editable"`
}

// ShareResult is returned when a share link is issued.
type ShareResult struct {
	ShareID string `json:"shareId"`
	Mode    string `json:"mode"`
}

// LoginResult is returned by the session login endpoint.
type LoginResult struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
