package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Poem struct {
	ID        string
	Content   string
	Title     string
	OwnerID   string
	CreatedAt time.Time
}

// SharedPoem is a poem as seen by one of its collaborators.
type SharedPoem struct {
	Poem
	Mode string
}

type ShareLink struct {
	ID        string
	PoemID    string
	Mode      string
	CreatedAt time.Time
}

type Collaborator struct {
	PoemID    string
	UserID    string
	Mode      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Offset struct {
	DX float64
	DY float64
}

type Annotation struct {
	ID          string
	PoemID      string
	EphemeralID string
	Body        string
	Anchors     []int
	ColorTag    string
	Offset      *Offset
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnnotationPatch carries the fields of a partial annotation update. Nil
// fields are left untouched.
type AnnotationPatch struct {
	Body   *string
	Offset *Offset
}

func (p AnnotationPatch) Empty() bool {
	return p.Body == nil && p.Offset == nil
}
