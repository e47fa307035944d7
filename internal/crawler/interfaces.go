package crawler

import (
	"context"
	"errors"
	"io"
	"iter"
)

var (
	// ErrUnknownJudge is returned for judges outside the closed registry.
	ErrUnknownJudge = errors.New("unknown judge")
	// ErrStatementNotFound indicates the statement element was absent or hidden.
	ErrStatementNotFound = errors.New("problem statement not found")
	// ErrInvalidProblemID indicates a malformed problem identifier.
	ErrInvalidProblemID = errors.New("invalid problem id")
)

// Lister lazily enumerates a judge's problems. An error element ends the
// listing; callers stop iterating after the first error.
type Lister interface {
	List(ctx context.Context) iter.Seq2[Listing, error]
}

// Extractor turns a live page into a statement screenshot and markup.
type Extractor interface {
	Extract(ctx context.Context, session Session, task Task) (Statement, error)
}

// Session is one browser automation context reused across tasks.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Eval runs a script in the current page and discards the result.
	Eval(ctx context.Context, script string) error
	// OuterHTML returns the markup of the first element matching selector.
	OuterHTML(ctx context.Context, selector string) (string, error)
	// Screenshot captures the first element matching selector as PNG.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Close() error
}

// SessionLauncher acquires fresh sessions.
type SessionLauncher interface {
	Launch(ctx context.Context) (Session, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces collision-free tokens.
type IDGenerator interface {
	NewID() (string, error)
}
