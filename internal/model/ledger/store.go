package ledger

import (
	"context"
	"time"
)

// PageStore persists pages. (SessionID, PageID) must be unique; inserting a
// duplicate pair fails with ErrDuplicatePage.
type PageStore interface {
	InsertPage(ctx context.Context, page Page) error
	// UpdatePageContent commits a draft RESPONSE page. It fails with
	// ErrDuplicateCommit when the page already has content.
	UpdatePageContent(ctx context.Context, sessionID string, pageID int64, content string, timeEnd time.Time) (Page, error)
	FindPage(ctx context.Context, sessionID string, pageID int64) (Page, error)
	// FindPagesBySession returns pages ordered by PageID ascending. A positive
	// limit keeps only the last limit pages, still ascending.
	FindPagesBySession(ctx context.Context, sessionID string, limit int) ([]Page, error)
	DeletePagesBySession(ctx context.Context, sessionID string) error
	UpdateResponseWho(ctx context.Context, sessionID, who string) (int64, error)
}

// SessionStore persists sessions. IDs must be unique.
type SessionStore interface {
	InsertSession(ctx context.Context, session Session) error
	UpdateSessionFields(ctx context.Context, sessionID string, update SessionUpdate) (Session, error)
	FindSession(ctx context.Context, sessionID string) (Session, error)
	// FindSessions returns sessions ordered by UpdatedAt descending.
	FindSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CascadeDeleter is implemented by stores that can remove a session and its
// pages in a single transaction.
type CascadeDeleter interface {
	DeleteSessionCascade(ctx context.Context, sessionID string) error
}

// PageAppender is implemented by stores that can insert a page and advance
// the owning session's LastPageID atomically.
type PageAppender interface {
	AppendPage(ctx context.Context, page Page, updatedAt time.Time) (Session, error)
}

// Store bundles both collaborators, as backends usually implement them together.
type Store interface {
	PageStore
	SessionStore
	Close() error
}
