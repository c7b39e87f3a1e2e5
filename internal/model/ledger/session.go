package ledger

import "time"

// Status describes whether a session still accepts new pages.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Session is a bounded conversation with its own page-numbering sequence.
// Callers hold a *Session as an explicit handle and pass it to every page operation.
type Session struct {
	ID         string    `json:"sessionId"`
	Title      string    `json:"title"`
	Who        string    `json:"who"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	LastPageID int64     `json:"lastPageId"`
	Status     Status    `json:"status"`
}

// Closed reports whether the session is terminal for new pages.
func (s *Session) Closed() bool {
	return s.Status == StatusClosed
}

// SessionUpdate carries the fields to change on a session. Nil fields are left as is.
type SessionUpdate struct {
	Title      *string
	Who        *string
	Model      *string
	Status     *Status
	LastPageID *int64
	UpdatedAt  time.Time
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	ActiveOnly bool
	Limit      int
}
