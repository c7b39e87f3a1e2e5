package ledger

import (
	"time"

	"github.com/pkg/errors"
)

// PageType distinguishes pages directed at the agent from the agent's replies.
type PageType string

const (
	PageInvoke   PageType = "INVOKE"
	PageResponse PageType = "RESPONSE"
)

// Well-known originator pseudonyms.
const (
	WhoUser   = "@User"
	WhoAgent  = "@Agent"
	WhoSystem = "@System"
)

// Page is one turn in a session. INVOKE pages carry odd ids, RESPONSE pages even ids.
type Page struct {
	SessionID string    `json:"sessionId"`
	PageID    int64     `json:"pageId"`
	Who       string    `json:"who"`
	Type      PageType  `json:"type"`
	Rank      *float64  `json:"rank"`
	TimeStart time.Time `json:"timeStart"`
	TimeEnd   time.Time `json:"timeEnd"`
	Content   string    `json:"content"`
}

// Delta is the intrinsic duration of the page in milliseconds.
func (p Page) Delta() int64 {
	return p.TimeEnd.Sub(p.TimeStart).Milliseconds()
}

// Draft reports whether p is a RESPONSE page that has not been committed yet.
func (p Page) Draft() bool {
	return p.Type == PageResponse && p.Content == ""
}

// PageWithDelta is the read-side projection of a page.
type PageWithDelta struct {
	Page
	Delta int64 `json:"delta"`
}

// WithDelta attaches the computed delta.
func (p Page) WithDelta() PageWithDelta {
	return PageWithDelta{Page: p, Delta: p.Delta()}
}

// TypeForID returns the page type implied by the parity of id.
func TypeForID(id int64) PageType {
	if id%2 == 0 {
		return PageResponse
	}
	return PageInvoke
}

// NextID returns the smallest id greater than last whose parity matches t.
func NextID(last int64, t PageType) int64 {
	candidate := last + 1
	if TypeForID(candidate) != t {
		candidate++
	}
	return candidate
}

// Validate rejects pages whose shape breaks the ledger invariants.
func (p Page) Validate() error {
	if p.SessionID == "" {
		return errors.Wrap(ErrCorruptPage, "missing session id")
	}
	if p.PageID <= 0 {
		return errors.Wrapf(ErrCorruptPage, "page id %d", p.PageID)
	}
	switch p.Type {
	case PageInvoke, PageResponse:
	default:
		return errors.Wrapf(ErrCorruptPage, "page %d has unknown type %q", p.PageID, p.Type)
	}
	if TypeForID(p.PageID) != p.Type {
		return errors.Wrapf(ErrCorruptPage, "page %d: %s at wrong parity", p.PageID, p.Type)
	}
	if p.TimeStart.IsZero() || p.TimeEnd.Before(p.TimeStart) {
		return errors.Wrapf(ErrCorruptPage, "page %d has invalid timing", p.PageID)
	}
	return nil
}
