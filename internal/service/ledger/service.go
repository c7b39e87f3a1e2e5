// Package ledger numbers, stores and commits the pages of a session.
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/analysis/tokens"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/chrono"
)

// Now is the default clock. Stores keep millisecond precision, so the ledger
// never hands out finer timestamps than it can read back.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the clock used for page timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenCounter replaces the counter used by Stats.
func WithTokenCounter(c tokens.Counter) Option {
	return func(s *Service) { s.tokens = c }
}

// Service is the page ledger. Every operation takes an explicit session handle.
type Service struct {
	pages    ledger.PageStore
	sessions ledger.SessionStore
	appender ledger.PageAppender
	now      func() time.Time
	tokens   tokens.Counter
	locks    *sessionLocks
}

// NewService wires the ledger to its stores. When pages also implements
// ledger.PageAppender, page insertion and the lastPageId update happen in one
// store call.
func NewService(pages ledger.PageStore, sessions ledger.SessionStore, opts ...Option) *Service {
	s := &Service{
		pages:    pages,
		sessions: sessions,
		now:      Now,
		tokens:   tokens.NewEstimator(),
		locks:    newSessionLocks(),
	}
	if appender, ok := pages.(ledger.PageAppender); ok {
		s.appender = appender
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInvoke records a page directed at the agent on the next odd id.
func (s *Service) CreateInvoke(ctx context.Context, session *ledger.Session, who, content string, rank *float64) (ledger.Page, error) {
	if who == "" {
		who = ledger.WhoUser
	}
	return s.allocate(ctx, session, ledger.PageInvoke, who, content, rank)
}

// StartResponse opens an empty draft RESPONSE page on the next even id.
func (s *Service) StartResponse(ctx context.Context, session *ledger.Session, who string, rank *float64) (ledger.Page, error) {
	if who == "" && session != nil {
		who = session.Who
	}
	if who == "" {
		who = ledger.WhoAgent
	}
	return s.allocate(ctx, session, ledger.PageResponse, who, "", rank)
}

func (s *Service) allocate(ctx context.Context, session *ledger.Session, typ ledger.PageType, who, content string, rank *float64) (ledger.Page, error) {
	if session == nil {
		return ledger.Page{}, ledger.ErrNoActiveSession
	}

	unlock := s.locks.lock(session.ID)
	defer unlock()

	// The handle may be stale; the stored counter is authoritative.
	current, err := s.sessions.FindSession(ctx, session.ID)
	if err != nil {
		return ledger.Page{}, err
	}
	if current.Closed() {
		return ledger.Page{}, errors.Wrapf(ledger.ErrSessionClosed, "session %s", session.ID)
	}

	now := s.now()
	page := ledger.Page{
		SessionID: current.ID,
		PageID:    ledger.NextID(current.LastPageID, typ),
		Who:       who,
		Type:      typ,
		Rank:      rank,
		TimeStart: now,
		TimeEnd:   now,
		Content:   content,
	}

	var updated ledger.Session
	if s.appender != nil {
		updated, err = s.appender.AppendPage(ctx, page, now)
		if err != nil {
			return ledger.Page{}, err
		}
	} else {
		if err := s.pages.InsertPage(ctx, page); err != nil {
			return ledger.Page{}, err
		}
		updated, err = s.sessions.UpdateSessionFields(ctx, current.ID, ledger.SessionUpdate{
			LastPageID: &page.PageID,
			UpdatedAt:  now,
		})
		if err != nil {
			return ledger.Page{}, errors.Wrapf(err, "advance counter to %d", page.PageID)
		}
	}
	*session = updated

	log.Debug().
		Str("component", "ledger").
		Str("session", page.SessionID).
		Int64("page", page.PageID).
		Str("type", string(page.Type)).
		Msg("page allocated")
	return page, nil
}

// CommitResponse sets the final content and end time of a draft page. A page
// can be committed once; later attempts fail with ledger.ErrDuplicateCommit.
func (s *Service) CommitResponse(ctx context.Context, session *ledger.Session, pageID int64, content string) (ledger.Page, error) {
	if session == nil {
		return ledger.Page{}, ledger.ErrNoActiveSession
	}

	now := s.now()
	page, err := s.pages.UpdatePageContent(ctx, session.ID, pageID, content, now)
	if err != nil {
		return ledger.Page{}, err
	}

	updated, err := s.sessions.UpdateSessionFields(ctx, session.ID, ledger.SessionUpdate{UpdatedAt: now})
	if err != nil {
		log.Warn().Err(err).Str("component", "ledger").Str("session", session.ID).Msg("touch session after commit")
	} else {
		*session = updated
	}

	log.Debug().
		Str("component", "ledger").
		Str("session", session.ID).
		Int64("page", pageID).
		Int64("delta", page.Delta()).
		Msg("response committed")
	return page, nil
}

// GetPages returns every page of the session ordered by page id.
func (s *Service) GetPages(ctx context.Context, session *ledger.Session) ([]ledger.Page, error) {
	if session == nil {
		return nil, ledger.ErrNoActiveSession
	}
	return s.pages.FindPagesBySession(ctx, session.ID, 0)
}

// DefaultRecentLimit is used by GetRecentPages when no positive limit is given.
const DefaultRecentLimit = 10

// GetRecentPages returns the last limit pages, oldest first.
func (s *Service) GetRecentPages(ctx context.Context, session *ledger.Session, limit int) ([]ledger.Page, error) {
	if session == nil {
		return nil, ledger.ErrNoActiveSession
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.pages.FindPagesBySession(ctx, session.ID, limit)
}

// GetPage fetches one page.
func (s *Service) GetPage(ctx context.Context, session *ledger.Session, pageID int64) (ledger.Page, error) {
	if session == nil {
		return ledger.Page{}, ledger.ErrNoActiveSession
	}
	return s.pages.FindPage(ctx, session.ID, pageID)
}

// ChronoDelta is the gap in milliseconds between the end of page from and
// the start of page to.
func (s *Service) ChronoDelta(ctx context.Context, session *ledger.Session, from, to int64) (int64, error) {
	a, err := s.GetPage(ctx, session, from)
	if err != nil {
		return 0, err
	}
	b, err := s.GetPage(ctx, session, to)
	if err != nil {
		return 0, err
	}
	return chrono.Gap(a, b), nil
}

// Stats summarises a session.
type Stats struct {
	SessionID     string `json:"sessionId"`
	TotalPages    int    `json:"totalPages"`
	InvokeCount   int    `json:"invokeCount"`
	ResponseCount int    `json:"responseCount"`
	DraftCount    int    `json:"draftCount"`
	TotalDelta    int64  `json:"totalDelta"`
	TokenEstimate int    `json:"tokenEstimate"`
}

// Stats counts pages by type and sums their durations.
func (s *Service) Stats(ctx context.Context, session *ledger.Session) (Stats, error) {
	pages, err := s.GetPages(ctx, session)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{SessionID: session.ID, TotalPages: len(pages), TotalDelta: chrono.Total(pages)}
	for _, p := range pages {
		switch p.Type {
		case ledger.PageInvoke:
			stats.InvokeCount++
		case ledger.PageResponse:
			stats.ResponseCount++
			if p.Draft() {
				stats.DraftCount++
			}
		}
		stats.TokenEstimate += s.tokens.Count(p.Content)
	}
	return stats, nil
}
