// Package session manages the lifecycle of ledger sessions.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

const (
	// DefaultModel is recorded when a session is created from a title alone.
	DefaultModel = "unknown"
	// DefaultListLimit caps listings that do not ask for a limit.
	DefaultListLimit = 50
)

var (
	ErrTitleRequired   = errors.New("session title is required")
	ErrWhoRequired     = errors.New("who is required")
	ErrNothingToChange = errors.New("title or who is required")
)

// CreateOptions describes a new session.
type CreateOptions struct {
	Title string `json:"title"`
	Model string `json:"model"`
	Who   string `json:"who"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the clock used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid-based session ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service is the session registry.
type Service struct {
	sessions ledger.SessionStore
	pages    ledger.PageStore
	now      func() time.Time
	newID    func() string
}

// NewService bootstraps the registry over the given stores.
func NewService(sessions ledger.SessionStore, pages ledger.PageStore, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		pages:    pages,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession provisions an active session with an empty page sequence.
func (s *Service) CreateSession(ctx context.Context, opts CreateOptions) (*ledger.Session, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Who == "" {
		opts.Who = ledger.WhoAgent
	}

	now := s.now()
	session := ledger.Session{
		ID:         s.newID(),
		Title:      title,
		Who:        opts.Who,
		Model:      opts.Model,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastPageID: 0,
		Status:     ledger.StatusActive,
	}
	if err := s.sessions.InsertSession(ctx, session); err != nil {
		return nil, errors.Wrap(err, "insert session")
	}

	log.Info().Str("component", "session").Str("session", session.ID).Str("title", title).Msg("session created")
	return &session, nil
}

// CreateTitled creates a session from a title alone.
func (s *Service) CreateTitled(ctx context.Context, title string) (*ledger.Session, error) {
	return s.CreateSession(ctx, CreateOptions{Title: title})
}

// LoadSession returns a handle for an existing session.
func (s *Service) LoadSession(ctx context.Context, sessionID string) (*ledger.Session, error) {
	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// RenameSession changes the title.
func (s *Service) RenameSession(ctx context.Context, sessionID, title string) (*ledger.Session, error) {
	return s.EditSession(ctx, sessionID, Changes{Title: &title})
}

// UpdateWho changes the agent pseudonym. With retag set, RESPONSE pages
// already in the session are re-attributed to the new pseudonym as well.
func (s *Service) UpdateWho(ctx context.Context, sessionID, who string, retag bool) (*ledger.Session, error) {
	return s.EditSession(ctx, sessionID, Changes{Who: &who, RetagResponses: retag})
}

// Changes is a partial edit of session metadata. Nil fields are left alone.
type Changes struct {
	Title          *string `json:"title"`
	Who            *string `json:"who"`
	RetagResponses bool    `json:"retagResponses"`
}

// EditSession validates every field of changes before writing anything, then
// stores them in a single update.
func (s *Service) EditSession(ctx context.Context, sessionID string, changes Changes) (*ledger.Session, error) {
	var update ledger.SessionUpdate
	if changes.Title != nil {
		title := strings.TrimSpace(*changes.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		update.Title = &title
	}
	if changes.Who != nil {
		who := strings.TrimSpace(*changes.Who)
		if who == "" {
			return nil, ErrWhoRequired
		}
		update.Who = &who
	}
	if update.Title == nil && update.Who == nil {
		return nil, ErrNothingToChange
	}

	session, err := s.update(ctx, sessionID, update)
	if err != nil {
		return nil, err
	}
	if update.Who != nil && changes.RetagResponses {
		n, err := s.pages.UpdateResponseWho(ctx, sessionID, *update.Who)
		if err != nil {
			return nil, errors.Wrap(err, "retag responses")
		}
		log.Debug().Str("component", "session").Str("session", sessionID).Int64("pages", n).Msg("responses retagged")
	}
	return session, nil
}

// CloseSession marks the session closed. Closing twice is harmless.
func (s *Service) CloseSession(ctx context.Context, sessionID string) (*ledger.Session, error) {
	closed := ledger.StatusClosed
	return s.update(ctx, sessionID, ledger.SessionUpdate{Status: &closed})
}

// DeleteSession removes the session and all of its pages. Stores that
// implement ledger.CascadeDeleter do both in one transaction; otherwise pages
// go first so no orphan survives a partial failure.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if cascade, ok := s.sessions.(ledger.CascadeDeleter); ok {
		if err := cascade.DeleteSessionCascade(ctx, sessionID); err != nil {
			return err
		}
	} else {
		if _, err := s.sessions.FindSession(ctx, sessionID); err != nil {
			return err
		}
		if err := s.pages.DeletePagesBySession(ctx, sessionID); err != nil {
			return errors.Wrap(err, "delete pages")
		}
		if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
	}
	log.Info().Str("component", "session").Str("session", sessionID).Msg("session deleted")
	return nil
}

// ListSessions returns sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context, filter ledger.SessionFilter) ([]ledger.Session, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	return s.sessions.FindSessions(ctx, filter)
}

func (s *Service) update(ctx context.Context, sessionID string, update ledger.SessionUpdate) (*ledger.Session, error) {
	update.UpdatedAt = s.now()
	session, err := s.sessions.UpdateSessionFields(ctx, sessionID, update)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
