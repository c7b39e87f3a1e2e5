package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// Store keeps sessions and pages in process memory, suitable for development and tests.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]ledger.Session
	pages    map[string]map[int64]ledger.Page
}

var (
	_ ledger.Store          = (*Store)(nil)
	_ ledger.CascadeDeleter = (*Store)(nil)
	_ ledger.PageAppender   = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]ledger.Session),
		pages:    make(map[string]map[int64]ledger.Page),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) InsertSession(_ context.Context, session ledger.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errors.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) UpdateSessionFields(_ context.Context, sessionID string, update ledger.SessionUpdate) (ledger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ledger.Session{}, ledger.ErrSessionNotFound
	}
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.Who != nil {
		session.Who = *update.Who
	}
	if update.Model != nil {
		session.Model = *update.Model
	}
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.LastPageID != nil && *update.LastPageID > session.LastPageID {
		session.LastPageID = *update.LastPageID
	}
	if !update.UpdatedAt.IsZero() {
		session.UpdatedAt = update.UpdatedAt
	}
	s.sessions[sessionID] = session
	return session, nil
}

func (s *Store) FindSession(_ context.Context, sessionID string) (ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ledger.Session{}, ledger.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) FindSessions(_ context.Context, filter ledger.SessionFilter) ([]ledger.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.ActiveOnly && session.Status != ledger.StatusActive {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ledger.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// DeleteSessionCascade drops the pages and the session under one lock.
func (s *Store) DeleteSessionCascade(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ledger.ErrSessionNotFound
	}
	delete(s.pages, sessionID)
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) InsertPage(_ context.Context, page ledger.Page) error {
	if err := page.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.pages[page.SessionID]
	if !ok {
		byID = make(map[int64]ledger.Page)
		s.pages[page.SessionID] = byID
	}
	if _, exists := byID[page.PageID]; exists {
		return errors.Wrapf(ledger.ErrDuplicatePage, "session %s page %d", page.SessionID, page.PageID)
	}
	byID[page.PageID] = page
	return nil
}

// AppendPage inserts page and advances the session counter in one step.
func (s *Store) AppendPage(_ context.Context, page ledger.Page, updatedAt time.Time) (ledger.Session, error) {
	if err := page.Validate(); err != nil {
		return ledger.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[page.SessionID]
	if !ok {
		return ledger.Session{}, ledger.ErrSessionNotFound
	}
	byID, ok := s.pages[page.SessionID]
	if !ok {
		byID = make(map[int64]ledger.Page)
		s.pages[page.SessionID] = byID
	}
	if _, exists := byID[page.PageID]; exists || page.PageID <= session.LastPageID {
		return ledger.Session{}, errors.Wrapf(ledger.ErrDuplicatePage, "session %s page %d", page.SessionID, page.PageID)
	}
	byID[page.PageID] = page
	session.LastPageID = page.PageID
	session.UpdatedAt = updatedAt
	s.sessions[page.SessionID] = session
	return session, nil
}

func (s *Store) UpdatePageContent(_ context.Context, sessionID string, pageID int64, content string, timeEnd time.Time) (ledger.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[sessionID][pageID]
	if !ok {
		return ledger.Page{}, ledger.ErrPageNotFound
	}
	if page.Type != ledger.PageResponse {
		return ledger.Page{}, ledger.ErrNotResponse
	}
	if page.Content != "" {
		return ledger.Page{}, ledger.ErrDuplicateCommit
	}
	page.Content = content
	page.TimeEnd = timeEnd
	s.pages[sessionID][pageID] = page
	return page, nil
}

func (s *Store) FindPage(_ context.Context, sessionID string, pageID int64) (ledger.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, ok := s.pages[sessionID][pageID]
	if !ok {
		return ledger.Page{}, ledger.ErrPageNotFound
	}
	return page, nil
}

func (s *Store) FindPagesBySession(_ context.Context, sessionID string, limit int) ([]ledger.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.pages[sessionID]
	out := make([]ledger.Page, 0, len(byID))
	for _, page := range byID {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) DeletePagesBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pages, sessionID)
	return nil
}

func (s *Store) UpdateResponseWho(_ context.Context, sessionID, who string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, page := range s.pages[sessionID] {
		if page.Type != ledger.PageResponse {
			continue
		}
		page.Who = who
		s.pages[sessionID][id] = page
		n++
	}
	return n, nil
}
