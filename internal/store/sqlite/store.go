package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// Store persists sessions and pages in a SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store          = (*Store)(nil)
	_ ledger.CascadeDeleter = (*Store)(nil)
	_ ledger.PageAppender   = (*Store)(nil)
)

// DSNForFile builds a DSN for path with foreign keys and a busy timeout enabled.
func DSNForFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrap(err, "sqlite store: create data dir")
		}
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
}

// Open opens (and migrates) the database at dsn.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// A single connection serializes writers; page-id allocation relies on it.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenFile is a shorthand for Open(DSNForFile(path)).
func OpenFile(path string) (*Store, error) {
	dsn, err := DSNForFile(path)
	if err != nil {
		return nil, err
	}
	return Open(dsn)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id    TEXT PRIMARY KEY,
			title         TEXT NOT NULL DEFAULT '',
			who           TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			last_page_id  INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'active'
		);`,
		`CREATE TABLE IF NOT EXISTS pages (
			session_id    TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			page_id       INTEGER NOT NULL,
			who           TEXT NOT NULL,
			type          TEXT NOT NULL,
			rank          REAL,
			time_start_ms INTEGER NOT NULL,
			time_end_ms   INTEGER NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, page_id)
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_updated ON sessions(updated_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_status ON sessions(status, updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

const sessionColumns = `session_id, title, who, model, created_at_ms, updated_at_ms, last_page_id, status`

const pageColumns = `session_id, page_id, who, type, rank, time_start_ms, time_end_ms, content`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (ledger.Session, error) {
	var (
		out                  ledger.Session
		createdAt, updatedAt int64
		status               string
	)
	if err := row.Scan(&out.ID, &out.Title, &out.Who, &out.Model, &createdAt, &updatedAt, &out.LastPageID, &status); err != nil {
		return ledger.Session{}, err
	}
	out.CreatedAt = fromMillis(createdAt)
	out.UpdatedAt = fromMillis(updatedAt)
	out.Status = ledger.Status(status)
	switch out.Status {
	case ledger.StatusActive, ledger.StatusClosed:
	default:
		return ledger.Session{}, errors.Errorf("sqlite store: session %s has unknown status %q", out.ID, status)
	}
	return out, nil
}

func scanPage(row rowScanner) (ledger.Page, error) {
	var (
		out        ledger.Page
		typ        string
		rank       sql.NullFloat64
		start, end int64
	)
	if err := row.Scan(&out.SessionID, &out.PageID, &out.Who, &typ, &rank, &start, &end, &out.Content); err != nil {
		return ledger.Page{}, err
	}
	out.Type = ledger.PageType(typ)
	if rank.Valid {
		r := rank.Float64
		out.Rank = &r
	}
	out.TimeStart = fromMillis(start)
	out.TimeEnd = fromMillis(end)
	if err := out.Validate(); err != nil {
		return ledger.Page{}, err
	}
	return out, nil
}

func (s *Store) InsertSession(ctx context.Context, session ledger.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(`+sessionColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Who, session.Model,
		toMillis(session.CreatedAt), toMillis(session.UpdatedAt), session.LastPageID, string(session.Status),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite store: insert session")
	}
	return nil
}

func (s *Store) UpdateSessionFields(ctx context.Context, sessionID string, update ledger.SessionUpdate) (ledger.Session, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Who != nil {
		sets = append(sets, "who = ?")
		args = append(args, *update.Who)
	}
	if update.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *update.Model)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.LastPageID != nil {
		sets = append(sets, "last_page_id = MAX(last_page_id, ?)")
		args = append(args, *update.LastPageID)
	}
	if !update.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at_ms = ?")
		args = append(args, toMillis(update.UpdatedAt))
	}

	if len(sets) > 0 {
		args = append(args, sessionID)
		res, err := s.db.ExecContext(ctx, `UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = ?`, args...)
		if err != nil {
			return ledger.Session{}, errors.Wrap(err, "sqlite store: update session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.Session{}, ledger.ErrSessionNotFound
		}
	}
	return s.FindSession(ctx, sessionID)
}

func (s *Store) FindSession(ctx context.Context, sessionID string) (ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Session{}, ledger.ErrSessionNotFound
	}
	if err != nil {
		return ledger.Session{}, errors.Wrap(err, "sqlite store: find session")
	}
	return session, nil
}

func (s *Store) FindSessions(ctx context.Context, filter ledger.SessionFilter) ([]ledger.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []any{}
	if filter.ActiveOnly {
		query += ` WHERE status = ?`
		args = append(args, string(ledger.StatusActive))
	}
	query += ` ORDER BY updated_at_ms DESC, session_id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	out := []ledger.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan session")
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return errors.Wrap(err, "sqlite store: delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSessionNotFound
	}
	return nil
}

// DeleteSessionCascade removes the pages and then the session in one transaction.
func (s *Store) DeleteSessionCascade(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE session_id = ?`, sessionID); err != nil {
			return errors.Wrap(err, "sqlite store: delete pages")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return errors.Wrap(err, "sqlite store: delete session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrSessionNotFound
		}
		return nil
	})
}

func (s *Store) InsertPage(ctx context.Context, page ledger.Page) error {
	return insertPage(ctx, s.db, page)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPage(ctx context.Context, db execer, page ledger.Page) error {
	if err := page.Validate(); err != nil {
		return err
	}
	var rank any
	if page.Rank != nil {
		rank = *page.Rank
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO pages(`+pageColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		page.SessionID, page.PageID, page.Who, string(page.Type), rank,
		toMillis(page.TimeStart), toMillis(page.TimeEnd), page.Content,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ledger.ErrDuplicatePage, "session %s page %d", page.SessionID, page.PageID)
		}
		return errors.Wrap(err, "sqlite store: insert page")
	}
	return nil
}

// AppendPage inserts page and advances sessions.last_page_id in one transaction.
func (s *Store) AppendPage(ctx context.Context, page ledger.Page, updatedAt time.Time) (ledger.Session, error) {
	var session ledger.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var last int64
		err := tx.QueryRowContext(ctx, `SELECT last_page_id FROM sessions WHERE session_id = ?`, page.SessionID).Scan(&last)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrSessionNotFound
		}
		if err != nil {
			return errors.Wrap(err, "sqlite store: read last page id")
		}
		if page.PageID <= last {
			return errors.Wrapf(ledger.ErrDuplicatePage, "session %s page %d (last %d)", page.SessionID, page.PageID, last)
		}
		if err := insertPage(ctx, tx, page); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_page_id = ?, updated_at_ms = ? WHERE session_id = ?`,
			page.PageID, toMillis(updatedAt), page.SessionID,
		); err != nil {
			return errors.Wrap(err, "sqlite store: advance last page id")
		}
		session, err = scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, page.SessionID))
		return errors.Wrap(err, "sqlite store: reload session")
	})
	if err != nil {
		return ledger.Session{}, err
	}
	return session, nil
}

func (s *Store) UpdatePageContent(ctx context.Context, sessionID string, pageID int64, content string, timeEnd time.Time) (ledger.Page, error) {
	var page ledger.Page
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanPage(tx.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE session_id = ? AND page_id = ?`, sessionID, pageID))
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrPageNotFound
		}
		if err != nil {
			return errors.Wrap(err, "sqlite store: load page")
		}
		if current.Type != ledger.PageResponse {
			return ledger.ErrNotResponse
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE pages SET content = ?, time_end_ms = ? WHERE session_id = ? AND page_id = ? AND content = ''`,
			content, toMillis(timeEnd), sessionID, pageID,
		)
		if err != nil {
			return errors.Wrap(err, "sqlite store: commit page")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrDuplicateCommit
		}
		current.Content = content
		current.TimeEnd = fromMillis(toMillis(timeEnd))
		page = current
		return nil
	})
	if err != nil {
		return ledger.Page{}, err
	}
	return page, nil
}

func (s *Store) FindPage(ctx context.Context, sessionID string, pageID int64) (ledger.Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE session_id = ? AND page_id = ?`, sessionID, pageID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Page{}, ledger.ErrPageNotFound
	}
	if err != nil {
		return ledger.Page{}, errors.Wrap(err, "sqlite store: find page")
	}
	return page, nil
}

func (s *Store) FindPagesBySession(ctx context.Context, sessionID string, limit int) ([]ledger.Page, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT * FROM (
			SELECT `+pageColumns+` FROM pages WHERE session_id = ? ORDER BY page_id DESC LIMIT ?
		) ORDER BY page_id ASC`, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE session_id = ? ORDER BY page_id ASC`, sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list pages")
	}
	defer func() { _ = rows.Close() }()

	out := []ledger.Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan page")
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func (s *Store) DeletePagesBySession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "sqlite store: delete pages")
	}
	return nil
}

func (s *Store) UpdateResponseWho(ctx context.Context, sessionID, who string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET who = ? WHERE session_id = ? AND type = ?`,
		who, sessionID, string(ledger.PageResponse),
	)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite store: retag responses")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite store: commit tx")
	}
	committed = true
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
