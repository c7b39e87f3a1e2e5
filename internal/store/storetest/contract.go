// Package storetest holds behaviour checks shared by every ledger.Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises the store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, newStore(t)) })
	t.Run("SessionOrdering", func(t *testing.T) { testSessionOrdering(t, newStore(t)) })
	t.Run("PageUniqueness", func(t *testing.T) { testPageUniqueness(t, newStore(t)) })
	t.Run("AppendPage", func(t *testing.T) { testAppendPage(t, newStore(t)) })
	t.Run("ConditionalCommit", func(t *testing.T) { testConditionalCommit(t, newStore(t)) })
	t.Run("RecentPages", func(t *testing.T) { testRecentPages(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
	t.Run("RetagResponses", func(t *testing.T) { testRetagResponses(t, newStore(t)) })
	t.Run("RejectsCorruptPages", func(t *testing.T) { testRejectsCorruptPages(t, newStore(t)) })
}

func newSession(id string, updated time.Time) ledger.Session {
	return ledger.Session{
		ID:        id,
		Title:     "title " + id,
		Who:       ledger.WhoAgent,
		Model:     "test/model",
		CreatedAt: base,
		UpdatedAt: updated,
		Status:    ledger.StatusActive,
	}
}

func newPage(sessionID string, id int64, content string) ledger.Page {
	start := base.Add(time.Duration(id) * time.Second)
	return ledger.Page{
		SessionID: sessionID,
		PageID:    id,
		Who:       ledger.WhoUser,
		Type:      ledger.TypeForID(id),
		TimeStart: start,
		TimeEnd:   start,
		Content:   content,
	}
}

func testSessionLifecycle(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))

	got, err := s.FindSession(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "title a", got.Title)
	require.Equal(t, ledger.StatusActive, got.Status)

	title := "renamed"
	closed := ledger.StatusClosed
	updated, err := s.UpdateSessionFields(ctx, "a", ledger.SessionUpdate{Title: &title, Status: &closed, UpdatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Title)
	require.Equal(t, ledger.StatusClosed, updated.Status)
	require.True(t, updated.UpdatedAt.Equal(base.Add(time.Minute)))

	_, err = s.FindSession(ctx, "missing")
	require.True(t, errors.Is(err, ledger.ErrSessionNotFound))
	_, err = s.UpdateSessionFields(ctx, "missing", ledger.SessionUpdate{Title: &title})
	require.True(t, errors.Is(err, ledger.ErrSessionNotFound))

	require.NoError(t, s.DeleteSession(ctx, "a"))
	require.True(t, errors.Is(s.DeleteSession(ctx, "a"), ledger.ErrSessionNotFound))
}

func testSessionOrdering(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("old", base)))
	require.NoError(t, s.InsertSession(ctx, newSession("mid", base.Add(time.Minute))))
	require.NoError(t, s.InsertSession(ctx, newSession("new", base.Add(2*time.Minute))))

	closed := ledger.StatusClosed
	_, err := s.UpdateSessionFields(ctx, "mid", ledger.SessionUpdate{Status: &closed})
	require.NoError(t, err)

	all, err := s.FindSessions(ctx, ledger.SessionFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"new", "mid", "old"}, sessionIDs(all))

	active, err := s.FindSessions(ctx, ledger.SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Equal(t, []string{"new", "old"}, sessionIDs(active))

	limited, err := s.FindSessions(ctx, ledger.SessionFilter{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"new"}, sessionIDs(limited))
}

func testPageUniqueness(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))
	require.NoError(t, s.InsertPage(ctx, newPage("a", 1, "hi")))

	err := s.InsertPage(ctx, newPage("a", 1, "again"))
	require.True(t, errors.Is(err, ledger.ErrDuplicatePage), "got %v", err)

	page, err := s.FindPage(ctx, "a", 1)
	require.NoError(t, err)
	require.Equal(t, "hi", page.Content)

	_, err = s.FindPage(ctx, "a", 2)
	require.True(t, errors.Is(err, ledger.ErrPageNotFound))
}

func testAppendPage(t *testing.T, s ledger.Store) {
	appender, ok := s.(ledger.PageAppender)
	if !ok {
		t.Skip("store does not append atomically")
	}
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))

	session, err := appender.AppendPage(ctx, newPage("a", 1, "hi"), base.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), session.LastPageID)

	session, err = appender.AppendPage(ctx, newPage("a", 2, ""), base.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(2), session.LastPageID)

	_, err = appender.AppendPage(ctx, newPage("a", 2, ""), base.Add(3*time.Second))
	require.True(t, errors.Is(err, ledger.ErrDuplicatePage))

	_, err = appender.AppendPage(ctx, newPage("missing", 1, "x"), base)
	require.True(t, errors.Is(err, ledger.ErrSessionNotFound))

	reloaded, err := s.FindSession(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(2), reloaded.LastPageID)
}

func testConditionalCommit(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))
	require.NoError(t, s.InsertPage(ctx, newPage("a", 1, "hi")))
	require.NoError(t, s.InsertPage(ctx, newPage("a", 2, "")))

	end := base.Add(10 * time.Second)
	page, err := s.UpdatePageContent(ctx, "a", 2, "Hello", end)
	require.NoError(t, err)
	require.Equal(t, "Hello", page.Content)
	require.True(t, page.TimeEnd.Equal(end))

	_, err = s.UpdatePageContent(ctx, "a", 2, "Overwrite", end.Add(time.Second))
	require.True(t, errors.Is(err, ledger.ErrDuplicateCommit))

	stored, err := s.FindPage(ctx, "a", 2)
	require.NoError(t, err)
	require.Equal(t, "Hello", stored.Content)

	_, err = s.UpdatePageContent(ctx, "a", 1, "nope", end)
	require.True(t, errors.Is(err, ledger.ErrNotResponse))

	_, err = s.UpdatePageContent(ctx, "a", 4, "nope", end)
	require.True(t, errors.Is(err, ledger.ErrPageNotFound))
}

func testRecentPages(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))
	for _, id := range []int64{3, 1, 4, 2, 5} {
		require.NoError(t, s.InsertPage(ctx, newPage("a", id, "x")))
	}

	all, err := s.FindPagesBySession(ctx, "a", 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, pageIDs(all))

	recent, err := s.FindPagesBySession(ctx, "a", 2)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5}, pageIDs(recent))

	none, err := s.FindPagesBySession(ctx, "other", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testCascadeDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))
	require.NoError(t, s.InsertSession(ctx, newSession("b", base)))
	require.NoError(t, s.InsertPage(ctx, newPage("a", 1, "a1")))
	require.NoError(t, s.InsertPage(ctx, newPage("b", 1, "b1")))

	if cascader, ok := s.(ledger.CascadeDeleter); ok {
		require.NoError(t, cascader.DeleteSessionCascade(ctx, "a"))
	} else {
		require.NoError(t, s.DeletePagesBySession(ctx, "a"))
		require.NoError(t, s.DeleteSession(ctx, "a"))
	}

	pages, err := s.FindPagesBySession(ctx, "a", 0)
	require.NoError(t, err)
	require.Empty(t, pages)

	other, err := s.FindPagesBySession(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func testRetagResponses(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))
	for id := int64(1); id <= 4; id++ {
		require.NoError(t, s.InsertPage(ctx, newPage("a", id, "x")))
	}

	n, err := s.UpdateResponseWho(ctx, "a", "@Claude")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	pages, err := s.FindPagesBySession(ctx, "a", 0)
	require.NoError(t, err)
	for _, p := range pages {
		if p.Type == ledger.PageResponse {
			require.Equal(t, "@Claude", p.Who)
		} else {
			require.Equal(t, ledger.WhoUser, p.Who)
		}
	}
}

func sessionIDs(sessions []ledger.Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func pageIDs(pages []ledger.Page) []int64 {
	out := make([]int64, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.PageID)
	}
	return out
}

func testRejectsCorruptPages(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, newSession("a", base)))

	wrongParity := newPage("a", 2, "hi")
	wrongParity.Type = ledger.PageInvoke
	err := s.InsertPage(ctx, wrongParity)
	require.True(t, errors.Is(err, ledger.ErrCorruptPage), "got %v", err)

	_, err = s.FindPage(ctx, "a", 2)
	require.True(t, errors.Is(err, ledger.ErrPageNotFound), "corrupt page must not be stored")

	if appender, ok := s.(ledger.PageAppender); ok {
		_, err = appender.AppendPage(ctx, wrongParity, base)
		require.True(t, errors.Is(err, ledger.ErrCorruptPage), "got %v", err)
	}
}
