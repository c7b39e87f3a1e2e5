package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	"github.com/zhouzirui/chronoledger/internal/store/memory"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := &steppingClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	n := 0
	svc := NewService(store, store,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("s%d", n)
		}))
	return svc, store
}

func TestCreateSession(t *testing.T) {
	svc, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateOptions{Title: " Test ", Model: "anthropic/claude-sonnet-4", Who: "@Claude"})
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, "Test", session.Title)
	assert.Equal(t, int64(0), session.LastPageID)
	assert.Equal(t, ledger.StatusActive, session.Status)
	assert.Equal(t, session.CreatedAt, session.UpdatedAt)

	loaded, err := svc.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, *session, *loaded)
}

func TestCreateTitledUsesDefaults(t *testing.T) {
	svc, _ := newTestRegistry(t)

	session, err := svc.CreateTitled(context.Background(), "Quick")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, session.Model)
	assert.Equal(t, ledger.WhoAgent, session.Who)

	_, err = svc.CreateTitled(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrTitleRequired))
}

func TestUnknownSession(t *testing.T) {
	svc, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := svc.LoadSession(ctx, "nope")
	assert.True(t, errors.Is(err, ledger.ErrSessionNotFound))
	_, err = svc.RenameSession(ctx, "nope", "x")
	assert.True(t, errors.Is(err, ledger.ErrSessionNotFound))
	_, err = svc.CloseSession(ctx, "nope")
	assert.True(t, errors.Is(err, ledger.ErrSessionNotFound))
	err = svc.DeleteSession(ctx, "nope")
	assert.True(t, errors.Is(err, ledger.ErrSessionNotFound))
}

func TestRenameAndClose(t *testing.T) {
	svc, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.CreateTitled(ctx, "Old")
	require.NoError(t, err)

	renamed, err := svc.RenameSession(ctx, session.ID, "New")
	require.NoError(t, err)
	assert.Equal(t, "New", renamed.Title)
	assert.True(t, renamed.UpdatedAt.After(session.UpdatedAt))

	closed, err := svc.CloseSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, closed.Closed())

	again, err := svc.CloseSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, again.Closed())
}

func TestUpdateWhoRetagsResponses(t *testing.T) {
	svc, store := newTestRegistry(t)
	ctx := context.Background()
	pages := pageledger.NewService(store, store)

	session, err := svc.CreateTitled(ctx, "Who")
	require.NoError(t, err)
	_, err = pages.CreateInvoke(ctx, session, "", "hi", nil)
	require.NoError(t, err)
	draft, err := pages.StartResponse(ctx, session, "", nil)
	require.NoError(t, err)
	assert.Equal(t, ledger.WhoAgent, draft.Who)

	updated, err := svc.UpdateWho(ctx, session.ID, "@Claude", false)
	require.NoError(t, err)
	assert.Equal(t, "@Claude", updated.Who)
	page, err := store.FindPage(ctx, session.ID, draft.PageID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WhoAgent, page.Who)

	_, err = svc.UpdateWho(ctx, session.ID, "@Claude", true)
	require.NoError(t, err)
	page, err = store.FindPage(ctx, session.ID, draft.PageID)
	require.NoError(t, err)
	assert.Equal(t, "@Claude", page.Who)
	invoke, err := store.FindPage(ctx, session.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.WhoUser, invoke.Who)
}

func TestEditSessionValidatesBeforeWriting(t *testing.T) {
	svc, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.CreateTitled(ctx, "Original")
	require.NoError(t, err)

	title, blank := "Renamed", "  "
	_, err = svc.EditSession(ctx, session.ID, Changes{Title: &title, Who: &blank})
	assert.True(t, errors.Is(err, ErrWhoRequired))

	unchanged, err := svc.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", unchanged.Title)
	assert.Equal(t, session.UpdatedAt, unchanged.UpdatedAt)

	_, err = svc.EditSession(ctx, session.ID, Changes{})
	assert.True(t, errors.Is(err, ErrNothingToChange))

	who := " @Pilot "
	edited, err := svc.EditSession(ctx, session.ID, Changes{Title: &title, Who: &who})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", edited.Title)
	assert.Equal(t, "@Pilot", edited.Who)
}

func TestDeleteCascades(t *testing.T) {
	svc, store := newTestRegistry(t)
	ctx := context.Background()
	pages := pageledger.NewService(store, store)

	session, err := svc.CreateTitled(ctx, "Doomed")
	require.NoError(t, err)
	_, err = pages.CreateInvoke(ctx, session, "", "hi", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, session.ID))

	left, err := pages.GetPages(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = svc.LoadSession(ctx, session.ID)
	assert.True(t, errors.Is(err, ledger.ErrSessionNotFound))
}

// sessionStoreOnly hides CascadeDeleter so the two-step delete runs.
type sessionStoreOnly struct {
	ledger.SessionStore
}

func TestDeleteWithoutCascadeSupport(t *testing.T) {
	store := memory.New()
	svc := NewService(sessionStoreOnly{store}, store)
	ctx := context.Background()

	session, err := svc.CreateTitled(ctx, "Two step")
	require.NoError(t, err)
	_, err = pageledger.NewService(store, store).CreateInvoke(ctx, session, "", "hi", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, session.ID))
	left, err := store.FindPagesBySession(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestListSessionsOrdering(t *testing.T) {
	svc, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := svc.CreateTitled(ctx, "A")
	require.NoError(t, err)
	b, err := svc.CreateTitled(ctx, "B")
	require.NoError(t, err)
	c, err := svc.CreateTitled(ctx, "C")
	require.NoError(t, err)

	_, err = svc.RenameSession(ctx, a.ID, "A2")
	require.NoError(t, err)
	_, err = svc.CloseSession(ctx, b.ID)
	require.NoError(t, err)

	all, err := svc.ListSessions(ctx, ledger.SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, ids(all))

	active, err := svc.ListSessions(ctx, ledger.SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, ids(active))

	limited, err := svc.ListSessions(ctx, ledger.SessionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(limited))
}

func ids(sessions []ledger.Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}
