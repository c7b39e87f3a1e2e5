package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(ledger.ErrSessionNotFound, "x"), http.StatusNotFound},
		{ledger.ErrPageNotFound, http.StatusNotFound},
		{errors.Wrap(ledger.ErrSessionClosed, "x"), http.StatusGone},
		{ledger.ErrDuplicateCommit, http.StatusConflict},
		{ledger.ErrNoActiveSession, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	SendSSEEvent(rec, rec, "token", map[string]string{"fragment": "Hel"})
	SendSSEChunk(rec, rec, map[string]int{"n": 1})

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: token\ndata: {\"fragment\":\"Hel\"}\n\ndata: {\"n\":1}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
