// Package turn runs one agent turn: it opens a draft response page, relays the
// provider stream to an observer and commits the accumulated answer.
package turn

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/stream"
)

const defaultReadSize = 4096

// ErrMalformedStream is returned when the provider answered 2xx but nothing in
// the body could be decoded.
var ErrMalformedStream = errors.New("malformed response stream")

// Upstream opens the provider's event stream for a conversation.
type Upstream interface {
	OpenStream(ctx context.Context, history []*schema.Message) (io.ReadCloser, error)
}

// Ledger is the part of the page ledger a turn needs.
type Ledger interface {
	StartResponse(ctx context.Context, session *ledger.Session, who string, rank *float64) (ledger.Page, error)
	CommitResponse(ctx context.Context, session *ledger.Session, pageID int64, content string) (ledger.Page, error)
}

// Result describes how a turn ended. Page is the committed page for Finished
// and Cancelled, and the untouched draft (if one was opened) for Failed.
type Result struct {
	Outcome   Outcome
	Page      ledger.Page
	Content   string
	Malformed int
	Err       error
}

// Pipeline drives a single response from draft to commit.
type Pipeline struct {
	ledger   Ledger
	upstream Upstream
	readSize int
}

// NewPipeline wires a pipeline to the ledger and provider.
func NewPipeline(l Ledger, upstream Upstream) *Pipeline {
	return &Pipeline{ledger: l, upstream: upstream, readSize: defaultReadSize}
}

// Run produces one RESPONSE page. Cancelling ctx after the draft was opened
// commits the partial answer and reports Cancelled; any other failure leaves
// the draft uncommitted, emits responseFailed and returns the error.
func (p *Pipeline) Run(ctx context.Context, session *ledger.Session, who string, history []*schema.Message, obs Observer) (Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if session == nil {
		return p.fail(obs, "", Result{}, ledger.ErrNoActiveSession)
	}
	if ctx.Err() != nil {
		return Result{Outcome: Cancelled}, nil
	}

	draft, err := p.ledger.StartResponse(ctx, session, who, nil)
	if err != nil {
		return p.fail(obs, session.ID, Result{}, errors.Wrap(err, "start response"))
	}
	obs.OnEvent(Event{
		Type:      EventResponseStarted,
		SessionID: draft.SessionID,
		PageID:    draft.PageID,
		Who:       draft.Who,
		TimeStart: &draft.TimeStart,
	})

	logger := log.With().
		Str("component", "turn").
		Str("session", draft.SessionID).
		Int64("page", draft.PageID).
		Logger()

	result := Result{Page: draft}
	var acc strings.Builder
	decoder := stream.New()

	body, err := p.upstream.OpenStream(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			return p.commit(ctx, obs, session, result, &acc, Cancelled)
		}
		return p.fail(obs, session.ID, result, err)
	}
	defer body.Close()

	emit := func(fragments []string) {
		for _, f := range fragments {
			acc.WriteString(f)
			obs.OnEvent(Event{Type: EventToken, SessionID: draft.SessionID, PageID: draft.PageID, Fragment: f})
		}
	}

	buf := make([]byte, p.readSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			emit(decoder.Feed(buf[:n]))
		}
		if upstreamErr := decoder.Err(); upstreamErr != nil {
			result.Malformed = decoder.Malformed()
			return p.fail(obs, session.ID, result, upstreamErr)
		}
		if readErr == io.EOF || decoder.Done() {
			break
		}
		if readErr != nil {
			result.Malformed = decoder.Malformed()
			if ctx.Err() != nil {
				logger.Info().Int("chars", acc.Len()).Msg("stream cancelled by caller")
				return p.commit(ctx, obs, session, result, &acc, Cancelled)
			}
			return p.fail(obs, session.ID, result, errors.Wrap(readErr, "read stream"))
		}
	}

	emit(decoder.Flush())
	result.Malformed = decoder.Malformed()
	if upstreamErr := decoder.Err(); upstreamErr != nil {
		return p.fail(obs, session.ID, result, upstreamErr)
	}
	if acc.Len() == 0 && !decoder.Done() && decoder.Malformed() > 0 {
		return p.fail(obs, session.ID, result, ErrMalformedStream)
	}
	if result.Malformed > 0 {
		logger.Warn().Int("malformed", result.Malformed).Msg("dropped malformed frames")
	}
	return p.commit(ctx, obs, session, result, &acc, Finished)
}

func (p *Pipeline) commit(ctx context.Context, obs Observer, session *ledger.Session, result Result, acc *strings.Builder, outcome Outcome) (Result, error) {
	if outcome == Cancelled {
		ctx = context.WithoutCancel(ctx)
	}
	content := acc.String()
	page, err := p.ledger.CommitResponse(ctx, session, result.Page.PageID, content)
	if err != nil {
		return p.fail(obs, session.ID, result, errors.Wrap(err, "commit response"))
	}

	result.Outcome = outcome
	result.Page = page
	result.Content = content
	obs.OnEvent(committedEvent(page, outcome))

	log.Info().
		Str("component", "turn").
		Str("session", page.SessionID).
		Int64("page", page.PageID).
		Str("outcome", string(outcome)).
		Int64("delta", page.Delta()).
		Int("chars", len(content)).
		Msg("response committed")
	return result, nil
}

func (p *Pipeline) fail(obs Observer, sessionID string, result Result, err error) (Result, error) {
	result.Outcome = Failed
	result.Err = err
	obs.OnEvent(Event{
		Type:      EventResponseFailed,
		SessionID: sessionID,
		PageID:    result.Page.PageID,
		Outcome:   Failed,
		Error:     err.Error(),
	})
	log.Error().Err(err).Str("component", "turn").Str("session", sessionID).Int64("page", result.Page.PageID).Msg("response failed")
	return result, err
}
