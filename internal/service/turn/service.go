package turn

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/ai"
	pageledger "github.com/zhouzirui/chronoledger/internal/service/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/session"
)

const titleLimit = 50

var ErrEmptyMessage = errors.New("message is empty")

// Provider is an Upstream that also knows which model it talks to.
type Provider interface {
	Upstream
	Model() string
	AgentName() string
	ModelDisplayName(ctx context.Context, modelID string) string
}

// Options tune a Service.
type Options struct {
	// UserWho tags INVOKE pages written by Ask.
	UserWho string
	// HistoryLimit caps how many recent pages are sent upstream; zero sends all.
	HistoryLimit int
}

// Service orchestrates a full exchange: the user's INVOKE page, the history
// sent upstream and the streamed RESPONSE page.
type Service struct {
	sessions *session.Service
	pages    *pageledger.Service
	provider Provider
	pipeline *Pipeline
	opts     Options
}

// NewService wires the turn orchestration.
func NewService(sessions *session.Service, pages *pageledger.Service, provider Provider, opts Options) *Service {
	if opts.UserWho == "" {
		opts.UserWho = ledger.WhoUser
	}
	return &Service{
		sessions: sessions,
		pages:    pages,
		provider: provider,
		pipeline: NewPipeline(pages, provider),
		opts:     opts,
	}
}

// Ask records text as an INVOKE page and streams the agent's answer into the
// next RESPONSE page. A nil handle starts a new session titled after text.
// The returned handle reflects the session after the turn.
func (s *Service) Ask(ctx context.Context, handle *ledger.Session, text string, obs Observer) (*ledger.Session, Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return handle, Result{Outcome: Failed, Err: ErrEmptyMessage}, ErrEmptyMessage
	}

	if handle == nil {
		created, err := s.sessions.CreateSession(ctx, session.CreateOptions{
			Title: TitleFor(text),
			Model: s.provider.ModelDisplayName(ctx, s.provider.Model()),
			Who:   s.provider.AgentName(),
		})
		if err != nil {
			return nil, Result{Outcome: Failed, Err: err}, err
		}
		handle = created
	}

	invoke, err := s.pages.CreateInvoke(ctx, handle, s.opts.UserWho, text, nil)
	if err != nil {
		return handle, Result{Outcome: Failed, Err: err}, err
	}
	obs.OnEvent(invokeEvent(invoke))

	var history []ledger.Page
	if s.opts.HistoryLimit > 0 {
		history, err = s.pages.GetRecentPages(ctx, handle, s.opts.HistoryLimit)
	} else {
		history, err = s.pages.GetPages(ctx, handle)
	}
	if err != nil {
		return handle, Result{Outcome: Failed, Err: err}, errors.Wrap(err, "load history")
	}
	messages, err := ai.BuildHistory(history)
	if err != nil {
		return handle, Result{Outcome: Failed, Err: err}, err
	}

	result, err := s.pipeline.Run(ctx, handle, s.provider.AgentName(), messages, obs)
	return handle, result, err
}

// TitleFor derives a session title from the first message.
func TitleFor(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit]) + "..."
}
