package turn

import (
	"time"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// EventType names what happened during a turn.
type EventType string

const (
	EventInvoke            EventType = "invoke"
	EventResponseStarted   EventType = "responseStarted"
	EventToken             EventType = "token"
	EventResponseCommitted EventType = "responseCommitted"
	EventResponseFailed    EventType = "responseFailed"
)

// Outcome is the terminal state of a turn.
type Outcome string

const (
	// Finished means the stream ended normally and the full answer was committed.
	Finished Outcome = "finished"
	// Cancelled means the caller stopped the turn; whatever arrived was committed.
	Cancelled Outcome = "cancelled"
	// Failed means nothing was committed; the draft page, if any, stays empty.
	Failed Outcome = "failed"
)

// Event is delivered to an Observer as the turn progresses.
type Event struct {
	Type      EventType  `json:"type"`
	SessionID string     `json:"sessionId"`
	PageID    int64      `json:"pageId,omitempty"`
	Who       string     `json:"who,omitempty"`
	Content   string     `json:"content,omitempty"`
	Fragment  string     `json:"fragment,omitempty"`
	TimeStart *time.Time `json:"timeStart,omitempty"`
	TimeEnd   *time.Time `json:"timeEnd,omitempty"`
	Delta     *int64     `json:"delta,omitempty"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func invokeEvent(page ledger.Page) Event {
	return Event{
		Type:      EventInvoke,
		SessionID: page.SessionID,
		PageID:    page.PageID,
		Who:       page.Who,
		Content:   page.Content,
		TimeStart: &page.TimeStart,
	}
}

func committedEvent(page ledger.Page, outcome Outcome) Event {
	delta := page.Delta()
	return Event{
		Type:      EventResponseCommitted,
		SessionID: page.SessionID,
		PageID:    page.PageID,
		Who:       page.Who,
		TimeStart: &page.TimeStart,
		TimeEnd:   &page.TimeEnd,
		Delta:     &delta,
		Outcome:   outcome,
	}
}

// Observer receives turn events. Calls happen on the goroutine running the
// turn, in order.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

// Summary is the client-facing digest of a finished turn.
type Summary struct {
	SessionID string  `json:"sessionId,omitempty"`
	PageID    int64   `json:"pageId,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Content   string  `json:"content,omitempty"`
	Malformed int     `json:"malformed,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Summarize digests the result of Ask. err is the error Ask returned.
func Summarize(handle *ledger.Session, result Result, err error) Summary {
	s := Summary{
		PageID:    result.Page.PageID,
		Outcome:   result.Outcome,
		Content:   result.Content,
		Malformed: result.Malformed,
	}
	if handle != nil {
		s.SessionID = handle.ID
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
