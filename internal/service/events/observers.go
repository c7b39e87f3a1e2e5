// Package events provides observers for turn events.
package events

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/service/turn"
)

// Fanout forwards every event to each observer in order. Nil entries are skipped.
type Fanout []turn.Observer

func (f Fanout) OnEvent(e turn.Event) {
	for _, o := range f {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

// LogObserver writes events to zerolog. Tokens go to trace level.
type LogObserver struct {
	Logger zerolog.Logger
}

// NewLogObserver logs through the global logger.
func NewLogObserver() *LogObserver {
	return &LogObserver{Logger: log.With().Str("component", "events").Logger()}
}

func (l *LogObserver) OnEvent(e turn.Event) {
	var ev *zerolog.Event
	switch e.Type {
	case turn.EventToken:
		ev = l.Logger.Trace().Int("bytes", len(e.Fragment))
	case turn.EventResponseFailed:
		ev = l.Logger.Warn().Str("error", e.Error)
	default:
		ev = l.Logger.Debug()
	}
	ev = ev.Str("event", string(e.Type)).Str("session", e.SessionID).Int64("page", e.PageID)
	if e.Delta != nil {
		ev = ev.Int64("delta", *e.Delta)
	}
	if e.Outcome != "" {
		ev = ev.Str("outcome", string(e.Outcome))
	}
	ev.Msg("turn event")
}
