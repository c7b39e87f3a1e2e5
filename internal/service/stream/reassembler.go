// Package stream decodes the line-delimited event stream returned by
// OpenAI-compatible chat completion endpoints into content fragments.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DataPrefix marks an event-stream data line.
	DataPrefix = "data:"
	// DoneSentinel is the payload of the terminating data line.
	DoneSentinel = "[DONE]"
)

// ErrUpstream is wrapped by errors reported inside the stream itself.
var ErrUpstream = errors.New("upstream reported an error")

type frameKind int

const (
	frameSkip frameKind = iota
	frameContent
	frameDone
	frameError
	frameMalformed
)

type frame struct {
	kind frameKind
	text string
}

// decodeLine classifies one complete line of the stream.
func decodeLine(line string) frame {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, DataPrefix) {
		return frame{kind: frameSkip}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, DataPrefix))
	if payload == DoneSentinel {
		return frame{kind: frameDone}
	}

	data := []byte(payload)
	if !json.Valid(data) {
		return frame{kind: frameMalformed, text: payload}
	}

	if value, dataType, _, err := jsonparser.Get(data, "error"); err == nil && dataType != jsonparser.Null {
		msg := string(value)
		if dataType == jsonparser.Object {
			if m, err := jsonparser.GetString(value, "message"); err == nil {
				msg = m
			}
		}
		return frame{kind: frameError, text: msg}
	}

	value, dataType, _, err := jsonparser.Get(data, "choices", "[0]", "delta", "content")
	if err != nil || dataType != jsonparser.String {
		return frame{kind: frameSkip}
	}
	text, err := jsonparser.ParseString(value)
	if err != nil || text == "" {
		return frame{kind: frameSkip}
	}
	return frame{kind: frameContent, text: text}
}

// split appends chunk to remainder and returns the complete lines plus the
// trailing partial line.
func split(remainder string, chunk []byte) ([]string, string) {
	buf := remainder + string(chunk)
	lines := strings.Split(buf, "\n")
	return lines[:len(lines)-1], lines[len(lines)-1]
}

// Feed decodes chunk against the carried remainder. It returns the content
// fragments of every complete line and the new remainder, which holds the
// unterminated tail and must be passed to the next call. Malformed frames are
// dropped.
func Feed(remainder string, chunk []byte) ([]string, string) {
	lines, rest := split(remainder, chunk)
	var fragments []string
	for _, line := range lines {
		if f := decodeLine(line); f.kind == frameContent {
			fragments = append(fragments, f.text)
		}
	}
	return fragments, rest
}

// Flush decodes the residual remainder after the transport reported end of data.
func Flush(remainder string) []string {
	fragments, rest := Feed(remainder, nil)
	if f := decodeLine(rest); f.kind == frameContent {
		fragments = append(fragments, f.text)
	}
	return fragments
}

// Reassembler is the stateful form of Feed/Flush. Besides fragments it keeps
// track of the end-of-stream sentinel, the first error frame and the number of
// malformed frames it dropped. It is not safe for concurrent use.
type Reassembler struct {
	remainder string
	done      bool
	malformed int
	err       error
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{}
}

// Feed decodes the next raw chunk.
func (r *Reassembler) Feed(chunk []byte) []string {
	lines, rest := split(r.remainder, chunk)
	r.remainder = rest
	var fragments []string
	for _, line := range lines {
		fragments = r.apply(decodeLine(line), fragments)
	}
	return fragments
}

// Flush decodes whatever is still buffered and resets the buffer.
func (r *Reassembler) Flush() []string {
	fragments := r.Feed(nil)
	rest := r.remainder
	r.remainder = ""
	return r.apply(decodeLine(rest), fragments)
}

func (r *Reassembler) apply(f frame, fragments []string) []string {
	switch f.kind {
	case frameContent:
		return append(fragments, f.text)
	case frameDone:
		r.done = true
	case frameError:
		if r.err == nil {
			r.err = errors.Wrap(ErrUpstream, f.text)
		}
	case frameMalformed:
		r.malformed++
		log.Debug().Str("component", "stream").Int("bytes", len(f.text)).Msg("dropping malformed frame")
	}
	return fragments
}

// Done reports whether the end-of-stream sentinel was seen.
func (r *Reassembler) Done() bool { return r.done }

// Malformed is the number of data lines that failed to parse.
func (r *Reassembler) Malformed() int { return r.malformed }

// Err returns the first error frame sent by the upstream, if any.
func (r *Reassembler) Err() error { return r.err }

// Pending returns the buffered partial line.
func (r *Reassembler) Pending() string { return r.remainder }
