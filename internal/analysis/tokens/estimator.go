// Package tokens estimates how many model tokens a piece of text occupies.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/weaviate/tiktoken-go"
)

// Encoding is the BPE table used for estimates.
const Encoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Estimator counts tokens with tiktoken. When the encoding cannot be loaded it
// falls back to roughly four characters per token.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns an Estimator that loads its encoding on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		log.Warn().Err(err).Str("component", "tokens").Msg("tiktoken unavailable, using rune heuristic")
		return
	}
	e.enc = enc
}

// Count implements Counter.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(e.load)
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return Approximate(text)
}

// Approximate is the fallback estimate: one token per four runes, at least one.
func Approximate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return (n + 3) / 4
}
