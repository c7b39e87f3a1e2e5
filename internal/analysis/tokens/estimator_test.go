package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproximate(t *testing.T) {
	assert.Equal(t, 0, Approximate(""))
	assert.Equal(t, 1, Approximate("hi"))
	assert.Equal(t, 2, Approximate("hello world"))
	assert.Equal(t, 1, Approximate("世界"))
}

func TestEstimatorCount(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Count(""))

	short := e.Count("Hello")
	long := e.Count(strings.Repeat("Hello there, ledger. ", 20))
	assert.Positive(t, short)
	assert.Greater(t, long, short)
}
