package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func page(start, end time.Duration) ledger.Page {
	return ledger.Page{TimeStart: t0.Add(start), TimeEnd: t0.Add(end)}
}

func TestDeltaOfCommittedPage(t *testing.T) {
	assert.Equal(t, int64(500), Delta(page(0, 500*time.Millisecond)))
	assert.Equal(t, int64(0), Delta(page(time.Second, time.Second)))
}

func TestGapBetweenPages(t *testing.T) {
	a := page(0, 2*time.Second)
	b := page(5*time.Second, 5*time.Second)
	assert.Equal(t, int64(3000), Gap(a, b))
	assert.Equal(t, int64(-5000), Gap(b, a))
}

func TestGapsAndTotal(t *testing.T) {
	pages := []ledger.Page{
		page(0, 0),
		page(time.Second, 3*time.Second),
		page(4*time.Second, 4*time.Second),
	}
	assert.Equal(t, []int64{1000, 1000}, Gaps(pages))
	assert.Nil(t, Gaps(pages[:1]))
	assert.Equal(t, int64(2000), Total(pages))
}
