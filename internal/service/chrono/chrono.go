// Package chrono computes page durations and the gaps between pages.
package chrono

import (
	"time"

	"github.com/zhouzirui/chronoledger/internal/model/ledger"
)

// Delta is the intrinsic duration of a page in milliseconds (timeEnd - timeStart).
func Delta(p ledger.Page) int64 {
	return Millis(p.TimeEnd.Sub(p.TimeStart))
}

// Gap is the chronoception between two pages: from.TimeEnd to to.TimeStart in
// milliseconds. It is negative when to started before from ended.
func Gap(from, to ledger.Page) int64 {
	return Millis(to.TimeStart.Sub(from.TimeEnd))
}

// Gaps returns the gap preceding each page after the first, in order.
func Gaps(pages []ledger.Page) []int64 {
	if len(pages) < 2 {
		return nil
	}
	out := make([]int64, 0, len(pages)-1)
	for i := 1; i < len(pages); i++ {
		out = append(out, Gap(pages[i-1], pages[i]))
	}
	return out
}

// Total sums the intrinsic durations of pages.
func Total(pages []ledger.Page) int64 {
	var sum int64
	for _, p := range pages {
		sum += Delta(p)
	}
	return sum
}

// Millis truncates d to whole milliseconds.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
