package pipeline

import (
	"errors"
	"fmt"

	"github.com/vikigenius/bugscraper/internal/ledger"
)

// Range is a half-open interval of bug ids [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of ids in the range.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// IDs lists every id in the range, ascending.
func (r Range) IDs() []int {
	ids := make([]int, 0, r.Len())
	for id := r.Start; id < r.End; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Chunks splits [start, end) into consecutive ranges of size ids; the last
// range may be shorter. An empty interval yields no ranges.
func Chunks(start, end, size int) ([]Range, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if start < 0 {
		return nil, fmt.Errorf("start id must be non-negative, got %d", start)
	}
	if end < start {
		return nil, errors.New("end id must not be below start id")
	}
	ranges := make([]Range, 0, (end-start+size-1)/size)
	for lo := start; lo < end; lo += size {
		ranges = append(ranges, Range{Start: lo, End: min(lo+size, end)})
	}
	return ranges, nil
}

// ResumeStart returns the id a resumed bug sweep should start from: just past
// the highest numeric bug id in l, or start when that is further along.
func ResumeStart(l *ledger.Ledger, start int) int {
	if l == nil {
		return start
	}
	return max(start, l.MaxBugID()+1)
}
