package partition

import (
	"fmt"
	"path/filepath"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/ledger"
)

// FileName returns the partition file name for a year and kind:
// <year>.jsonl, <year>_comments.jsonl, or <year>_history.jsonl.
func FileName(year int, kind bugzilla.Kind) string {
	switch kind {
	case bugzilla.KindComment:
		return fmt.Sprintf("%d_comments.jsonl", year)
	case bugzilla.KindHistory:
		return fmt.Sprintf("%d_history.jsonl", year)
	default:
		return fmt.Sprintf("%d.jsonl", year)
	}
}

// LedgerPath returns the ledger file inside dir.
func LedgerPath(dir string) string {
	return filepath.Join(dir, ledger.FileName)
}

// DiscoverYears lists the years that already have bug partitions in dir.
func DiscoverYears(dir string) ([]int, error) {
	return ledger.PartitionYears(dir)
}
