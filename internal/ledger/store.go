package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/natefinch/atomic"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
)

// maxLineBytes bounds one JSONL line; bug records with long descriptions
// exceed bufio's 64 KiB default.
const maxLineBytes = 16 * 1024 * 1024

// BugFilePattern matches year partition files holding bugs.
var BugFilePattern = regexp.MustCompile(`^(\d{4})\.jsonl$`)

// CorruptError reports a ledger or partition file that exists but cannot be
// parsed.
type CorruptError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s:%d: corrupt record: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Load reads a ledger file. A missing file yields an empty ledger; any
// malformed or duplicate line fails the whole load.
func Load(path string) (*Ledger, error) {
	l := New()
	f, err := os.Open(path) // #nosec G304 -- path is the operator's save directory.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	err = scanLines(f, func(lineNo int, line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return &CorruptError{Path: path, Line: lineNo, Err: err}
		}
		if e.CommentIDs == nil {
			e.CommentIDs = []string{}
		}
		if err := l.Append(e); err != nil {
			return &CorruptError{Path: path, Line: lineNo, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return l, nil
}

// Exists reports whether a ledger file is present in dir.
func Exists(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, FileName))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat ledger: %w", err)
	}
}

// PartitionYears lists the years that have a bug partition file in dir,
// ascending. A missing dir has no years.
func PartitionYears(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var years []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := BugFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		years = append(years, year)
	}
	slices.Sort(years)
	return years, nil
}

// Rebuild reconstructs a ledger by replaying every bug partition file in dir
// in ascending year order. Entries get the year from the filename and no
// comment or history progress. A bug seen twice keeps its first entry.
func Rebuild(dir string) (*Ledger, error) {
	l := New()
	if err := mergePartitions(l, dir); err != nil {
		return nil, err
	}
	return l, nil
}

// Reconcile loads the ledger in dir and appends an entry for every bug in
// the partition files that the ledger does not hold yet, as happens after a
// crash between checkpoints. It returns the number of entries added.
func Reconcile(dir string) (*Ledger, int, error) {
	l, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, 0, err
	}
	before := l.Len()
	if err := mergePartitions(l, dir); err != nil {
		return nil, 0, err
	}
	return l, l.Len() - before, nil
}

func mergePartitions(l *Ledger, dir string) error {
	years, err := PartitionYears(dir)
	if err != nil {
		return err
	}
	for _, year := range years {
		path := filepath.Join(dir, fmt.Sprintf("%d.jsonl", year))
		if err := replayBugFile(l, path, year); err != nil {
			return err
		}
	}
	return nil
}

// LoadOrRebuild loads the ledger in dir, falling back to Rebuild when no
// ledger file exists yet.
func LoadOrRebuild(dir string) (l *Ledger, rebuilt bool, err error) {
	ok, err := Exists(dir)
	if err != nil {
		return nil, false, err
	}
	if ok {
		l, err = Load(filepath.Join(dir, FileName))
		return l, false, err
	}
	l, err = Rebuild(dir)
	return l, true, err
}

// Persist overwrites path with every entry, one JSON object per line. The
// file is replaced atomically so a crash never leaves a torn ledger.
func (l *Ledger) Persist(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range l.entries {
		if e.CommentIDs == nil {
			e.CommentIDs = []string{}
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode ledger entry %s: %w", e.BugID, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write ledger %s: %w", path, err)
	}
	return nil
}

func replayBugFile(l *Ledger, path string, year int) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from a directory listing.
	if err != nil {
		return fmt.Errorf("open partition %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	err = scanLines(f, func(lineNo int, line []byte) error {
		id, err := bugzilla.ParseBugID(line)
		if err != nil {
			return &CorruptError{Path: path, Line: lineNo, Err: err}
		}
		if l.Contains(id) {
			return nil
		}
		return l.Append(Entry{BugID: id, Year: year, CommentIDs: []string{}})
	})
	if err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}
	return nil
}

func scanLines(f *os.File, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", f.Name(), err)
	}
	return nil
}
