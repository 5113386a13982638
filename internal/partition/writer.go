// Package partition appends scraped records to per-year files and keeps the
// ledger in step with what has been written.
//
// A Writer owns one open append handle per (year, kind) for its lifetime and
// the in-memory ledger of its save directory. Only one Writer may target a
// save directory at a time; concurrent processes appending to the same files
// would interleave lines unpredictably and that is not guarded against.
package partition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/bugzilla"
	"github.com/vikigenius/bugscraper/internal/ledger"
	"github.com/vikigenius/bugscraper/internal/metrics"
)

// YearNotOpenError is returned when a record belongs to a year the Writer
// has no handle for. The set of years must be decided at construction.
type YearNotOpenError struct {
	Year  int
	Kind  bugzilla.Kind
	BugID string
}

func (e *YearNotOpenError) Error() string {
	return fmt.Sprintf("no %s partition open for year %d (bug %s)", e.Kind, e.Year, e.BugID)
}

// Options controls which partitions a Writer opens.
type Options struct {
	Years []int
	Kinds []bugzilla.Kind
}

type fileKey struct {
	year int
	kind bugzilla.Kind
}

// Writer appends records to year partitions under one save directory.
type Writer struct {
	dir    string
	ledger *ledger.Ledger
	files  map[fileKey]*os.File
	logger *zap.Logger
}

// Open creates dir if needed and opens an append handle for every year and
// kind in opts. If any handle fails to open, the ones already opened are
// closed before returning.
func Open(dir string, l *ledger.Ledger, opts Options, logger *zap.Logger) (*Writer, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if len(opts.Kinds) == 0 {
		return nil, errors.New("at least one kind is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create save dir %s: %w", dir, err)
	}

	w := &Writer{
		dir:    dir,
		ledger: l,
		files:  make(map[fileKey]*os.File),
		logger: logger,
	}
	for _, year := range dedupeYears(opts.Years) {
		for _, kind := range opts.Kinds {
			path := filepath.Join(dir, FileName(year, kind))
			// #nosec G304 -- path is built from the save dir and a numeric year.
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
			if err != nil {
				closeErr := w.Close()
				return nil, errors.Join(fmt.Errorf("open partition %s: %w", path, err), closeErr)
			}
			w.files[fileKey{year: year, kind: kind}] = f
		}
	}
	logger.Debug("Opened partitions",
		zap.String("dir", dir),
		zap.Ints("years", w.Years()),
		zap.Int("handles", len(w.files)),
	)
	return w, nil
}

// OpenForBugs loads the ledger of dir, adds any bug already in a partition
// file but missing from the ledger, and opens bug partitions for years.
func OpenForBugs(dir string, years []int, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, added, err := ledger.Reconcile(dir)
	if err != nil {
		return nil, err
	}
	if added > 0 {
		logger.Warn("Ledger was behind bug partitions, recovered entries",
			zap.String("dir", dir),
			zap.Int("added", added),
			zap.Int("entries", l.Len()),
		)
	}
	return Open(dir, l, Options{Years: years, Kinds: []bugzilla.Kind{bugzilla.KindBug}}, logger)
}

// OpenForKind loads the ledger of dir, rebuilding it from bug partitions when
// no ledger file exists, and opens kind partitions for the years the ledger
// already holds.
func OpenForKind(dir string, kind bugzilla.Kind, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, rebuilt, err := ledger.LoadOrRebuild(dir)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		logger.Info("No ledger found, rebuilt from bug partitions",
			zap.String("dir", dir),
			zap.Int("entries", l.Len()),
		)
	}
	return Open(dir, l, Options{Years: l.Years(), Kinds: []bugzilla.Kind{kind}}, logger)
}

// Ledger returns the ledger the Writer updates.
func (w *Writer) Ledger() *ledger.Ledger {
	return w.ledger
}

// Dir returns the save directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Years returns the years with at least one open handle, ascending.
func (w *Writer) Years() []int {
	seen := make(map[int]struct{})
	var years []int
	for key := range w.files {
		if _, ok := seen[key.year]; ok {
			continue
		}
		seen[key.year] = struct{}{}
		years = append(years, key.year)
	}
	slices.Sort(years)
	return years
}

// SaveBugs appends each bug to its creation-year partition and declares it in
// the ledger. Every record is checked before anything is written: a record
// that cannot be parsed or whose year has no open partition fails the call
// with nothing saved. Bugs already in the ledger are skipped.
func (w *Writer) SaveBugs(records []json.RawMessage) (int, error) {
	type pending struct {
		meta bugzilla.BugMeta
		file *os.File
		line []byte
	}
	batch := make([]pending, 0, len(records))
	for _, rec := range records {
		meta, err := bugzilla.ParseBug(rec)
		if err != nil {
			return 0, fmt.Errorf("save bugs: %w", err)
		}
		f, ok := w.files[fileKey{year: meta.Year, kind: bugzilla.KindBug}]
		if !ok {
			return 0, &YearNotOpenError{Year: meta.Year, Kind: bugzilla.KindBug, BugID: meta.ID}
		}
		var line bytes.Buffer
		if err := json.Compact(&line, rec); err != nil {
			return 0, fmt.Errorf("compact bug %s: %w", meta.ID, err)
		}
		line.WriteByte('\n')
		batch = append(batch, pending{meta: meta, file: f, line: line.Bytes()})
	}

	saved := 0
	for _, p := range batch {
		if w.ledger.Contains(p.meta.ID) {
			w.logger.Debug("Bug already in ledger, skipping", zap.String("bug_id", p.meta.ID))
			continue
		}
		if _, err := p.file.Write(p.line); err != nil {
			metrics.AddRecordsSaved(bugzilla.KindBug.String(), saved)
			return saved, fmt.Errorf("append bug %s: %w", p.meta.ID, err)
		}
		if err := w.ledger.Append(ledger.Entry{BugID: p.meta.ID, Year: p.meta.Year, CommentIDs: []string{}}); err != nil {
			metrics.AddRecordsSaved(bugzilla.KindBug.String(), saved)
			return saved, fmt.Errorf("declare bug %s: %w", p.meta.ID, err)
		}
		saved++
	}
	metrics.AddRecordsSaved(bugzilla.KindBug.String(), saved)
	return saved, nil
}

// SaveComments appends {bug_id: records} to the comment partition of the
// ledger entry at index and replaces the entry's fetched comment ids.
func (w *Writer) SaveComments(index int, records []json.RawMessage) error {
	entry, err := w.appendKeyed(index, bugzilla.KindComment, records)
	if err != nil {
		return err
	}
	if err := w.ledger.SetCommentIDs(index, bugzilla.RecordIDs(records)); err != nil {
		return fmt.Errorf("update comments of bug %s: %w", entry.BugID, err)
	}
	return nil
}

// SaveHistory appends {bug_id: records} to the history partition of the
// ledger entry at index and sets the entry's edit count.
func (w *Writer) SaveHistory(index int, records []json.RawMessage) error {
	entry, err := w.appendKeyed(index, bugzilla.KindHistory, records)
	if err != nil {
		return err
	}
	if err := w.ledger.SetEdits(index, len(records)); err != nil {
		return fmt.Errorf("update history of bug %s: %w", entry.BugID, err)
	}
	return nil
}

// Save dispatches to the save path of kind for the ledger entry at index.
func (w *Writer) Save(kind bugzilla.Kind, index int, records []json.RawMessage) error {
	switch kind {
	case bugzilla.KindComment:
		return w.SaveComments(index, records)
	case bugzilla.KindHistory:
		return w.SaveHistory(index, records)
	default:
		return fmt.Errorf("per-entry save does not support kind %q", kind)
	}
}

func (w *Writer) appendKeyed(index int, kind bugzilla.Kind, records []json.RawMessage) (ledger.Entry, error) {
	entry, err := w.ledger.At(index)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("save %s: %w", kind, err)
	}
	f, ok := w.files[fileKey{year: entry.Year, kind: kind}]
	if !ok {
		return ledger.Entry{}, &YearNotOpenError{Year: entry.Year, Kind: kind, BugID: entry.BugID}
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	line, err := json.Marshal(map[string][]json.RawMessage{entry.BugID: records})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("encode %s of bug %s: %w", kind, entry.BugID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return ledger.Entry{}, fmt.Errorf("append %s of bug %s: %w", kind, entry.BugID, err)
	}
	metrics.AddRecordsSaved(kind.String(), len(records))
	return entry, nil
}

// Checkpoint flushes every open partition to stable storage and then
// persists the ledger, so the ledger never claims records the disk lacks.
func (w *Writer) Checkpoint() error {
	for key, f := range w.files {
		if err := f.Sync(); err != nil {
			metrics.ObserveCheckpoint("failure", w.ledger.Len())
			return fmt.Errorf("sync %s partition %d: %w", key.kind, key.year, err)
		}
	}
	if err := w.ledger.Persist(LedgerPath(w.dir)); err != nil {
		metrics.ObserveCheckpoint("failure", w.ledger.Len())
		return fmt.Errorf("checkpoint: %w", err)
	}
	metrics.ObserveCheckpoint("success", w.ledger.Len())
	return nil
}

// Close releases every open handle. It is safe to call more than once.
func (w *Writer) Close() error {
	var errs []error
	for key, f := range w.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s partition %d: %w", key.kind, key.year, err))
		}
		delete(w.files, key)
	}
	return errors.Join(errs...)
}

func dedupeYears(years []int) []int {
	out := slices.Clone(years)
	slices.Sort(out)
	return slices.Compact(out)
}
