package bugzilla

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoCreationTime is returned when a bug has neither creation_time nor
// creation_date.
var ErrNoCreationTime = errors.New("bug has no creation_time or creation_date")

// bugHeader holds the only fields the scraper reads from a bug.
type bugHeader struct {
	ID           json.RawMessage `json:"id"`
	CreationTime string          `json:"creation_time"`
	CreationDate string          `json:"creation_date"`
}

// BugMeta is what the scraper needs to know about a bug to place it.
type BugMeta struct {
	ID   string
	Year int
}

// ParseBug reads the id and creation year out of a raw bug record. The year is
// the first four characters of creation_time (or creation_date).
func ParseBug(raw json.RawMessage) (BugMeta, error) {
	var h bugHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return BugMeta{}, fmt.Errorf("decode bug: %w", err)
	}
	id := scalarString(h.ID)
	if id == "" {
		return BugMeta{}, errors.New("bug has no id")
	}

	created := h.CreationTime
	if created == "" {
		created = h.CreationDate
	}
	if created == "" {
		return BugMeta{}, fmt.Errorf("bug %s: %w", id, ErrNoCreationTime)
	}
	year, err := YearOf(created)
	if err != nil {
		return BugMeta{}, fmt.Errorf("bug %s: %w", id, err)
	}
	return BugMeta{ID: id, Year: year}, nil
}

// ParseBugID reads only the id of a raw bug record.
func ParseBugID(raw json.RawMessage) (string, error) {
	var h bugHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", fmt.Errorf("decode bug: %w", err)
	}
	id := scalarString(h.ID)
	if id == "" {
		return "", errors.New("bug has no id")
	}
	return id, nil
}

// YearOf parses the leading four-digit year of a timestamp.
func YearOf(timestamp string) (int, error) {
	if len(timestamp) < 4 {
		return 0, fmt.Errorf("timestamp %q too short for a year", timestamp)
	}
	year, err := strconv.Atoi(timestamp[:4])
	if err != nil || year < 0 {
		return 0, fmt.Errorf("timestamp %q does not start with a year", timestamp)
	}
	return year, nil
}

// RecordIDs returns the id field of every record that has one, as strings.
func RecordIDs(records []json.RawMessage) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		var holder struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(rec, &holder); err != nil {
			continue
		}
		if id := scalarString(holder.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// scalarString renders a JSON string or number as a plain string.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
