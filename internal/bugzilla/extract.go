package bugzilla

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var errMissingKey = errors.New("missing key")

type envelope struct {
	Bugs json.RawMessage `json:"bugs"`
}

type commentsHolder struct {
	Comments *[]json.RawMessage `json:"comments"`
}

type historyHolder struct {
	History *[]json.RawMessage `json:"history"`
}

func extract(req Request, body []byte) ([]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Bugs) == 0 || string(env.Bugs) == "null" {
		return nil, fmt.Errorf("bugs: %w", errMissingKey)
	}
	switch req.Kind {
	case KindBug:
		return extractBugs(env.Bugs)
	case KindComment:
		return extractComments(env.Bugs, req.IDs[0])
	case KindHistory:
		return extractHistory(env.Bugs)
	default:
		return nil, fmt.Errorf("unknown kind %q", req.Kind)
	}
}

func extractBugs(raw json.RawMessage) ([]json.RawMessage, error) {
	var bugs []json.RawMessage
	if err := json.Unmarshal(raw, &bugs); err != nil {
		return nil, fmt.Errorf("decode bugs: %w", err)
	}
	return bugs, nil
}

// extractComments accepts both shapes trackers return: bugs as an array of
// {"comments": [...]} and bugs keyed by the stringified bug id.
func extractComments(raw json.RawMessage, bugID int) ([]json.RawMessage, error) {
	var list []commentsHolder
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, nil
		}
		if list[0].Comments == nil {
			return nil, fmt.Errorf("bugs[0].comments: %w", errMissingKey)
		}
		return *list[0].Comments, nil
	}

	var keyed map[string]commentsHolder
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	key := strconv.Itoa(bugID)
	holder, ok := keyed[key]
	if !ok || holder.Comments == nil {
		return nil, fmt.Errorf("bugs[%q].comments: %w", key, errMissingKey)
	}
	return *holder.Comments, nil
}

func extractHistory(raw json.RawMessage) ([]json.RawMessage, error) {
	var list []historyHolder
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if list[0].History == nil {
		return nil, fmt.Errorf("bugs[0].history: %w", errMissingKey)
	}
	return *list[0].History, nil
}
