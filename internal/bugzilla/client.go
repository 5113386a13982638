package bugzilla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vikigenius/bugscraper/internal/metrics"
)

// Transport performs a single GET and returns the response body. It must
// return an error for network failures and non-2xx responses.
type Transport interface {
	Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error)
}

// Outcome classifies how a fetch ended.
type Outcome string

// Fetch outcomes. Only OutcomeOK carries records.
const (
	OutcomeOK             Outcome = "ok"
	OutcomeEmpty          Outcome = "empty"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeShapeError     Outcome = "shape_error"
)

// Failed reports whether the outcome is a transport or shape failure.
func (o Outcome) Failed() bool {
	return o == OutcomeTransportError || o == OutcomeShapeError
}

// Request names what to fetch. Bug requests may carry many IDs; comment and
// history requests use the first ID only.
type Request struct {
	Kind Kind
	IDs  []int
}

// Result is the payload extracted from one response.
type Result struct {
	Records []json.RawMessage
	Outcome Outcome
}

// Config selects the tracker the client talks to.
type Config struct {
	Subdomain string
	// Overrides maps subdomains to base URLs and is consulted before the
	// built-in table.
	Overrides map[string]string
}

// Client fetches bugs, comments, and history for one tracker.
type Client struct {
	subdomain string
	base      string
	transport Transport
	logger    *zap.Logger
}

// NewClient builds a Client for cfg.Subdomain.
func NewClient(cfg Config, transport Transport, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Subdomain) == "" {
		return nil, errors.New("subdomain is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		subdomain: cfg.Subdomain,
		base:      BaseURL(cfg.Subdomain, cfg.Overrides),
		transport: transport,
		logger:    logger,
	}, nil
}

// Subdomain returns the tracker name the client was built for.
func (c *Client) Subdomain() string {
	return c.subdomain
}

// BaseURL returns the resolved bug endpoint root.
func (c *Client) BaseURL() string {
	return c.base
}

// FetchBugs fetches every bug in ids with a single request.
func (c *Client) FetchBugs(ctx context.Context, ids []int) []json.RawMessage {
	return c.Fetch(ctx, Request{Kind: KindBug, IDs: ids}).Records
}

// FetchComments fetches the comments of one bug.
func (c *Client) FetchComments(ctx context.Context, bugID int) []json.RawMessage {
	return c.Fetch(ctx, Request{Kind: KindComment, IDs: []int{bugID}}).Records
}

// FetchHistory fetches the edit history of one bug.
func (c *Client) FetchHistory(ctx context.Context, bugID int) []json.RawMessage {
	return c.Fetch(ctx, Request{Kind: KindHistory, IDs: []int{bugID}}).Records
}

// Fetch performs one request and never fails the caller: transport and shape
// errors are logged and reported through Result.Outcome.
func (c *Client) Fetch(ctx context.Context, req Request) Result {
	if len(req.IDs) == 0 {
		return Result{Outcome: OutcomeEmpty}
	}
	target, query, err := c.endpoint(req)
	if err != nil {
		c.logger.Warn("Unsupported request", zap.String("kind", req.Kind.String()), zap.Error(err))
		return c.finish(req, Result{Outcome: OutcomeShapeError}, 0)
	}

	start := time.Now()
	body, err := c.transport.Get(ctx, target, query)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("Connection error, returning empty result",
			zap.String("kind", req.Kind.String()),
			zap.String("ids", describeIDs(req.IDs)),
		)
		c.logger.Debug("Transport failure", zap.String("url", target), zap.Error(err))
		return c.finish(req, Result{Outcome: OutcomeTransportError}, elapsed)
	}

	records, err := extract(req, body)
	if err != nil {
		c.logger.Warn("Unexpected response shape, returning empty result",
			zap.String("kind", req.Kind.String()),
			zap.String("ids", describeIDs(req.IDs)),
		)
		c.logger.Debug("Shape failure", zap.String("url", target), zap.Error(err))
		return c.finish(req, Result{Outcome: OutcomeShapeError}, elapsed)
	}
	if len(records) == 0 {
		return c.finish(req, Result{Outcome: OutcomeEmpty}, elapsed)
	}
	return c.finish(req, Result{Records: records, Outcome: OutcomeOK}, elapsed)
}

func (c *Client) finish(req Request, res Result, elapsed time.Duration) Result {
	metrics.ObserveFetch(c.subdomain, req.Kind.String(), string(res.Outcome), elapsed)
	return res
}

func (c *Client) endpoint(req Request) (string, url.Values, error) {
	switch req.Kind {
	case KindBug:
		ids := slices.Clone(req.IDs)
		slices.Sort(ids)
		query := url.Values{}
		for _, id := range ids {
			query.Add("id", strconv.Itoa(id))
		}
		return c.base, query, nil
	case KindComment:
		return fmt.Sprintf("%s/%d/comment", c.base, req.IDs[0]), nil, nil
	case KindHistory:
		return fmt.Sprintf("%s/%d/history", c.base, req.IDs[0]), nil, nil
	default:
		return "", nil, fmt.Errorf("unknown kind %q", req.Kind)
	}
}

func describeIDs(ids []int) string {
	switch len(ids) {
	case 0:
		return ""
	case 1:
		return strconv.Itoa(ids[0])
	default:
		lo, hi := slices.Min(ids), slices.Max(ids)
		return fmt.Sprintf("%d..%d (%d ids)", lo, hi, len(ids))
	}
}
