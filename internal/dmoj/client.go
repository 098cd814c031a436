// Package dmoj is a small client for the DMOJ API v2 endpoints the feed needs.
package dmoj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"contestfeed/internal/contest"
	logx "contestfeed/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://dmoj.ca"
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 32 << 20
)

var (
	// ErrUnknownUser means the judge has no user by that name, or the user
	// has no submissions.
	ErrUnknownUser = errors.New("dmoj: unknown user")
	ErrNotFound    = errors.New("dmoj: not found")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dmoj: GET %s: http %d", e.URL, e.Status)
	}
	return fmt.Sprintf("dmoj: GET %s: http %d: %s", e.URL, e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type Options struct {
	BaseURL    string
	Token      string
	ContestKey string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
	Logger     logx.Logger
	Now        func() time.Time
}

// Client fetches contest standings and submissions. Safe for concurrent use.
type Client struct {
	base       *url.URL
	token      string
	contestKey string
	hc         *http.Client
	limiter    *rate.Limiter
	log        logx.Logger
	now        func() time.Time
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("dmoj: base url: %w", err)
	}
	if strings.TrimSpace(opts.ContestKey) == "" {
		return nil, errors.New("dmoj: contest key is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	c := &Client{
		base:       base,
		token:      strings.TrimSpace(opts.Token),
		contestKey: strings.TrimSpace(opts.ContestKey),
		hc:         hc,
		limiter:    lim,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Client) ContestKey() string { return c.contestKey }

// FetchSnapshot downloads and decodes the contest with its rankings.
// Duplicate users are logged and dropped.
func (c *Client) FetchSnapshot(ctx context.Context) (*contest.Snapshot, error) {
	raw, data, err := c.get(ctx, "/api/v2/contest/"+url.PathEscape(c.contestKey), nil)
	if err != nil {
		return nil, err
	}
	var obj objectData[wireContest]
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("dmoj: decode contest: %w", err)
	}
	ct, dups, err := obj.Object.toContest()
	if err != nil {
		return nil, fmt.Errorf("dmoj: decode contest: %w", err)
	}
	if len(dups) > 0 {
		c.log.Warn("duplicate participants in rankings", logx.String("contest", c.contestKey), logx.Strings("users", dups))
	}
	return &contest.Snapshot{Contest: ct, Raw: raw, FetchedAt: c.now()}, nil
}

// LatestSubmission returns the most recent submission of user.
func (c *Client) LatestSubmission(ctx context.Context, user string) (contest.SubmissionSummary, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return contest.SubmissionSummary{}, ErrUnknownUser
	}
	q := url.Values{"user": {user}, "page": {"last"}}
	_, data, err := c.get(ctx, "/api/v2/submissions", q)
	if errors.Is(err, ErrNotFound) {
		return contest.SubmissionSummary{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	if err != nil {
		return contest.SubmissionSummary{}, err
	}
	var list listData[wireSubmission]
	if err := json.Unmarshal(data, &list); err != nil {
		return contest.SubmissionSummary{}, fmt.Errorf("dmoj: decode submissions: %w", err)
	}
	if len(list.Objects) == 0 {
		return contest.SubmissionSummary{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return list.Objects[len(list.Objects)-1].toSummary(), nil
}

// SubmissionDetail returns one submission with its case breakdown.
func (c *Client) SubmissionDetail(ctx context.Context, id int64) (contest.SubmissionDetail, error) {
	_, data, err := c.get(ctx, "/api/v2/submission/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return contest.SubmissionDetail{}, err
	}
	var obj objectData[wireSubmissionDetail]
	if err := json.Unmarshal(data, &obj); err != nil {
		return contest.SubmissionDetail{}, fmt.Errorf("dmoj: decode submission %d: %w", id, err)
	}
	return obj.Object.toDetail(), nil
}

// get returns the full body and the envelope's data member.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := c.now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("dmoj: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("dmoj: read %s: %w", path, err)
	}
	c.log.Trace("dmoj request", logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Duration("took", c.now().Sub(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{URL: path, Status: resp.StatusCode, Body: snippet(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("dmoj: decode %s: %w", path, err)
	}
	if env.Error != nil {
		return nil, nil, &StatusError{URL: path, Status: env.Error.Code, Body: env.Error.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil, fmt.Errorf("dmoj: decode %s: missing data", path)
	}
	return body, env.Data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
