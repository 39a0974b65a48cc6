// Package wanikani is a client for the WaniKani v2 API. Every request made
// with a Client is paced by that client's scheduler, so a Client should be
// created once per credential and shared.
package wanikani

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crabigator/crabigator-stats/internal/config"
	"github.com/crabigator/crabigator-stats/internal/ratelimit"
)

const (
	DefaultBaseURL   = "https://api.wanikani.com/v2"
	DefaultRevision  = "20170710"
	DefaultRetryWait = 5 * time.Second
)

const (
	pathUser              = "/user"
	pathSummary           = "/summary"
	pathLevelProgressions = "/level_progressions"
	pathAssignments       = "/assignments"
	pathSubjects          = "/subjects"
	pathReviewStatistics  = "/review_statistics"
	pathResets            = "/resets"
)

type Client struct {
	token     string
	baseURL   *url.URL
	revision  string
	http      *http.Client
	scheduler *ratelimit.Scheduler

	maxThrottleRetries int
	defaultRetryWait   time.Duration
}

type clientOptions struct {
	baseURL            string
	revision           string
	httpClient         *http.Client
	scheduler          *ratelimit.Scheduler
	maxThrottleRetries int
	defaultRetryWait   time.Duration
}

type Option func(*clientOptions)

// WithBaseURL points the client at a different API root, typically a test
// server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

func WithRevision(revision string) Option {
	return func(o *clientOptions) { o.revision = revision }
}

// WithHTTPClient sets the HTTP client used for API calls. The default is
// http.DefaultClient, which main configures with telemetry.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = client }
}

// WithScheduler supplies the scheduler that paces requests. Clients sharing a
// scheduler share its request window.
func WithScheduler(s *ratelimit.Scheduler) Option {
	return func(o *clientOptions) { o.scheduler = s }
}

// WithMaxThrottleRetries caps how often a throttled request is reissued.
// Zero, the default, retries without limit.
func WithMaxThrottleRetries(n int) Option {
	return func(o *clientOptions) { o.maxThrottleRetries = n }
}

// WithDefaultRetryWait sets the wait used when a throttled response carries
// no usable Retry-After header.
func WithDefaultRetryWait(d time.Duration) Option {
	return func(o *clientOptions) { o.defaultRetryWait = d }
}

// ConfigOptions translates configuration into client options. Unset values
// keep the client defaults. The options carry a new scheduler, so every
// client built from them has its own request window.
func ConfigOptions(cfg config.WaniKaniConfig, limits config.RateLimitConfig) []Option {
	opts := []Option{
		WithMaxThrottleRetries(cfg.MaxThrottleRetries),
		WithScheduler(ratelimit.New(ratelimit.WithLimit(limits.Quota, limits.Window))),
	}
	if cfg.APIURL != "" {
		opts = append(opts, WithBaseURL(cfg.APIURL))
	}
	if cfg.Revision != "" {
		opts = append(opts, WithRevision(cfg.Revision))
	}
	if cfg.DefaultRetryWait > 0 {
		opts = append(opts, WithDefaultRetryWait(cfg.DefaultRetryWait))
	}
	return opts
}

func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("an API token is required")
	}

	o := clientOptions{
		baseURL:          DefaultBaseURL,
		revision:         DefaultRevision,
		defaultRetryWait: DefaultRetryWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimSuffix(o.baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse WaniKani API URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("WaniKani API URL must be absolute: %s", o.baseURL)
	}

	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	if o.scheduler == nil {
		o.scheduler = ratelimit.New()
	}

	return &Client{
		token:              token,
		baseURL:            u,
		revision:           o.revision,
		http:               o.httpClient,
		scheduler:          o.scheduler,
		maxThrottleRetries: o.maxThrottleRetries,
		defaultRetryWait:   o.defaultRetryWait,
	}, nil
}

// Scheduler returns the scheduler pacing this client's requests.
func (c *Client) Scheduler() *ratelimit.Scheduler {
	return c.scheduler
}

func (c *Client) User(ctx context.Context) (Resource[User], error) {
	var r Resource[User]
	err := c.get(ctx, pathUser, nil, &r)
	return r, err
}

func (c *Client) Summary(ctx context.Context) (Resource[Summary], error) {
	var r Resource[Summary]
	err := c.get(ctx, pathSummary, nil, &r)
	return r, err
}

// LevelProgressions fetches the first page of level progressions.
func (c *Client) LevelProgressions(ctx context.Context, f Filter) (Collection[LevelProgression], error) {
	return firstPage[LevelProgression](ctx, c, pathLevelProgressions, f)
}

// AllLevelProgressions fetches every level progression matching f.
func (c *Client) AllLevelProgressions(ctx context.Context, f Filter) ([]Resource[LevelProgression], error) {
	return AllPages[LevelProgression](ctx, c, pathLevelProgressions, f.Values())
}

func (c *Client) Assignments(ctx context.Context, f Filter) (Collection[Assignment], error) {
	return firstPage[Assignment](ctx, c, pathAssignments, f)
}

func (c *Client) AllAssignments(ctx context.Context, f Filter) ([]Resource[Assignment], error) {
	return AllPages[Assignment](ctx, c, pathAssignments, f.Values())
}

func (c *Client) Subjects(ctx context.Context, f Filter) (Collection[Subject], error) {
	return firstPage[Subject](ctx, c, pathSubjects, f)
}

func (c *Client) AllSubjects(ctx context.Context, f Filter) ([]Resource[Subject], error) {
	return AllPages[Subject](ctx, c, pathSubjects, f.Values())
}

func (c *Client) ReviewStatistics(ctx context.Context, f Filter) (Collection[ReviewStatistic], error) {
	return firstPage[ReviewStatistic](ctx, c, pathReviewStatistics, f)
}

func (c *Client) AllReviewStatistics(ctx context.Context, f Filter) ([]Resource[ReviewStatistic], error) {
	return AllPages[ReviewStatistic](ctx, c, pathReviewStatistics, f.Values())
}

func (c *Client) Resets(ctx context.Context, f Filter) (Collection[Reset], error) {
	return firstPage[Reset](ctx, c, pathResets, f)
}

func (c *Client) AllResets(ctx context.Context, f Filter) ([]Resource[Reset], error) {
	return AllPages[Reset](ctx, c, pathResets, f.Values())
}

func firstPage[T any](ctx context.Context, c *Client, path string, f Filter) (Collection[T], error) {
	var page Collection[T]
	err := c.get(ctx, path, f.Values(), &page)
	return page, err
}
