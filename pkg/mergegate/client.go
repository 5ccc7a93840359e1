package mergegate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
)

const (
	// HTTP client configuration constants.
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	idleConnTimeoutSec  = 90
	clientTimeoutSec    = 30
)

// Client assembles merge-eligibility evaluation inputs from the GitHub
// API. It holds no state between invocations; every call fetches a
// fresh snapshot.
type Client struct {
	github interface {
		get(ctx context.Context, path string, v any) (*githubResponse, error)
	}
	logger *slog.Logger
	token  string
	// mergeableDelay separates attempts of the mergeability wait.
	// Overridable in tests.
	mergeableDelay time.Duration
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client, bypassing the default
// transport stack. Intended for tests against httptest servers.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.github = &githubClient{client: httpClient, token: c.token, api: githubAPI}
	}
}

// WithAPIBase overrides the GitHub API base URL. Intended for tests.
func WithAPIBase(base string) Option {
	return func(c *Client) {
		if gh, ok := c.github.(*githubClient); ok {
			gh.api = base
		}
	}
}

// NewClient creates a Client with the given GitHub token. The transport
// stack is, bottom-up: a tuned http.Transport, an in-memory ETag cache
// (conditional requests revalidate on every call, so no stale data is
// served), connection-level retry, and the secondary rate-limit
// middleware.
func NewClient(token string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeoutSec * time.Second,
	}
	cache := httpcache.NewMemoryCacheTransport()
	cache.Transport = transport

	httpClient := github_ratelimit.NewClient(&RetryTransport{Base: cache})
	httpClient.Timeout = clientTimeoutSec * time.Second

	c := &Client{
		logger:         slog.Default(),
		token:          token,
		mergeableDelay: mergeableRetryDelay,
		github: &githubClient{
			client: httpClient,
			token:  token,
			api:    githubAPI,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
