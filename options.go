package storefront

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultPageSize is the number of products per seller listing page
	DefaultPageSize = 9
	// DefaultHTTPTimeout bounds a single REST round trip made by Client
	DefaultHTTPTimeout = 30 * time.Second
)

// Config holds the tunables shared by the cache, the executor and the client.
// Fetch and mutation timeouts and retries default to zero: the backend contract
// imposes none, so a hung request keeps its entry pending until invalidated.
type Config struct {
	Logger          *slog.Logger
	HTTPClient      *http.Client
	FetchTimeout    time.Duration
	MutationTimeout time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	PageSize        int
	Notifier        NotificationBridge
}

// Option is a functional option for configuring storefront components
type Option func(*Config)

func newConfig(opts []Option) *Config {
	config := &Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		PageSize: DefaultPageSize,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return config
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used for REST calls
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithFetchTimeout bounds every query fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.FetchTimeout = d
	}
}

// WithMutationTimeout bounds every mutation. Zero disables the bound.
func WithMutationTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.MutationTimeout = d
	}
}

// WithRetry retries failed fetches up to attempts extra times, waiting
// backoff*attempt between tries. Only network failures and 5xx responses retry.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		c.RetryAttempts = attempts
		c.RetryBackoff = backoff
	}
}

// WithPageSize sets the seller listing page size
func WithPageSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PageSize = n
		}
	}
}

// WithNotifier sets the bridge that receives mutation outcomes
func WithNotifier(n NotificationBridge) Option {
	return func(c *Config) {
		c.Notifier = n
	}
}
