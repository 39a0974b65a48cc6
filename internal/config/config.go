package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	ScopeSession = "session"
	ScopeDurable = "durable"
)

type Config struct {
	WaniKani  WaniKaniConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Store     StoreConfig
	Observe   ObserveConfig
}

type WaniKaniConfig struct {
	APIURL   string `env:"WANIKANI_API_URL, default=https://api.wanikani.com/v2"`
	Revision string `env:"WANIKANI_REVISION, default=20170710"`

	// Token is optional: the login command can supply it instead.
	Token string `env:"WANIKANI_API_TOKEN"`

	// MaxThrottleRetries caps how many times a single request is reissued
	// after a 429 response. Zero means retry until the server relents.
	MaxThrottleRetries int           `env:"WANIKANI_MAX_THROTTLE_RETRIES, default=0"`
	DefaultRetryWait   time.Duration `env:"WANIKANI_DEFAULT_RETRY_WAIT, default=5s"`
}

// RateLimitConfig controls the rolling request window applied to all
// outbound calls made with one credential.
type RateLimitConfig struct {
	Quota  int           `env:"RATE_LIMIT_QUOTA, default=60"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW, default=60s"`
}

// CacheConfig specifies when cached collections are considered stale.
type CacheConfig struct {
	StaleAfter      time.Duration `env:"CACHE_STALE_AFTER, default=5m"`
	RefreshInterval time.Duration `env:"CACHE_REFRESH_INTERVAL, default=5m"`
}

// StoreConfig selects where the session snapshot is kept.
type StoreConfig struct {
	// Scope is the default persistence scope used at login: "session" keeps
	// the snapshot for the life of the process, "durable" writes it to disk.
	Scope string `env:"STORE_SCOPE, default=session"`

	// Path is the SQLite database file used by the durable scope.
	Path string `env:"STORE_PATH, default=.crabigator/stats.db"`

	// SessionMaxEntries bounds the in-memory session store.
	SessionMaxEntries int `env:"STORE_SESSION_MAX_ENTRIES, default=16"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=crabigator-stats"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.RateLimit.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	err = cfg.Store.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid store configuration: %w", err)
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the request window can admit at least one request.
func (c *RateLimitConfig) Validate() error {
	if c.Quota < 1 {
		return fmt.Errorf("RATE_LIMIT_QUOTA must be at least 1, got %d", c.Quota)
	}
	if c.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.Window)
	}
	return nil
}

// Validate checks that the store configuration is valid.
func (c *StoreConfig) Validate() error {
	if err := ValidateScope(c.Scope); err != nil {
		return err
	}

	// the durable scope needs somewhere to write
	if c.Scope == ScopeDurable && c.Path == "" {
		return fmt.Errorf("STORE_PATH required when STORE_SCOPE=durable")
	}

	return nil
}

func (c *ObserveConfig) Validate() error {
	if c.Type != "grpc" && c.Type != "stdout" {
		return fmt.Errorf("OBSERVE_TYPE must be either \"grpc\" or \"stdout\", got %q", c.Type)
	}
	return nil
}

// ValidateScope reports whether scope names a supported persistence scope.
func ValidateScope(scope string) error {
	switch scope {
	case ScopeSession, ScopeDurable:
		return nil
	default:
		return fmt.Errorf("invalid store scope %q: must be either %q or %q", scope, ScopeSession, ScopeDurable)
	}
}
