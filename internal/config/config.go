package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	AppName    = "readrss"
	AppVersion = "1.0.0"
)

// DefaultUserAgent identifies readrss to feed servers.
var DefaultUserAgent = AppName + "/" + AppVersion

const (
	DefaultPollInterval     = 5 * time.Minute
	DefaultRequestTimeout   = 15 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBackoffBase = 500 * time.Millisecond

	// DefaultMaxFeedBytes caps a single feed document at 10 MiB.
	DefaultMaxFeedBytes = 10 * 1024 * 1024
)

type Config struct {
	// PollInterval is the period between scheduled ticks.
	PollInterval time.Duration
	// RequestTimeout bounds each individual feed request.
	RequestTimeout time.Duration
	// MaxRetries is the number of attempts per feed on transient errors.
	MaxRetries int
	// RetryBackoffBase is the wait before the second attempt; it doubles
	// for each attempt after that.
	RetryBackoffBase time.Duration
	// MaxFeedBytes rejects feed documents larger than this, whether
	// declared up front or discovered mid-stream.
	MaxFeedBytes int64
	// DataDir holds feeds.json, articles.json, read.json and seen.json.
	DataDir string
	// ProxyURL routes feed requests through an HTTP(S) or SOCKS proxy.
	ProxyURL string
	// RateLimit throttles outbound feed requests to this many per second
	// across all feeds; zero means unthrottled.
	RateLimit float64
	// UserAgent is sent with every feed request.
	UserAgent string
	// AllowInsecureLoopback permits plain http for localhost/127.0.0.1/::1,
	// for tests and local development only.
	AllowInsecureLoopback bool
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Default returns the configuration the core runs with when nothing is set.
func Default() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		RequestTimeout:   DefaultRequestTimeout,
		MaxRetries:       DefaultMaxRetries,
		RetryBackoffBase: DefaultRetryBackoffBase,
		MaxFeedBytes:     DefaultMaxFeedBytes,
		DataDir:          "./data",
		UserAgent:        DefaultUserAgent,
		LogLevel:         "info",
	}
}

// Load reads configuration from READRSS_* environment variables, falling
// back to Default for anything unset or unparseable.
func Load() Config {
	cfg := Default()

	if v := envDuration("READRSS_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v := envDuration("READRSS_REQUEST_TIMEOUT"); v > 0 {
		cfg.RequestTimeout = v
	}
	if v, err := strconv.Atoi(os.Getenv("READRSS_MAX_RETRIES")); err == nil && v >= 0 {
		cfg.MaxRetries = v
	}
	if v := envDuration("READRSS_RETRY_BACKOFF_BASE"); v > 0 {
		cfg.RetryBackoffBase = v
	}
	if v, err := strconv.ParseInt(os.Getenv("READRSS_MAX_FEED_BYTES"), 10, 64); err == nil && v > 0 {
		cfg.MaxFeedBytes = v
	}
	if v := os.Getenv("READRSS_DATA_DIR"); v != "" {
		cfg.DataDir = filepath.Clean(v)
	}
	if v := os.Getenv("READRSS_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("READRSS_RATE_LIMIT"), 64); err == nil && v > 0 {
		cfg.RateLimit = v
	}
	if v := os.Getenv("READRSS_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v, err := strconv.ParseBool(os.Getenv("READRSS_ALLOW_INSECURE_LOOPBACK")); err == nil {
		cfg.AllowInsecureLoopback = v
	}
	if v := os.Getenv("READRSS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
