package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"readrss/internal/config"
)

// Fetcher retrieves raw feed bytes with the scheme and size policies
// enforced before and during the transfer. It performs no disk access and
// holds no shared state beyond the HTTP client.
type Fetcher struct {
	client                *http.Client
	userAgent             string
	maxBytes              int64
	timeout               time.Duration
	allowInsecureLoopback bool
	limiter               *rate.Limiter // nil means unthrottled
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client, for tests that inject a fake
// transport.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// New builds a Fetcher from the configuration. The per-request timeout,
// size ceiling, user agent, proxy, rate limit and loopback policy all come
// from cfg.
func New(cfg config.Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: newTransport(cfg.ProxyURL),
		},
		userAgent:             cfg.UserAgent,
		maxBytes:              cfg.MaxFeedBytes,
		timeout:               cfg.RequestTimeout,
		allowInsecureLoopback: cfg.AllowInsecureLoopback,
	}
	if f.userAgent == "" {
		f.userAgent = config.DefaultUserAgent
	}
	if f.maxBytes <= 0 {
		f.maxBytes = config.DefaultMaxFeedBytes
	}
	if f.timeout <= 0 {
		f.timeout = config.DefaultRequestTimeout
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the document at rawURL. The scheme policy is checked
// before any network I/O; the body is read incrementally and the transfer
// aborted with ErrTooLarge as soon as the running byte count exceeds the
// ceiling, guarding against servers that omit or lie about Content-Length.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	if err := f.checkScheme(u); err != nil {
		return nil, err
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, resp.ContentLength)
	}

	var buf bytes.Buffer
	var total int64
	chunk := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > f.maxBytes {
				return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &NetworkError{Err: err}
		}
	}
	return buf.Bytes(), nil
}

// checkScheme enforces the transport policy: https always, plain http only
// for loopback hosts when the dev flag is set, everything else rejected.
func (f *Fetcher) checkScheme(u *url.URL) error {
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if f.allowInsecureLoopback && isLoopbackHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSchemeRejected, u.Scheme)
	default:
		return fmt.Errorf("%w: %s", ErrSchemeRejected, u.Scheme)
	}
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// newTransport builds the HTTP transport, routing through an HTTP(S) or
// SOCKS proxy when one is configured. SOCKS proxies go through
// golang.org/x/net/proxy; HTTP proxies use the standard http.ProxyURL.
func newTransport(proxyURL string) *http.Transport {
	if proxyURL == "" {
		return &http.Transport{}
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return &http.Transport{}
	}

	if strings.HasPrefix(parsed.Scheme, "socks") {
		var auth *proxy.Auth
		if parsed.User != nil {
			auth = &proxy.Auth{User: parsed.User.Username()}
			if password, ok := parsed.User.Password(); ok {
				auth.Password = password
			}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return &http.Transport{}
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	}

	return &http.Transport{Proxy: http.ProxyURL(parsed)}
}
