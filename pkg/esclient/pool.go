// Package esclient implements the ConnectionPool (spec §4.10): lazy,
// retrying, role-based clients onto the backend inverted-index engine.
package esclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Role distinguishes search traffic from ingest traffic so the two can be
// pointed at different endpoint sets (e.g. a dedicated ingest node pool).
type Role string

const (
	RoleSearch Role = "search"
	RoleIngest Role = "ingest"
)

// Options configures a ConnectionPool.
type Options struct {
	SearchURLs []string
	IngestURLs []string
	Username   string
	Password   string

	// MaxConnectRetries bounds how many times connection establishment is
	// retried before giving up, at FixedDelay apart. Defaults: 60 / 5s,
	// per §4.10.
	MaxConnectRetries int
	FixedDelay        time.Duration

	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConnectRetries == 0 {
		o.MaxConnectRetries = 60
	}
	if o.FixedDelay == 0 {
		o.FixedDelay = 5 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// ConnectionPool lazily builds and caches one *elasticsearch.Client per
// role. Construction is thread-safe; a client is only dialed the first
// time its role is requested.
type ConnectionPool struct {
	opts Options

	mu      sync.Mutex
	clients map[Role]*elasticsearch.Client
}

func NewConnectionPool(opts Options) *ConnectionPool {
	return &ConnectionPool{
		opts:    opts.withDefaults(),
		clients: make(map[Role]*elasticsearch.Client),
	}
}

// Client returns the role's client, dialing (with retry) on first use.
func (p *ConnectionPool) Client(ctx context.Context, role Role) (*elasticsearch.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[role]; ok {
		return c, nil
	}

	urls := p.opts.SearchURLs
	if role == RoleIngest && len(p.opts.IngestURLs) > 0 {
		urls = p.opts.IngestURLs
	}

	c, err := p.dial(ctx, urls)
	if err != nil {
		return nil, err
	}
	p.clients[role] = c
	return c, nil
}

func (p *ConnectionPool) dial(ctx context.Context, urls []string) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: urls,
		Username:  p.opts.Username,
		Password:  p.opts.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
		// 502/503/504 and connection errors are retried automatically by
		// the client's own transport, on top of our connection-level
		// retry loop below (§4.10: "bulk/search level 502/503/504 are
		// retried automatically").
		RetryOnStatus: []int{502, 503, 504},
		MaxRetries:    3,
	}

	var lastErr error
	for attempt := 0; attempt < p.opts.MaxConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.opts.FixedDelay):
			}
		}

		client, err := elasticsearch.NewClient(cfg)
		if err != nil {
			lastErr = err
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
		res, err := client.Ping(client.Ping.WithContext(pingCtx))
		cancel()
		if err != nil {
			lastErr = err
			slog.WarnContext(ctx, "backend ping failed, retrying", "attempt", attempt+1, "endpoints", maskCredentials(urls), "error", err)
			continue
		}
		res.Body.Close()
		if res.IsError() {
			lastErr = fmt.Errorf("ping returned %s", res.Status())
			continue
		}

		slog.InfoContext(ctx, "connected to backend", "endpoints", maskCredentials(urls))
		return client, nil
	}

	return nil, fmt.Errorf("exhausted %d connection attempts to %v: %w", p.opts.MaxConnectRetries, maskCredentials(urls), lastErr)
}

// Ping performs a lightweight liveness check, used by the CLI's version
// command and by the Ingester before toggling bulk-indexing mode.
func (p *ConnectionPool) Ping(ctx context.Context) error {
	c, err := p.Client(ctx, RoleSearch)
	if err != nil {
		return err
	}
	res, err := c.Ping(c.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping returned %s", res.Status())
	}
	return nil
}

// Do executes a raw esapi request against the given role's client,
// closing the response body is the caller's responsibility.
func (p *ConnectionPool) Do(ctx context.Context, role Role, req esapi.Request) (*esapi.Response, error) {
	c, err := p.Client(ctx, role)
	if err != nil {
		return nil, err
	}
	return req.Do(ctx, c)
}

// maskCredentials strips userinfo from endpoint URLs before logging, so
// embedded credentials never hit the log stream.
func maskCredentials(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		if idx := strings.Index(u, "@"); idx != -1 {
			schemeIdx := strings.Index(u, "://")
			if schemeIdx != -1 && schemeIdx < idx {
				out[i] = u[:schemeIdx+3] + "***@" + u[idx+1:]
				continue
			}
		}
		out[i] = u
	}
	return out
}
