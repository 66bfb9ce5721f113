package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/rwrk/internal/config"
	"github.com/torosent/rwrk/internal/placeholders"
	"github.com/torosent/rwrk/internal/tracing"
)

// PoolOptions tune the transport shared by every worker.
type PoolOptions struct {
	MaxIdleConnsPerHost int           // 0 falls back to net/http's default of 2
	IdleConnTimeout     time.Duration // 0 keeps idle connections forever
	RequestTimeout      time.Duration // 0 disables the per-request timeout
}

// PoolOptionsFromConfig extracts the transport tuning from cfg.
func PoolOptionsFromConfig(cfg *config.Config) PoolOptions {
	if cfg == nil {
		return PoolOptions{}
	}
	return PoolOptions{
		MaxIdleConnsPerHost: cfg.PoolMaxIdlePerHost,
		IdleConnTimeout:     cfg.PoolIdleTimeout,
		RequestTimeout:      cfg.RequestTimeout,
	}
}

// RequestBuilder turns a request identifier into a GET request with an empty body.
type RequestBuilder struct {
	target    placeholders.Template
	propagate bool
}

func NewRequestBuilder(cfg *config.Config) (*RequestBuilder, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	target := strings.TrimSpace(cfg.TargetURL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	return &RequestBuilder{
		target:    placeholders.Parse(target),
		propagate: cfg.Tracing.ShouldPropagate(),
	}, nil
}

// Templated reports whether requests differ per identifier.
func (b *RequestBuilder) Templated() bool {
	return b != nil && b.target.Templated()
}

// Target returns the URL for identifier id.
func (b *RequestBuilder) Target(id uint64) string {
	return b.target.Expand(id)
}

// Build creates the request for identifier id. A target that is not a valid
// URL after substitution is reported as an error rather than a panic.
func (b *RequestBuilder) Build(ctx context.Context, id uint64) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.target.Expand(id), http.NoBody)
	if err != nil {
		return nil, err
	}

	if b.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	return req, nil
}

// NewClient creates the client shared by all workers. Workers only call Do on
// it; nothing reconfigures the transport after construction.
func NewClient(opts PoolOptions) *http.Client {
	if opts.RequestTimeout < 0 {
		opts.RequestTimeout = 0
	}
	if opts.MaxIdleConnsPerHost < 0 {
		opts.MaxIdleConnsPerHost = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   opts.RequestTimeout,
		Transport: transport,
	}
}
