package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidaldl/tidaldl-go/internal/config"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const userAgent = "tidaldl-go/1.0"

// Transport issues the outbound requests of every downloader in the process.
// It caps concurrent connections with a weighted semaphore and, optionally,
// the request rate with a token bucket.
type Transport struct {
	client  *http.Client
	conns   *semaphore.Weighted
	limiter *rate.Limiter
}

// NewTransport creates a transport. maxConnections < 1 means 1;
// requestsPerSecond <= 0 disables rate limiting.
func NewTransport(client *http.Client, maxConnections int, requestsPerSecond float64) *Transport {
	if client == nil {
		client = NewClient(nil)
	}
	if maxConnections < 1 {
		maxConnections = 1
	}
	t := &Transport{
		client: client,
		conns:  semaphore.NewWeighted(int64(maxConnections)),
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return t
}

// NewTransportFromConfig creates a transport from network settings.
func NewTransportFromConfig(cfg config.NetworkConfig) *Transport {
	client := NewClient(DownloadClientConfig(time.Duration(cfg.TimeoutSeconds) * time.Second))
	return NewTransport(client, cfg.MaxConnections, cfg.RequestsPerSecond)
}

// acquire waits for a rate token and a connection slot. Waiting honours ctx;
// a request that has been dispatched does not.
func (t *Transport) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return t.conns.Acquire(ctx, 1)
}

func (t *Transport) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, fmt.Errorf("request not dispatched: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	// In-flight requests run to completion; callers discard unwanted results.
	resp, err := t.client.Do(req.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		t.conns.Release(1)
		return nil, apperrors.NewTransportError(fmt.Sprintf("%s %s failed", req.Method, req.URL.Redacted()), err)
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { t.conns.Release(1) }}
	return resp, nil
}

// ContentLength returns the size reported by a HEAD request, or -1 when the
// server does not report one.
func (t *Transport) ContentLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, apperrors.NewTransportError("failed to create HEAD request", err)
	}
	resp, err := t.do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.NewHTTPStatusError(req.URL.Redacted(), resp.StatusCode)
	}
	return resp.ContentLength, nil
}

// Get fetches a small document into memory.
func (t *Transport) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := t.Open(ctx, url, -1, -1)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to read response body", err)
	}
	return data, nil
}

// Open starts a GET and returns the response body. When start >= 0 the
// inclusive byte range [start, end] is requested and a 206 is required,
// except that a 200 is accepted for ranges starting at zero.
func (t *Transport) Open(ctx context.Context, url string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to create GET request", err)
	}
	ranged := start >= 0 && end >= start
	if ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}

	resp, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case ranged && resp.StatusCode == http.StatusPartialContent:
	case !ranged && resp.StatusCode == http.StatusOK:
	case ranged && start == 0 && resp.StatusCode == http.StatusOK:
		// Full body from offset zero; the caller reads only what it asked for.
	case ranged && resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		return nil, &apperrors.AppError{
			Type:       apperrors.ErrTypeTransport,
			Message:    "server ignored range request for " + req.URL.Redacted(),
			StatusCode: resp.StatusCode,
		}
	default:
		resp.Body.Close()
		return nil, apperrors.NewHTTPStatusError(req.URL.Redacted(), resp.StatusCode)
	}
	return resp.Body, nil
}

// releasingBody returns the connection slot when the body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
	closed  bool
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.closed {
		b.closed = true
		b.release()
	}
	return err
}
