package network

import (
	"net/http"
	"time"
)

// ClientConfig holds configuration for HTTP client
type ClientConfig struct {
	Timeout                time.Duration
	MaxIdleConns           int
	MaxIdleConnsPerHost    int
	MaxConnsPerHost        int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
	ExpectContinueTimeout  time.Duration
	DisableKeepAlives      bool
	MaxResponseHeaderBytes int64
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:                30 * time.Second,
		MaxIdleConns:           100,
		MaxIdleConnsPerHost:    20,
		MaxConnsPerHost:        50,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  30 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		DisableKeepAlives:      false,
		MaxResponseHeaderBytes: 10 << 20, // 10 MB
	}
}

// DownloadClientConfig returns settings tuned for many parallel range
// requests against the same media host.
func DownloadClientConfig(timeout time.Duration) *ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.MaxIdleConns = 200
	config.MaxIdleConnsPerHost = 50
	config.MaxConnsPerHost = 64
	config.IdleConnTimeout = 120 * time.Second
	config.ResponseHeaderTimeout = timeout
	return config
}

// NewClient creates a new HTTP client with connection pooling
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		DisableKeepAlives:      config.DisableKeepAlives,
		MaxResponseHeaderBytes: config.MaxResponseHeaderBytes,

		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}
