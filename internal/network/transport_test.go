package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

func TestTransportOpenRange(t *testing.T) {
	content := []byte("0123456789abcdef")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(content))
	}))
	defer server.Close()

	tr := NewTransport(server.Client(), 2, 0)

	body, err := tr.Open(context.Background(), server.URL, 4, 7)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(body)
	body.Close()

	if string(data) != "4567" {
		t.Errorf("Expected 4567, got %q", data)
	}
}

func TestTransportRangeIgnored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("whole body"))
	}))
	defer server.Close()

	tr := NewTransport(server.Client(), 1, 0)

	_, err := tr.Open(context.Background(), server.URL, 5, 9)
	if !apperrors.IsTransportError(err) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if apperrors.IsRetryable(err) {
		t.Error("Expected ignored range to be non-retryable")
	}

	// A range from zero tolerates a full response.
	body, err := tr.Open(context.Background(), server.URL, 0, 4)
	if err != nil {
		t.Fatalf("Expected range from zero to succeed, got %v", err)
	}
	body.Close()
}

func TestTransportStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"not found", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, false},
		{"server error", http.StatusInternalServerError, true},
		{"throttled", http.StatusTooManyRequests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			tr := NewTransport(server.Client(), 1, 0)
			_, err := tr.Get(context.Background(), server.URL)
			if err == nil {
				t.Fatal("Expected error")
			}
			if apperrors.IsRetryable(err) != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, apperrors.IsRetryable(err))
			}
		})
	}
}

func TestTransportContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("Expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1234")
	}))
	defer server.Close()

	tr := NewTransport(server.Client(), 1, 0)
	size, err := tr.ContentLength(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("ContentLength failed: %v", err)
	}
	if size != 1234 {
		t.Errorf("Expected 1234, got %d", size)
	}
}

func TestTransportConnectionCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := NewTransport(server.Client(), 2, 0)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := tr.Get(context.Background(), server.URL); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if peak.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent requests, saw %d", peak.Load())
	}
}

func TestTransportCancelledBeforeDispatch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	tr := NewTransport(server.Client(), 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.Get(ctx, server.URL); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if hits.Load() != 0 {
		t.Errorf("Expected no request to be sent, got %d", hits.Load())
	}
}
