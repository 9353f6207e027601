package network

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31 % 251)
	}
	return b
}

// contentServer serves blobs by path with range support and counts GETs.
type contentServer struct {
	*httptest.Server
	gets  atomic.Int32
	blobs map[string][]byte
}

func newContentServer(blobs map[string][]byte) *contentServer {
	cs := &contentServer{blobs: blobs}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, ok := cs.blobs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			cs.gets.Add(1)
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(blob))
	}))
	return cs
}

func newTestDownloader(cs *contentServer) *Downloader {
	return NewDownloader(NewTransport(cs.Client(), 4, 0), 4, 1, nil)
}

func TestFetchPartSizes(t *testing.T) {
	const partSize = 64

	tests := []struct {
		name      string
		size      int
		wantParts int32
	}{
		{"empty", 0, 0},
		{"one short of a part", partSize - 1, 1},
		{"exactly one part", partSize, 1},
		{"one over a part", partSize + 1, 2},
		{"many parts", 10*partSize + 7, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := testContent(tt.size)
			cs := newContentServer(map[string][]byte{"/a": content})
			defer cs.Close()

			dest := filepath.Join(t.TempDir(), "out.flac")
			result, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
				URLs:     []string{cs.URL + "/a"},
				Path:     dest,
				PartSize: partSize,
			})
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}

			got, err := os.ReadFile(result.TempPath)
			if err != nil {
				t.Fatalf("Failed to read part file: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("Content mismatch: got %d bytes, want %d", len(got), len(content))
			}
			if result.BytesTransferred != int64(tt.size) {
				t.Errorf("Expected %d bytes transferred, got %d", tt.size, result.BytesTransferred)
			}
			if cs.gets.Load() != tt.wantParts {
				t.Errorf("Expected %d GETs, got %d", tt.wantParts, cs.gets.Load())
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Error("Expected final path to be left to the caller")
			}
		})
	}
}

func TestFetchMultipleURLs(t *testing.T) {
	blobs := map[string][]byte{
		"/0": []byte("first-"),
		"/1": []byte("second-"),
		"/2": []byte("third"),
	}
	cs := newContentServer(blobs)
	defer cs.Close()

	dest := filepath.Join(t.TempDir(), "out.m4a")
	result, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
		URLs: []string{cs.URL + "/0", cs.URL + "/1", cs.URL + "/2"},
		Path: dest,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	got, _ := os.ReadFile(result.TempPath)
	if string(got) != "first-second-third" {
		t.Errorf("Expected parts concatenated in order, got %q", got)
	}
	if result.TotalBytes != 18 {
		t.Errorf("Expected total 18, got %d", result.TotalBytes)
	}
}

func TestFetchSkipExisting(t *testing.T) {
	content := testContent(100)
	cs := newContentServer(map[string][]byte{"/a": content})
	defer cs.Close()

	dest := filepath.Join(t.TempDir(), "out.flac")
	if err := os.WriteFile(dest, content, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
		URLs:         []string{cs.URL + "/a"},
		Path:         dest,
		SkipExisting: true,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.Skipped {
		t.Error("Expected result to be skipped")
	}
	if result.BytesTransferred != 0 {
		t.Errorf("Expected zero bytes transferred, got %d", result.BytesTransferred)
	}
	if cs.gets.Load() != 0 {
		t.Errorf("Expected no GETs, got %d", cs.gets.Load())
	}
}

func TestFetchSmallExistingFileIsReplaced(t *testing.T) {
	content := testContent(100)
	cs := newContentServer(map[string][]byte{"/a": content})
	defer cs.Close()

	dest := filepath.Join(t.TempDir(), "out.flac")
	os.WriteFile(dest, content[:10], 0644)

	result, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
		URLs:         []string{cs.URL + "/a"},
		Path:         dest,
		SkipExisting: true,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Skipped {
		t.Error("Expected truncated file to be downloaded again")
	}
}

func TestFetchPartFailure(t *testing.T) {
	content := testContent(300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.Header.Get("Range") == "bytes=100-199" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(content))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.flac")
	d := NewDownloader(NewTransport(server.Client(), 4, 0), 2, 1, nil)
	_, err := d.Fetch(context.Background(), DownloadJob{
		URLs:     []string{server.URL},
		Path:     dest,
		PartSize: 100,
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !apperrors.IsTransportError(err) {
		t.Errorf("Expected transport error, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("Expected no file at the final path")
	}
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	content := testContent(200)
	var failed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && !failed.Swap(true) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(content))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.flac")
	d := NewDownloader(NewTransport(server.Client(), 4, 0), 2, 2, nil)
	result, err := d.Fetch(context.Background(), DownloadJob{
		URLs:     []string{server.URL},
		Path:     dest,
		PartSize: 50,
	})
	if err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	got, _ := os.ReadFile(result.TempPath)
	if !bytes.Equal(got, content) {
		t.Error("Content mismatch after retry")
	}
}

func TestFetchProgressIsCumulative(t *testing.T) {
	content := testContent(1000)
	cs := newContentServer(map[string][]byte{"/a": content})
	defer cs.Close()

	var mu sync.Mutex
	var last, total int64
	var calls int
	progress := func(transferred, bytesTotal int64) {
		mu.Lock()
		defer mu.Unlock()
		if transferred < last {
			t.Errorf("Progress went backwards: %d after %d", transferred, last)
		}
		last, total = transferred, bytesTotal
		calls++
		// A slow consumer must not stall the transfer.
		time.Sleep(time.Millisecond)
	}

	dest := filepath.Join(t.TempDir(), "out.flac")
	_, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
		URLs:     []string{cs.URL + "/a"},
		Path:     dest,
		PartSize: 100,
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("Expected progress callbacks")
	}
	if last != 1000 || total != 1000 {
		t.Errorf("Expected final progress 1000/1000, got %d/%d", last, total)
	}
}

func TestFetchDoesNotWaitForSlowProgressConsumer(t *testing.T) {
	content := testContent(1000)
	cs := newContentServer(map[string][]byte{"/a": content})
	defer cs.Close()

	release := make(chan struct{})
	defer close(release)
	progress := func(transferred, bytesTotal int64) {
		<-release
	}

	dest := filepath.Join(t.TempDir(), "out.flac")
	done := make(chan error, 1)
	go func() {
		_, err := newTestDownloader(cs).Fetch(context.Background(), DownloadJob{
			URLs:     []string{cs.URL + "/a"},
			Path:     dest,
			PartSize: 100,
			Progress: progress,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Fetch blocked on a progress consumer that never returns")
	}

	got, err := os.ReadFile(dest + PartSuffix)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Content mismatch")
	}
}

func TestFetchProgressMonotonicAcrossRetries(t *testing.T) {
	content := testContent(1000)
	var truncated atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && !truncated.Swap(true) {
			// Promise the whole body, deliver half and drop the connection.
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.WriteHeader(http.StatusOK)
			w.Write(content[:500])
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
			return
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(content))
	}))
	defer server.Close()

	var mu sync.Mutex
	var seen []int64
	progress := func(transferred, bytesTotal int64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, transferred)
	}

	dest := filepath.Join(t.TempDir(), "out.flac")
	d := NewDownloader(NewTransport(server.Client(), 4, 0), 1, 2, nil)
	result, err := d.Fetch(context.Background(), DownloadJob{
		URLs:     []string{server.URL},
		Path:     dest,
		PartSize: 1000,
		Progress: progress,
	})
	if err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if !truncated.Load() {
		t.Fatal("Expected the first attempt to be cut short")
	}
	got, _ := os.ReadFile(result.TempPath)
	if !bytes.Equal(got, content) {
		t.Error("Content mismatch after retry")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("Expected progress callbacks")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("Progress went backwards: %v", seen)
			break
		}
	}
	if last := seen[len(seen)-1]; last != 1000 {
		t.Errorf("Expected final progress 1000, got %d", last)
	}
}

func TestFetchSizesPartURLsConcurrently(t *testing.T) {
	blobs := map[string][]byte{}
	var urls []string
	for i := 0; i < 8; i++ {
		blobs[fmt.Sprintf("/p%d", i)] = testContent(10 + i)
	}

	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, ok := blobs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodHead {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			inFlight.Add(-1)
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytesReader(blob))
	}))
	defer server.Close()

	var want []byte
	for i := 0; i < 8; i++ {
		urls = append(urls, fmt.Sprintf("%s/p%d", server.URL, i))
		want = append(want, blobs[fmt.Sprintf("/p%d", i)]...)
	}

	dest := filepath.Join(t.TempDir(), "out.flac")
	d := NewDownloader(NewTransport(server.Client(), 8, 0), 4, 0, nil)
	result, err := d.Fetch(context.Background(), DownloadJob{URLs: urls, Path: dest})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.TotalBytes != int64(len(want)) {
		t.Errorf("TotalBytes = %d, want %d", result.TotalBytes, len(want))
	}
	got, _ := os.ReadFile(result.TempPath)
	if !bytes.Equal(got, want) {
		t.Error("Parts not assembled in order")
	}
	if p := peak.Load(); p < 2 || p > 4 {
		t.Errorf("Expected 2-4 concurrent HEAD requests, saw %d", p)
	}
}

func TestFetchUnknownSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		// Chunked responses carry no length.
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "streamed body")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	d := NewDownloader(NewTransport(server.Client(), 1, 0), 1, 0, nil)
	result, err := d.Fetch(context.Background(), DownloadJob{URLs: []string{server.URL}, Path: dest})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	got, _ := os.ReadFile(result.TempPath)
	if string(got) != "streamed body" {
		t.Errorf("Expected streamed body, got %q", got)
	}
	if result.TotalBytes != -1 {
		t.Errorf("Expected unknown total, got %d", result.TotalBytes)
	}
}

func TestFetchNoURLs(t *testing.T) {
	d := NewDownloader(NewTransport(nil, 1, 0), 1, 0, nil)
	if _, err := d.Fetch(context.Background(), DownloadJob{Path: filepath.Join(t.TempDir(), "x")}); err == nil {
		t.Error("Expected error for job without urls")
	}
}
