package network

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPartSize is the range size used when a job does not set one.
const DefaultPartSize int64 = 1 << 20

// PartSuffix marks incomplete output.
const PartSuffix = ".part"

// DownloadJob describes one asset to materialise.
type DownloadJob struct {
	// URLs holds a single URL to be split into byte ranges, or an ordered
	// list of part URLs to be concatenated.
	URLs         []string
	Path         string
	PartSize     int64
	SkipExisting bool
	Progress     ProgressFunc
}

// PartPath returns where the job's bytes are assembled.
func (j *DownloadJob) PartPath() string {
	return j.Path + PartSuffix
}

// FetchResult describes a finished job.
type FetchResult struct {
	Skipped          bool
	BytesTransferred int64
	TotalBytes       int64
	TempPath         string
}

// Downloader fetches assets with parallel range requests.
type Downloader struct {
	transport  *Transport
	workers    int
	maxRetries int
	logger     *zap.Logger
}

// NewDownloader creates a downloader running up to workers parts at once,
// each retried up to maxRetries times.
func NewDownloader(transport *Transport, workers, maxRetries int, logger *zap.Logger) *Downloader {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		transport:  transport,
		workers:    workers,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// part is one unit of work: bytes [start, start+size) of url written at
// offset. start < 0 requests the whole resource.
type part struct {
	index  int
	url    string
	offset int64
	start  int64
	size   int64
}

// Fetch downloads job into job.PartPath(). The final path is left for the
// caller, which decrypts or renames once all bytes are present.
func (d *Downloader) Fetch(ctx context.Context, job DownloadJob) (*FetchResult, error) {
	if len(job.URLs) == 0 {
		return nil, apperrors.NewTransportError("no source urls", nil)
	}
	if job.PartSize <= 0 {
		job.PartSize = DefaultPartSize
	}

	sizes, total, err := d.remoteSizes(ctx, job.URLs)
	if err != nil {
		return nil, err
	}

	if job.SkipExisting && total >= 0 {
		if info, err := os.Stat(job.Path); err == nil && info.Size() > 0 && info.Size() >= total {
			d.logger.Debug("skipping existing file",
				zap.String("path", job.Path),
				zap.Int64("local_size", info.Size()),
				zap.Int64("remote_size", total))
			return &FetchResult{Skipped: true, TotalBytes: total}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(job.Path), 0755); err != nil {
		return nil, apperrors.NewPathError("failed to create output directory", err)
	}

	tempPath := job.PartPath()
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, apperrors.NewPathError("failed to create part file", err)
	}
	defer f.Close()

	progress := newProgressReporter(job.Progress, total)
	var transferred int64

	if total >= 0 {
		// Pre-size so parts can land at their offsets in any order.
		if err := f.Truncate(total); err != nil {
			progress.Close()
			return nil, apperrors.NewPathError("failed to pre-size part file", err)
		}
		transferred, err = d.fetchParallel(ctx, f, planParts(job.URLs, sizes, job.PartSize), progress)
	} else {
		transferred, err = d.fetchSequential(ctx, f, job.URLs, progress)
	}
	progress.Close()
	monitoring.RecordBytes(transferred)

	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, apperrors.NewPathError("failed to flush part file", err)
	}

	return &FetchResult{
		BytesTransferred: transferred,
		TotalBytes:       total,
		TempPath:         tempPath,
	}, nil
}

// remoteSizes returns the length of each URL and their sum. The sum is -1
// when any length is unknown. HEAD requests run on the part worker limit.
func (d *Downloader) remoteSizes(ctx context.Context, urls []string) ([]int64, int64, error) {
	sizes := make([]int64, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			err := apperrors.RetryWithBackoff(gctx, d.retryConfig("head"), func() error {
				size, err := d.transport.ContentLength(gctx, u)
				sizes[i] = size
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to determine size of part %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, size := range sizes {
		if size < 0 || total < 0 {
			total = -1
			continue
		}
		total += size
	}
	return sizes, total, nil
}

// planParts splits a single URL into ranges of partSize, or maps each of
// several URLs to one part.
func planParts(urls []string, sizes []int64, partSize int64) []part {
	var parts []part
	if len(urls) == 1 {
		size := sizes[0]
		for off := int64(0); off < size; off += partSize {
			n := partSize
			if off+n > size {
				n = size - off
			}
			parts = append(parts, part{index: len(parts), url: urls[0], offset: off, start: off, size: n})
		}
		return parts
	}

	var offset int64
	for i, u := range urls {
		if sizes[i] > 0 {
			parts = append(parts, part{index: i, url: u, offset: offset, start: -1, size: sizes[i]})
		}
		offset += sizes[i]
	}
	return parts
}

func (d *Downloader) fetchParallel(ctx context.Context, f *os.File, parts []part, progress *progressReporter) (int64, error) {
	var transferred atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, p := range parts {
		p := p
		// Stop scheduling once a part has failed.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := d.fetchPart(gctx, f, p, progress)
			transferred.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return transferred.Load(), err
	}
	if err := ctx.Err(); err != nil {
		return transferred.Load(), err
	}
	return transferred.Load(), nil
}

func (d *Downloader) fetchPart(ctx context.Context, f *os.File, p part, progress *progressReporter) (int64, error) {
	var written, reported int64
	err := apperrors.RetryWithBackoff(ctx, d.retryConfig("part"), func() error {
		end := int64(-1)
		if p.start >= 0 {
			end = p.start + p.size - 1
		}
		body, err := d.transport.Open(ctx, p.url, p.start, end)
		if err != nil {
			return err
		}
		defer body.Close()

		w := &countingWriter{w: io.NewOffsetWriter(f, p.offset), reported: &reported, progress: progress}
		_, err = io.Copy(w, io.LimitReader(body, p.size))
		if err == nil && w.written != p.size {
			err = fmt.Errorf("short read: got %d of %d bytes", w.written, p.size)
		}
		if err != nil {
			return apperrors.NewTransportError(fmt.Sprintf("part %d failed", p.index), err)
		}
		written = w.written
		return nil
	})
	if err != nil {
		d.logger.Warn("part failed", zap.Int("part", p.index), zap.String("url", p.url), zap.Error(err))
		return 0, err
	}
	return written, nil
}

// fetchSequential streams every URL in order when sizes are unknown.
func (d *Downloader) fetchSequential(ctx context.Context, f *os.File, urls []string, progress *progressReporter) (int64, error) {
	var total int64
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		offset := total
		var written, reported int64
		err := apperrors.RetryWithBackoff(ctx, d.retryConfig("part"), func() error {
			body, err := d.transport.Open(ctx, u, -1, -1)
			if err != nil {
				return err
			}
			defer body.Close()

			w := &countingWriter{w: io.NewOffsetWriter(f, offset), reported: &reported, progress: progress}
			if _, err := io.Copy(w, body); err != nil {
				return apperrors.NewTransportError(fmt.Sprintf("part %d failed", i), err)
			}
			written = w.written
			return nil
		})
		if err != nil {
			return total, err
		}
		total += written
	}
	// A failed longer attempt may have left bytes past the end.
	if err := f.Truncate(total); err != nil {
		return total, apperrors.NewPathError("failed to truncate part file", err)
	}
	return total, nil
}

func (d *Downloader) retryConfig(unit string) apperrors.RetryConfig {
	cfg := apperrors.PartRetryConfig(d.maxRetries)
	cfg.OnRetry = func(attempt int, err error) {
		monitoring.RecordRetry(unit)
		d.logger.Debug("retrying", zap.String("unit", unit), zap.Int("attempt", attempt), zap.Error(err))
	}
	return cfg
}
