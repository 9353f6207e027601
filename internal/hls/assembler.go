package hls

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
	"github.com/tidaldl/tidaldl-go/internal/network"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxManifestDepth bounds master -> media indirection.
const maxManifestDepth = 3

// Assembler rebuilds a video from its segment manifest.
type Assembler struct {
	transport  *network.Transport
	workers    int
	maxRetries int
	height     int
	logger     *zap.Logger
}

// NewAssembler creates an assembler fetching up to workers segments at once.
// height selects the rendition of master playlists; 0 takes the highest
// bandwidth.
func NewAssembler(transport *network.Transport, workers, maxRetries, height int, logger *zap.Logger) *Assembler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		transport:  transport,
		workers:    workers,
		maxRetries: maxRetries,
		height:     height,
		logger:     logger,
	}
}

// Assemble downloads every segment listed by manifestURL and concatenates
// them, in manifest order, into destPath.
func (a *Assembler) Assemble(ctx context.Context, manifestURL, destPath string) error {
	return a.AssembleWithProgress(ctx, manifestURL, destPath, nil)
}

// AssembleWithProgress is Assemble reporting the bytes of finished segments.
// The total is extrapolated from the average finished segment until the last
// segment lands, when it equals the bytes written.
func (a *Assembler) AssembleWithProgress(ctx context.Context, manifestURL, destPath string, progress network.ProgressFunc) error {
	segments, err := a.ResolveSegments(ctx, manifestURL)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return apperrors.NewPathError("failed to create output directory", err)
	}

	segmentDir := destPath + ".segments"
	if err := os.MkdirAll(segmentDir, 0755); err != nil {
		return apperrors.NewPathError("failed to create segment directory", err)
	}
	defer os.RemoveAll(segmentDir)

	a.logger.Debug("assembling video",
		zap.String("manifest", manifestURL),
		zap.Int("segments", len(segments)))

	if err := a.fetchSegments(ctx, segments, segmentDir, progress); err != nil {
		return err
	}
	return concatSegments(segmentDir, len(segments), destPath)
}

// ResolveSegments fetches the manifest, following a master playlist to its
// selected rendition, and returns the segment URLs.
func (a *Assembler) ResolveSegments(ctx context.Context, manifestURL string) ([]string, error) {
	current := manifestURL
	for depth := 0; depth < maxManifestDepth; depth++ {
		var data []byte
		err := apperrors.RetryWithBackoff(ctx, a.retryConfig("manifest"), func() error {
			var err error
			data, err = a.transport.Get(ctx, current)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch manifest: %w", err)
		}

		manifest, err := ParseManifest(data, current)
		if err != nil {
			return nil, err
		}
		if !manifest.IsMaster() {
			if len(manifest.Segments) == 0 {
				return nil, apperrors.NewManifestError("manifest lists no segments", nil)
			}
			return manifest.Segments, nil
		}

		variant, _ := SelectVariant(manifest.Variants, a.height)
		a.logger.Debug("selected variant",
			zap.String("url", variant.URL),
			zap.Int("height", variant.Height),
			zap.Uint32("bandwidth", variant.Bandwidth))
		current = variant.URL
	}
	return nil, apperrors.NewManifestError("too many nested playlists", nil)
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.ts", index))
}

func (a *Assembler) fetchSegments(ctx context.Context, segments []string, dir string, progress network.ProgressFunc) error {
	var mu sync.Mutex
	var bytesDone, segmentsDone int64
	count := int64(len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, u := range segments {
		i, u := i, u
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := a.fetchSegment(gctx, u, segmentPath(dir, i))
			if err != nil {
				a.logger.Warn("segment failed", zap.Int("segment", i), zap.String("url", u), zap.Error(err))
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if progress == nil {
				return nil
			}
			mu.Lock()
			bytesDone += n
			segmentsDone++
			done, total := bytesDone, bytesDone*count/segmentsDone
			mu.Unlock()
			progress(done, total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *Assembler) fetchSegment(ctx context.Context, u, path string) (int64, error) {
	var written int64
	err := apperrors.RetryWithBackoff(ctx, a.retryConfig("segment"), func() error {
		body, err := a.transport.Open(ctx, u, -1, -1)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.Create(path)
		if err != nil {
			return apperrors.NewPathError("failed to create segment file", err)
		}
		n, err := io.Copy(f, body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return apperrors.NewTransportError("failed to read segment", err)
		}
		monitoring.RecordBytes(n)
		written = n
		return nil
	})
	return written, err
}

// concatSegments appends count segment files in index order into
// destPath+".part" and renames the result onto destPath.
func concatSegments(dir string, count int, destPath string) error {
	tempPath := destPath + network.PartSuffix
	out, err := os.Create(tempPath)
	if err != nil {
		return apperrors.NewPathError("failed to create output file", err)
	}

	fail := func(err error) error {
		out.Close()
		os.Remove(tempPath)
		return err
	}

	for i := 0; i < count; i++ {
		in, err := os.Open(segmentPath(dir, i))
		if err != nil {
			return fail(apperrors.NewPathError(fmt.Sprintf("segment %d missing", i), err))
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return fail(apperrors.NewPathError("failed to append segment", err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to flush output file", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return apperrors.NewPathError("failed to move video into place", err)
	}
	return nil
}

func (a *Assembler) retryConfig(unit string) apperrors.RetryConfig {
	cfg := apperrors.PartRetryConfig(a.maxRetries)
	cfg.OnRetry = func(attempt int, err error) {
		monitoring.RecordRetry(unit)
		a.logger.Debug("retrying", zap.String("unit", unit), zap.Int("attempt", attempt), zap.Error(err))
	}
	return cfg
}
