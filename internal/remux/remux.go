package remux

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-flac/go-flac"
	"github.com/tidaldl/tidaldl-go/internal/api"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/metadata"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
	"go.uber.org/zap"
)

// Outcome describes what Remux did with a file.
type Outcome string

const (
	// OutcomeSkipped: remuxing is disabled or does not apply to the tier.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeNative: the file is already in the target container, or holds
	// a codec FLAC cannot carry.
	OutcomeNative Outcome = "native"
	// OutcomeRemuxed: the file was rewritten as FLAC.
	OutcomeRemuxed Outcome = "remuxed"
	// OutcomeFailed: the original was kept.
	OutcomeFailed Outcome = "failed"
)

// CoverFileName is the album cover written next to tracks.
const CoverFileName = "cover.jpg"

// TagReader reads the tags and embedded cover of an audio file.
// metadata.Manager satisfies it.
type TagReader interface {
	GetMetadata(path string) (*metadata.TrackMetadata, error)
}

// Remuxer rewrites FLAC-in-MP4 downloads as native FLAC files.
type Remuxer struct {
	enabled    bool
	transcoder Transcoder
	tags       TagReader
	probe      func(path string) (string, error)
	logger     *zap.Logger
}

// NewRemuxer creates a remuxer. A nil transcoder disables remuxing.
func NewRemuxer(enabled bool, transcoder Transcoder, tags TagReader, logger *zap.Logger) *Remuxer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remuxer{
		enabled:    enabled && transcoder != nil,
		transcoder: transcoder,
		tags:       tags,
		probe:      metadata.ProbeAudioCodec,
		logger:     logger,
	}
}

// Remux converts path in place when the tier is the highest and the file is
// an MP4 carrying FLAC. On any failure the original file is untouched and a
// RemuxError is returned.
func (r *Remuxer) Remux(ctx context.Context, path string, tier api.AudioQuality) (Outcome, error) {
	outcome, err := r.remux(ctx, path, tier)
	monitoring.RecordRemux(string(outcome))
	return outcome, err
}

func (r *Remuxer) remux(ctx context.Context, path string, tier api.AudioQuality) (Outcome, error) {
	if !r.enabled || tier != api.AudioMax {
		return OutcomeSkipped, nil
	}

	format, err := metadata.DetectFormat(path)
	if err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("failed to inspect file", err)
	}
	if format != metadata.FormatMP4 {
		// Already FLAC, or nothing we know how to convert.
		return OutcomeNative, nil
	}
	if codec, err := r.probe(path); err == nil && codec == "mp4a" {
		return OutcomeNative, nil
	}

	md, err := r.tags.GetMetadata(path)
	if err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("failed to read source tags", err)
	}
	r.applyCover(path, md)

	out, err := r.transcoder.Transcode(ctx, path)
	if err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("transcoder failed", err)
	}

	f, err := flac.ParseBytes(bytes.NewReader(out))
	if err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("transcoder output is not FLAC", err)
	}
	if err := metadata.ApplyFLAC(f, md, true); err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("failed to apply tags", err)
	}

	if err := replaceFile(path, f.Marshal()); err != nil {
		return OutcomeFailed, apperrors.NewRemuxError("failed to replace original", err)
	}

	r.logger.Debug("remuxed to flac", zap.String("path", path), zap.Int("bytes", len(out)))
	return OutcomeRemuxed, nil
}

// applyCover prefers the album cover next to the file over the embedded one.
func (r *Remuxer) applyCover(path string, md *metadata.TrackMetadata) {
	cover, err := os.ReadFile(filepath.Join(filepath.Dir(path), CoverFileName))
	if err != nil || !metadata.IsImage(cover) {
		if len(md.ArtworkData) > 0 {
			md.ArtworkMIME = metadata.DetectImageMIME(md.ArtworkData)
		}
		return
	}
	md.ArtworkData = cover
	md.ArtworkMIME = metadata.DetectImageMIME(cover)
}

// replaceFile writes data to a sibling and renames it over path.
func replaceFile(path string, data []byte) error {
	tempPath := path + ".remux"
	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
