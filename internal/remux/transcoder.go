package remux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Transcoder copies the audio stream of the file at inputPath into a native
// FLAC stream.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) ([]byte, error)
}

// FFmpeg runs the ffmpeg binary on the source file and collects the FLAC
// stream from a pipe, so no intermediate file is written. The input is a path
// because MP4 files with moov after mdat need a seekable input.
type FFmpeg struct {
	BinaryPath string
}

// NewFFmpeg resolves binary (a name or a path) on PATH.
func NewFFmpeg(binary string) (*FFmpeg, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	return &FFmpeg{BinaryPath: path}, nil
}

func ffmpegArgs(inputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-c:a", "copy",
		"-f", "flac",
		"pipe:1",
	}
}

// Transcode runs `ffmpeg -i <inputPath> -vn -c:a copy -f flac pipe:1`.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.BinaryPath, ffmpegArgs(inputPath)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}
	return stdout.Bytes(), nil
}
