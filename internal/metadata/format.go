package metadata

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/abema/go-mp4"
)

// Format is an audio container recognised by its leading bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatFLAC
	FormatMP4
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatFLAC:
		return "flac"
	case FormatMP4:
		return "mp4"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

var (
	flacMagic = []byte("fLaC")
	ftypMagic = []byte("ftyp")
	id3Magic  = []byte("ID3")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// DetectFormatBytes classifies a file from its first bytes.
func DetectFormatBytes(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, flacMagic):
		return FormatFLAC
	case len(head) >= 8 && bytes.Equal(head[4:8], ftypMagic):
		return FormatMP4
	case bytes.HasPrefix(head, id3Magic):
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		// Bare MPEG frame sync.
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// DetectFormat reads the leading bytes of path. The file name plays no part.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	return DetectFormatBytes(head[:n]), nil
}

// DetectImageMIME infers the MIME type of cover art. Unknown data is
// reported as JPEG, the provider's format.
func DetectImageMIME(data []byte) string {
	if bytes.HasPrefix(data, pngMagic) {
		return "image/png"
	}
	return "image/jpeg"
}

// IsImage reports whether data starts with a JPEG or PNG signature.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, jpegMagic) || bytes.HasPrefix(data, pngMagic)
}

// ProbeAudioCodec returns the four character code of the first sample entry
// of an MP4 file, e.g. "mp4a" or "fLaC".
func ProbeAudioCodec(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	entries, err := mp4.ExtractBox(f, nil, mp4.BoxPath{
		mp4.BoxTypeMoov(),
		mp4.BoxTypeTrak(),
		mp4.BoxTypeMdia(),
		mp4.BoxTypeMinf(),
		mp4.BoxTypeStbl(),
		mp4.BoxTypeStsd(),
		mp4.BoxTypeAny(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read sample description: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no sample entries found")
	}
	return entries[0].Type.String(), nil
}
