package hls

import (
	"bufio"
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

// Manifest is a parsed playlist document.
type Manifest struct {
	// Segments holds absolute segment URLs in playback order. Empty for a
	// master playlist.
	Segments []string
	// Variants holds the renditions of a master playlist.
	Variants []Variant
}

// Variant is one rendition advertised by a master playlist.
type Variant struct {
	URL       string
	Bandwidth uint32
	Height    int
}

// IsMaster reports whether the manifest points at other playlists.
func (m *Manifest) IsMaster() bool {
	return len(m.Variants) > 0
}

// ParseManifest parses data fetched from base. Documents the strict decoder
// rejects are read line by line: every line that is neither blank nor a
// directive is a segment URI.
func ParseManifest(data []byte, base string) (*Manifest, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, apperrors.NewManifestError("invalid manifest url", err)
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return scanManifest(data, baseURL)
	}

	manifest := &Manifest{}
	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			if v == nil || v.URI == "" {
				continue
			}
			manifest.Variants = append(manifest.Variants, Variant{
				URL:       resolve(baseURL, v.URI),
				Bandwidth: v.Bandwidth,
				Height:    parseHeight(v.Resolution),
			})
		}
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		for _, seg := range media.Segments {
			// The segment slice is over-allocated; the tail is nil.
			if seg == nil {
				break
			}
			manifest.Segments = append(manifest.Segments, resolve(baseURL, seg.URI))
		}
	}
	return manifest, nil
}

func scanManifest(data []byte, baseURL *url.URL) (*Manifest, error) {
	manifest := &Manifest{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		manifest.Segments = append(manifest.Segments, resolve(baseURL, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewManifestError("failed to read manifest", err)
	}
	return manifest, nil
}

// SelectVariant picks the rendition whose height matches the requested one,
// else the best rendition not taller than it, else the highest bandwidth.
func SelectVariant(variants []Variant, height int) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}

	var best, fallback *Variant
	for i := range variants {
		v := &variants[i]
		if fallback == nil || v.Bandwidth > fallback.Bandwidth {
			fallback = v
		}
		if height <= 0 || v.Height == 0 || v.Height > height {
			continue
		}
		if best == nil || v.Height > best.Height ||
			(v.Height == best.Height && v.Bandwidth > best.Bandwidth) {
			best = v
		}
	}
	if best != nil {
		return *best, true
	}
	return *fallback, true
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// parseHeight reads the height from a WIDTHxHEIGHT resolution.
func parseHeight(resolution string) int {
	_, h, ok := strings.Cut(resolution, "x")
	if !ok {
		return 0
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return height
}
