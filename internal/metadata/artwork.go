package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
)

// Getter fetches a small document. network.Transport satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// ArtworkFetcher downloads cover art and scales it to a target size.
type ArtworkFetcher struct {
	getter Getter
	size   int
}

// NewArtworkFetcher creates a fetcher. size <= 0 keeps images as served.
func NewArtworkFetcher(getter Getter, size int) *ArtworkFetcher {
	return &ArtworkFetcher{getter: getter, size: size}
}

// Fetch downloads the image at url and returns it with its MIME type.
func (a *ArtworkFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("artwork URL cannot be empty")
	}

	imageData, err := a.getter.Get(ctx, url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download artwork: %w", err)
	}
	if !IsImage(imageData) {
		return nil, "", fmt.Errorf("artwork at %s is not a JPEG or PNG image", url)
	}

	if a.size > 0 {
		// A failed resize keeps the original.
		if resized, err := resizeImage(imageData, a.size); err == nil {
			imageData = resized
		}
	}
	return imageData, DetectImageMIME(imageData), nil
}

// SaveCover writes image data to path unless a file is already there.
func SaveCover(path string, data []byte) error {
	if FileExists(path) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cover directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cover: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename cover: %w", err)
	}
	return nil
}

// resizeImage scales an image so its longer side is targetSize.
func resizeImage(imageData []byte, targetSize int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= targetSize && height <= targetSize {
		return imageData, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(targetSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(targetSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
