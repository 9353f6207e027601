package pathtmpl

import (
	"fmt"
	"path/filepath"
	"strings"
)

// stripControl removes NUL and other control characters from a value.
func stripControl(value string) string {
	if strings.IndexFunc(value, func(r rune) bool { return r < 32 }) < 0 {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= 32 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Contained returns an error unless path lies under root.
func Contained(root, path string) error {
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	cleanRoot := filepath.Clean(root)
	rel, err := filepath.Rel(cleanRoot, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path %s is not under %s: %w", path, root, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes download root %s", path, root)
	}
	return nil
}
