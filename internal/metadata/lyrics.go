package metadata

import (
	"fmt"
	"os"
	"strings"
)

// LyricsPath returns the .lrc sibling of an audio file.
func LyricsPath(audioFilePath string) string {
	ext := ""
	if i := strings.LastIndex(audioFilePath, "."); i > strings.LastIndexAny(audioFilePath, `/\`) {
		ext = audioFilePath[i:]
	}
	return strings.TrimSuffix(audioFilePath, ext) + ".lrc"
}

// SaveLyricsFile writes time-synced lyrics next to the audio file. Empty
// lyrics write nothing.
func SaveLyricsFile(audioFilePath, syncedLyrics string) (string, error) {
	if strings.TrimSpace(syncedLyrics) == "" {
		return "", nil
	}
	lrcPath := LyricsPath(audioFilePath)
	if err := os.WriteFile(lrcPath, []byte(syncedLyrics), 0644); err != nil {
		return "", fmt.Errorf("failed to save LRC file: %w", err)
	}
	return lrcPath, nil
}
