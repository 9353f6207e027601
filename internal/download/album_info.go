package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidaldl/tidaldl-go/internal/api"
)

// AlbumInfoFileName is written to the album folder when album info is enabled.
const AlbumInfoFileName = "AlbumInfo.txt"

// FormatAlbumInfo renders the album summary and a per-volume track listing.
func FormatAlbumInfo(album *api.Album, tracks []*api.Track) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ID]          %s\n", album.ID)
	fmt.Fprintf(&b, "[Title]       %s\n", album.Title)
	fmt.Fprintf(&b, "[Artists]     %s\n", strings.Join(api.ArtistNames(album.Artists), ", "))
	fmt.Fprintf(&b, "[ReleaseDate] %s\n", album.ReleaseDate)
	fmt.Fprintf(&b, "[SongNum]     %d\n", album.NumberOfTracks)
	fmt.Fprintf(&b, "[Duration]    %d\n", album.Duration)
	b.WriteString("\n")

	volumes := album.NumberOfVolumes
	if volumes < 1 {
		volumes = 1
	}
	for volume := 1; volume <= volumes; volume++ {
		fmt.Fprintf(&b, "===========CD %d=============\n", volume)
		for _, t := range tracks {
			if t.VolumeNumber != volume && !(volumes == 1 && t.VolumeNumber == 0) {
				continue
			}
			fmt.Fprintf(&b, "%-8s%s\n", fmt.Sprintf("[%d]", t.TrackNumber), t.Title)
		}
	}
	return b.String()
}

// WriteAlbumInfo writes the album summary into dir, replacing any previous
// file.
func WriteAlbumInfo(dir string, album *api.Album, tracks []*api.Track) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create album directory: %w", err)
	}
	path := filepath.Join(dir, AlbumInfoFileName)
	if err := os.WriteFile(path, []byte(FormatAlbumInfo(album, tracks)), 0644); err != nil {
		return "", fmt.Errorf("failed to write album info: %w", err)
	}
	return path, nil
}
