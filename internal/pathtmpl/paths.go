package pathtmpl

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidaldl/tidaldl-go/internal/api"
	"github.com/tidaldl/tidaldl-go/internal/config"
)

// Builder maps catalog items to destination paths under a download root.
type Builder struct {
	engine            *Engine
	root              string
	quality           api.AudioQuality
	usePlaylistFolder bool
}

// NewBuilder creates a path builder from configuration.
func NewBuilder(cfg *config.Config) *Builder {
	engine := NewEngine(cfg.Paths.Replacement, map[api.Kind]string{
		api.KindAlbum:    cfg.Paths.AlbumFolder,
		api.KindPlaylist: cfg.Paths.PlaylistFolder,
		api.KindTrack:    cfg.Paths.TrackFile,
		api.KindVideo:    cfg.Paths.VideoFile,
	})
	return &Builder{
		engine:            engine,
		root:              cfg.Download.OutputDir,
		quality:           api.AudioQuality(cfg.Download.AudioQuality),
		usePlaylistFolder: cfg.Download.UsePlaylistFolder,
	}
}

// Root returns the download root.
func (b *Builder) Root() string {
	return b.root
}

func (b *Builder) join(rel string) string {
	return filepath.Join(b.root, filepath.FromSlash(rel))
}

// AlbumDir returns the folder of an album.
func (b *Builder) AlbumDir(album *api.Album) string {
	return b.join(b.engine.Render(api.KindAlbum, "", AlbumBindings(album, b.quality)))
}

// PlaylistDir returns the folder of a playlist.
func (b *Builder) PlaylistDir(playlist *api.Playlist) string {
	return b.join(b.engine.Render(api.KindPlaylist, "", PlaylistBindings(playlist)))
}

// TrackPath returns the destination file of a track. album and playlist may
// be nil.
func (b *Builder) TrackPath(track *api.Track, stream *api.StreamDescriptor, album *api.Album, playlist *api.Playlist) string {
	base := b.root
	number := track.TrackNumber
	if album != nil {
		base = b.AlbumDir(album)
		if album.NumberOfVolumes > 1 {
			base = filepath.Join(base, fmt.Sprintf("CD%d", track.VolumeNumber))
		}
	}
	if playlist != nil && b.usePlaylistFolder {
		base = b.PlaylistDir(playlist)
		number = track.TrackNumberOnPlaylist
	}

	name := b.engine.Render(api.KindTrack, "", TrackBindings(track, album, number))
	return filepath.Join(base, filepath.FromSlash(name)+Extension(stream))
}

// VideoPath returns the destination file of a video. album and playlist may
// be nil.
func (b *Builder) VideoPath(video *api.Video, album *api.Album, playlist *api.Playlist) string {
	base := filepath.Join(b.root, "Video")
	number := video.TrackNumber
	if album != nil {
		base = b.AlbumDir(album)
	}
	if playlist != nil && b.usePlaylistFolder {
		base = b.PlaylistDir(playlist)
		number = video.TrackNumberOnPlaylist
	}

	name := b.engine.Render(api.KindVideo, "", VideoBindings(video, album, number))
	return filepath.Join(base, filepath.FromSlash(name)+".mp4")
}

// AlbumBindings formats the album placeholders.
func AlbumBindings(album *api.Album, quality api.AudioQuality) Bindings {
	albumArtist := ""
	if album.Artist != nil {
		albumArtist = album.Artist.Name
	}
	flag := AlbumFlag(album, quality.IsMaster())
	if flag != "" {
		flag = "[" + flag + "]"
	}
	return Bindings{
		"ArtistName":      strings.Join(api.ArtistNames(album.Artists), ", "),
		"AlbumArtistName": albumArtist,
		"Flag":            flag,
		"AlbumID":         album.ID.String(),
		"AlbumYear":       Year(album.ReleaseDate),
		"AlbumTitle":      album.Title,
		"AudioQuality":    album.AudioQuality,
		"DurationSeconds": strconv.Itoa(album.Duration),
		"Duration":        FormatDuration(album.Duration),
		"NumberOfTracks":  strconv.Itoa(album.NumberOfTracks),
		"NumberOfVideos":  strconv.Itoa(album.NumberOfVideos),
		"NumberOfVolumes": strconv.Itoa(album.NumberOfVolumes),
		"ReleaseDate":     album.ReleaseDate,
		"RecordType":      album.Type,
		"None":            "",
	}
}

// PlaylistBindings formats the playlist placeholders.
func PlaylistBindings(playlist *api.Playlist) Bindings {
	return Bindings{
		"PlaylistUUID": playlist.UUID,
		"PlaylistName": playlist.Title,
	}
}

// TrackBindings formats the track placeholders. number is the album or
// playlist position to render.
func TrackBindings(track *api.Track, album *api.Album, number int) Bindings {
	artist := ""
	if track.Artist != nil {
		artist = track.Artist.Name
	}
	b := Bindings{
		"TrackNumber":     fmt.Sprintf("%02d", number),
		"ArtistName":      artist,
		"ArtistsName":     strings.Join(api.ArtistNames(track.Artists), ", "),
		"TrackTitle":      Title(track.Title, track.Version),
		"ExplicitFlag":    explicitFlag(track.Explicit),
		"AudioQuality":    track.AudioQuality,
		"DurationSeconds": strconv.Itoa(track.Duration),
		"Duration":        FormatDuration(track.Duration),
		"TrackID":         track.ID.String(),
	}
	if album != nil {
		b["AlbumTitle"] = album.Title
		b["AlbumYear"] = Year(album.ReleaseDate)
	}
	return b
}

// VideoBindings formats the video placeholders.
func VideoBindings(video *api.Video, album *api.Album, number int) Bindings {
	artist := ""
	if video.Artist != nil {
		artist = video.Artist.Name
	}
	b := Bindings{
		"VideoNumber":  fmt.Sprintf("%02d", number),
		"ArtistName":   artist,
		"ArtistsName":  strings.Join(api.ArtistNames(video.Artists), ", "),
		"VideoTitle":   Title(video.Title, video.Version),
		"ExplicitFlag": explicitFlag(video.Explicit),
		"VideoID":      video.ID.String(),
	}
	if album != nil {
		b["AlbumTitle"] = album.Title
		b["AlbumYear"] = Year(album.ReleaseDate)
	}
	return b
}

// AlbumFlag returns the short quality/content markers of an album: M for
// master audio (only when master is true), A for Dolby Atmos, E for explicit.
func AlbumFlag(album *api.Album, master bool) string {
	var flag strings.Builder
	if master && (album.AudioQuality == "HI_RES" || album.AudioQuality == "HI_RES_LOSSLESS") {
		flag.WriteString("M")
	}
	for _, mode := range album.AudioModes {
		if mode == "DOLBY_ATMOS" {
			flag.WriteString("A")
			break
		}
	}
	if album.Explicit {
		flag.WriteString("E")
	}
	return flag.String()
}

// Title appends a non-empty version in parentheses.
func Title(title, version string) string {
	if strings.TrimSpace(version) == "" {
		return title
	}
	return fmt.Sprintf("%s (%s)", title, version)
}

// Year returns the leading component of a release date such as 2021-03-05.
func Year(releaseDate string) string {
	if i := strings.IndexByte(releaseDate, '-'); i >= 0 {
		return releaseDate[:i]
	}
	return releaseDate
}

// FormatDuration renders seconds as H:MM:SS, dropping a zero hour.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := seconds % 60
	if h == 0 {
		return fmt.Sprintf("%02d:%02d", m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// Extension infers the file extension of an audio stream from its URL and
// codec.
func Extension(stream *api.StreamDescriptor) string {
	if stream == nil {
		return ".m4a"
	}
	url := stream.PrimaryURL()
	codec := strings.ToLower(stream.Codec)
	switch {
	case strings.Contains(url, ".flac"):
		return ".flac"
	case strings.Contains(url, ".mp4"):
		if strings.Contains(codec, "ac4") || strings.Contains(codec, "mha1") {
			return ".mp4"
		}
		if strings.Contains(codec, "flac") {
			return ".flac"
		}
		return ".m4a"
	}
	return ".m4a"
}

func explicitFlag(explicit bool) string {
	if explicit {
		return "(Explicit)"
	}
	return ""
}
