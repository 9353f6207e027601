package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the type of a catalog item
type Kind string

const (
	KindTrack    Kind = "track"
	KindVideo    Kind = "video"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

// AudioQuality is the configured audio tier, lowest first.
type AudioQuality string

const (
	AudioNormal AudioQuality = "Normal"
	AudioHigh   AudioQuality = "High"
	AudioHiFi   AudioQuality = "HiFi"
	AudioMaster AudioQuality = "Master"
	AudioMax    AudioQuality = "Max"
)

// Label returns the provider's name for the tier.
func (q AudioQuality) Label() string {
	switch q {
	case AudioHigh:
		return "HIGH"
	case AudioHiFi:
		return "LOSSLESS"
	case AudioMaster:
		return "HI_RES"
	case AudioMax:
		return "HI_RES_LOSSLESS"
	default:
		return "LOW"
	}
}

// IsMaster reports whether the tier keeps the master flag on album folders.
func (q AudioQuality) IsMaster() bool {
	return q == AudioMaster || q == AudioMax
}

// VideoQuality is the configured video tier.
type VideoQuality string

const (
	VideoP360  VideoQuality = "P360"
	VideoP480  VideoQuality = "P480"
	VideoP720  VideoQuality = "P720"
	VideoP1080 VideoQuality = "P1080"
)

// Height returns the vertical resolution of the tier.
func (q VideoQuality) Height() int {
	switch q {
	case VideoP480:
		return 480
	case VideoP720:
		return 720
	case VideoP1080:
		return 1080
	default:
		return 360
	}
}

// Artist represents a catalog artist
type Artist struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
	Type string     `json:"type"`
}

// AlbumRef is the weak album reference carried by tracks and videos.
type AlbumRef struct {
	ID    FlexibleID `json:"id"`
	Title string     `json:"title"`
	Cover string     `json:"cover"`
}

// Album represents a catalog album
type Album struct {
	ID              FlexibleID `json:"id"`
	Title           string     `json:"title"`
	Duration        int        `json:"duration"`
	NumberOfTracks  int        `json:"numberOfTracks"`
	NumberOfVideos  int        `json:"numberOfVideos"`
	NumberOfVolumes int        `json:"numberOfVolumes"`
	ReleaseDate     string     `json:"releaseDate"`
	Type            string     `json:"type"`
	Version         string     `json:"version"`
	Cover           string     `json:"cover"`
	Explicit        bool       `json:"explicit"`
	AudioQuality    string     `json:"audioQuality"`
	AudioModes      []string   `json:"audioModes"`
	Copyright       string     `json:"copyright"`
	Artist          *Artist    `json:"artist"`
	Artists         []*Artist  `json:"artists"`
}

// Track represents a catalog track
type Track struct {
	ID           FlexibleID `json:"id"`
	Title        string     `json:"title"`
	Duration     int        `json:"duration"`
	TrackNumber  int        `json:"trackNumber"`
	VolumeNumber int        `json:"volumeNumber"`
	Version      string     `json:"version"`
	ISRC         string     `json:"isrc"`
	Explicit     bool       `json:"explicit"`
	AudioQuality string     `json:"audioQuality"`
	Copyright    string     `json:"copyright"`
	Artist       *Artist    `json:"artist"`
	Artists      []*Artist  `json:"artists"`
	Album        *AlbumRef  `json:"album"`

	// Position in the enclosing playlist, set while a playlist is processed
	TrackNumberOnPlaylist int `json:"-"`
}

// Video represents a catalog music video
type Video struct {
	ID           FlexibleID `json:"id"`
	Title        string     `json:"title"`
	Duration     int        `json:"duration"`
	TrackNumber  int        `json:"trackNumber"`
	VolumeNumber int        `json:"volumeNumber"`
	Version      string     `json:"version"`
	ReleaseDate  string     `json:"releaseDate"`
	Quality      string     `json:"quality"`
	Explicit     bool       `json:"explicit"`
	Artist       *Artist    `json:"artist"`
	Artists      []*Artist  `json:"artists"`
	Album        *AlbumRef  `json:"album"`

	TrackNumberOnPlaylist int `json:"-"`
}

// Playlist represents a user or editorial playlist
type Playlist struct {
	UUID           string `json:"uuid"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	NumberOfTracks int    `json:"numberOfTracks"`
	NumberOfVideos int    `json:"numberOfVideos"`
	Duration       int    `json:"duration"`
	SquareImage    string `json:"squareImage"`
}

// StreamDescriptor describes how to fetch one audio asset
type StreamDescriptor struct {
	TrackID       FlexibleID `json:"trackid"`
	SoundQuality  string     `json:"soundQuality"`
	Codec         string     `json:"codec"`
	EncryptionKey string     `json:"encryptionKey"`
	URL           string     `json:"url"`
	URLs          []string   `json:"urls"`
}

// PartURLs returns the ordered source URLs of the asset. A single entry means
// the asset is split into byte ranges by the downloader.
func (s *StreamDescriptor) PartURLs() []string {
	if len(s.URLs) > 0 {
		return s.URLs
	}
	if s.URL != "" {
		return []string{s.URL}
	}
	return nil
}

// PrimaryURL returns the first source URL.
func (s *StreamDescriptor) PrimaryURL() string {
	if urls := s.PartURLs(); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// Encrypted reports whether the asset needs decryption after download.
func (s *StreamDescriptor) Encrypted() bool {
	return strings.TrimSpace(s.EncryptionKey) != ""
}

// Contributor is a credited person with a role such as "Composer".
type Contributor struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Lyrics represents track lyrics
type Lyrics struct {
	TrackID   FlexibleID `json:"trackId"`
	Lyrics    string     `json:"lyrics"`
	Subtitles string     `json:"subtitles"`
}

// Resolved is the result of resolving a user-supplied link.
type Resolved struct {
	Kind     Kind
	Track    *Track
	Video    *Video
	Album    *Album
	Playlist *Playlist
}

// Title returns a display title for the resolved item.
func (r *Resolved) Title() string {
	switch r.Kind {
	case KindTrack:
		return r.Track.Title
	case KindVideo:
		return r.Video.Title
	case KindAlbum:
		return r.Album.Title
	case KindPlaylist:
		return r.Playlist.Title
	}
	return ""
}

// ArtistNames returns the names of the given artists in order.
func ArtistNames(artists []*Artist) []string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		if a != nil && a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}

// ContributorNames returns the names credited with role.
func ContributorNames(contributors []Contributor, role string) []string {
	var names []string
	for _, c := range contributors {
		if c.Role == role {
			names = append(names, c.Name)
		}
	}
	return names
}

// FlexibleID is a type that can unmarshal from both string and number JSON values
type FlexibleID string

// UnmarshalJSON implements custom unmarshaling for FlexibleID
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}

	return fmt.Errorf("FlexibleID must be a string or number")
}

// String returns the string representation
func (f FlexibleID) String() string {
	return string(f)
}
