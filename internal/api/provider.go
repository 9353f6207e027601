package api

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Provider is the catalog and stream collaborator consumed by the download
// pipeline. Implementations own authentication and request/response mapping.
type Provider interface {
	ResolveLink(ctx context.Context, link string) (*Resolved, error)
	GetStreamDescriptor(ctx context.Context, trackID string, quality AudioQuality) (*StreamDescriptor, error)
	GetVideoManifestURL(ctx context.Context, videoID string, quality VideoQuality) (string, error)
	CoverURL(coverID string, width, height int) string
	GetContributors(ctx context.Context, trackID string) ([]Contributor, error)
	GetLyrics(ctx context.Context, trackID string) (*Lyrics, error)
	GetAlbum(ctx context.Context, albumID string) (*Album, error)
	GetAlbumItems(ctx context.Context, albumID string) ([]*Track, []*Video, error)
	GetPlaylistItems(ctx context.Context, uuid string) ([]*Track, []*Video, error)
}

// DefaultImageBaseURL is where provider artwork is served from.
const DefaultImageBaseURL = "https://resources.tidal.com/images"

// ImageURL builds an artwork URL. Cover ids are dashed UUIDs whose dashes
// become path separators.
func ImageURL(baseURL, coverID string, width, height int) string {
	if coverID == "" {
		return ""
	}
	if baseURL == "" {
		baseURL = DefaultImageBaseURL
	}
	return fmt.Sprintf("%s/%s/%dx%d.jpg",
		strings.TrimRight(baseURL, "/"), strings.ReplaceAll(coverID, "-", "/"), width, height)
}

var (
	linkPattern = regexp.MustCompile(`(?i)/(track|video|album|playlist)s?/([0-9a-f-]+)`)
	uuidPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	idPattern   = regexp.MustCompile(`^[0-9]+$`)
)

// ParseLink extracts the kind and id from a share link such as
// https://tidal.com/browse/album/123. A bare UUID is a playlist; a bare number
// has no kind and returns "".
func ParseLink(link string) (Kind, string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", "", fmt.Errorf("empty link")
	}

	if uuidPattern.MatchString(link) {
		return KindPlaylist, link, nil
	}
	if idPattern.MatchString(link) {
		return "", link, nil
	}

	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	}
	m := linkPattern.FindStringSubmatch(path)
	if m == nil {
		return "", "", fmt.Errorf("unrecognised link: %s", link)
	}
	return Kind(strings.ToLower(m[1])), m[2], nil
}
