package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

// Catalog is a serialisable snapshot of provider responses.
type Catalog struct {
	ImageBaseURL  string                       `json:"imageBaseUrl"`
	Tracks        []*Track                     `json:"tracks"`
	Videos        []*Video                     `json:"videos"`
	Albums        []*Album                     `json:"albums"`
	Playlists     []*Playlist                  `json:"playlists"`
	Streams       map[string]*StreamDescriptor `json:"streams"`
	Manifests     map[string]string            `json:"manifests"`
	Contributors  map[string][]Contributor     `json:"contributors"`
	Lyrics        map[string]*Lyrics           `json:"lyrics"`
	PlaylistItems map[string][]PlaylistItem    `json:"playlistItems"`
}

// PlaylistItem references one entry of a playlist in order.
type PlaylistItem struct {
	Type Kind       `json:"type"`
	ID   FlexibleID `json:"id"`
}

// StaticProvider serves a Catalog from memory. It backs offline runs and
// tests.
type StaticProvider struct {
	catalog   *Catalog
	tracks    map[string]*Track
	videos    map[string]*Video
	albums    map[string]*Album
	playlists map[string]*Playlist
}

// LoadCatalog reads a JSON catalog file.
func LoadCatalog(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewStaticProvider(&catalog), nil
}

// NewStaticProvider indexes catalog by id.
func NewStaticProvider(catalog *Catalog) *StaticProvider {
	p := &StaticProvider{
		catalog:   catalog,
		tracks:    make(map[string]*Track),
		videos:    make(map[string]*Video),
		albums:    make(map[string]*Album),
		playlists: make(map[string]*Playlist),
	}
	for _, t := range catalog.Tracks {
		p.tracks[t.ID.String()] = t
	}
	for _, v := range catalog.Videos {
		p.videos[v.ID.String()] = v
	}
	for _, a := range catalog.Albums {
		p.albums[a.ID.String()] = a
	}
	for _, pl := range catalog.Playlists {
		p.playlists[pl.UUID] = pl
	}
	return p
}

func notFound(kind Kind, id string) error {
	return apperrors.NewProviderError(fmt.Sprintf("%s %s not found", kind, id), nil)
}

// ResolveLink resolves a share link or bare id against the catalog.
func (p *StaticProvider) ResolveLink(ctx context.Context, link string) (*Resolved, error) {
	kind, id, err := ParseLink(link)
	if err != nil {
		return nil, apperrors.NewProviderError("failed to parse link", err)
	}

	lookup := func(k Kind) *Resolved {
		switch k {
		case KindTrack:
			if t, ok := p.tracks[id]; ok {
				return &Resolved{Kind: KindTrack, Track: t}
			}
		case KindVideo:
			if v, ok := p.videos[id]; ok {
				return &Resolved{Kind: KindVideo, Video: v}
			}
		case KindAlbum:
			if a, ok := p.albums[id]; ok {
				return &Resolved{Kind: KindAlbum, Album: a}
			}
		case KindPlaylist:
			if pl, ok := p.playlists[id]; ok {
				return &Resolved{Kind: KindPlaylist, Playlist: pl}
			}
		}
		return nil
	}

	if kind != "" {
		if r := lookup(kind); r != nil {
			return r, nil
		}
		return nil, notFound(kind, id)
	}

	// Bare ids are tried in the same order the provider search does.
	for _, k := range []Kind{KindAlbum, KindTrack, KindVideo, KindPlaylist} {
		if r := lookup(k); r != nil {
			return r, nil
		}
	}
	return nil, notFound("item", id)
}

// GetStreamDescriptor returns the recorded stream for a track.
func (p *StaticProvider) GetStreamDescriptor(ctx context.Context, trackID string, quality AudioQuality) (*StreamDescriptor, error) {
	s, ok := p.catalog.Streams[trackID]
	if !ok {
		return nil, notFound("stream", trackID)
	}
	return s, nil
}

// GetVideoManifestURL returns the recorded manifest URL for a video.
func (p *StaticProvider) GetVideoManifestURL(ctx context.Context, videoID string, quality VideoQuality) (string, error) {
	u, ok := p.catalog.Manifests[videoID]
	if !ok {
		return "", notFound("manifest", videoID)
	}
	return u, nil
}

// CoverURL builds an artwork URL under the catalog's image base.
func (p *StaticProvider) CoverURL(coverID string, width, height int) string {
	return ImageURL(p.catalog.ImageBaseURL, coverID, width, height)
}

// GetContributors returns the credits of a track.
func (p *StaticProvider) GetContributors(ctx context.Context, trackID string) ([]Contributor, error) {
	return p.catalog.Contributors[trackID], nil
}

// GetLyrics returns the lyrics of a track.
func (p *StaticProvider) GetLyrics(ctx context.Context, trackID string) (*Lyrics, error) {
	l, ok := p.catalog.Lyrics[trackID]
	if !ok {
		return nil, notFound("lyrics", trackID)
	}
	return l, nil
}

// GetAlbum returns an album by id.
func (p *StaticProvider) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	a, ok := p.albums[albumID]
	if !ok {
		return nil, notFound(KindAlbum, albumID)
	}
	return a, nil
}

// GetAlbumItems returns the album's tracks and videos in volume/track order.
func (p *StaticProvider) GetAlbumItems(ctx context.Context, albumID string) ([]*Track, []*Video, error) {
	if _, ok := p.albums[albumID]; !ok {
		return nil, nil, notFound(KindAlbum, albumID)
	}

	var tracks []*Track
	for _, t := range p.catalog.Tracks {
		if t.Album != nil && t.Album.ID.String() == albumID {
			tracks = append(tracks, t)
		}
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].VolumeNumber != tracks[j].VolumeNumber {
			return tracks[i].VolumeNumber < tracks[j].VolumeNumber
		}
		return tracks[i].TrackNumber < tracks[j].TrackNumber
	})

	var videos []*Video
	for _, v := range p.catalog.Videos {
		if v.Album != nil && v.Album.ID.String() == albumID {
			videos = append(videos, v)
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].TrackNumber < videos[j].TrackNumber
	})

	return tracks, videos, nil
}

// GetPlaylistItems returns the playlist's tracks and videos in playlist order.
func (p *StaticProvider) GetPlaylistItems(ctx context.Context, uuid string) ([]*Track, []*Video, error) {
	if _, ok := p.playlists[uuid]; !ok {
		return nil, nil, notFound(KindPlaylist, uuid)
	}

	var tracks []*Track
	var videos []*Video
	for _, item := range p.catalog.PlaylistItems[uuid] {
		switch item.Type {
		case KindTrack:
			t, ok := p.tracks[item.ID.String()]
			if !ok {
				return nil, nil, notFound(KindTrack, item.ID.String())
			}
			tracks = append(tracks, t)
		case KindVideo:
			v, ok := p.videos[item.ID.String()]
			if !ok {
				return nil, nil, notFound(KindVideo, item.ID.String())
			}
			videos = append(videos, v)
		}
	}
	return tracks, videos, nil
}
