package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		link     string
		wantKind Kind
		wantID   string
		wantErr  bool
	}{
		{"https://tidal.com/browse/track/77646170", KindTrack, "77646170", false},
		{"https://listen.tidal.com/album/77646169", KindAlbum, "77646169", false},
		{"https://tidal.com/browse/video/12345?u", KindVideo, "12345", false},
		{"https://tidal.com/browse/playlist/36ea71a8-445e-41a4-82ab-6628c581535d", KindPlaylist, "36ea71a8-445e-41a4-82ab-6628c581535d", false},
		{"tidal.com/albums/42", KindAlbum, "42", false},
		{"36ea71a8-445e-41a4-82ab-6628c581535d", KindPlaylist, "36ea71a8-445e-41a4-82ab-6628c581535d", false},
		{"77646170", "", "77646170", false},
		{"", "", "", true},
		{"https://example.com/nothing/here", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			kind, id, err := ParseLink(tt.link)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if kind != tt.wantKind || id != tt.wantID {
				t.Errorf("ParseLink() = (%q, %q), want (%q, %q)", kind, id, tt.wantKind, tt.wantID)
			}
		})
	}
}

func TestImageURL(t *testing.T) {
	got := ImageURL("", "ab12-cd34-ef56", 1280, 1280)
	want := "https://resources.tidal.com/images/ab12/cd34/ef56/1280x1280.jpg"
	if got != want {
		t.Errorf("ImageURL() = %q, want %q", got, want)
	}
	if got := ImageURL("http://127.0.0.1:9/img/", "a-b", 80, 80); got != "http://127.0.0.1:9/img/a/b/80x80.jpg" {
		t.Errorf("ImageURL() with base = %q", got)
	}
	if got := ImageURL("", "", 80, 80); got != "" {
		t.Errorf("ImageURL() with empty cover = %q, want empty", got)
	}
}

func TestFlexibleID(t *testing.T) {
	var v struct {
		A FlexibleID `json:"a"`
		B FlexibleID `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 123, "b": "xyz"}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v.A != "123" || v.B != "xyz" {
		t.Errorf("got (%q, %q), want (123, xyz)", v.A, v.B)
	}
	if err := json.Unmarshal([]byte(`{"a": true}`), &v); err == nil {
		t.Error("expected error for boolean id")
	}
}

func TestStreamDescriptor(t *testing.T) {
	single := &StreamDescriptor{URL: "http://a/1"}
	if urls := single.PartURLs(); len(urls) != 1 || urls[0] != "http://a/1" {
		t.Errorf("PartURLs() = %v", urls)
	}
	multi := &StreamDescriptor{URL: "http://a/1", URLs: []string{"http://a/p0", "http://a/p1"}}
	if multi.PrimaryURL() != "http://a/p0" {
		t.Errorf("PrimaryURL() = %q", multi.PrimaryURL())
	}
	if (&StreamDescriptor{}).PrimaryURL() != "" {
		t.Error("empty descriptor should have no primary url")
	}
	if (&StreamDescriptor{EncryptionKey: "  "}).Encrypted() {
		t.Error("blank key should not count as encrypted")
	}
	if !(&StreamDescriptor{EncryptionKey: "abc"}).Encrypted() {
		t.Error("non-empty key should count as encrypted")
	}
}

func TestAudioQualityLabel(t *testing.T) {
	tests := map[AudioQuality]string{
		AudioNormal: "LOW",
		AudioHigh:   "HIGH",
		AudioHiFi:   "LOSSLESS",
		AudioMaster: "HI_RES",
		AudioMax:    "HI_RES_LOSSLESS",
	}
	for q, want := range tests {
		if got := q.Label(); got != want {
			t.Errorf("%s.Label() = %q, want %q", q, got, want)
		}
	}
	if !AudioMax.IsMaster() || AudioHiFi.IsMaster() {
		t.Error("IsMaster() mismatch")
	}
	if VideoP1080.Height() != 1080 || VideoQuality("bogus").Height() != 360 {
		t.Error("Height() mismatch")
	}
}

const catalogJSON = `{
  "imageBaseUrl": "http://images.test",
  "albums": [{"id": 10, "title": "Album", "numberOfTracks": 3, "numberOfVolumes": 2, "cover": "aa-bb"}],
  "tracks": [
    {"id": 3, "title": "Three", "trackNumber": 1, "volumeNumber": 2, "album": {"id": 10}},
    {"id": 1, "title": "One", "trackNumber": 1, "volumeNumber": 1, "album": {"id": 10}},
    {"id": 2, "title": "Two", "trackNumber": 2, "volumeNumber": 1, "album": {"id": 10}}
  ],
  "videos": [{"id": 500, "title": "Clip", "album": {"id": 10}}],
  "playlists": [{"uuid": "36ea71a8-445e-41a4-82ab-6628c581535d", "title": "Mix"}],
  "playlistItems": {
    "36ea71a8-445e-41a4-82ab-6628c581535d": [
      {"type": "track", "id": 2}, {"type": "video", "id": 500}, {"type": "track", "id": 3}
    ]
  },
  "streams": {"1": {"trackid": 1, "url": "http://media.test/1.flac", "codec": "FLAC"}},
  "manifests": {"500": "http://media.test/500.m3u8"},
  "contributors": {"1": [{"name": "Writer", "role": "Composer"}, {"name": "Eng", "role": "Engineer"}]},
  "lyrics": {"1": {"trackId": 1, "lyrics": "la la", "subtitles": "[00:01.00]la"}}
}`

func loadTestCatalog(t *testing.T) *StaticProvider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(catalogJSON), 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	p, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	return p
}

func TestStaticProvider_Resolve(t *testing.T) {
	p := loadTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		link     string
		wantKind Kind
		wantErr  bool
	}{
		{"https://tidal.com/browse/album/10", KindAlbum, false},
		{"https://tidal.com/browse/track/2", KindTrack, false},
		{"https://tidal.com/browse/video/500", KindVideo, false},
		{"36ea71a8-445e-41a4-82ab-6628c581535d", KindPlaylist, false},
		{"10", KindAlbum, false},
		{"3", KindTrack, false},
		{"https://tidal.com/browse/track/999", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			r, err := p.ResolveLink(ctx, tt.link)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveLink() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if apperrors.GetErrorType(err) != apperrors.ErrTypeProvider {
					t.Errorf("error kind = %v, want provider", apperrors.GetErrorType(err))
				}
				return
			}
			if r.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", r.Kind, tt.wantKind)
			}
			if r.Title() == "" {
				t.Error("resolved item has no title")
			}
		})
	}
}

func TestStaticProvider_AlbumItemsOrdered(t *testing.T) {
	p := loadTestCatalog(t)

	tracks, videos, err := p.GetAlbumItems(context.Background(), "10")
	if err != nil {
		t.Fatalf("GetAlbumItems() error = %v", err)
	}
	var ids []string
	for _, tr := range tracks {
		ids = append(ids, tr.ID.String())
	}
	if len(ids) != 3 || ids[0] != "1" || ids[1] != "2" || ids[2] != "3" {
		t.Errorf("track order = %v, want [1 2 3]", ids)
	}
	if len(videos) != 1 {
		t.Errorf("videos = %d, want 1", len(videos))
	}
}

func TestStaticProvider_PlaylistItems(t *testing.T) {
	p := loadTestCatalog(t)

	tracks, videos, err := p.GetPlaylistItems(context.Background(), "36ea71a8-445e-41a4-82ab-6628c581535d")
	if err != nil {
		t.Fatalf("GetPlaylistItems() error = %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "2" || tracks[1].ID != "3" {
		t.Errorf("unexpected playlist tracks: %+v", tracks)
	}
	if len(videos) != 1 {
		t.Errorf("videos = %d, want 1", len(videos))
	}
}

func TestStaticProvider_Lookups(t *testing.T) {
	p := loadTestCatalog(t)
	ctx := context.Background()

	stream, err := p.GetStreamDescriptor(ctx, "1", AudioHiFi)
	if err != nil || stream.PrimaryURL() != "http://media.test/1.flac" {
		t.Errorf("GetStreamDescriptor() = %+v, %v", stream, err)
	}
	if _, err := p.GetStreamDescriptor(ctx, "2", AudioHiFi); err == nil {
		t.Error("expected error for missing stream")
	}
	if u, err := p.GetVideoManifestURL(ctx, "500", VideoP720); err != nil || u != "http://media.test/500.m3u8" {
		t.Errorf("GetVideoManifestURL() = %q, %v", u, err)
	}
	contributors, _ := p.GetContributors(ctx, "1")
	if names := ContributorNames(contributors, "Composer"); len(names) != 1 || names[0] != "Writer" {
		t.Errorf("composers = %v", names)
	}
	if l, err := p.GetLyrics(ctx, "1"); err != nil || l.Subtitles == "" {
		t.Errorf("GetLyrics() = %+v, %v", l, err)
	}
	if got := p.CoverURL("aa-bb", 1280, 1280); got != "http://images.test/aa/bb/1280x1280.jpg" {
		t.Errorf("CoverURL() = %q", got)
	}
}
