package remux

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidaldl/tidaldl-go/internal/api"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/metadata"
)

var (
	jpegCover = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'g'}
	pngCover  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 'p', 'n', 'g'}
)

func minimalFLAC() []byte {
	var b bytes.Buffer
	b.WriteString("fLaC")
	b.Write([]byte{0x80, 0x00, 0x00, 34})
	b.Write(make([]byte, 34))
	return b.Bytes()
}

func fakeMP4() []byte {
	return append([]byte("\x00\x00\x00\x18ftypiso6\x00\x00\x00\x00"), bytes.Repeat([]byte{0xAB}, 64)...)
}

type fakeTranscoder struct {
	out   []byte
	err   error
	calls int
	input []byte
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath string) ([]byte, error) {
	f.calls++
	f.input, _ = os.ReadFile(inputPath)
	return f.out, f.err
}

type fakeTags struct {
	md  *metadata.TrackMetadata
	err error
}

func (f *fakeTags) GetMetadata(path string) (*metadata.TrackMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.md
	return &copied, nil
}

func newTestRemuxer(tr Transcoder, tags TagReader, codec string) *Remuxer {
	r := NewRemuxer(true, tr, tags, nil)
	r.probe = func(string) (string, error) { return codec, nil }
	return r
}

func writeTrack(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "01 Song.flac")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRemuxNotApplicable(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		tier    api.AudioQuality
		data    []byte
		codec   string
		want    Outcome
	}{
		{"disabled", false, api.AudioMax, fakeMP4(), "fLaC", OutcomeSkipped},
		{"lower tier", true, api.AudioHiFi, fakeMP4(), "fLaC", OutcomeSkipped},
		{"master tier", true, api.AudioMaster, fakeMP4(), "fLaC", OutcomeSkipped},
		{"already flac", true, api.AudioMax, minimalFLAC(), "", OutcomeNative},
		{"not a container", true, api.AudioMax, []byte("ID3\x04garbage"), "", OutcomeNative},
		{"aac in mp4", true, api.AudioMax, fakeMP4(), "mp4a", OutcomeNative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTrack(t, tt.data)
			tr := &fakeTranscoder{out: minimalFLAC()}
			r := newTestRemuxer(tr, &fakeTags{md: &metadata.TrackMetadata{}}, tt.codec)
			r.enabled = tt.enabled

			outcome, err := r.Remux(context.Background(), path, tt.tier)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if outcome != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, outcome)
			}
			if tr.calls != 0 {
				t.Errorf("Expected transcoder not to run, ran %d times", tr.calls)
			}
			got, _ := os.ReadFile(path)
			if !bytes.Equal(got, tt.data) {
				t.Error("Expected file to be untouched")
			}
		})
	}
}

func TestRemuxRewritesAsFLAC(t *testing.T) {
	source := fakeMP4()
	path := writeTrack(t, source)
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), CoverFileName), jpegCover, 0644); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTranscoder{out: minimalFLAC()}
	tags := &fakeTags{md: &metadata.TrackMetadata{
		Title:       "Song",
		Album:       "Album",
		Artist:      "Artist",
		AlbumArtist: "Artist",
		Genre:       "Jazz",
		Lyrics:      "words",
		TrackNumber: 1,
		TrackTotal:  8,
		DiscNumber:  1,
		DiscTotal:   2,
		ArtworkData: pngCover,
	}}

	outcome, err := newTestRemuxer(tr, tags, "fLaC").Remux(context.Background(), path, api.AudioMax)
	if err != nil {
		t.Fatalf("Remux failed: %v", err)
	}
	if outcome != OutcomeRemuxed {
		t.Errorf("Expected remuxed, got %s", outcome)
	}
	if !bytes.Equal(tr.input, source) {
		t.Error("Expected the whole source to be streamed to the transcoder")
	}

	got, err := metadata.NewManager(nil).GetMetadata(path)
	if err != nil {
		t.Fatalf("Result is not readable FLAC: %v", err)
	}
	if got.Title != "Song" || got.Genre != "Jazz" || got.Lyrics != "words" {
		t.Errorf("Tags not carried over: %+v", got)
	}
	if got.TrackTotal != 8 || got.DiscNumber != 1 || got.DiscTotal != 2 {
		t.Errorf("Numbers not carried over: %+v", got)
	}
	if !bytes.Equal(got.ArtworkData, jpegCover) {
		t.Error("Expected sibling cover.jpg to win over the embedded cover")
	}
	if got.ArtworkMIME != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", got.ArtworkMIME)
	}
	if _, err := os.Stat(path + ".remux"); !os.IsNotExist(err) {
		t.Error("Expected no leftover temp file")
	}
}

func TestRemuxUsesEmbeddedCover(t *testing.T) {
	path := writeTrack(t, fakeMP4())
	tags := &fakeTags{md: &metadata.TrackMetadata{Title: "Song", ArtworkData: pngCover}}

	if _, err := newTestRemuxer(&fakeTranscoder{out: minimalFLAC()}, tags, "fLaC").Remux(context.Background(), path, api.AudioMax); err != nil {
		t.Fatalf("Remux failed: %v", err)
	}

	got, err := metadata.NewManager(nil).GetMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.ArtworkData, pngCover) || got.ArtworkMIME != "image/png" {
		t.Errorf("Expected embedded png cover, got %s %x", got.ArtworkMIME, got.ArtworkData)
	}
}

func TestRemuxFailureKeepsOriginal(t *testing.T) {
	tests := []struct {
		name  string
		tr    *fakeTranscoder
		tags  *fakeTags
		calls int
	}{
		{"transcoder error", &fakeTranscoder{err: errors.New("exit status 1")}, &fakeTags{md: &metadata.TrackMetadata{}}, 1},
		{"garbage output", &fakeTranscoder{out: []byte("not flac")}, &fakeTags{md: &metadata.TrackMetadata{}}, 1},
		{"unreadable tags", &fakeTranscoder{out: minimalFLAC()}, &fakeTags{err: errors.New("no moov")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := fakeMP4()
			path := writeTrack(t, source)

			outcome, err := newTestRemuxer(tt.tr, tt.tags, "fLaC").Remux(context.Background(), path, api.AudioMax)
			if !apperrors.IsRemuxError(err) {
				t.Fatalf("Expected remux error, got %v", err)
			}
			if outcome != OutcomeFailed {
				t.Errorf("Expected failed outcome, got %s", outcome)
			}
			if tt.tr.calls != tt.calls {
				t.Errorf("Expected %d transcoder calls, got %d", tt.calls, tt.tr.calls)
			}

			got, _ := os.ReadFile(path)
			if !bytes.Equal(got, source) {
				t.Error("Expected original to be byte-identical")
			}
			if _, err := os.Stat(path + ".remux"); !os.IsNotExist(err) {
				t.Error("Expected no temp file")
			}
		})
	}
}

func TestNewRemuxerWithoutTranscoder(t *testing.T) {
	path := writeTrack(t, fakeMP4())
	r := NewRemuxer(true, nil, &fakeTags{md: &metadata.TrackMetadata{}}, nil)

	outcome, err := r.Remux(context.Background(), path, api.AudioMax)
	if err != nil || outcome != OutcomeSkipped {
		t.Errorf("Expected skip without a transcoder, got %s %v", outcome, err)
	}
}
