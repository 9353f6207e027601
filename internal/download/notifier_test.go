package download

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tidaldl/tidaldl-go/internal/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{0, "< 1 KB/s"},
		{2048, "2.0 KB/s"},
		{3 * 1024 * 1024, "3.0 MB/s"},
	}
	for _, tt := range tests {
		if got := FormatSpeed(tt.speed); got != tt.want {
			t.Errorf("FormatSpeed(%v) = %q, want %q", tt.speed, got, tt.want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{42, "42s"},
		{125, "2m 5s"},
		{3720, "1h 2m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.seconds); got != tt.want {
			t.Errorf("FormatETA(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestCallbackNotifier(t *testing.T) {
	cn := NewCallbackNotifier(nil)

	var mu sync.Mutex
	var statuses []string
	var progress []int
	cn.SetStatusCallback(func(itemID, status, errorMsg string) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, itemID+":"+status+":"+errorMsg)
	})
	cn.SetProgressCallback(func(itemID string, p int, speed, eta string) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, p)
	})

	cn.NotifyStarted("1")
	cn.NotifyProgress("1", 50, 50, 100)
	cn.NotifyProgress("1", 100, 100, 100)
	cn.NotifyCompleted("1")
	cn.NotifyFailed("2", errors.New("boom"))

	want := []string{"1:started:", "1:completed:", "2:failed:boom"}
	if strings.Join(statuses, ",") != strings.Join(want, ",") {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
	if len(progress) != 2 || progress[1] != 100 {
		t.Errorf("progress = %v", progress)
	}
}

func TestCallbackNotifierRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	cn := NewCallbackNotifier(zap.New(core))
	cn.SetStatusCallback(func(string, string, string) { panic("callback bug") })

	cn.NotifyStarted("1")

	if logs.FilterMessage("Notifier callback panicked").Len() != 1 {
		t.Error("Expected panic to be logged")
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ln := NewLogNotifier(zap.New(core))

	ln.NotifyStarted("1")
	ln.NotifyProgress("1", 10, 10, 100)
	ln.NotifyCompleted("1")
	ln.NotifyFailed("2", errors.New("boom"))

	for _, msg := range []string{"Item started", "Item progress", "Item completed", "Item failed"} {
		if logs.FilterMessage(msg).Len() != 1 {
			t.Errorf("Expected one %q entry", msg)
		}
	}
}

func TestFormatAlbumInfo(t *testing.T) {
	album := &api.Album{
		ID:              "10",
		Title:           "Double",
		Duration:        900,
		NumberOfTracks:  3,
		NumberOfVolumes: 2,
		ReleaseDate:     "2019-05-01",
		Artists:         []*api.Artist{{Name: "A"}, {Name: "B"}},
	}
	tracks := []*api.Track{
		{Title: "One", TrackNumber: 1, VolumeNumber: 1},
		{Title: "Two", TrackNumber: 2, VolumeNumber: 1},
		{Title: "Three", TrackNumber: 1, VolumeNumber: 2},
	}

	want := "[ID]          10\n" +
		"[Title]       Double\n" +
		"[Artists]     A, B\n" +
		"[ReleaseDate] 2019-05-01\n" +
		"[SongNum]     3\n" +
		"[Duration]    900\n" +
		"\n" +
		"===========CD 1=============\n" +
		"[1]     One\n" +
		"[2]     Two\n" +
		"===========CD 2=============\n" +
		"[1]     Three\n"

	if got := FormatAlbumInfo(album, tracks); got != want {
		t.Errorf("FormatAlbumInfo() =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteAlbumInfo(t *testing.T) {
	dir := t.TempDir() + "/Artist/Album"
	path, err := WriteAlbumInfo(dir, &api.Album{ID: "1", Title: "T", NumberOfVolumes: 1},
		[]*api.Track{{Title: "Only", TrackNumber: 1}})
	if err != nil {
		t.Fatalf("WriteAlbumInfo failed: %v", err)
	}
	if !strings.HasSuffix(path, AlbumInfoFileName) {
		t.Errorf("Unexpected path %s", path)
	}
}
