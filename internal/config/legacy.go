package config

import (
	"github.com/spf13/viper"
)

// LegacyKeys maps setting names written by older releases (flat camelCase) to
// their current dotted keys. An empty target marks a recognised key that no
// longer has an effect.
var LegacyKeys = map[string]string{
	"downloadPath":         "download.output_dir",
	"audioQuality":         "download.audio_quality",
	"videoQuality":         "download.video_quality",
	"checkExist":           "download.check_exist",
	"saveCovers":           "download.save_covers",
	"lyricFile":            "download.lyric_file",
	"saveAlbumInfo":        "download.save_album_info",
	"downloadVideos":       "download.download_videos",
	"multiThread":          "download.multi_thread",
	"usePlaylistFolder":    "download.use_playlist_folder",
	"convertFlac":          "remux.enabled",
	"albumFolderFormat":    "paths.album_folder",
	"playlistFolderFormat": "paths.playlist_folder",
	"trackFileFormat":      "paths.track_file",
	"videoFileFormat":      "paths.video_file",
	"includeEP":            "",
	"apiKeyIndex":          "",
	"showProgress":         "",
	"showTrackInfo":        "",
	"downloadDelay":        "",
}

// applyLegacyKeys copies values stored under legacy names onto their current
// keys. A current key present in the file wins over its legacy spelling.
func applyLegacyKeys(v *viper.Viper) []string {
	var migrated []string
	for oldKey, newKey := range LegacyKeys {
		if newKey == "" || !v.InConfig(oldKey) {
			continue
		}
		if v.InConfig(newKey) {
			continue
		}
		v.Set(newKey, v.Get(oldKey))
		migrated = append(migrated, oldKey)
	}
	return migrated
}
