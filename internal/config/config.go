package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Paths    PathConfig     `json:"paths" mapstructure:"paths"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Remux    RemuxConfig    `json:"remux" mapstructure:"remux"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	OutputDir         string `json:"output_dir" mapstructure:"output_dir"`
	AudioQuality      string `json:"audio_quality" mapstructure:"audio_quality"`
	VideoQuality      string `json:"video_quality" mapstructure:"video_quality"`
	CheckExist        bool   `json:"check_exist" mapstructure:"check_exist"`
	SaveCovers        bool   `json:"save_covers" mapstructure:"save_covers"`
	LyricFile         bool   `json:"lyric_file" mapstructure:"lyric_file"`
	SaveAlbumInfo     bool   `json:"save_album_info" mapstructure:"save_album_info"`
	DownloadVideos    bool   `json:"download_videos" mapstructure:"download_videos"`
	MultiThread       bool   `json:"multi_thread" mapstructure:"multi_thread"`
	ItemWorkers       int    `json:"item_workers" mapstructure:"item_workers"`
	PartSize          int64  `json:"part_size" mapstructure:"part_size"`
	PartWorkers       int    `json:"part_workers" mapstructure:"part_workers"`
	SegmentWorkers    int    `json:"segment_workers" mapstructure:"segment_workers"`
	UsePlaylistFolder bool   `json:"use_playlist_folder" mapstructure:"use_playlist_folder"`
	ArtworkSize       int    `json:"artwork_size" mapstructure:"artwork_size"`
}

// PathConfig holds the per-kind path templates. Empty templates fall back to
// the built-in defaults of the pathtmpl package.
type PathConfig struct {
	AlbumFolder    string `json:"album_folder" mapstructure:"album_folder"`
	PlaylistFolder string `json:"playlist_folder" mapstructure:"playlist_folder"`
	TrackFile      string `json:"track_file" mapstructure:"track_file"`
	VideoFile      string `json:"video_file" mapstructure:"video_file"`
	Replacement    string `json:"replacement" mapstructure:"replacement"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	TimeoutSeconds    int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries        int     `json:"max_retries" mapstructure:"max_retries"`
	MaxConnections    int     `json:"max_connections" mapstructure:"max_connections"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
}

// RemuxConfig controls the MP4 to FLAC post-processing step.
type RemuxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	FFmpegPath string `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// StoreConfig controls the download history database.
type StoreConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MetricsConfig controls the prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// AudioQualities lists the accepted audio tiers, lowest first.
var AudioQualities = []string{"Normal", "High", "HiFi", "Master", "Max"}

// VideoQualities lists the accepted video tiers, lowest first.
var VideoQualities = []string{"P360", "P480", "P720", "P1080"}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	applyLegacyKeys(v)

	// Allow environment variable overrides, e.g. TIDALDL_DOWNLOAD_OUTPUT_DIR
	v.SetEnvPrefix("TIDALDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static; a failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: unmarshal defaults: %v", err))
	}
	return &cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if !contains(AudioQualities, c.Download.AudioQuality) {
		return fmt.Errorf("invalid audio quality: %s (must be one of %s)",
			c.Download.AudioQuality, strings.Join(AudioQualities, ", "))
	}

	if !contains(VideoQualities, c.Download.VideoQuality) {
		return fmt.Errorf("invalid video quality: %s (must be one of %s)",
			c.Download.VideoQuality, strings.Join(VideoQualities, ", "))
	}

	if c.Download.ItemWorkers < 1 || c.Download.ItemWorkers > 32 {
		return fmt.Errorf("item workers must be between 1 and 32")
	}

	if c.Download.PartSize < 64*1024 {
		return fmt.Errorf("part size must be at least 65536 bytes")
	}

	if c.Download.PartWorkers < 1 {
		return fmt.Errorf("part workers must be at least 1")
	}

	if c.Download.SegmentWorkers < 1 {
		return fmt.Errorf("segment workers must be at least 1")
	}

	if c.Download.ArtworkSize < 0 || c.Download.ArtworkSize > 5000 {
		return fmt.Errorf("artwork size must be between 0 and 5000 pixels")
	}

	if len(c.Paths.Replacement) != 1 || strings.ContainsAny(c.Paths.Replacement, unsafeChars) {
		return fmt.Errorf("path replacement must be a single safe character, got %q", c.Paths.Replacement)
	}

	if c.Network.TimeoutSeconds < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Network.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}

	if c.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}

	if c.Remux.Enabled && c.Remux.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path cannot be empty when remux is enabled")
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty when the store is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// unsafeChars are the characters the path engine never lets through.
const unsafeChars = `:/?<>|\*"`

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("download.output_dir", "./download/")
	v.SetDefault("download.audio_quality", "Normal")
	v.SetDefault("download.video_quality", "P360")
	v.SetDefault("download.check_exist", true)
	v.SetDefault("download.save_covers", true)
	v.SetDefault("download.lyric_file", false)
	v.SetDefault("download.save_album_info", false)
	v.SetDefault("download.download_videos", true)
	v.SetDefault("download.multi_thread", false)
	v.SetDefault("download.item_workers", 5)
	v.SetDefault("download.part_size", 1048576)
	v.SetDefault("download.part_workers", 4)
	v.SetDefault("download.segment_workers", 4)
	v.SetDefault("download.use_playlist_folder", true)
	v.SetDefault("download.artwork_size", 1280)

	// Empty templates select the built-in defaults
	v.SetDefault("paths.album_folder", "")
	v.SetDefault("paths.playlist_folder", "")
	v.SetDefault("paths.track_file", "")
	v.SetDefault("paths.video_file", "")
	v.SetDefault("paths.replacement", "-")

	v.SetDefault("network.timeout_seconds", 60)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.max_connections", 16)
	v.SetDefault("network.requests_per_second", 0)

	v.SetDefault("remux.enabled", true)
	v.SetDefault("remux.ffmpeg_path", "ffmpeg")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "console")
	v.SetDefault("logging.file_path", filepath.Join(DataDir(), "logs", "tidal-dl.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(DataDir(), "tidal-dl.db"))

	v.SetDefault("metrics.listen_addr", "")
}

// DataDir returns the per-user application data directory.
func DataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.Getenv("HOME")
	}
	return filepath.Join(dir, "tidal-dl")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
