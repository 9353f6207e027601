package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidaldl/tidaldl-go/internal/api"
	"github.com/tidaldl/tidaldl-go/internal/config"
	"github.com/tidaldl/tidaldl-go/internal/decryption"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/hls"
	"github.com/tidaldl/tidaldl-go/internal/metadata"
	"github.com/tidaldl/tidaldl-go/internal/network"
	"github.com/tidaldl/tidaldl-go/internal/pathtmpl"
	"github.com/tidaldl/tidaldl-go/internal/remux"
	"github.com/tidaldl/tidaldl-go/internal/store"
)

// coverSize is the edge length requested from the provider's image service.
const coverSize = 1280

// Tagger writes tags into a downloaded file. metadata.Manager satisfies it.
type Tagger interface {
	ApplyMetadata(path string, md *metadata.TrackMetadata) error
}

// Remuxer post-processes a tagged audio file. remux.Remuxer satisfies it.
type Remuxer interface {
	Remux(ctx context.Context, path string, tier api.AudioQuality) (remux.Outcome, error)
}

// Dependencies are the collaborators of a Manager. Only Provider is
// required.
type Dependencies struct {
	Provider  api.Provider
	Transport *network.Transport
	Tagger    Tagger
	Remuxer   Remuxer
	History   *store.HistoryStore
	Notifier  Notifier
	Logger    *zap.Logger
}

// Manager coordinates all download operations
type Manager struct {
	config       *config.Config
	provider     api.Provider
	paths        *pathtmpl.Builder
	downloader   *network.Downloader
	assembler    *hls.Assembler
	decryptor    *decryption.Decryptor
	artwork      *metadata.ArtworkFetcher
	tagger       Tagger
	remuxer      Remuxer
	history      *store.HistoryStore
	notifier     Notifier
	logger       *zap.Logger
	audioQuality api.AudioQuality
	videoQuality api.VideoQuality
}

// run carries the state shared by the items of one invocation.
type run struct {
	id     string
	albums *albumCache
}

// NewManager creates a new download manager
func NewManager(cfg *config.Config, deps Dependencies) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := deps.Transport
	if transport == nil {
		transport = network.NewTransportFromConfig(cfg.Network)
	}
	tagger := deps.Tagger
	if tagger == nil {
		tagger = metadata.NewManager(&metadata.Config{
			EmbedArtwork: true,
			ArtworkSize:  cfg.Download.ArtworkSize,
		})
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	videoQuality := api.VideoQuality(cfg.Download.VideoQuality)

	return &Manager{
		config:   cfg,
		provider: deps.Provider,
		paths:    pathtmpl.NewBuilder(cfg),
		downloader: network.NewDownloader(transport,
			cfg.Download.PartWorkers, cfg.Network.MaxRetries, logger.Named("downloader")),
		assembler: hls.NewAssembler(transport,
			cfg.Download.SegmentWorkers, cfg.Network.MaxRetries, videoQuality.Height(), logger.Named("hls")),
		decryptor:    decryption.NewDecryptor(),
		artwork:      metadata.NewArtworkFetcher(transport, cfg.Download.ArtworkSize),
		tagger:       tagger,
		remuxer:      deps.Remuxer,
		history:      deps.History,
		notifier:     notifier,
		logger:       logger,
		audioQuality: api.AudioQuality(cfg.Download.AudioQuality),
		videoQuality: videoQuality,
	}, nil
}

func (m *Manager) newRun() *run {
	return &run{id: uuid.NewString(), albums: newAlbumCache(m.provider)}
}

// Start resolves link and downloads whatever it names. An unusable download
// root is reported before any request is made.
func (m *Manager) Start(ctx context.Context, link string) (*BatchReport, error) {
	if err := m.ensureRoot(); err != nil {
		return nil, err
	}

	r := m.newRun()
	m.beginRun(r, link)

	resolved, err := m.provider.ResolveLink(ctx, link)
	if err != nil {
		m.logger.Error("Failed to resolve link", zap.String("link", link), zap.Error(err))
		m.finishRun(r, &BatchReport{RunID: r.id, Title: link})
		return nil, fmt.Errorf("failed to resolve %s: %w", link, err)
	}

	m.logger.Info("Resolved link",
		zap.String("run_id", r.id),
		zap.String("kind", string(resolved.Kind)),
		zap.String("title", resolved.Title()))

	var report *BatchReport
	switch resolved.Kind {
	case api.KindTrack:
		report = m.singleReport(r, api.KindTrack, resolved.Title(), m.downloadStandaloneTrack(ctx, r, resolved.Track))
	case api.KindVideo:
		report = m.singleReport(r, api.KindVideo, resolved.Title(), m.downloadVideo(ctx, r, resolved.Video, nil, nil))
	case api.KindAlbum:
		report, err = m.downloadAlbum(ctx, r, resolved.Album)
	case api.KindPlaylist:
		report, err = m.downloadPlaylist(ctx, r, resolved.Playlist)
	default:
		err = fmt.Errorf("unsupported item kind: %s", resolved.Kind)
	}
	if err != nil {
		m.finishRun(r, &BatchReport{RunID: r.id, Kind: resolved.Kind, Title: resolved.Title()})
		return nil, err
	}

	m.finishRun(r, report)
	m.logger.Info("Run finished",
		zap.String("run_id", r.id),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed))
	return report, nil
}

// DownloadTrack downloads a single track. album and playlist may be nil.
func (m *Manager) DownloadTrack(ctx context.Context, track *api.Track, album *api.Album, playlist *api.Playlist) *Result {
	if err := m.ensureRoot(); err != nil {
		return failedResult(api.KindTrack, track.ID.String(), track.Title, err)
	}
	r := m.newRun()
	r.albums.Put(album)
	m.beginRun(r, "track/"+track.ID.String())
	res := m.downloadTrack(ctx, r, track, album, playlist)
	m.finishRun(r, m.singleReport(r, api.KindTrack, res.Title, res))
	return res
}

// DownloadVideo downloads a single video. album and playlist may be nil.
func (m *Manager) DownloadVideo(ctx context.Context, video *api.Video, album *api.Album, playlist *api.Playlist) *Result {
	if err := m.ensureRoot(); err != nil {
		return failedResult(api.KindVideo, video.ID.String(), video.Title, err)
	}
	r := m.newRun()
	m.beginRun(r, "video/"+video.ID.String())
	res := m.downloadVideo(ctx, r, video, album, playlist)
	m.finishRun(r, m.singleReport(r, api.KindVideo, res.Title, res))
	return res
}

// DownloadAlbum downloads every track, and video if enabled, of album.
func (m *Manager) DownloadAlbum(ctx context.Context, album *api.Album) (*BatchReport, error) {
	if err := m.ensureRoot(); err != nil {
		return nil, err
	}
	r := m.newRun()
	m.beginRun(r, "album/"+album.ID.String())
	report, err := m.downloadAlbum(ctx, r, album)
	if err != nil {
		m.finishRun(r, &BatchReport{RunID: r.id, Kind: api.KindAlbum, Title: album.Title})
		return nil, err
	}
	m.finishRun(r, report)
	return report, nil
}

// DownloadPlaylist downloads every track, and video if enabled, of playlist.
func (m *Manager) DownloadPlaylist(ctx context.Context, playlist *api.Playlist) (*BatchReport, error) {
	if err := m.ensureRoot(); err != nil {
		return nil, err
	}
	r := m.newRun()
	m.beginRun(r, "playlist/"+playlist.UUID)
	report, err := m.downloadPlaylist(ctx, r, playlist)
	if err != nil {
		m.finishRun(r, &BatchReport{RunID: r.id, Kind: api.KindPlaylist, Title: playlist.Title})
		return nil, err
	}
	m.finishRun(r, report)
	return report, nil
}

// ensureRoot checks that the download root exists and is writable.
func (m *Manager) ensureRoot() error {
	root := m.paths.Root()
	if strings.TrimSpace(root) == "" {
		return apperrors.NewPathError("download root is empty", nil)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return apperrors.NewPathError(fmt.Sprintf("cannot create download root %s", root), err)
	}
	probe, err := os.CreateTemp(root, ".tidaldl-probe-*")
	if err != nil {
		return apperrors.NewPathError(fmt.Sprintf("download root %s is not writable", root), err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (m *Manager) singleReport(r *run, kind api.Kind, title string, result *Result) *BatchReport {
	report := &BatchReport{RunID: r.id, Kind: kind, Title: title}
	report.add(result)
	return report
}

// downloadStandaloneTrack looks up the track's album so the track lands in
// its album folder.
func (m *Manager) downloadStandaloneTrack(ctx context.Context, r *run, track *api.Track) *Result {
	var album *api.Album
	if track.Album != nil && track.Album.ID != "" {
		a, err := r.albums.Get(ctx, track.Album.ID.String())
		if err != nil {
			return m.runItem(ctx, r, api.KindTrack, track.ID.String(), pathtmpl.Title(track.Title, track.Version),
				func(ctx context.Context, it *item) error {
					return fmt.Errorf("failed to get album: %w", err)
				})
		}
		album = a
	}
	return m.downloadTrack(ctx, r, track, album, nil)
}

func (m *Manager) downloadAlbum(ctx context.Context, r *run, album *api.Album) (*BatchReport, error) {
	logger := m.logger.With(zap.String("album_id", album.ID.String()), zap.String("album", album.Title))
	r.albums.Put(album)

	tracks, videos, err := m.provider.GetAlbumItems(ctx, album.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get album items: %w", err)
	}
	logger.Info("Downloading album", zap.Int("tracks", len(tracks)), zap.Int("videos", len(videos)))

	r.albums.Once(album.ID.String(), func() {
		m.prepareAlbum(ctx, r, album, tracks, logger)
	})

	report := &BatchReport{RunID: r.id, Kind: api.KindAlbum, Title: album.Title}

	jobs := make([]*Job, 0, len(tracks))
	for _, t := range tracks {
		track := t
		jobs = append(jobs, m.trackJob(ctx, r, track, func(ctx context.Context) *Result {
			return m.downloadTrack(ctx, r, track, album, nil)
		}))
	}
	report.add(m.runBatch(ctx, jobs)...)

	if m.config.Download.DownloadVideos {
		for _, v := range videos {
			report.add(m.downloadVideo(ctx, r, v, album, nil))
		}
	}
	return report, nil
}

func (m *Manager) downloadPlaylist(ctx context.Context, r *run, playlist *api.Playlist) (*BatchReport, error) {
	logger := m.logger.With(zap.String("playlist", playlist.UUID), zap.String("title", playlist.Title))

	tracks, videos, err := m.provider.GetPlaylistItems(ctx, playlist.UUID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	logger.Info("Downloading playlist", zap.Int("tracks", len(tracks)), zap.Int("videos", len(videos)))

	report := &BatchReport{RunID: r.id, Kind: api.KindPlaylist, Title: playlist.Title}

	jobs := make([]*Job, 0, len(tracks))
	for i, t := range tracks {
		// Copy so the playlist position does not leak into shared catalog data.
		track := *t
		track.TrackNumberOnPlaylist = i + 1
		jobs = append(jobs, m.trackJob(ctx, r, &track, func(ctx context.Context) *Result {
			return m.downloadPlaylistTrack(ctx, r, &track, playlist)
		}))
	}
	report.add(m.runBatch(ctx, jobs)...)

	if m.config.Download.DownloadVideos {
		for i, v := range videos {
			video := *v
			video.TrackNumberOnPlaylist = i + 1
			report.add(m.downloadVideo(ctx, r, &video, nil, playlist))
		}
	}
	return report, nil
}

func (m *Manager) downloadPlaylistTrack(ctx context.Context, r *run, track *api.Track, playlist *api.Playlist) *Result {
	var album *api.Album
	if track.Album != nil && track.Album.ID != "" {
		a, err := r.albums.Get(ctx, track.Album.ID.String())
		if err != nil {
			return m.runItem(ctx, r, api.KindTrack, track.ID.String(), pathtmpl.Title(track.Title, track.Version),
				func(ctx context.Context, it *item) error {
					return fmt.Errorf("failed to get album: %w", err)
				})
		}
		album = a
		if m.config.Download.SaveCovers && !m.config.Download.UsePlaylistFolder {
			r.albums.Once(album.ID.String(), func() {
				if err := m.saveAlbumCover(ctx, r, album); err != nil {
					m.logger.Warn("Failed to save album cover", zap.String("album", album.Title), zap.Error(err))
				}
			})
		}
	}
	return m.downloadTrack(ctx, r, track, album, playlist)
}

// runBatch runs jobs sequentially, or on item_workers goroutines when
// multi-threading is enabled.
func (m *Manager) runBatch(ctx context.Context, jobs []*Job) []*Result {
	workers := 1
	if m.config.Download.MultiThread {
		workers = m.config.Download.ItemWorkers
	}
	pool := NewWorkerPool(workers)
	m.logger.Debug("Running batch", zap.Int("jobs", len(jobs)), zap.Int("workers", pool.GetMaxWorkers()))
	return pool.RunAll(ctx, jobs)
}

// trackJob wraps fn as a batch job. A job the pool never starts still goes
// through runItem so it is notified and recorded like any other failure.
func (m *Manager) trackJob(ctx context.Context, r *run, track *api.Track, fn func(ctx context.Context) *Result) *Job {
	title := pathtmpl.Title(track.Title, track.Version)
	return &Job{
		ID:    track.ID.String(),
		Kind:  api.KindTrack,
		Title: title,
		Run:   fn,
		Abort: func(err error) *Result {
			return m.runItem(ctx, r, api.KindTrack, track.ID.String(), title, func(context.Context, *item) error {
				return err
			})
		},
	}
}

// prepareAlbum performs the once-per-album side effects.
func (m *Manager) prepareAlbum(ctx context.Context, r *run, album *api.Album, tracks []*api.Track, logger *zap.Logger) {
	if m.config.Download.SaveCovers {
		if err := m.saveAlbumCover(ctx, r, album); err != nil {
			logger.Warn("Failed to save album cover", zap.Error(err))
		}
	}
	if m.config.Download.SaveAlbumInfo {
		if _, err := WriteAlbumInfo(m.paths.AlbumDir(album), album, tracks); err != nil {
			logger.Warn("Failed to write album info", zap.Error(err))
		}
	}
}

func (m *Manager) saveAlbumCover(ctx context.Context, r *run, album *api.Album) error {
	data, _, err := m.albumCover(ctx, r, album)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	return metadata.SaveCover(filepath.Join(m.paths.AlbumDir(album), remux.CoverFileName), data)
}

func (m *Manager) albumCover(ctx context.Context, r *run, album *api.Album) ([]byte, string, error) {
	if album == nil || album.Cover == "" {
		return nil, "", nil
	}
	return r.albums.Cover(ctx, album.Cover, func(ctx context.Context) ([]byte, string, error) {
		return m.artwork.Fetch(ctx, m.provider.CoverURL(album.Cover, coverSize, coverSize))
	})
}

func (m *Manager) beginRun(r *run, link string) {
	if m.history == nil {
		return
	}
	if err := m.history.BeginRun(r.id, link); err != nil {
		m.logger.Warn("Failed to record run", zap.String("run_id", r.id), zap.Error(err))
	}
}

func (m *Manager) finishRun(r *run, report *BatchReport) {
	if m.history == nil {
		return
	}
	if err := m.history.FinishRun(r.id, string(report.Kind), report.Title, report.Succeeded, report.Failed); err != nil {
		m.logger.Warn("Failed to finish run", zap.String("run_id", r.id), zap.Error(err))
	}
}

func (m *Manager) record(r *run, res *Result, logger *zap.Logger) {
	if m.history == nil {
		return
	}

	entry := &store.Entry{
		RunID:    r.id,
		Kind:     string(res.Kind),
		ItemID:   res.ItemID,
		Title:    res.Title,
		FilePath: res.Path,
		Bytes:    res.Bytes,
		Warnings: res.Warnings,
	}
	switch {
	case !res.OK():
		entry.Status = store.StatusFailed
		entry.ErrorKind = string(res.ErrorKind)
		entry.ErrorMessage = res.Err.Error()
	case res.Skipped:
		entry.Status = store.StatusSkipped
	default:
		entry.Status = store.StatusDone
		sum, err := store.FileChecksum(res.Path)
		if err != nil {
			logger.Warn("Failed to checksum file", zap.Error(err))
		}
		entry.Checksum = sum
	}

	if err := m.history.Record(entry); err != nil {
		logger.Warn("Failed to record history", zap.Error(err))
	}
}

// progressFunc forwards cumulative transfer progress to the notifier.
func (m *Manager) progressFunc(itemID string) network.ProgressFunc {
	return func(done, total int64) {
		percent := 0
		if total > 0 {
			percent = int(done * 100 / total)
		}
		m.notifier.NotifyProgress(itemID, percent, done, total)
	}
}
