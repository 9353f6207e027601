package download

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tidaldl/tidaldl-go/internal/api"
	apperrors "github.com/tidaldl/tidaldl-go/internal/errors"
	"github.com/tidaldl/tidaldl-go/internal/metadata"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
	"github.com/tidaldl/tidaldl-go/internal/network"
	"github.com/tidaldl/tidaldl-go/internal/pathtmpl"
	"github.com/tidaldl/tidaldl-go/internal/remux"
)

// item is one track or video moving through the pipeline.
type item struct {
	res    *Result
	state  *ItemState
	logger *zap.Logger
}

func (it *item) enter(next State) error {
	if err := it.state.Transition(next); err != nil {
		return err
	}
	it.logger.Debug("State changed", zap.String("state", string(next)))
	return nil
}

// runItem drives fn under a fresh state machine and turns its error into a
// failed Result. The item is reported and recorded exactly once.
func (m *Manager) runItem(ctx context.Context, r *run, kind api.Kind, id, title string, fn func(ctx context.Context, it *item) error) *Result {
	it := &item{
		res:    &Result{Kind: kind, ItemID: id, Title: title},
		state:  NewItemState(),
		logger: monitoring.ItemLogger(m.logger, string(kind), id, title),
	}

	start := time.Now()
	monitoring.RecordItemStart()
	m.notifier.NotifyStarted(id)

	err := ctx.Err()
	if err == nil {
		err = fn(ctx, it)
	}

	status := "done"
	switch {
	case err != nil:
		status = "failed"
		it.res.fail(err)
		_ = it.state.Fail(err.Error())
		monitoring.RecordError(string(it.res.ErrorKind))
		it.logger.Warn("Item failed",
			zap.String("error_kind", string(it.res.ErrorKind)),
			zap.Error(err))
		m.notifier.NotifyFailed(id, err)
	case it.res.Skipped:
		status = "skipped"
		it.logger.Info("Item already exists", zap.String("path", it.res.Path))
		m.notifier.NotifyCompleted(id)
	default:
		it.logger.Info("Item downloaded",
			zap.String("path", it.res.Path),
			zap.Int64("bytes", it.res.Bytes),
			zap.Strings("warnings", it.res.Warnings),
			zap.Duration("elapsed", time.Since(start)))
		m.notifier.NotifyCompleted(id)
	}

	monitoring.RecordItemDone(string(kind), status, time.Since(start))
	m.record(r, it.res, it.logger)
	return it.res
}

func (m *Manager) downloadTrack(ctx context.Context, r *run, track *api.Track, album *api.Album, playlist *api.Playlist) *Result {
	title := pathtmpl.Title(track.Title, track.Version)
	return m.runItem(ctx, r, api.KindTrack, track.ID.String(), title, func(ctx context.Context, it *item) error {
		return m.trackPipeline(ctx, r, it, track, album, playlist)
	})
}

func (m *Manager) trackPipeline(ctx context.Context, r *run, it *item, track *api.Track, album *api.Album, playlist *api.Playlist) error {
	stream, err := m.provider.GetStreamDescriptor(ctx, track.ID.String(), m.audioQuality)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	urls := stream.PartURLs()
	if len(urls) == 0 {
		return apperrors.NewProviderError("stream has no URLs", nil)
	}

	path := m.paths.TrackPath(track, stream, album, playlist)
	it.res.Path = path
	if err := pathtmpl.Contained(m.paths.Root(), path); err != nil {
		return apperrors.NewPathError("invalid track path", err)
	}
	if err := it.enter(StatePathResolved); err != nil {
		return err
	}

	if err := it.enter(StateDownloading); err != nil {
		return err
	}
	fetched, err := m.downloader.Fetch(ctx, network.DownloadJob{
		URLs:         urls,
		Path:         path,
		PartSize:     m.config.Download.PartSize,
		SkipExisting: m.config.Download.CheckExist,
		Progress:     m.progressFunc(track.ID.String()),
	})
	if err != nil {
		return err
	}
	if fetched.Skipped {
		it.res.Skipped = true
		return it.enter(StateDone)
	}
	it.res.Bytes = fetched.BytesTransferred

	if stream.Encrypted() {
		if err := it.enter(StateDecrypting); err != nil {
			return err
		}
	}
	if err := m.decryptor.Decrypt(stream.EncryptionKey, fetched.TempPath, path); err != nil {
		os.Remove(fetched.TempPath)
		return err
	}

	if err := it.enter(StateTagging); err != nil {
		return err
	}
	md := m.trackMetadata(ctx, r, it, track, album)
	if err := m.tagger.ApplyMetadata(path, md); err != nil {
		it.res.warn("tagging failed: %v", err)
	}
	if m.config.Download.LyricFile && md.Lyrics != "" {
		if _, err := metadata.SaveLyricsFile(path, md.Lyrics); err != nil {
			it.res.warn("lyrics file not written: %v", err)
		}
	}

	if m.remuxer != nil {
		if err := it.enter(StateRemuxing); err != nil {
			return err
		}
		outcome, err := m.remuxer.Remux(ctx, path, m.audioQuality)
		if err != nil {
			// The original file is kept, so the item still succeeds.
			it.res.warn("remux failed: %v", err)
		} else if outcome == remux.OutcomeRemuxed {
			it.logger.Debug("Remuxed to FLAC")
		}
	}

	return it.enter(StateDone)
}

// trackMetadata assembles tag values from the track, its album and the
// provider's credits and lyrics. Lookup failures become warnings.
func (m *Manager) trackMetadata(ctx context.Context, r *run, it *item, track *api.Track, album *api.Album) *metadata.TrackMetadata {
	md := &metadata.TrackMetadata{
		Title:       pathtmpl.Title(track.Title, track.Version),
		Artist:      strings.Join(api.ArtistNames(track.Artists), ", "),
		Copyright:   track.Copyright,
		ISRC:        track.ISRC,
		TrackNumber: track.TrackNumber,
		DiscNumber:  track.VolumeNumber,
	}
	if track.Album != nil {
		md.Album = track.Album.Title
	}

	if album != nil {
		if md.Album == "" {
			md.Album = album.Title
		}
		md.AlbumArtist = strings.Join(api.ArtistNames(album.Artists), ", ")
		md.Date = album.ReleaseDate
		md.DiscTotal = album.NumberOfVolumes
		if album.NumberOfVolumes <= 1 {
			md.TrackTotal = album.NumberOfTracks
		}

		data, mime, err := m.albumCover(ctx, r, album)
		if err != nil {
			it.res.warn("cover not embedded: %v", err)
		} else if data != nil {
			md.ArtworkData = data
			md.ArtworkMIME = mime
		}
	}

	contributors, err := m.provider.GetContributors(ctx, track.ID.String())
	if err != nil {
		it.logger.Debug("No contributors", zap.Error(err))
	}
	md.Composer = strings.Join(api.ContributorNames(contributors, "Composer"), ", ")

	if lyrics, err := m.provider.GetLyrics(ctx, track.ID.String()); err == nil && lyrics != nil {
		md.Lyrics = lyrics.Subtitles
	}
	return md
}

func (m *Manager) downloadVideo(ctx context.Context, r *run, video *api.Video, album *api.Album, playlist *api.Playlist) *Result {
	title := pathtmpl.Title(video.Title, video.Version)
	return m.runItem(ctx, r, api.KindVideo, video.ID.String(), title, func(ctx context.Context, it *item) error {
		return m.videoPipeline(ctx, it, video, album, playlist)
	})
}

func (m *Manager) videoPipeline(ctx context.Context, it *item, video *api.Video, album *api.Album, playlist *api.Playlist) error {
	manifestURL, err := m.provider.GetVideoManifestURL(ctx, video.ID.String(), m.videoQuality)
	if err != nil {
		return fmt.Errorf("failed to get video manifest: %w", err)
	}

	path := m.paths.VideoPath(video, album, playlist)
	it.res.Path = path
	if err := pathtmpl.Contained(m.paths.Root(), path); err != nil {
		return apperrors.NewPathError("invalid video path", err)
	}
	if err := it.enter(StatePathResolved); err != nil {
		return err
	}

	if m.config.Download.CheckExist {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			it.res.Skipped = true
			return it.enter(StateDone)
		}
	}

	if err := it.enter(StateAssembling); err != nil {
		return err
	}
	if err := m.assembler.AssembleWithProgress(ctx, manifestURL, path, m.progressFunc(video.ID.String())); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		it.res.Bytes = info.Size()
	}
	return it.enter(StateDone)
}
