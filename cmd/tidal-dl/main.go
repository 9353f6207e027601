package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidaldl/tidaldl-go/internal/api"
	"github.com/tidaldl/tidaldl-go/internal/config"
	"github.com/tidaldl/tidaldl-go/internal/download"
	"github.com/tidaldl/tidaldl-go/internal/metadata"
	"github.com/tidaldl/tidaldl-go/internal/monitoring"
	"github.com/tidaldl/tidaldl-go/internal/network"
	"github.com/tidaldl/tidaldl-go/internal/remux"
	"github.com/tidaldl/tidaldl-go/internal/store"
)

var version = "dev"

type options struct {
	configPath   string
	catalogPath  string
	outputDir    string
	audioQuality string
	videoQuality string
	multiThread  bool
	debug        bool
}

func main() {
	// Variables from .env are visible to the TIDALDL_ overrides.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "tidal-dl [link]",
		Short:        "Download tracks, videos, albums and playlists",
		Version:      version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), opts, args[0])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to settings.json (default: user config dir)")
	flags.BoolVar(&opts.debug, "debug", false, "colored development logging at debug level")
	root.Flags().StringVar(&opts.catalogPath, "catalog", "", "JSON catalog serving provider responses")
	root.Flags().StringVarP(&opts.outputDir, "output", "o", "", "download root, overrides download.output_dir")
	root.Flags().StringVarP(&opts.audioQuality, "quality", "q", "", "audio quality: Normal|High|HiFi|Master|Max")
	root.Flags().StringVar(&opts.videoQuality, "video-quality", "", "video quality: P360|P480|P720|P1080")
	root.Flags().BoolVar(&opts.multiThread, "multi-thread", false, "download batch items in parallel")
	_ = root.MarkFlagRequired("catalog")

	root.AddCommand(newDoctorCommand(opts), newHistoryCommand(opts))
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.outputDir != "" {
		cfg.Download.OutputDir = opts.outputDir
	}
	if opts.audioQuality != "" {
		cfg.Download.AudioQuality = opts.audioQuality
	}
	if opts.videoQuality != "" {
		cfg.Download.VideoQuality = opts.videoQuality
	}
	if opts.multiThread {
		cfg.Download.MultiThread = true
	}
	return cfg, cfg.Validate()
}

func newLogger(opts *options, cfg *config.Config) (*zap.Logger, error) {
	if opts.debug {
		return monitoring.NewDevelopmentLogger()
	}
	return monitoring.NewLogger(cfg.Logging)
}

func openHistory(cfg *config.Config) (*sql.DB, *store.HistoryStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil, nil
	}
	db, err := store.InitDB(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewHistoryStore(db), nil
}

func runDownload(ctx context.Context, opts *options, link string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(opts, cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	provider, err := api.LoadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}

	db, history, err := openHistory(cfg)
	if err != nil {
		logger.Warn("History disabled", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	tags := metadata.NewManager(&metadata.Config{EmbedArtwork: true, ArtworkSize: cfg.Download.ArtworkSize})

	var transcoder remux.Transcoder
	if cfg.Remux.Enabled {
		ffmpeg, err := remux.NewFFmpeg(cfg.Remux.FFmpegPath)
		if err != nil {
			logger.Warn("Remux disabled", zap.Error(err))
		} else {
			transcoder = ffmpeg
		}
	}

	mgr, err := download.NewManager(cfg, download.Dependencies{
		Provider:  provider,
		Transport: network.NewTransportFromConfig(cfg.Network),
		Tagger:    tags,
		Remuxer:   remux.NewRemuxer(cfg.Remux.Enabled, transcoder, tags, logger.Named("remux")),
		History:   history,
		Notifier:  download.NewLogNotifier(logger.Named("progress")),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	report, err := mgr.Start(ctx, link)
	if err != nil {
		logger.Error("Download failed", zap.Error(err))
		return err
	}

	for _, r := range report.Results {
		mark := "OK  "
		if !r.OK() {
			mark = "FAIL"
		}
		fmt.Printf("[%s] %s\n", mark, r.Message())
	}
	fmt.Println(report.Summary())

	if !report.OK() {
		return fmt.Errorf("%d of %d items failed", report.Failed, len(report.Results))
	}
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}

func newDoctorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the history database, transcoder and download root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, _, err := openHistory(cfg)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			if db != nil {
				defer db.Close()
			}

			ffmpegPath := ""
			if cfg.Remux.Enabled {
				ffmpegPath = cfg.Remux.FFmpegPath
			}
			health := monitoring.NewHealthChecker(version, db, ffmpegPath, cfg.Download.OutputDir).Check(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(health); err != nil {
				return err
			}
			if health.Status == monitoring.HealthStatusUnhealthy {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var item string
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show the recorded results of a run, or the last download of an item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (item == "") {
				return fmt.Errorf("pass either a run id or --item")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db, history, err := openHistory(cfg)
			if err != nil {
				return err
			}
			if history == nil {
				return fmt.Errorf("history store is disabled")
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if item != "" {
				return printLastSuccess(out, history, item)
			}

			run, err := history.GetRun(args[0])
			if err != nil {
				return err
			}
			entries, err := history.ListRun(run.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s  %s  %s (%d succeeded, %d failed)\n",
				run.ID, run.Kind, run.Title, run.Succeeded, run.Failed)
			for _, e := range entries {
				line := fmt.Sprintf("  %-7s %-8s %s", e.Status, e.Kind, e.Title)
				if e.ErrorMessage != "" {
					line += " [" + e.ErrorKind + "] " + e.ErrorMessage
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "kind:id of an item, e.g. track:12345")
	return cmd
}

func printLastSuccess(out io.Writer, history *store.HistoryStore, item string) error {
	kind, id, ok := strings.Cut(item, ":")
	if !ok || id == "" {
		return fmt.Errorf("invalid item %q, want kind:id", item)
	}
	entry, err := history.LastSuccess(kind, id)
	if err != nil {
		return err
	}
	if entry == nil {
		fmt.Fprintf(out, "%s has not been downloaded\n", item)
		return nil
	}
	fmt.Fprintf(out, "%s  %s  %s\n  run %s, %d bytes, blake2b %s\n",
		entry.RecordedAt.Format(time.RFC3339), entry.Status, entry.FilePath,
		entry.RunID, entry.Bytes, entry.Checksum)
	return nil
}
