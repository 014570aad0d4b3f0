package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/api"
	"face-scout-go/internal/cleanup"
	"face-scout-go/internal/collector"
	"face-scout-go/internal/database"
	"face-scout-go/internal/filter"
	"face-scout-go/internal/logger"
	"face-scout-go/internal/media"
	"face-scout-go/internal/notify"
	"face-scout-go/internal/recognition"
	"face-scout-go/internal/recognition/compreface"
	"face-scout-go/internal/recognition/goface"
	"face-scout-go/internal/scanner"
	"face-scout-go/internal/youtube"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "Find known faces in YouTube videos",
	Long: `face-scout-go searches YouTube videos published in a date window for
known faces. The pipeline runs in three stages: collect candidate videos,
filter them by duration and language, then scan thumbnails, channel avatars
and video frames against a directory of reference images.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		// .env ist optional und liefert unter anderem den API-Schlüssel
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := logger.Init(cfg.Log); err != nil {
			log.Errorf("Failed to initialize logger completely: %v", err)
		}

		if err := database.Init(cfg.Storage); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return nil
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect candidate videos for the configured date window",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyCollectFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		db, err := database.GetDB()
		if err != nil {
			return err
		}
		client, err := youtube.NewClient(ctx, cfg.YouTube)
		if err != nil {
			return err
		}

		_, err = collector.NewService(cfg, client, db).Run(ctx)
		return err
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Filter collected videos by duration and language",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyFilterFlags(cmd)

		ctx, stop := signalContext()
		defer stop()

		db, err := database.GetDB()
		if err != nil {
			return err
		}
		client, err := youtube.NewClient(ctx, cfg.YouTube)
		if err != nil {
			return err
		}

		_, err = filter.NewService(cfg, client, db).Run(ctx)
		return err
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan filtered videos for the reference faces",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyScanFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		db, err := database.GetDB()
		if err != nil {
			return err
		}

		svc, closeScanner, err := buildScanner(ctx, db)
		if err != nil {
			return err
		}
		defer closeScanner()

		summary, err := svc.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			log.Warn("Scan wurde abgebrochen, Teilergebnis wurde geschrieben")
		}
		printMatches(summary.MatchURLs)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run collect, filter and scan in sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		db, err := database.GetDB()
		if err != nil {
			return err
		}
		client, err := youtube.NewClient(ctx, cfg.YouTube)
		if err != nil {
			return err
		}

		colSummary, err := collector.NewService(cfg, client, db).Run(ctx)
		if err != nil {
			return err
		}
		if colSummary.VideosKept == 0 {
			log.Info("Keine Videos gesammelt, Pipeline endet hier")
			return nil
		}

		filterSummary, err := filter.NewService(cfg, client, db).Run(ctx)
		if err != nil {
			return err
		}
		if filterSummary.Kept == 0 {
			log.Info("Kein Video hat die Filter-Stufe überstanden, Pipeline endet hier")
			return nil
		}

		svc, closeScanner, err := buildScanner(ctx, db)
		if err != nil {
			return err
		}
		defer closeScanner()

		scanSummary, err := svc.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			log.Warn("Scan wurde abgebrochen, Teilergebnis wurde geschrieben")
		}
		printMatches(scanSummary.MatchURLs)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve collected results and match frames over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.GetDB()
		if err != nil {
			return err
		}

		cleanupSvc := cleanup.NewService(db, cfg)
		cleanupSvc.Start()
		defer cleanupSvc.Stop()

		router := api.NewRouter(cfg, db, version)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: router,
		}

		go func() {
			log.Infof("Starting server on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Server failed to start: %v", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("Server stopped.")
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale temp files and prune old scan results",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.GetDB()
		if err != nil {
			return err
		}
		svc := cleanup.NewService(db, cfg)
		if svc == nil {
			log.Warn("Cleanup is disabled (retention_days <= 0)")
			return nil
		}
		return svc.RunOnce()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("face-scout-go %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the configuration file")

	collectCmd.Flags().String("start", "", "start date (YYYY-MM-DD)")
	collectCmd.Flags().String("end", "", "end date (YYYY-MM-DD)")
	collectCmd.Flags().String("query", "", "search query")
	collectCmd.Flags().Int64("min-subscribers", 0, "minimum channel subscriber count")
	collectCmd.Flags().Bool("skip-activity-check", false, "skip the channel activity check")

	filterCmd.Flags().String("language", "", "required title/description language (BCP-47 tag)")
	filterCmd.Flags().Int("min-duration", 0, "minimum video duration in seconds")

	scanCmd.Flags().Int("limit", 0, "maximum number of videos to scan (0 = all)")
	scanCmd.Flags().String("provider", "", "face recognition provider (goface or compreface)")

	rootCmd.AddCommand(collectCmd, filterCmd, scanCmd, runCmd, serveCmd, cleanupCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// signalContext liefert einen Context, der bei SIGINT/SIGTERM abgebrochen wird
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyCollectFlags überträgt gesetzte Kommandozeilen-Flags in die Konfiguration
func applyCollectFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		cfg.Search.StartDate, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		cfg.Search.EndDate, _ = flags.GetString("end")
	}
	if flags.Changed("query") {
		cfg.Search.Query, _ = flags.GetString("query")
	}
	if flags.Changed("min-subscribers") {
		cfg.Search.MinSubscribers, _ = flags.GetInt64("min-subscribers")
	}
	if flags.Changed("skip-activity-check") {
		cfg.Search.SkipActivityCheck, _ = flags.GetBool("skip-activity-check")
	}
}

func applyFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("language") {
		cfg.Filter.Language, _ = flags.GetString("language")
	}
	if flags.Changed("min-duration") {
		cfg.Filter.MinDurationSeconds, _ = flags.GetInt("min-duration")
	}
}

func applyScanFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("limit") {
		cfg.Scan.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("provider") {
		cfg.Faces.Provider, _ = flags.GetString("provider")
	}
}

// buildScanner verdrahtet Provider, Downloader, Frame-Extraktor und die
// optionalen Dienste zum Scan-Service. Die zurückgegebene Funktion gibt alle
// Ressourcen wieder frei.
func buildScanner(ctx context.Context, db *gorm.DB) (*scanner.Service, func(), error) {
	provider, err := newProvider(ctx)
	if err != nil {
		return nil, nil, err
	}

	downloader, err := media.NewDownloader(ctx, cfg.Download)
	if err != nil {
		provider.Close()
		return nil, nil, err
	}

	extractor := media.NewExtractor(cfg.Frames)
	fetcher := media.NewFetcher(cfg.Download)

	var persons scanner.PersonDetector
	var personFilter *media.PersonFilter
	if cfg.Frames.PersonPrefilter {
		personFilter = media.NewPersonFilter()
		persons = personFilter
	}

	var notifier scanner.MatchNotifier
	var publisher *notify.Publisher
	if cfg.MQTT.Enabled {
		publisher = notify.NewPublisher(cfg.MQTT)
		if err := publisher.Start(); err != nil {
			log.WithError(err).Warn("MQTT nicht erreichbar, Treffer werden nicht veröffentlicht")
			publisher = nil
		} else {
			notifier = publisher
		}
	}

	svc := scanner.NewService(cfg, db, provider, downloader, extractor, fetcher, persons, notifier)
	closeAll := func() {
		if err := provider.Close(); err != nil {
			log.WithError(err).Debug("Provider konnte nicht sauber geschlossen werden")
		}
		if personFilter != nil {
			personFilter.Close()
		}
		if publisher != nil {
			publisher.Stop()
		}
	}
	return svc, closeAll, nil
}

// newProvider erstellt den konfigurierten Gesichtserkennungs-Provider
func newProvider(ctx context.Context) (recognition.Provider, error) {
	switch recognition.ProviderType(cfg.Faces.Provider) {
	case recognition.ProviderCompreFace:
		return compreface.NewService(ctx, cfg.Faces)
	case recognition.ProviderGoFace:
		return goface.New(cfg.Faces)
	default:
		return nil, fmt.Errorf("unknown faces.provider %q", cfg.Faces.Provider)
	}
}

// printMatches gibt die Treffer-URLs unformatiert auf stdout aus
func printMatches(urls []string) {
	if len(urls) == 0 {
		fmt.Println("No matching videos found.")
		return
	}
	fmt.Printf("Found %d matching video(s):\n", len(urls))
	for _, u := range urls {
		fmt.Println(u)
	}
}
