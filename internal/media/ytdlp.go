package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"

	"github.com/lrstanley/go-ytdlp"
	log "github.com/sirupsen/logrus"
)

// YtDlpDownloader lädt Videos über das externe yt-dlp-Programm herunter
type YtDlpDownloader struct {
	cfg config.DownloadConfig
}

// NewYtDlpDownloader erstellt einen yt-dlp-Downloader. Bei aktiviertem
// auto_install wird das Programm bei Bedarf heruntergeladen.
func NewYtDlpDownloader(ctx context.Context, cfg config.DownloadConfig) (*YtDlpDownloader, error) {
	if cfg.AutoInstall {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to install yt-dlp: %w", err)
		}
		log.Debug("yt-dlp binary available")
	}
	return &YtDlpDownloader{cfg: cfg}, nil
}

// Name gibt den Namen des Werkzeugs zurück
func (d *YtDlpDownloader) Name() string {
	return "yt-dlp"
}

// Download lädt das Video in das Temp-Verzeichnis und liefert den Dateipfad
func (d *YtDlpDownloader) Download(ctx context.Context, videoID string) (string, error) {
	outPath := filepath.Join(d.cfg.TempDir, videoID+".mp4")
	url := models.WatchURL(videoID)

	err := withRetries(ctx, d.cfg.MaxRetries, time.Duration(d.cfg.RetryDelaySeconds)*time.Second, "yt-dlp download", func() error {
		dl := ytdlp.New().
			Format(d.cfg.Format).
			Output(outPath).
			NoPlaylist()
		if _, err := dl.Run(ctx, url); err != nil {
			return fmt.Errorf("yt-dlp failed for %s: %w", videoID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("yt-dlp finished but %s is missing: %w", outPath, err)
	}
	return outPath, nil
}
