package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"face-scout-go/config"

	"github.com/kkdai/youtube/v2"
)

// NativeDownloader lädt Videos direkt über die YouTube-Streaming-Endpunkte
// herunter, ohne externes Programm. Er ist auf progressive Formate
// beschränkt, bei denen Audio und Video in einer Datei liegen.
type NativeDownloader struct {
	client *youtube.Client
	cfg    config.DownloadConfig
}

// NewNativeDownloader erstellt einen Downloader auf Basis der YouTube-Streams
func NewNativeDownloader(cfg config.DownloadConfig) *NativeDownloader {
	return &NativeDownloader{
		client: &youtube.Client{
			HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		},
		cfg: cfg,
	}
}

// Name gibt den Namen des Werkzeugs zurück
func (d *NativeDownloader) Name() string {
	return "native"
}

// Download lädt das Video in das Temp-Verzeichnis und liefert den Dateipfad
func (d *NativeDownloader) Download(ctx context.Context, videoID string) (string, error) {
	outPath := filepath.Join(d.cfg.TempDir, videoID+".mp4")

	err := withRetries(ctx, d.cfg.MaxRetries, time.Duration(d.cfg.RetryDelaySeconds)*time.Second, "native download", func() error {
		return d.download(ctx, videoID, outPath)
	})
	if err != nil {
		return "", err
	}
	return outPath, nil
}

func (d *NativeDownloader) download(ctx context.Context, videoID, outPath string) error {
	video, err := d.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return fmt.Errorf("fetching video metadata: %w", err)
	}

	format := bestProgressive(video.Formats)
	if format == nil {
		return errors.New("no progressive mp4 format available")
	}

	stream, _, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	defer stream.Close()

	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, stream); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("download failed: %w", err)
	}
	return nil
}

// bestProgressive wählt das progressive MP4-Format mit der höchsten
// Auflösung. Formate ohne Audio- oder Videospur scheiden aus.
func bestProgressive(formats []youtube.Format) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width == 0 || f.Height == 0 {
			continue
		}
		if !strings.Contains(f.MimeType, "mp4") {
			continue
		}
		if best == nil || f.Height > best.Height || (f.Height == best.Height && f.Bitrate > best.Bitrate) {
			best = f
		}
	}
	return best
}
