package media

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"face-scout-go/config"

	log "github.com/sirupsen/logrus"
)

// Downloader lädt ein Video herunter und liefert den lokalen Dateipfad
type Downloader interface {
	// Download lädt das Video mit der angegebenen ID in das Temp-Verzeichnis
	Download(ctx context.Context, videoID string) (string, error)

	// Name gibt den Namen des Werkzeugs zurück
	Name() string
}

// NewDownloader wählt das Download-Werkzeug anhand der Konfiguration
func NewDownloader(ctx context.Context, cfg config.DownloadConfig) (Downloader, error) {
	switch cfg.Tool {
	case "native":
		return NewNativeDownloader(cfg), nil
	case "yt-dlp", "":
		return NewYtDlpDownloader(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown download tool %q", cfg.Tool)
	}
}

// withRetries führt fn bis zu attempts-mal aus. Zwischen den Versuchen wird
// die Basis-Wartezeit plus Jitter abgewartet, Abbruch über den Context ist
// jederzeit möglich.
func withRetries(ctx context.Context, attempts int, delay time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		wait := delay
		if delay > time.Second {
			wait += time.Duration(rand.Int63n(int64(delay / 2)))
		}
		log.WithError(lastErr).Warnf("%s failed (attempt %d/%d), retrying in %s", op, attempt, attempts, wait.Round(time.Millisecond))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}
