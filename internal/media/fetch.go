package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"face-scout-go/config"
)

// Fetcher lädt Bilder wie Thumbnails und Kanal-Avatare über HTTP herunter
type Fetcher struct {
	httpClient *http.Client
	retries    int
	delay      time.Duration
}

// NewFetcher erstellt einen Fetcher mit den Retry-Einstellungen der
// Download-Konfiguration
func NewFetcher(cfg config.DownloadConfig) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    cfg.MaxRetries,
		delay:      time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

// FetchImage lädt das Bild unter url nach destPath
func (f *Fetcher) FetchImage(ctx context.Context, url, destPath string) error {
	return withRetries(ctx, f.retries, f.delay, "image download", func() error {
		return f.fetchOnce(ctx, url, destPath)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}
