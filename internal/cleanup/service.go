package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/database"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// tempMaxAge is how long temp downloads and frame directories may linger
// before a cleanup cycle removes them.
const tempMaxAge = time.Hour

// Service handles the automatic cleanup of temp files and old scan data.
type Service struct {
	db            *gorm.DB
	retentionDays int
	tempDir       string
	matchesDir    string
	checkInterval time.Duration
	stopChan      chan struct{} // Channel to signal stopping the background routine
}

// NewService creates a new cleanup service. Returns nil when cleanup is
// disabled via retention_days <= 0.
func NewService(db *gorm.DB, cfg *config.Config) *Service {
	if cfg.Cleanup.RetentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0)")
		return nil
	}
	if db == nil {
		log.Error("Cannot initialize cleanup service: database connection is nil")
		return nil
	}

	interval := time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	log.Infof("Initializing cleanup service: RetentionDays=%d, Interval=%s", cfg.Cleanup.RetentionDays, interval)
	return &Service{
		db:            db,
		retentionDays: cfg.Cleanup.RetentionDays,
		tempDir:       cfg.Download.TempDir,
		matchesDir:    cfg.Storage.MatchesDir,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}
}

// Start launches a goroutine that periodically runs the cleanup cycle.
func (s *Service) Start() {
	if s == nil {
		return // Service was not initialized (cleanup disabled)
	}
	log.Info("Starting background cleanup routine...")

	// Run cleanup once immediately on start
	go func() {
		if err := s.RunOnce(); err != nil {
			log.WithError(err).Warn("Initial cleanup cycle reported errors")
		}
	}()

	ticker := time.NewTicker(s.checkInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Info("Running scheduled cleanup cycle...")
				if err := s.RunOnce(); err != nil {
					log.WithError(err).Warn("Cleanup cycle reported errors")
				}
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// Stop signals the background cleanup routine to stop.
func (s *Service) Stop() {
	if s == nil || s.stopChan == nil {
		return
	}
	// Check if channel is already closed to prevent panic
	select {
	case <-s.stopChan:
		// Already closed
	default:
		close(s.stopChan)
	}
}

// RunOnce performs a single cleanup cycle: stale temp files, scan results
// older than the retention period, and their saved match frames.
func (s *Service) RunOnce() error {
	if s == nil {
		return nil
	}

	var firstErr error

	tempRemoved, err := s.cleanTempFiles()
	if err != nil {
		log.WithError(err).Error("Cleanup: failed to clean temp directory")
		firstErr = err
	}

	resultsPruned, framesRemoved, err := s.pruneResults()
	if err != nil {
		log.WithError(err).Error("Cleanup: failed to prune old scan results")
		if firstErr == nil {
			firstErr = err
		}
	}

	orphansRemoved, err := s.cleanMatchFrames()
	if err != nil {
		log.WithError(err).Error("Cleanup: failed to clean matches directory")
		if firstErr == nil {
			firstErr = err
		}
	}

	log.Infof("Cleanup cycle finished: %d temp entries, %d results, %d match frames (%d orphaned) removed",
		tempRemoved, resultsPruned, framesRemoved, orphansRemoved)
	return firstErr
}

// cleanTempFiles removes downloads and frame directories older than an hour.
// Anything still in the temp directory after that is a leftover from an
// aborted scan.
func (s *Service) cleanTempFiles() (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-tempMaxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.WithError(err).Warnf("Cleanup: failed to remove temp entry %s", path)
			continue
		}
		removed++
	}
	return removed, nil
}

// pruneResults deletes scan results older than the retention period together
// with their saved match frames.
func (s *Service) pruneResults() (pruned, framesRemoved int, err error) {
	retention := time.Duration(s.retentionDays) * 24 * time.Hour
	framePaths, err := database.PruneScanResults(s.db, retention)
	if err != nil {
		return 0, 0, err
	}

	for _, path := range framePaths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).Warnf("Cleanup: failed to remove match frame %s", path)
			}
			continue
		}
		framesRemoved++
	}
	return len(framePaths), framesRemoved, nil
}

// cleanMatchFrames removes frames in the matches directory older than the
// retention period. This catches frames whose scan result was deleted by
// other means.
func (s *Service) cleanMatchFrames() (int, error) {
	entries, err := os.ReadDir(s.matchesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.matchesDir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warnf("Cleanup: failed to remove match frame %s", path)
			continue
		}
		removed++
	}
	return removed, nil
}
