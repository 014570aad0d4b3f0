package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlog "gorm.io/gorm/logger"
)

// DB holds the global GORM database connection pool.
var DB *gorm.DB

// Init initializes the database connection using the provided configuration.
func Init(cfg config.StorageConfig) error {
	// Ensure the directory for the database file exists
	dbDir := filepath.Dir(cfg.DBFile)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		log.Errorf("Failed to create database directory '%s': %v", dbDir, err)
		return err
	}

	// Configure GORM logger to use our logrus instance
	gormConfiguredLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.DBFile)
	db, err := gorm.Open(sqlite.Open(cfg.DBFile), &gorm.Config{
		Logger: gormConfiguredLogger,
	})
	if err != nil {
		log.Errorf("Failed to connect to database '%s': %v", cfg.DBFile, err)
		return err
	}

	DB = db

	log.Debug("Database connection established.")

	return Migrate(db)
}

// Migrate runs the schema migrations on the given connection.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Channel{},
		&models.Video{},
		&models.ScanResult{},
	)
	if err != nil {
		log.Errorf("Database migration failed: %v", err)
		return err
	}
	log.Debug("Database migrations completed.")
	return nil
}

// GetDB returns the initialized GORM DB instance.
func GetDB() (*gorm.DB, error) {
	if DB == nil {
		return nil, errors.New("database is not initialized")
	}
	return DB, nil
}

// UpsertChannel inserts or updates the cached statistics for a channel.
func UpsertChannel(db *gorm.DB, ch *models.Channel) error {
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "subscribers", "avatar_url", "active",
			"activity_checked_at", "checked_at", "updated_at",
		}),
	}).Create(ch)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", ch.ChannelID, result.Error)
	}
	return nil
}

// GetFreshChannel returns the cached channel if its statistics are younger than ttl.
// A nil channel without error means cache miss.
func GetFreshChannel(db *gorm.DB, channelID string, ttl time.Duration) (*models.Channel, error) {
	var ch models.Channel
	result := db.Where("channel_id = ?", channelID).First(&ch)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, result.Error)
	}
	if time.Since(ch.CheckedAt) > ttl {
		return nil, nil
	}
	return &ch, nil
}

// GetChannel returns the cached channel regardless of age.
func GetChannel(db *gorm.DB, channelID string) (*models.Channel, error) {
	var ch models.Channel
	result := db.Where("channel_id = ?", channelID).First(&ch)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, result.Error)
	}
	return &ch, nil
}

// UpsertVideo inserts or updates a video's metadata.
func UpsertVideo(db *gorm.DB, v *models.Video) error {
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"channel_id", "channel_title", "title", "description",
			"published_at", "thumbnail_url", "updated_at",
		}),
	}).Create(v)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert video %s: %w", v.VideoID, result.Error)
	}
	return nil
}

// SetVideoDuration stores the fetched duration for a video.
func SetVideoDuration(db *gorm.DB, videoID string, seconds int) error {
	result := db.Model(&models.Video{}).Where("video_id = ?", videoID).Update("duration_seconds", seconds)
	if result.Error != nil {
		return fmt.Errorf("failed to set duration for video %s: %w", videoID, result.Error)
	}
	return nil
}

// GetVideoDurations returns the cached durations (>0) for the given video IDs.
func GetVideoDurations(db *gorm.DB, videoIDs []string) (map[string]int, error) {
	durations := make(map[string]int)
	if len(videoIDs) == 0 {
		return durations, nil
	}
	var videos []models.Video
	if err := db.Select("video_id", "duration_seconds").
		Where("video_id IN ? AND duration_seconds > 0", videoIDs).
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("failed to load cached durations: %w", err)
	}
	for _, v := range videos {
		durations[v.VideoID] = v.DurationSeconds
	}
	return durations, nil
}

// SaveScanResult inserts or replaces the scan result for a video.
func SaveScanResult(db *gorm.DB, r *models.ScanResult) error {
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"video_url", "channel_id", "title", "thumbnail_match", "avatar_match",
			"frame_match", "matched_names", "frames_scanned", "match_frame_path",
			"scanned_at", "error", "updated_at",
		}),
	}).Create(r)
	if result.Error != nil {
		return fmt.Errorf("failed to save scan result for %s: %w", r.VideoID, result.Error)
	}
	return nil
}

// ListScanResults returns a page of scan results, newest first.
// matchedOnly restricts the page to results with at least one hit.
func ListScanResults(db *gorm.DB, page, perPage int, matchedOnly bool) ([]models.ScanResult, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := db.Model(&models.ScanResult{})
	if matchedOnly {
		query = query.Where("thumbnail_match OR avatar_match OR frame_match")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scan results: %w", err)
	}

	var results []models.ScanResult
	err := query.Order("scanned_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scan results: %w", err)
	}
	return results, total, nil
}

// GetScanResult returns the scan result for a single video, nil if absent.
func GetScanResult(db *gorm.DB, videoID string) (*models.ScanResult, error) {
	var r models.ScanResult
	result := db.Where("video_id = ?", videoID).First(&r)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan result for %s: %w", videoID, result.Error)
	}
	return &r, nil
}

// GetStatistics aggregates counters for the status endpoint.
func GetStatistics(db *gorm.DB) (*models.Statistics, error) {
	stats := &models.Statistics{}

	if err := db.Model(&models.Video{}).Count(&stats.TotalVideos).Error; err != nil {
		return nil, fmt.Errorf("failed to count videos: %w", err)
	}
	if err := db.Model(&models.Channel{}).Count(&stats.TotalChannels).Error; err != nil {
		return nil, fmt.Errorf("failed to count channels: %w", err)
	}
	if err := db.Model(&models.ScanResult{}).Count(&stats.TotalScans).Error; err != nil {
		return nil, fmt.Errorf("failed to count scan results: %w", err)
	}
	if err := db.Model(&models.ScanResult{}).
		Where("thumbnail_match OR avatar_match OR frame_match").
		Count(&stats.MatchedVideos).Error; err != nil {
		return nil, fmt.Errorf("failed to count matched videos: %w", err)
	}

	var latest models.ScanResult
	result := db.Order("scanned_at DESC").First(&latest)
	if result.Error == nil {
		stats.LatestScan = latest.ScannedAt
	} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load latest scan: %w", result.Error)
	}

	return stats, nil
}

// PruneScanResults deletes scan results older than the retention period.
// Returns the paths of match frames whose results were removed.
func PruneScanResults(db *gorm.DB, retention time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-retention)

	var stale []models.ScanResult
	if err := db.Where("scanned_at < ?", cutoff).Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale scan results: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	var framePaths []string
	ids := make([]uint, 0, len(stale))
	for _, r := range stale {
		ids = append(ids, r.ID)
		if r.MatchFramePath != "" {
			framePaths = append(framePaths, r.MatchFramePath)
		}
	}

	if err := db.Unscoped().Delete(&models.ScanResult{}, ids).Error; err != nil {
		return nil, fmt.Errorf("failed to delete stale scan results: %w", err)
	}

	log.Infof("Pruned %d scan results older than %s", len(stale), cutoff.Format(time.RFC3339))
	return framePaths, nil
}
