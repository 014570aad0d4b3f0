package database

import (
	"path/filepath"
	"testing"
	"time"

	"face-scout-go/internal/core/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlog.Default.LogMode(gormlog.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func TestUpsertChannel(t *testing.T) {
	db := openTestDB(t)

	ch := &models.Channel{
		ChannelID:   "UC123",
		Title:       "Testkanal",
		Subscribers: 600000,
		CheckedAt:   time.Now(),
	}
	if err := UpsertChannel(db, ch); err != nil {
		t.Fatalf("UpsertChannel failed: %v", err)
	}

	// A second upsert for the same channel must update, not duplicate
	update := &models.Channel{
		ChannelID:   "UC123",
		Title:       "Testkanal",
		Subscribers: 750000,
		CheckedAt:   time.Now(),
	}
	if err := UpsertChannel(db, update); err != nil {
		t.Fatalf("UpsertChannel update failed: %v", err)
	}

	var count int64
	db.Model(&models.Channel{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 channel row, got %d", count)
	}

	got, err := GetChannel(db, "UC123")
	if err != nil {
		t.Fatalf("GetChannel failed: %v", err)
	}
	if got == nil || got.Subscribers != 750000 {
		t.Errorf("expected updated subscriber count, got %+v", got)
	}
}

func TestGetFreshChannel(t *testing.T) {
	db := openTestDB(t)

	fresh := &models.Channel{ChannelID: "UCfresh", CheckedAt: time.Now()}
	stale := &models.Channel{ChannelID: "UCstale", CheckedAt: time.Now().Add(-48 * time.Hour)}
	for _, ch := range []*models.Channel{fresh, stale} {
		if err := UpsertChannel(db, ch); err != nil {
			t.Fatalf("UpsertChannel failed: %v", err)
		}
	}

	got, err := GetFreshChannel(db, "UCfresh", 24*time.Hour)
	if err != nil {
		t.Fatalf("GetFreshChannel failed: %v", err)
	}
	if got == nil {
		t.Error("expected cache hit for fresh channel")
	}

	got, err = GetFreshChannel(db, "UCstale", 24*time.Hour)
	if err != nil {
		t.Fatalf("GetFreshChannel failed: %v", err)
	}
	if got != nil {
		t.Error("expected cache miss for stale channel")
	}

	got, err = GetFreshChannel(db, "UCmissing", 24*time.Hour)
	if err != nil {
		t.Fatalf("GetFreshChannel failed: %v", err)
	}
	if got != nil {
		t.Error("expected cache miss for unknown channel")
	}
}

func TestVideoDurations(t *testing.T) {
	db := openTestDB(t)

	for _, id := range []string{"vid1", "vid2"} {
		if err := UpsertVideo(db, &models.Video{VideoID: id, Title: "Video " + id}); err != nil {
			t.Fatalf("UpsertVideo failed: %v", err)
		}
	}

	if err := SetVideoDuration(db, "vid1", 253); err != nil {
		t.Fatalf("SetVideoDuration failed: %v", err)
	}

	durations, err := GetVideoDurations(db, []string{"vid1", "vid2", "vid3"})
	if err != nil {
		t.Fatalf("GetVideoDurations failed: %v", err)
	}
	if len(durations) != 1 {
		t.Fatalf("expected 1 cached duration, got %d", len(durations))
	}
	if durations["vid1"] != 253 {
		t.Errorf("expected duration 253 for vid1, got %d", durations["vid1"])
	}

	empty, err := GetVideoDurations(db, nil)
	if err != nil {
		t.Fatalf("GetVideoDurations failed for empty input: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty map, got %v", empty)
	}
}

func TestSaveScanResultUpsert(t *testing.T) {
	db := openTestDB(t)

	first := &models.ScanResult{
		VideoID:   "vid1",
		VideoURL:  models.WatchURL("vid1"),
		ScannedAt: time.Now().Add(-time.Hour),
		Error:     "download failed: timeout",
	}
	if err := SaveScanResult(db, first); err != nil {
		t.Fatalf("SaveScanResult failed: %v", err)
	}

	// The retry replaces the failed attempt
	second := &models.ScanResult{
		VideoID:       "vid1",
		VideoURL:      models.WatchURL("vid1"),
		FrameMatch:    true,
		FramesScanned: 12,
		ScannedAt:     time.Now(),
	}
	if err := SaveScanResult(db, second); err != nil {
		t.Fatalf("SaveScanResult upsert failed: %v", err)
	}

	var count int64
	db.Model(&models.ScanResult{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 scan result row, got %d", count)
	}

	got, err := GetScanResult(db, "vid1")
	if err != nil {
		t.Fatalf("GetScanResult failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected scan result")
	}
	if !got.FrameMatch || got.FramesScanned != 12 {
		t.Errorf("expected updated result, got %+v", got)
	}
	if got.Error != "" {
		t.Errorf("expected error to be cleared, got %q", got.Error)
	}
}

func TestGetScanResultAbsent(t *testing.T) {
	db := openTestDB(t)

	got, err := GetScanResult(db, "unknown")
	if err != nil {
		t.Fatalf("GetScanResult failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown video, got %+v", got)
	}
}

func seedScanResults(t *testing.T, db *gorm.DB) time.Time {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Second)
	results := []*models.ScanResult{
		{VideoID: "old", ScannedAt: base.Add(-2 * time.Hour)},
		{VideoID: "mid", ThumbnailMatch: true, ScannedAt: base.Add(-time.Hour)},
		{VideoID: "new", FrameMatch: true, ScannedAt: base},
	}
	for _, r := range results {
		if err := SaveScanResult(db, r); err != nil {
			t.Fatalf("SaveScanResult failed: %v", err)
		}
	}
	return base
}

func TestListScanResults(t *testing.T) {
	db := openTestDB(t)
	seedScanResults(t, db)

	results, total, err := ListScanResults(db, 1, 50, false)
	if err != nil {
		t.Fatalf("ListScanResults failed: %v", err)
	}
	if total != 3 || len(results) != 3 {
		t.Fatalf("expected 3 results, got %d (total %d)", len(results), total)
	}
	if results[0].VideoID != "new" {
		t.Errorf("expected newest result first, got %s", results[0].VideoID)
	}

	matched, total, err := ListScanResults(db, 1, 50, true)
	if err != nil {
		t.Fatalf("ListScanResults failed: %v", err)
	}
	if total != 2 || len(matched) != 2 {
		t.Errorf("expected 2 matched results, got %d (total %d)", len(matched), total)
	}

	page, total, err := ListScanResults(db, 2, 1, false)
	if err != nil {
		t.Fatalf("ListScanResults failed: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Fatalf("expected 1 result on page 2, got %d", len(page))
	}
	if page[0].VideoID != "mid" {
		t.Errorf("expected mid on page 2, got %s", page[0].VideoID)
	}
}

func TestGetStatistics(t *testing.T) {
	db := openTestDB(t)
	base := seedScanResults(t, db)

	if err := UpsertVideo(db, &models.Video{VideoID: "vid1"}); err != nil {
		t.Fatalf("UpsertVideo failed: %v", err)
	}
	if err := UpsertChannel(db, &models.Channel{ChannelID: "UC123", CheckedAt: base}); err != nil {
		t.Fatalf("UpsertChannel failed: %v", err)
	}

	stats, err := GetStatistics(db)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalVideos != 1 {
		t.Errorf("expected 1 video, got %d", stats.TotalVideos)
	}
	if stats.TotalChannels != 1 {
		t.Errorf("expected 1 channel, got %d", stats.TotalChannels)
	}
	if stats.TotalScans != 3 {
		t.Errorf("expected 3 scans, got %d", stats.TotalScans)
	}
	if stats.MatchedVideos != 2 {
		t.Errorf("expected 2 matched videos, got %d", stats.MatchedVideos)
	}
	if stats.LatestScan.Unix() != base.Unix() {
		t.Errorf("expected latest scan %v, got %v", base, stats.LatestScan)
	}
}

func TestPruneScanResults(t *testing.T) {
	db := openTestDB(t)

	now := time.Now()
	results := []*models.ScanResult{
		{VideoID: "ancient", ScannedAt: now.Add(-72 * time.Hour), MatchFramePath: "/data/matches/ancient_1.5.jpg"},
		{VideoID: "old", ScannedAt: now.Add(-48 * time.Hour)},
		{VideoID: "recent", ScannedAt: now},
	}
	for _, r := range results {
		if err := SaveScanResult(db, r); err != nil {
			t.Fatalf("SaveScanResult failed: %v", err)
		}
	}

	framePaths, err := PruneScanResults(db, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneScanResults failed: %v", err)
	}
	if len(framePaths) != 1 || framePaths[0] != "/data/matches/ancient_1.5.jpg" {
		t.Errorf("unexpected frame paths: %v", framePaths)
	}

	var count int64
	db.Model(&models.ScanResult{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 remaining result, got %d", count)
	}
	remaining, err := GetScanResult(db, "recent")
	if err != nil || remaining == nil {
		t.Errorf("expected recent result to survive, got %+v (%v)", remaining, err)
	}

	// Nothing left to prune on the second run
	framePaths, err = PruneScanResults(db, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneScanResults failed: %v", err)
	}
	if framePaths != nil {
		t.Errorf("expected no frame paths, got %v", framePaths)
	}
}
