package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"
	"face-scout-go/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"
)

func setupAPI(t *testing.T) (*gin.Engine, *gorm.DB, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlog.Default.LogMode(gormlog.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	cfg := &config.Config{
		Storage: config.StorageConfig{MatchesDir: t.TempDir()},
	}

	engine := gin.New()
	NewAPIHandler(db, cfg).RegisterRoutes(engine.Group("/api"))
	return engine, db, cfg
}

func doRequest(t *testing.T, engine *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func seedResults(t *testing.T, db *gorm.DB) {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Second)
	results := []*models.ScanResult{
		{VideoID: "old", ScannedAt: base.Add(-2 * time.Hour)},
		{VideoID: "mid", ThumbnailMatch: true, ScannedAt: base.Add(-time.Hour)},
		{VideoID: "new", FrameMatch: true, ScannedAt: base},
	}
	for _, r := range results {
		if err := database.SaveScanResult(db, r); err != nil {
			t.Fatalf("Failed to seed scan result: %v", err)
		}
	}
}

func TestGetStatus(t *testing.T) {
	engine, db, _ := setupAPI(t)
	seedResults(t, db)

	w := doRequest(t, engine, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}

	system, ok := body["system"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected system stats, got %v", body["system"])
	}
	if system["num_cpu"].(float64) < 1 {
		t.Errorf("expected CPU count, got %v", system["num_cpu"])
	}

	dbStats, ok := body["database"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected database stats, got %v", body["database"])
	}
	if dbStats["scans"].(float64) != 3 {
		t.Errorf("expected 3 scans, got %v", dbStats["scans"])
	}
	if dbStats["matched_videos"].(float64) != 2 {
		t.Errorf("expected 2 matched videos, got %v", dbStats["matched_videos"])
	}
}

func TestListResults(t *testing.T) {
	engine, db, _ := setupAPI(t)
	seedResults(t, db)

	w := doRequest(t, engine, "/api/results")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		Results    []models.ScanResult `json:"results"`
		Pagination struct {
			Page    int   `json:"page"`
			PerPage int   `json:"per_page"`
			Total   int64 `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(body.Results) != 3 || body.Pagination.Total != 3 {
		t.Errorf("expected 3 results, got %d (total %d)", len(body.Results), body.Pagination.Total)
	}
	if body.Results[0].VideoID != "new" {
		t.Errorf("expected newest result first, got %s", body.Results[0].VideoID)
	}
}

func TestListResultsMatchedOnly(t *testing.T) {
	engine, db, _ := setupAPI(t)
	seedResults(t, db)

	w := doRequest(t, engine, "/api/results?matched=true")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		Results []models.ScanResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(body.Results) != 2 {
		t.Errorf("expected 2 matched results, got %d", len(body.Results))
	}
}

func TestListResultsPagination(t *testing.T) {
	engine, db, _ := setupAPI(t)
	seedResults(t, db)

	w := doRequest(t, engine, "/api/results?page=2&per_page=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		Results    []models.ScanResult `json:"results"`
		Pagination struct {
			Page    int   `json:"page"`
			PerPage int   `json:"per_page"`
			Total   int64 `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].VideoID != "mid" {
		t.Errorf("unexpected page content: %+v", body.Results)
	}
	if body.Pagination.Page != 2 || body.Pagination.PerPage != 1 || body.Pagination.Total != 3 {
		t.Errorf("unexpected pagination: %+v", body.Pagination)
	}
}

func TestGetResult(t *testing.T) {
	engine, db, _ := setupAPI(t)
	seedResults(t, db)

	w := doRequest(t, engine, "/api/results/mid")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var result models.ScanResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result.VideoID != "mid" || !result.ThumbnailMatch {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGetResultNotFound(t *testing.T) {
	engine, _, _ := setupAPI(t)

	w := doRequest(t, engine, "/api/results/unknown")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestGetMatchFrame(t *testing.T) {
	engine, _, cfg := setupAPI(t)

	framePath := filepath.Join(cfg.Storage.MatchesDir, "vid1_5.0.jpg")
	if err := os.WriteFile(framePath, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("Failed to write match frame: %v", err)
	}

	w := doRequest(t, engine, "/api/matches/vid1_5.0.jpg")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "jpeg-bytes" {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
}

func TestGetMatchFrameNotFound(t *testing.T) {
	engine, _, _ := setupAPI(t)

	w := doRequest(t, engine, "/api/matches/missing.jpg")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestGetMatchFrameRejectsTraversal(t *testing.T) {
	engine, _, _ := setupAPI(t)

	w := doRequest(t, engine, "/api/matches/..")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for dot-dot name, got %d", w.Code)
	}

	// Encoded slashes never reach the handler as a single segment
	w = doRequest(t, engine, "/api/matches/..%2Fface-scout.db")
	if w.Code == http.StatusOK {
		t.Errorf("expected traversal to be rejected, got %d", w.Code)
	}
}
