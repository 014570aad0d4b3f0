package config

import (
	"path/filepath"
	"testing"
	"time"
)

// setTestDirs lenkt alle Verzeichnis-Schlüssel in ein Temp-Verzeichnis um,
// damit Load keine Verzeichnisse im Arbeitsverzeichnis anlegt
func setTestDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FACE_SCOUT_STORAGE_DATA_DIR", dir)
	t.Setenv("FACE_SCOUT_STORAGE_DB_FILE", filepath.Join(dir, "test.db"))
	t.Setenv("FACE_SCOUT_STORAGE_MATCHES_DIR", filepath.Join(dir, "matches"))
	t.Setenv("FACE_SCOUT_DOWNLOAD_TEMP_DIR", filepath.Join(dir, "tmp"))
	t.Setenv("FACE_SCOUT_LOG_FILE", filepath.Join(dir, "logs", "test.log"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	setTestDirs(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Search.MinSubscribers != 500000 {
		t.Errorf("expected min_subscribers 500000, got %d", cfg.Search.MinSubscribers)
	}
	if cfg.Search.ActivityWindowDays != 180 {
		t.Errorf("expected activity_window_days 180, got %d", cfg.Search.ActivityWindowDays)
	}
	if cfg.Filter.MinDurationSeconds != 60 {
		t.Errorf("expected min_duration_seconds 60, got %d", cfg.Filter.MinDurationSeconds)
	}
	if cfg.Faces.Provider != "goface" {
		t.Errorf("expected provider goface, got %s", cfg.Faces.Provider)
	}
	if cfg.Faces.Tolerance != 0.45 {
		t.Errorf("expected tolerance 0.45, got %v", cfg.Faces.Tolerance)
	}
	if cfg.Frames.IntervalSeconds != 2.5 {
		t.Errorf("expected interval_seconds 2.5, got %v", cfg.Frames.IntervalSeconds)
	}
	if cfg.Download.Tool != "yt-dlp" {
		t.Errorf("expected download tool yt-dlp, got %s", cfg.Download.Tool)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Download.MaxRetries)
	}
	if cfg.Server.Port != 8093 {
		t.Errorf("expected server port 8093, got %d", cfg.Server.Port)
	}
	if cfg.Cleanup.RetentionDays != 30 {
		t.Errorf("expected retention_days 30, got %d", cfg.Cleanup.RetentionDays)
	}
	if cfg.MQTT.Enabled {
		t.Error("expected MQTT to be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setTestDirs(t)
	t.Setenv("FACE_SCOUT_SEARCH_MIN_SUBSCRIBERS", "250000")
	t.Setenv("FACE_SCOUT_FILTER_LANGUAGE", "de")
	t.Setenv("FACE_SCOUT_YOUTUBE_API_KEY", "test-key")
	t.Setenv("FACE_SCOUT_SCAN_LIMIT", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Search.MinSubscribers != 250000 {
		t.Errorf("expected min_subscribers 250000, got %d", cfg.Search.MinSubscribers)
	}
	if cfg.Filter.Language != "de" {
		t.Errorf("expected language de, got %q", cfg.Filter.Language)
	}
	if cfg.YouTube.APIKey != "test-key" {
		t.Errorf("expected api key from environment, got %q", cfg.YouTube.APIKey)
	}
	if cfg.Scan.Limit != 5 {
		t.Errorf("expected scan limit 5, got %d", cfg.Scan.Limit)
	}
}

func TestLoadPlainAPIKeyFallback(t *testing.T) {
	setTestDirs(t)
	t.Setenv("YOUTUBE_API_KEY", "plain-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.YouTube.APIKey != "plain-key" {
		t.Errorf("expected plain-key, got %q", cfg.YouTube.APIKey)
	}
}

func validConfig() *Config {
	return &Config{
		Faces:    FacesConfig{Provider: "goface", Tolerance: 0.45},
		Frames:   FramesConfig{IntervalSeconds: 2.5},
		Download: DownloadConfig{Tool: "yt-dlp"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid date window",
			mutate: func(c *Config) {
				c.Search.StartDate = "2024-03-01"
				c.Search.EndDate = "2024-03-05"
			},
			wantErr: false,
		},
		{
			name: "end before start",
			mutate: func(c *Config) {
				c.Search.StartDate = "2024-03-05"
				c.Search.EndDate = "2024-03-01"
			},
			wantErr: true,
		},
		{
			name: "unparseable start date",
			mutate: func(c *Config) {
				c.Search.StartDate = "01.03.2024"
				c.Search.EndDate = "2024-03-05"
			},
			wantErr: true,
		},
		{
			name:    "tolerance zero",
			mutate:  func(c *Config) { c.Faces.Tolerance = 0 },
			wantErr: true,
		},
		{
			name:    "tolerance above one",
			mutate:  func(c *Config) { c.Faces.Tolerance = 1.5 },
			wantErr: true,
		},
		{
			name:    "interval zero",
			mutate:  func(c *Config) { c.Frames.IntervalSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Faces.Provider = "magic" },
			wantErr: true,
		},
		{
			name:    "unknown download tool",
			mutate:  func(c *Config) { c.Download.Tool = "wget" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSearchWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Search.StartDate = "2024-03-01"
	cfg.Search.EndDate = "2024-03-03"

	start, end, err := cfg.SearchWindow()
	if err != nil {
		t.Fatalf("SearchWindow failed: %v", err)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
	if want := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("expected end %v, got %v", want, end)
	}

	cfg.Search.StartDate = ""
	if _, _, err := cfg.SearchWindow(); err == nil {
		t.Error("expected error for missing start date")
	}
}

func TestOutputFile(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.DataDir = "/var/lib/scout"

	got := cfg.OutputFile(AllVideosFile)
	want := filepath.Join("/var/lib/scout", "all_videos.json")
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
