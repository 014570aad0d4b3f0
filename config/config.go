package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Search   SearchConfig   `mapstructure:"search"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Faces    FacesConfig    `mapstructure:"faces"`
	Download DownloadConfig `mapstructure:"download"`
	Frames   FramesConfig   `mapstructure:"frames"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Server   ServerConfig   `mapstructure:"server"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
}

// YouTubeConfig enthält Einstellungen für die YouTube Data API
type YouTubeConfig struct {
	APIKey         string `mapstructure:"api_key"`
	RegionCode     string `mapstructure:"region_code"`
	MaxResults     int64  `mapstructure:"max_results"`      // Treffer pro Suchseite (max. 50)
	RequestPauseMs int    `mapstructure:"request_pause_ms"` // Pause zwischen Batch-Anfragen
}

// SearchConfig enthält die Parameter für die Videosuche (Stufe 1)
type SearchConfig struct {
	StartDate          string `mapstructure:"start_date"` // Format: 2006-01-02
	EndDate            string `mapstructure:"end_date"`
	Query              string `mapstructure:"query"`
	CategoryID         string `mapstructure:"category_id"`
	MinSubscribers     int64  `mapstructure:"min_subscribers"`
	ActivityWindowDays int    `mapstructure:"activity_window_days"`
	SkipActivityCheck  bool   `mapstructure:"skip_activity_check"`
	CacheTTLHours      int    `mapstructure:"cache_ttl_hours"` // Gültigkeit der Kanal-Statistiken im Cache
}

// FilterConfig enthält die Parameter für die Videofilterung (Stufe 2)
type FilterConfig struct {
	Language           string `mapstructure:"language"` // BCP-47-Tag, leer = keine Sprachfilterung
	MinDurationSeconds int    `mapstructure:"min_duration_seconds"`
}

// CompreFaceConfig enthält Einstellungen für den CompreFace-Provider
type CompreFaceConfig struct {
	URL                 string  `mapstructure:"url"`
	RecognitionAPIKey   string  `mapstructure:"recognition_api_key"`
	DetProbThreshold    float64 `mapstructure:"det_prob_threshold"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	SyncReferences      bool    `mapstructure:"sync_references"`
}

// FacesConfig enthält Einstellungen für die Gesichtserkennung
type FacesConfig struct {
	Provider     string           `mapstructure:"provider"` // "goface" oder "compreface"
	ReferenceDir string           `mapstructure:"reference_dir"`
	ModelsDir    string           `mapstructure:"models_dir"` // dlib-Modelldateien für go-face
	Tolerance    float64          `mapstructure:"tolerance"`  // maximale Deskriptor-Distanz für einen Treffer
	MinFaceSize  int              `mapstructure:"min_face_size"`
	CompreFace   CompreFaceConfig `mapstructure:"compreface"`
}

// DownloadConfig enthält Einstellungen für den Video-Download
type DownloadConfig struct {
	Tool              string `mapstructure:"tool"` // "yt-dlp" oder "native"
	Format            string `mapstructure:"format"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	AutoInstall       bool   `mapstructure:"auto_install"` // yt-dlp bei Bedarf herunterladen
	TempDir           string `mapstructure:"temp_dir"`
}

// FramesConfig enthält Einstellungen für die Frame-Extraktion
type FramesConfig struct {
	IntervalSeconds   float64 `mapstructure:"interval_seconds"`
	WindowSeconds     float64 `mapstructure:"window_seconds"`     // Suchfenster um jeden Abtastpunkt
	BlurThreshold     float64 `mapstructure:"blur_threshold"`     // minimale Laplace-Varianz
	ContrastThreshold float64 `mapstructure:"contrast_threshold"` // minimale Grauwert-Standardabweichung
	PersonPrefilter   bool    `mapstructure:"person_prefilter"`   // HOG-Personenerkennung vor der Gesichtssuche
}

// ScanConfig enthält Einstellungen für den Scan-Durchlauf (Stufe 3)
type ScanConfig struct {
	AlwaysScanVideo  bool `mapstructure:"always_scan_video"` // Video auch bei Thumbnail-/Avatar-Treffer scannen
	ProgressLogEvery int  `mapstructure:"progress_log_every"`
	Limit            int  `mapstructure:"limit"` // 0 = alle Videos
}

// StorageConfig enthält Pfade für Daten und Ergebnisse
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	DBFile     string `mapstructure:"db_file"`
	MatchesDir string `mapstructure:"matches_dir"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// ServerConfig enthält Einstellungen für die Review-API
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		// Überprüfen, ob die Datei existiert
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACE_SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// API-Schlüssel auch ohne Präfix akzeptieren (.env-Konvention)
	if cfg.YouTube.APIKey == "" {
		cfg.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft die Konfiguration auf offensichtliche Fehler
func (c *Config) Validate() error {
	if c.Search.StartDate != "" || c.Search.EndDate != "" {
		start, err := time.Parse("2006-01-02", c.Search.StartDate)
		if err != nil {
			return fmt.Errorf("invalid search.start_date %q: %w", c.Search.StartDate, err)
		}
		end, err := time.Parse("2006-01-02", c.Search.EndDate)
		if err != nil {
			return fmt.Errorf("invalid search.end_date %q: %w", c.Search.EndDate, err)
		}
		if end.Before(start) {
			return fmt.Errorf("search.end_date %s is before search.start_date %s", c.Search.EndDate, c.Search.StartDate)
		}
	}
	if c.Faces.Tolerance <= 0 || c.Faces.Tolerance > 1 {
		return fmt.Errorf("faces.tolerance must be in (0,1], got %v", c.Faces.Tolerance)
	}
	if c.Frames.IntervalSeconds <= 0 {
		return fmt.Errorf("frames.interval_seconds must be positive, got %v", c.Frames.IntervalSeconds)
	}
	switch c.Faces.Provider {
	case "goface", "compreface":
	default:
		return fmt.Errorf("unknown faces.provider %q", c.Faces.Provider)
	}
	switch c.Download.Tool {
	case "yt-dlp", "native":
	default:
		return fmt.Errorf("unknown download.tool %q", c.Download.Tool)
	}
	return nil
}

// SearchWindow liefert das Datumsfenster der Suche als Zeitwerte (UTC)
func (c *Config) SearchWindow() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", c.Search.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid search.start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.Search.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid search.end_date: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

// OutputFile liefert den Pfad einer Ergebnisdatei im Datenverzeichnis
func (c *Config) OutputFile(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}

// Namen der Stufen-Ausgabedateien im Datenverzeichnis
const (
	AllVideosFile   = "all_videos.json"
	FilteredFile    = "filtered_videos.json"
	ScanResultsFile = "face_recognition_results.json"
)

// setDefaults legt Standardwerte für die Konfiguration fest. Auch Schlüssel
// ohne sinnvollen Standard werden registriert, damit viper sie aus
// Umgebungsvariablen übernehmen kann.
func setDefaults(v *viper.Viper) {
	// YouTube-Standardwerte
	v.SetDefault("youtube.api_key", "")
	v.SetDefault("youtube.region_code", "")
	v.SetDefault("youtube.max_results", 50)
	v.SetDefault("youtube.request_pause_ms", 200)

	// Such-Standardwerte
	v.SetDefault("search.start_date", "")
	v.SetDefault("search.end_date", "")
	v.SetDefault("search.query", "")
	v.SetDefault("search.category_id", "")
	v.SetDefault("search.min_subscribers", 500000)
	v.SetDefault("search.activity_window_days", 180)
	v.SetDefault("search.skip_activity_check", false)
	v.SetDefault("search.cache_ttl_hours", 24)

	// Filter-Standardwerte
	v.SetDefault("filter.language", "")
	v.SetDefault("filter.min_duration_seconds", 60)

	// Gesichtserkennungs-Standardwerte
	v.SetDefault("faces.provider", "goface")
	v.SetDefault("faces.reference_dir", "./data/known_faces")
	v.SetDefault("faces.models_dir", "./data/models")
	v.SetDefault("faces.tolerance", 0.45)
	v.SetDefault("faces.min_face_size", 40)
	v.SetDefault("faces.compreface.url", "")
	v.SetDefault("faces.compreface.recognition_api_key", "")
	v.SetDefault("faces.compreface.det_prob_threshold", 0.8)
	v.SetDefault("faces.compreface.similarity_threshold", 0.8)
	v.SetDefault("faces.compreface.sync_references", true)

	// Download-Standardwerte
	v.SetDefault("download.tool", "yt-dlp")
	v.SetDefault("download.format", "best[ext=mp4]")
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_delay_seconds", 5)
	v.SetDefault("download.auto_install", false)
	v.SetDefault("download.temp_dir", "./data/tmp")

	// Frame-Standardwerte
	v.SetDefault("frames.interval_seconds", 2.5)
	v.SetDefault("frames.window_seconds", 0.25)
	v.SetDefault("frames.blur_threshold", 150.0)
	v.SetDefault("frames.contrast_threshold", 30.0)
	v.SetDefault("frames.person_prefilter", false)

	// Scan-Standardwerte
	v.SetDefault("scan.always_scan_video", false)
	v.SetDefault("scan.progress_log_every", 10)
	v.SetDefault("scan.limit", 0)

	// Speicher-Standardwerte
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.db_file", "./data/face-scout.db")
	v.SetDefault("storage.matches_dir", "./data/matches")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./data/logs/face-scout.log")

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "face-scout-go")
	v.SetDefault("mqtt.topic", "face-scout/matches")

	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8093)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Bereinigungs-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval_hours", 6)
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	// Daten-Basisverzeichnis
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Temp-Verzeichnis für Downloads und Frames
	if err := os.MkdirAll(cfg.Download.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Verzeichnis für gespeicherte Treffer-Frames
	if err := os.MkdirAll(cfg.Storage.MatchesDir, 0755); err != nil {
		return fmt.Errorf("failed to create matches directory: %w", err)
	}

	// Log-Verzeichnis
	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.Storage.DBFile != "" {
		dbDir := filepath.Dir(cfg.Storage.DBFile)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
