package filter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"
	"face-scout-go/internal/database"
	"face-scout-go/internal/utils"
	yt "face-scout-go/internal/youtube"

	"github.com/abadojack/whatlanggo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// DurationAPI beschreibt die Teilmenge des YouTube-Clients, die der Filter benötigt
type DurationAPI interface {
	VideoDurations(ctx context.Context, videoIDs []string) (map[string]int, error)
}

// Service ist verantwortlich für die zweite Pipeline-Stufe: Videos nach
// Dauer und Sprache filtern
type Service struct {
	cfg *config.Config
	api DurationAPI
	db  *gorm.DB
}

// Summary fasst das Ergebnis eines Filter-Laufs zusammen
type Summary struct {
	Loaded          int    `json:"loaded"`
	DurationsCached int    `json:"durations_cached"`
	DurationsAPI    int    `json:"durations_api"`
	DroppedShort    int    `json:"dropped_short"`
	DroppedUnknown  int    `json:"dropped_unknown"`
	DroppedLanguage int    `json:"dropped_language"`
	Kept            int    `json:"kept"`
	QuotaExhausted  bool   `json:"quota_exhausted"`
	OutputPath      string `json:"output_path"`
}

// NewService erstellt eine neue Instanz des Filter-Service
func NewService(cfg *config.Config, api DurationAPI, db *gorm.DB) *Service {
	return &Service{
		cfg: cfg,
		api: api,
		db:  db,
	}
}

// Run liest die Ausgabe der Sammel-Stufe, filtert nach Mindestdauer und
// Sprache und schreibt die verbleibenden Videos in die Ergebnisdatei
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	inputPath := s.cfg.OutputFile(config.AllVideosFile)
	var records []models.VideoRecord
	if err := utils.ReadJSONFile(inputPath, &records); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s not found, run the collect step first", inputPath)
		}
		return nil, err
	}

	summary := &Summary{Loaded: len(records)}
	log.Infof("%d Videos aus %s geladen", len(records), inputPath)

	kept, err := s.filterByDuration(ctx, records, summary)
	if err != nil {
		return summary, err
	}

	kept = s.filterByLanguage(kept, summary)
	summary.Kept = len(kept)

	summary.OutputPath = s.cfg.OutputFile(config.FilteredFile)
	if err := utils.WriteJSONFile(summary.OutputPath, kept); err != nil {
		return summary, err
	}
	log.Infof("%d von %d Videos behalten, geschrieben nach %s", len(kept), len(records), summary.OutputPath)

	return summary, nil
}

// filterByDuration verwirft Videos unter der Mindestdauer. Die Dauern kommen
// zuerst aus der Datenbank, nur die fehlenden werden über die API nachgeladen.
func (s *Service) filterByDuration(ctx context.Context, records []models.VideoRecord, summary *Summary) ([]models.VideoRecord, error) {
	minDuration := s.cfg.Filter.MinDurationSeconds
	if minDuration <= 0 {
		return records, nil
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.VideoID)
	}

	durations, err := database.GetVideoDurations(s.db, ids)
	if err != nil {
		log.WithError(err).Warn("Dauer-Cache konnte nicht gelesen werden")
		durations = make(map[string]int)
	}
	summary.DurationsCached = len(durations)

	var missing []string
	for _, id := range ids {
		if _, ok := durations[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fetched, err := s.api.VideoDurations(ctx, missing)
		for id, seconds := range fetched {
			durations[id] = seconds
			if dbErr := database.SetVideoDuration(s.db, id, seconds); dbErr != nil {
				log.WithError(dbErr).Warnf("Dauer für Video %s konnte nicht gespeichert werden", id)
			}
		}
		summary.DurationsAPI = len(fetched)
		if err != nil {
			if yt.IsQuotaExceeded(err) {
				log.Warnf("API-Kontingent erschöpft beim Abrufen von Videodauern, %d Dauern bleiben unbekannt",
					len(missing)-len(fetched))
				summary.QuotaExhausted = true
			} else {
				return nil, fmt.Errorf("video durations failed: %w", err)
			}
		}
	}

	var kept []models.VideoRecord
	for _, rec := range records {
		seconds, ok := durations[rec.VideoID]
		if !ok {
			summary.DroppedUnknown++
			continue
		}
		if seconds < minDuration {
			summary.DroppedShort++
			continue
		}
		rec.DurationSeconds = seconds
		kept = append(kept, rec)
	}

	log.Infof("Dauerfilter: %d zu kurz, %d ohne bekannte Dauer, %d behalten",
		summary.DroppedShort, summary.DroppedUnknown, len(kept))
	return kept, nil
}

// filterByLanguage verwirft Videos, deren erkannte Sprache nicht der
// konfigurierten entspricht. Erkannt wird zuerst auf dem Titel, bei
// leerem Befund auf der Beschreibung. Ohne konfigurierte Sprache
// passiert nichts.
func (s *Service) filterByLanguage(records []models.VideoRecord, summary *Summary) []models.VideoRecord {
	want := strings.TrimSpace(s.cfg.Filter.Language)
	if want == "" {
		return records
	}

	wantISO3, err := normalizeLanguageTag(want)
	if err != nil {
		log.WithError(err).Warnf("Sprachfilter '%s' nicht interpretierbar, Filter wird übersprungen", want)
		return records
	}

	var kept []models.VideoRecord
	for _, rec := range records {
		detected := detectLanguage(rec.Title)
		if detected == "" {
			detected = detectLanguage(rec.Description)
		}
		if detected == "" {
			summary.DroppedLanguage++
			continue
		}
		if detected != wantISO3 && detected != strings.ToLower(want) {
			summary.DroppedLanguage++
			continue
		}
		rec.Language = detected
		kept = append(kept, rec)
	}

	log.Infof("Sprachfilter '%s': %d Videos verworfen, %d behalten", want, summary.DroppedLanguage, len(kept))
	return kept
}

// detectLanguage liefert den ISO-639-3-Code des Textes oder einen leeren
// String, wenn keine Sprache erkennbar ist
func detectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	return whatlanggo.LangToString(info.Lang)
}

// normalizeLanguageTag übersetzt einen BCP-47-Tag wie "en" oder "de-AT"
// in den ISO-639-3-Code, den die Spracherkennung liefert
func normalizeLanguageTag(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", tag, err)
	}
	base, _ := t.Base()
	return base.ISO3(), nil
}
