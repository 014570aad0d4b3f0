package collector

import (
	"context"
	"fmt"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"
	"face-scout-go/internal/database"
	"face-scout-go/internal/utils"
	yt "face-scout-go/internal/youtube"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SearchAPI beschreibt die Teilmenge des YouTube-Clients, die der Collector benötigt
type SearchAPI interface {
	SearchVideosDay(ctx context.Context, day time.Time, opts yt.SearchOptions) ([]yt.SearchItem, error)
	ChannelStats(ctx context.Context, channelIDs []string) (map[string]yt.ChannelInfo, error)
	ChannelActive(ctx context.Context, channelID string, window time.Duration) (bool, error)
}

// Service ist verantwortlich für die erste Pipeline-Stufe: Videos suchen und
// ihre Kanäle nach Abonnentenzahl und Aktivität filtern
type Service struct {
	cfg *config.Config
	api SearchAPI
	db  *gorm.DB
}

// Summary fasst das Ergebnis eines Sammel-Laufs zusammen
type Summary struct {
	DaysSearched     int    `json:"days_searched"`
	VideosFound      int    `json:"videos_found"`
	VideosKept       int    `json:"videos_kept"`
	ChannelsSeen     int    `json:"channels_seen"`
	ChannelsEligible int    `json:"channels_eligible"`
	QuotaExhausted   bool   `json:"quota_exhausted"`
	OutputPath       string `json:"output_path"`
}

// NewService erstellt eine neue Instanz des Collector-Service
func NewService(cfg *config.Config, api SearchAPI, db *gorm.DB) *Service {
	return &Service{
		cfg: cfg,
		api: api,
		db:  db,
	}
}

// Run führt die komplette Sammel-Stufe aus und schreibt die Ergebnisdatei.
// Bei erschöpftem API-Kontingent wird mit den bis dahin gesammelten Daten
// weitergearbeitet statt abzubrechen.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	start, end, err := s.cfg.SearchWindow()
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	items, err := s.searchWindow(ctx, start, end, summary)
	if err != nil {
		return summary, err
	}
	summary.VideosFound = len(items)
	log.Infof("Suche abgeschlossen: %d Videos in %d Tagen gefunden", len(items), summary.DaysSearched)

	if len(items) == 0 {
		summary.OutputPath = s.cfg.OutputFile(config.AllVideosFile)
		if err := utils.WriteJSONFile(summary.OutputPath, []models.VideoRecord{}); err != nil {
			return summary, err
		}
		return summary, nil
	}

	channels, err := s.loadChannels(ctx, items, summary)
	if err != nil {
		return summary, err
	}

	eligible := s.filterBySubscribers(items, channels, summary)

	kept, err := s.filterByActivity(ctx, eligible, channels, summary)
	if err != nil {
		return summary, err
	}
	summary.VideosKept = len(kept)

	records := s.buildRecords(kept, channels)
	s.persistVideos(kept)

	summary.OutputPath = s.cfg.OutputFile(config.AllVideosFile)
	if err := utils.WriteJSONFile(summary.OutputPath, records); err != nil {
		return summary, err
	}
	log.Infof("%d Videos von %d geeigneten Kanälen nach %s geschrieben",
		len(records), summary.ChannelsEligible, summary.OutputPath)

	return summary, nil
}

// searchWindow durchsucht das Datumsfenster tageweise und dedupliziert nach Video-ID
func (s *Service) searchWindow(ctx context.Context, start, end time.Time, summary *Summary) ([]yt.SearchItem, error) {
	opts := yt.SearchOptions{
		Query:      s.cfg.Search.Query,
		CategoryID: s.cfg.Search.CategoryID,
	}

	var items []yt.SearchItem
	seen := make(map[string]bool)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		log.Infof("Suche Videos für %s", day.Format("2006-01-02"))
		dayItems, err := s.api.SearchVideosDay(ctx, day, opts)

		// Teilergebnisse zählen auch bei Fehlern, die Suche liefert sie mit
		for _, it := range dayItems {
			if it.VideoID == "" || seen[it.VideoID] {
				continue
			}
			seen[it.VideoID] = true
			items = append(items, it)
		}

		if err != nil {
			if yt.IsQuotaExceeded(err) {
				log.Warnf("API-Kontingent erschöpft bei %s, fahre mit %d bereits gefundenen Videos fort",
					day.Format("2006-01-02"), len(items))
				summary.QuotaExhausted = true
				return items, nil
			}
			return items, fmt.Errorf("search for %s failed: %w", day.Format("2006-01-02"), err)
		}
		summary.DaysSearched++

		if err := s.pause(ctx); err != nil {
			return items, err
		}
	}

	return items, nil
}

// loadChannels beschafft Kanalstatistiken, zuerst aus dem Datenbank-Cache,
// dann für die verbleibenden Kanäle über die API
func (s *Service) loadChannels(ctx context.Context, items []yt.SearchItem, summary *Summary) (map[string]*models.Channel, error) {
	var channelIDs []string
	seen := make(map[string]bool)
	for _, it := range items {
		if it.ChannelID == "" || seen[it.ChannelID] {
			continue
		}
		seen[it.ChannelID] = true
		channelIDs = append(channelIDs, it.ChannelID)
	}
	summary.ChannelsSeen = len(channelIDs)

	ttl := time.Duration(s.cfg.Search.CacheTTLHours) * time.Hour
	channels := make(map[string]*models.Channel)
	var missing []string

	for _, id := range channelIDs {
		ch, err := database.GetFreshChannel(s.db, id, ttl)
		if err != nil {
			log.WithError(err).Warnf("Cache-Abfrage für Kanal %s fehlgeschlagen", id)
		}
		if ch != nil {
			channels[id] = ch
			continue
		}
		missing = append(missing, id)
	}
	if len(channels) > 0 {
		log.Infof("%d von %d Kanälen aus dem Cache geladen", len(channels), len(channelIDs))
	}

	if len(missing) == 0 || summary.QuotaExhausted {
		return channels, nil
	}

	stats, err := s.api.ChannelStats(ctx, missing)
	for id, info := range stats {
		ch := &models.Channel{
			ChannelID:   id,
			Title:       info.Title,
			Subscribers: info.Subscribers,
			AvatarURL:   info.AvatarURL,
			CheckedAt:   time.Now(),
		}
		channels[id] = ch
		if dbErr := database.UpsertChannel(s.db, ch); dbErr != nil {
			log.WithError(dbErr).Warnf("Kanal %s konnte nicht gespeichert werden", id)
		}
	}
	if err != nil {
		if yt.IsQuotaExceeded(err) {
			log.Warnf("API-Kontingent erschöpft beim Abrufen von Kanalstatistiken, %d Kanäle bleiben unbekannt",
				len(missing)-len(stats))
			summary.QuotaExhausted = true
			return channels, nil
		}
		return channels, fmt.Errorf("channel stats failed: %w", err)
	}

	return channels, nil
}

// filterBySubscribers behält nur Videos von Kanälen mit bestätigter
// Abonnentenzahl über dem Schwellwert. Kanäle ohne Statistiken gelten
// als nicht bestätigt und werden verworfen.
func (s *Service) filterBySubscribers(items []yt.SearchItem, channels map[string]*models.Channel, summary *Summary) []yt.SearchItem {
	minSubs := s.cfg.Search.MinSubscribers
	eligible := make(map[string]bool)
	unknown := 0

	for id, ch := range channels {
		if ch.Subscribers >= minSubs {
			eligible[id] = true
		}
	}
	summary.ChannelsEligible = len(eligible)

	var kept []yt.SearchItem
	for _, it := range items {
		if _, known := channels[it.ChannelID]; !known {
			unknown++
			continue
		}
		if eligible[it.ChannelID] {
			kept = append(kept, it)
		}
	}

	if unknown > 0 {
		log.Warnf("%d Videos übersprungen, deren Kanalstatistiken nicht abgerufen werden konnten", unknown)
	}
	log.Infof("%d von %d Kanälen haben mindestens %d Abonnenten", len(eligible), len(channels), minSubs)
	return kept
}

// filterByActivity verwirft Videos von Kanälen ohne Upload im Aktivitätsfenster.
// Das Prüfergebnis wird mit Zeitstempel in der Datenbank gemerkt, damit
// wiederholte Läufe keine API-Anfragen verschwenden.
func (s *Service) filterByActivity(ctx context.Context, items []yt.SearchItem, channels map[string]*models.Channel, summary *Summary) ([]yt.SearchItem, error) {
	if s.cfg.Search.SkipActivityCheck {
		log.Info("Aktivitätsprüfung übersprungen (konfiguriert)")
		return items, nil
	}

	window := time.Duration(s.cfg.Search.ActivityWindowDays) * 24 * time.Hour
	ttl := time.Duration(s.cfg.Search.CacheTTLHours) * time.Hour

	// inactive merkt sich nur negative Befunde: unbekannte Kanäle bleiben erhalten
	inactive := make(map[string]bool)

	for id, ch := range channels {
		if !s.channelHasVideo(items, id) {
			continue
		}

		if !ch.ActivityCheckedAt.IsZero() && time.Since(ch.ActivityCheckedAt) < ttl {
			if !ch.Active {
				inactive[id] = true
			}
			continue
		}

		if summary.QuotaExhausted {
			// Ohne Kontingent keine Prüfung mehr möglich, Kanal bleibt im Zweifel drin
			continue
		}

		active, err := s.api.ChannelActive(ctx, id, window)
		if err != nil {
			if yt.IsQuotaExceeded(err) {
				log.Warn("API-Kontingent erschöpft bei der Aktivitätsprüfung, ungeprüfte Kanäle werden behalten")
				summary.QuotaExhausted = true
				continue
			}
			return nil, fmt.Errorf("activity check for channel %s failed: %w", id, err)
		}

		ch.Active = active
		ch.ActivityCheckedAt = time.Now()
		if err := database.UpsertChannel(s.db, ch); err != nil {
			log.WithError(err).Warnf("Aktivitätsstatus für Kanal %s konnte nicht gespeichert werden", id)
		}
		if !active {
			inactive[id] = true
		}

		if err := s.pause(ctx); err != nil {
			return nil, err
		}
	}

	var kept []yt.SearchItem
	for _, it := range items {
		if inactive[it.ChannelID] {
			continue
		}
		kept = append(kept, it)
	}

	if dropped := len(items) - len(kept); dropped > 0 {
		log.Infof("%d Videos von inaktiven Kanälen verworfen", dropped)
	}
	return kept, nil
}

func (s *Service) channelHasVideo(items []yt.SearchItem, channelID string) bool {
	for _, it := range items {
		if it.ChannelID == channelID {
			return true
		}
	}
	return false
}

// buildRecords erzeugt die JSON-Datensätze für die nächste Stufe,
// angereichert um Kanal-Avatar und Abonnentenzahl
func (s *Service) buildRecords(items []yt.SearchItem, channels map[string]*models.Channel) []models.VideoRecord {
	records := make([]models.VideoRecord, 0, len(items))
	for _, it := range items {
		rec := models.VideoRecord{
			VideoID:      it.VideoID,
			URL:          models.WatchURL(it.VideoID),
			Title:        it.Title,
			Description:  it.Description,
			ChannelID:    it.ChannelID,
			ChannelTitle: it.ChannelTitle,
			PublishedAt:  it.PublishedAt,
			ThumbnailURL: it.ThumbnailURL,
		}
		if ch, ok := channels[it.ChannelID]; ok {
			rec.AvatarURL = ch.AvatarURL
			rec.Subscribers = ch.Subscribers
		}
		records = append(records, rec)
	}
	return records
}

// persistVideos legt die gefundenen Videos in der Datenbank ab
func (s *Service) persistVideos(items []yt.SearchItem) {
	for _, it := range items {
		v := &models.Video{
			VideoID:      it.VideoID,
			ChannelID:    it.ChannelID,
			ChannelTitle: it.ChannelTitle,
			Title:        it.Title,
			Description:  it.Description,
			PublishedAt:  it.PublishedAt,
			ThumbnailURL: it.ThumbnailURL,
		}
		if err := database.UpsertVideo(s.db, v); err != nil {
			log.WithError(err).Warnf("Video %s konnte nicht gespeichert werden", it.VideoID)
		}
	}
}

// pause wartet die konfigurierte Zeit zwischen API-Anfragen
func (s *Service) pause(ctx context.Context) error {
	d := time.Duration(s.cfg.YouTube.RequestPauseMs) * time.Millisecond
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
