package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"face-scout-go/config"
	"face-scout-go/internal/core/models"
	"face-scout-go/internal/database"
	"face-scout-go/internal/media"
	"face-scout-go/internal/notify"
	"face-scout-go/internal/recognition"
	"face-scout-go/internal/utils"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recognizer identifiziert bekannte Gesichter in einer Bilddatei
type Recognizer interface {
	Name() recognition.ProviderType
	IdentifyFile(ctx context.Context, path string) ([]recognition.Identification, error)
}

// Downloader lädt ein Video herunter und liefert den lokalen Pfad
type Downloader interface {
	Download(ctx context.Context, videoID string) (string, error)
	Name() string
}

// FrameExtractor zerlegt ein Video in bewertete Einzelbilder
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string) ([]media.Frame, error)
}

// ImageFetcher lädt ein Bild von einer URL in eine lokale Datei
type ImageFetcher interface {
	FetchImage(ctx context.Context, url, destPath string) error
}

// PersonDetector prüft, ob ein Bild mindestens eine Person zeigt
type PersonDetector interface {
	HasPerson(imgPath string) (bool, error)
}

// MatchNotifier veröffentlicht Treffer-Ereignisse
type MatchNotifier interface {
	PublishMatch(event notify.MatchEvent) error
}

// Service führt die dritte Stufe der Pipeline aus: für jedes gefilterte Video
// werden Thumbnail, Kanal-Avatar und Video-Frames nacheinander gegen die
// Referenzgesichter geprüft. Die Videos werden strikt sequenziell verarbeitet.
type Service struct {
	cfg        *config.Config
	db         *gorm.DB
	provider   Recognizer
	downloader Downloader
	extractor  FrameExtractor
	fetcher    ImageFetcher
	persons    PersonDetector
	notifier   MatchNotifier

	// Avatar-Prüfungen je Kanal, höchstens eine pro Lauf
	avatarChecks map[string][]models.FaceMatch
}

// NewService erstellt einen neuen Scan-Service. persons und notifier sind
// optional und dürfen nil sein.
func NewService(cfg *config.Config, db *gorm.DB, provider Recognizer, downloader Downloader,
	extractor FrameExtractor, fetcher ImageFetcher, persons PersonDetector, notifier MatchNotifier) *Service {
	return &Service{
		cfg:          cfg,
		db:           db,
		provider:     provider,
		downloader:   downloader,
		extractor:    extractor,
		fetcher:      fetcher,
		persons:      persons,
		notifier:     notifier,
		avatarChecks: make(map[string][]models.FaceMatch),
	}
}

// Summary fasst einen Scan-Durchlauf zusammen
type Summary struct {
	Loaded           int      `json:"loaded"`
	Scanned          int      `json:"scanned"`
	Skipped          int      `json:"skipped"`
	ThumbnailMatches int      `json:"thumbnail_matches"`
	AvatarMatches    int      `json:"avatar_matches"`
	FrameMatches     int      `json:"frame_matches"`
	Matched          int      `json:"matched"`
	Failed           int      `json:"failed"`
	MatchURLs        []string `json:"match_urls,omitempty"`
	OutputPath       string   `json:"output_path"`
}

// add zählt das Ergebnis eines Videos in die Zusammenfassung ein
func (s *Summary) add(rec ResultRecord) {
	if rec.ThumbnailMatch {
		s.ThumbnailMatches++
	}
	if rec.AvatarMatch {
		s.AvatarMatches++
	}
	if rec.FrameMatch {
		s.FrameMatches++
	}
	if rec.ThumbnailMatch || rec.AvatarMatch || rec.FrameMatch {
		s.Matched++
		s.MatchURLs = append(s.MatchURLs, rec.URL)
	}
	if rec.Error != "" {
		s.Failed++
	}
}

// ResultRecord ist das Ergebnis eines einzelnen Videos in der Ausgabedatei
type ResultRecord struct {
	VideoID        string             `json:"video_id"`
	URL            string             `json:"url"`
	Title          string             `json:"title,omitempty"`
	ChannelID      string             `json:"channel_id,omitempty"`
	ChannelTitle   string             `json:"channel_title,omitempty"`
	ThumbnailMatch bool               `json:"thumbnail_match"`
	AvatarMatch    bool               `json:"avatar_match"`
	FrameMatch     bool               `json:"frame_match"`
	Matches        []models.FaceMatch `json:"matches,omitempty"`
	FramesScanned  int                `json:"frames_scanned"`
	MatchFramePath string             `json:"match_frame_path,omitempty"`
	ScannedAt      time.Time          `json:"scanned_at"`
	Error          string             `json:"error,omitempty"`
}

// Output ist das Dokumentformat von face_recognition_results.json
type Output struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Provider    string         `json:"provider"`
	Results     []ResultRecord `json:"results"`
	Matches     []string       `json:"matches"` // URLs aller Videos mit Treffern
}

// Run verarbeitet die Videos aus filtered_videos.json. Bereits fehlerfrei
// gescannte Videos werden aus der Datenbank übernommen statt erneut geladen.
// Bei Abbruch über den Context wird die Ausgabedatei mit den bis dahin
// verarbeiteten Videos trotzdem geschrieben.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	inPath := s.cfg.OutputFile(config.FilteredFile)
	var records []models.VideoRecord
	if err := utils.ReadJSONFile(inPath, &records); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s not found, run the filter step first", inPath)
		}
		return nil, err
	}

	summary := &Summary{
		Loaded:     len(records),
		OutputPath: s.cfg.OutputFile(config.ScanResultsFile),
	}

	if limit := s.cfg.Scan.Limit; limit > 0 && len(records) > limit {
		log.Infof("Begrenze Scan auf %d von %d Videos", limit, len(records))
		records = records[:limit]
	}

	log.Infof("Starte Gesichtssuche in %d Videos (Provider: %s, Downloader: %s)",
		len(records), s.provider.Name(), s.downloader.Name())

	output := &Output{
		Provider: string(s.provider.Name()),
		Results:  make([]ResultRecord, 0, len(records)),
	}

	var ctxErr error
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			log.Warnf("Scan nach %d von %d Videos abgebrochen: %v", i, len(records), err)
			break
		}
		if rec.VideoID == "" {
			continue
		}

		if prev := s.previousResult(rec.VideoID); prev != nil {
			log.Debugf("Video %s bereits gescannt, übernehme gespeichertes Ergebnis", rec.VideoID)
			summary.Skipped++
			reused := recordFromResult(prev)
			reused.ChannelTitle = rec.ChannelTitle
			output.Results = append(output.Results, reused)
			summary.add(reused)
		} else {
			result := s.scanVideo(ctx, rec)
			if err := database.SaveScanResult(s.db, result); err != nil {
				log.WithError(err).Errorf("Ergebnis für %s konnte nicht gespeichert werden", rec.VideoID)
			}
			outRec := recordFromResult(result)
			outRec.ChannelTitle = rec.ChannelTitle
			output.Results = append(output.Results, outRec)
			summary.Scanned++
			summary.add(outRec)

			if result.Matched() {
				log.Infof("Treffer in Video %s (%s)", rec.VideoID, rec.Title)
				s.publishMatch(outRec)
			}
		}

		if every := s.cfg.Scan.ProgressLogEvery; every > 0 && (i+1)%every == 0 {
			stats := utils.GetSystemStats()
			log.Infof("Fortschritt: %d/%d Videos, %d Treffer (CPU %.1f%%, Speicher %s)",
				i+1, len(records), summary.Matched, stats.CPUUsage, utils.FormatBytes(stats.MemoryAlloc))
		}
	}

	output.GeneratedAt = time.Now().UTC()
	output.Matches = summary.MatchURLs
	if output.Matches == nil {
		output.Matches = []string{}
	}

	if err := utils.WriteJSONFile(summary.OutputPath, output); err != nil {
		return summary, err
	}

	log.Infof("Scan abgeschlossen: %d gescannt, %d übernommen, %d Treffer, %d Fehler -> %s",
		summary.Scanned, summary.Skipped, summary.Matched, summary.Failed, summary.OutputPath)
	if ctxErr != nil {
		return summary, ctxErr
	}
	return summary, nil
}

// previousResult liefert ein früheres fehlerfreies Ergebnis, sonst nil.
// Videos mit gespeichertem Fehler werden erneut gescannt.
func (s *Service) previousResult(videoID string) *models.ScanResult {
	prev, err := database.GetScanResult(s.db, videoID)
	if err != nil {
		log.WithError(err).Warnf("Ergebnis-Lookup für %s fehlgeschlagen", videoID)
		return nil
	}
	if prev == nil || prev.Error != "" {
		return nil
	}
	return prev
}

// scanVideo prüft ein einzelnes Video in der Reihenfolge Thumbnail,
// Kanal-Avatar, Video-Frames. Das Video wird nur heruntergeladen, wenn die
// beiden Bildprüfungen keinen Treffer ergaben oder always_scan_video gesetzt
// ist.
func (s *Service) scanVideo(ctx context.Context, rec models.VideoRecord) *models.ScanResult {
	if rec.URL == "" {
		rec.URL = models.WatchURL(rec.VideoID)
	}
	result := &models.ScanResult{
		VideoID:   rec.VideoID,
		VideoURL:  rec.URL,
		ChannelID: rec.ChannelID,
		Title:     rec.Title,
		ScannedAt: time.Now().UTC(),
	}
	var matches []models.FaceMatch

	if rec.ThumbnailURL != "" {
		found, err := s.checkImage(ctx, rec.ThumbnailURL, rec.VideoID+"_thumb.jpg", "thumbnail")
		if err != nil {
			log.WithError(err).Warnf("Thumbnail-Prüfung für %s fehlgeschlagen", rec.VideoID)
		} else if len(found) > 0 {
			result.ThumbnailMatch = true
			matches = append(matches, found...)
		}
	}

	if rec.AvatarURL != "" && rec.ChannelID != "" {
		if found := s.checkAvatar(ctx, rec); len(found) > 0 {
			result.AvatarMatch = true
			matches = append(matches, found...)
		}
	}

	if !result.Matched() || s.cfg.Scan.AlwaysScanVideo {
		if found := s.scanFrames(ctx, rec, result); len(found) > 0 {
			result.FrameMatch = true
			matches = append(matches, found...)
		}
	}

	if len(matches) > 0 {
		if data, err := json.Marshal(matches); err != nil {
			log.WithError(err).Errorf("Treffer für %s nicht serialisierbar", rec.VideoID)
		} else {
			result.MatchedNames = datatypes.JSON(data)
		}
	}
	return result
}

// checkImage lädt ein Bild in das Temp-Verzeichnis, prüft es gegen die
// Referenzgesichter und räumt es anschließend wieder weg
func (s *Service) checkImage(ctx context.Context, url, fileName, source string) ([]models.FaceMatch, error) {
	imgPath := filepath.Join(s.cfg.Download.TempDir, fileName)
	defer os.Remove(imgPath)

	if err := s.fetcher.FetchImage(ctx, url, imgPath); err != nil {
		return nil, fmt.Errorf("failed to fetch %s image: %w", source, err)
	}
	ids, err := s.provider.IdentifyFile(ctx, imgPath)
	if err != nil {
		return nil, fmt.Errorf("recognition on %s image failed: %w", source, err)
	}
	return toFaceMatches(ids, source, 0), nil
}

// checkAvatar prüft das Kanal-Avatar höchstens einmal je Lauf. Fehlschläge
// werden als "kein Treffer" gemerkt und nicht je Video wiederholt.
func (s *Service) checkAvatar(ctx context.Context, rec models.VideoRecord) []models.FaceMatch {
	if cached, ok := s.avatarChecks[rec.ChannelID]; ok {
		return cached
	}
	found, err := s.checkImage(ctx, rec.AvatarURL, "avatar_"+rec.ChannelID+".jpg", "avatar")
	if err != nil {
		log.WithError(err).Warnf("Avatar-Prüfung für Kanal %s fehlgeschlagen", rec.ChannelID)
		found = nil
	}
	s.avatarChecks[rec.ChannelID] = found
	return found
}

// scanFrames lädt das Video herunter, extrahiert Frames und prüft sie in
// Zeitstempel-Reihenfolge. Der erste Treffer beendet die Schleife, der
// Treffer-Frame wird in das Matches-Verzeichnis kopiert. Temporäre Dateien
// werden unabhängig vom Ausgang entfernt.
func (s *Service) scanFrames(ctx context.Context, rec models.VideoRecord, result *models.ScanResult) []models.FaceMatch {
	videoPath, err := s.downloader.Download(ctx, rec.VideoID)
	if err != nil {
		result.Error = fmt.Sprintf("download failed: %v", err)
		log.WithError(err).Errorf("Download von %s fehlgeschlagen", rec.VideoID)
		return nil
	}
	defer os.Remove(videoPath)

	frameDir := filepath.Join(s.cfg.Download.TempDir, rec.VideoID+"_frames")
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		result.Error = fmt.Sprintf("failed to create frame directory: %v", err)
		return nil
	}
	defer os.RemoveAll(frameDir)

	frames, err := s.extractor.Extract(ctx, videoPath, frameDir)
	if err != nil {
		result.Error = fmt.Sprintf("frame extraction failed: %v", err)
		log.WithError(err).Errorf("Frame-Extraktion für %s fehlgeschlagen", rec.VideoID)
		return nil
	}
	log.Debugf("%d Frames aus Video %s extrahiert", len(frames), rec.VideoID)

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return nil
		}
		result.FramesScanned++

		if s.persons != nil {
			hasPerson, err := s.persons.HasPerson(frame.Path)
			if err != nil {
				log.WithError(err).Debugf("Personen-Vorfilter für %s fehlgeschlagen", frame.Path)
			} else if !hasPerson {
				continue
			}
		}

		ids, err := s.provider.IdentifyFile(ctx, frame.Path)
		if err != nil {
			result.Error = fmt.Sprintf("recognition at %.1fs failed: %v", frame.Timestamp, err)
			log.WithError(err).Errorf("Erkennung in %s bei %.1fs fehlgeschlagen", rec.VideoID, frame.Timestamp)
			return nil
		}
		if len(ids) == 0 {
			continue
		}

		result.MatchFramePath = s.keepMatchFrame(rec.VideoID, frame)
		return toFaceMatches(ids, "frame", frame.Timestamp)
	}
	return nil
}

// keepMatchFrame kopiert den Treffer-Frame in das Matches-Verzeichnis und
// liefert den Zielpfad, leer bei Fehlern
func (s *Service) keepMatchFrame(videoID string, frame media.Frame) string {
	destPath := filepath.Join(s.cfg.Storage.MatchesDir, fmt.Sprintf("%s_%.1f.jpg", videoID, frame.Timestamp))
	if err := copyFile(frame.Path, destPath); err != nil {
		log.WithError(err).Warnf("Treffer-Frame %s konnte nicht gesichert werden", frame.Path)
		return ""
	}
	return destPath
}

// publishMatch meldet einen Treffer an den Notifier, sofern konfiguriert
func (s *Service) publishMatch(rec ResultRecord) {
	if s.notifier == nil {
		return
	}

	var names, sources []string
	seenNames := make(map[string]bool)
	seenSources := make(map[string]bool)
	for _, m := range rec.Matches {
		if !seenNames[m.Name] {
			seenNames[m.Name] = true
			names = append(names, m.Name)
		}
		if !seenSources[m.Source] {
			seenSources[m.Source] = true
			sources = append(sources, m.Source)
		}
	}

	event := notify.MatchEvent{
		VideoID:   rec.VideoID,
		URL:       rec.URL,
		Title:     rec.Title,
		ChannelID: rec.ChannelID,
		Names:     names,
		Sources:   sources,
		Timestamp: time.Now().UTC(),
	}
	if err := s.notifier.PublishMatch(event); err != nil {
		log.WithError(err).Warn("MQTT-Veröffentlichung des Treffers fehlgeschlagen")
	}
}

// recordFromResult übersetzt ein gespeichertes Ergebnis in das Ausgabeformat
func recordFromResult(r *models.ScanResult) ResultRecord {
	rec := ResultRecord{
		VideoID:        r.VideoID,
		URL:            r.VideoURL,
		Title:          r.Title,
		ChannelID:      r.ChannelID,
		ThumbnailMatch: r.ThumbnailMatch,
		AvatarMatch:    r.AvatarMatch,
		FrameMatch:     r.FrameMatch,
		FramesScanned:  r.FramesScanned,
		MatchFramePath: r.MatchFramePath,
		ScannedAt:      r.ScannedAt,
		Error:          r.Error,
	}
	if rec.URL == "" {
		rec.URL = models.WatchURL(r.VideoID)
	}
	if len(r.MatchedNames) > 0 {
		if err := json.Unmarshal(r.MatchedNames, &rec.Matches); err != nil {
			log.WithError(err).Warnf("Gespeicherte Treffer für %s nicht lesbar", r.VideoID)
		}
	}
	return rec
}

// toFaceMatches übersetzt Provider-Identifikationen in Treffer-Einträge
func toFaceMatches(ids []recognition.Identification, source string, frameTime float64) []models.FaceMatch {
	matches := make([]models.FaceMatch, 0, len(ids))
	for _, id := range ids {
		matches = append(matches, models.FaceMatch{
			Name:       id.Name,
			Confidence: id.Confidence,
			Source:     source,
			FrameTime:  frameTime,
		})
	}
	return matches
}

// copyFile kopiert eine Datei, vorhandene Ziele werden überschrieben
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
