package compreface

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"face-scout-go/config"
	"face-scout-go/internal/recognition"

	log "github.com/sirupsen/logrus"
)

// Service implementiert die Gesichtserkennung über einen CompreFace-Server
type Service struct {
	client *Client
	cfg    config.FacesConfig
}

// NewService erstellt einen neuen CompreFace-Provider. Wenn konfiguriert,
// werden die lokalen Referenzbilder vorab als Subjekte zum Server
// synchronisiert.
func NewService(ctx context.Context, cfg config.FacesConfig) (*Service, error) {
	s := &Service{
		client: NewClient(cfg.CompreFace),
		cfg:    cfg,
	}

	ok, err := s.client.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("compreface not reachable at %s: %w", cfg.CompreFace.URL, err)
	}
	if !ok {
		return nil, fmt.Errorf("compreface at %s rejected the connection check", cfg.CompreFace.URL)
	}

	if cfg.CompreFace.SyncReferences {
		if err := s.syncReferences(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name gibt den Namen des Providers zurück
func (s *Service) Name() recognition.ProviderType {
	return recognition.ProviderCompreFace
}

// IdentifyFile schickt das Bild an CompreFace und übernimmt pro Gesicht
// den besten Treffer oberhalb des Ähnlichkeits-Schwellwerts
func (s *Service) IdentifyFile(ctx context.Context, path string) ([]recognition.Identification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}

	resp, err := s.client.Recognize(ctx, data, filepath.Base(path))
	if err != nil {
		if errors.Is(err, ErrNoFaces) {
			return nil, nil
		}
		return nil, err
	}

	minFace := s.cfg.MinFaceSize
	var ids []recognition.Identification
	for _, result := range resp.Result {
		if len(result.Subjects) == 0 {
			continue
		}
		if minFace > 0 {
			box := result.Box
			if box.XMax-box.XMin < minFace || box.YMax-box.YMin < minFace {
				continue
			}
		}
		// CompreFace sortiert die Subjekte absteigend nach Ähnlichkeit
		best := result.Subjects[0]
		if best.Similarity < s.cfg.CompreFace.SimilarityThreshold {
			continue
		}
		ids = append(ids, recognition.Identification{
			Name:       best.Subject,
			Confidence: best.Similarity,
			BoundingBox: []int{
				result.Box.XMin, result.Box.YMin,
				result.Box.XMax, result.Box.YMax,
			},
		})
	}
	return ids, nil
}

// Close gibt den Provider frei
func (s *Service) Close() error {
	return nil
}

// syncReferences lädt lokale Referenzbilder als Beispiele zum Server hoch.
// Subjekte, die der Server bereits kennt, werden übersprungen.
func (s *Service) syncReferences(ctx context.Context) error {
	refs, err := recognition.LoadReferences(s.cfg.ReferenceDir)
	if err != nil {
		return err
	}

	existing, err := s.client.GetAllSubjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to get subjects from CompreFace: %w", err)
	}
	known := make(map[string]bool)
	for _, name := range existing {
		known[strings.ToLower(name)] = true
	}

	added := 0
	for _, ref := range refs {
		if known[strings.ToLower(ref.Name)] {
			continue
		}
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			log.WithError(err).Warnf("Referenzbild %s konnte nicht gelesen werden", ref.Path)
			continue
		}
		if _, err := s.client.AddSubjectExample(ctx, ref.Name, data, filepath.Base(ref.Path)); err != nil {
			log.WithError(err).Warnf("Referenz '%s' konnte nicht hochgeladen werden", ref.Name)
			continue
		}
		added++
	}

	log.Infof("CompreFace-Abgleich abgeschlossen: %d Subjekte vorhanden, %d neu hochgeladen", len(existing), added)
	return nil
}
