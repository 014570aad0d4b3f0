package goface

import (
	"context"
	"fmt"
	"math"

	"face-scout-go/config"
	"face-scout-go/internal/recognition"

	"github.com/Kagami/go-face"
	log "github.com/sirupsen/logrus"
)

// Service führt die Gesichtserkennung lokal mit dlib-Modellen aus.
// Die Deskriptoren aller Referenzbilder werden beim Start einmal berechnet
// und danach im Speicher gehalten.
type Service struct {
	rec       *face.Recognizer
	samples   []face.Descriptor
	names     []string
	tolerance float64
	minFace   int
}

// New lädt die dlib-Modelle und berechnet die Deskriptoren der Referenzbilder
func New(cfg config.FacesConfig) (*Service, error) {
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recognizer with models in %s: %w", cfg.ModelsDir, err)
	}

	refs, err := recognition.LoadReferences(cfg.ReferenceDir)
	if err != nil {
		rec.Close()
		return nil, err
	}

	s := &Service{
		rec:       rec,
		tolerance: cfg.Tolerance,
		minFace:   cfg.MinFaceSize,
	}

	for _, ref := range refs {
		faces, err := rec.RecognizeFile(ref.Path)
		if err != nil {
			log.WithError(err).Warnf("Referenzbild %s konnte nicht verarbeitet werden", ref.Path)
			continue
		}
		if len(faces) == 0 {
			log.Warnf("Kein Gesicht in Referenzbild %s gefunden", ref.Path)
			continue
		}
		// Bei mehreren Gesichtern im Referenzbild zählt das größte
		best := largestFace(faces)
		s.samples = append(s.samples, best.Descriptor)
		s.names = append(s.names, ref.Name)
		log.Debugf("Referenz '%s' aus %s geladen", ref.Name, ref.Path)
	}

	if len(s.samples) == 0 {
		rec.Close()
		return nil, fmt.Errorf("no usable faces in reference directory %s", cfg.ReferenceDir)
	}

	log.Infof("%d Referenzgesichter geladen (Toleranz %.2f)", len(s.samples), s.tolerance)
	return s, nil
}

// Name gibt den Namen des Providers zurück
func (s *Service) Name() recognition.ProviderType {
	return recognition.ProviderGoFace
}

// IdentifyFile sucht bekannte Gesichter im Bild. Gesichter unterhalb der
// Mindestgröße werden ignoriert, ebenso Gesichter ohne Referenz innerhalb
// der Toleranz.
func (s *Service) IdentifyFile(ctx context.Context, path string) ([]recognition.Identification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	faces, err := s.rec.RecognizeFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to recognize faces in %s: %w", path, err)
	}

	var ids []recognition.Identification
	for _, f := range faces {
		if s.minFace > 0 && (f.Rectangle.Dx() < s.minFace || f.Rectangle.Dy() < s.minFace) {
			continue
		}
		name, dist := s.closest(f.Descriptor)
		if dist > s.tolerance {
			continue
		}
		ids = append(ids, recognition.Identification{
			Name:       name,
			Confidence: 1 - dist,
			BoundingBox: []int{
				f.Rectangle.Min.X, f.Rectangle.Min.Y,
				f.Rectangle.Max.X, f.Rectangle.Max.Y,
			},
		})
	}
	return ids, nil
}

// Close gibt die dlib-Ressourcen frei
func (s *Service) Close() error {
	s.rec.Close()
	return nil
}

// closest liefert die Referenz mit dem geringsten euklidischen Abstand.
// New garantiert mindestens ein Sample.
func (s *Service) closest(d face.Descriptor) (string, float64) {
	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, sample := range s.samples {
		if dist := descriptorDistance(sample, d); dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return s.names[bestIdx], bestDist
}

func descriptorDistance(a, b face.Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func largestFace(faces []face.Face) face.Face {
	best := faces[0]
	bestArea := best.Rectangle.Dx() * best.Rectangle.Dy()
	for _, f := range faces[1:] {
		if area := f.Rectangle.Dx() * f.Rectangle.Dy(); area > bestArea {
			best = f
			bestArea = area
		}
	}
	return best
}
