package recognition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProviderType definiert den Typ des Gesichtserkennungsdiensts
type ProviderType string

const (
	// ProviderGoFace steht für die lokale Erkennung mit dlib-Modellen
	ProviderGoFace ProviderType = "goface"

	// ProviderCompreFace steht für den CompreFace-Dienst
	ProviderCompreFace ProviderType = "compreface"
)

// Identification repräsentiert eine erkannte bekannte Person in einem Bild
type Identification struct {
	// Name ist der Name der Referenz, mit der das Gesicht übereinstimmt
	Name string `json:"name"`

	// Confidence ist die Konfidenz der Übereinstimmung (0-1)
	Confidence float64 `json:"confidence"`

	// BoundingBox enthält die Koordinaten des Gesichts im Bild (x1, y1, x2, y2)
	BoundingBox []int `json:"bounding_box,omitempty"`
}

// Provider definiert die Schnittstelle für Gesichtserkennungsdienste
type Provider interface {
	// Name gibt den Namen des Providers zurück
	Name() ProviderType

	// IdentifyFile sucht bekannte Personen im Bild unter dem angegebenen Pfad.
	// Gesichter ohne Übereinstimmung innerhalb der Toleranz werden nicht
	// zurückgegeben. Ein Bild ohne Gesichter liefert eine leere Liste.
	IdentifyFile(ctx context.Context, path string) ([]Identification, error)

	// Close gibt die Ressourcen des Providers frei
	Close() error
}

// Reference ist ein bekanntes Gesicht aus dem Referenzverzeichnis.
// Der Name ergibt sich aus dem Dateinamen ohne Erweiterung.
type Reference struct {
	Name string
	Path string
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// LoadReferences liest alle Bilddateien aus dem Referenzverzeichnis.
// Mindestens ein Referenzbild muss vorhanden sein.
func LoadReferences(dir string) ([]Reference, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference directory %s: %w", dir, err)
	}

	var refs []Reference
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !imageExtensions[ext] {
			continue
		}
		refs = append(refs, Reference{
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Path: filepath.Join(dir, entry.Name()),
		})
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("no reference images found in %s", dir)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}
