package media

import (
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// PersonFilter prüft Bilder mit einem HOG-Detektor grob auf Personen,
// bevor die teurere Gesichtserkennung läuft
type PersonFilter struct {
	hog gocv.HOGDescriptor
}

// NewPersonFilter initialisiert den HOG-Personen-Detektor
func NewPersonFilter() *PersonFilter {
	hog := gocv.NewHOGDescriptor()
	hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector())
	return &PersonFilter{hog: hog}
}

// HasPerson liefert true, wenn der Detektor mindestens eine Person findet
func (p *PersonFilter) HasPerson(imgPath string) (bool, error) {
	img := gocv.IMRead(imgPath, gocv.IMReadColor)
	if img.Empty() {
		return false, fmt.Errorf("could not read image %s", imgPath)
	}
	defer img.Close()

	// Große Bilder für die Erkennung verkleinern
	const maxDimension = 800
	detectImg := img
	scaled := false
	if img.Cols() > maxDimension || img.Rows() > maxDimension {
		scale := float64(maxDimension) / float64(maxInt(img.Cols(), img.Rows()))
		resized := gocv.NewMat()
		gocv.Resize(img, &resized, image.Point{
			X: int(float64(img.Cols()) * scale),
			Y: int(float64(img.Rows()) * scale),
		}, 0, 0, gocv.InterpolationLinear)
		detectImg = resized
		scaled = true
	}
	if scaled {
		defer detectImg.Close()
	}

	rects := p.hog.DetectMultiScale(detectImg)
	log.Debugf("HOG: %d Personen in %s", len(rects), imgPath)
	return len(rects) > 0, nil
}

// Close gibt die Detektor-Ressourcen frei
func (p *PersonFilter) Close() error {
	return p.hog.Close()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
