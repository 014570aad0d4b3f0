package media

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"face-scout-go/config"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Frame ist ein aus einem Video extrahiertes Einzelbild
type Frame struct {
	Path      string  // Pfad der gespeicherten JPEG-Datei
	Timestamp float64 // Position im Video in Sekunden
	Sharpness float64 // Laplace-Varianz des Bildes
}

// Extractor liest Videos mit OpenCV und speichert in festen Abständen
// das jeweils schärfste Einzelbild
type Extractor struct {
	cfg config.FramesConfig
}

// NewExtractor erstellt einen neuen Frame-Extractor
func NewExtractor(cfg config.FramesConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// sampleWindow beschreibt den Frame-Bereich um einen Abtastpunkt
type sampleWindow struct {
	target int // Frame-Index des Abtastpunkts
	start  int // erster Frame des Fensters (inklusiv)
	end    int // letzter Frame des Fensters (inklusiv)
}

// samplePlan berechnet die Abtastfenster für ein Video. Pro Intervall
// entsteht ein Fenster von target-radius bis target+radius Frames.
func samplePlan(fps float64, frameCount int, intervalSeconds, windowSeconds float64) []sampleWindow {
	if fps <= 0 || frameCount <= 0 || intervalSeconds <= 0 {
		return nil
	}

	step := int(math.Round(intervalSeconds * fps))
	if step < 1 {
		step = 1
	}
	radius := int(math.Round(windowSeconds * fps))
	if radius < 0 {
		radius = 0
	}

	var plan []sampleWindow
	for target := 0; target < frameCount; target += step {
		start := target - radius
		if start < 0 {
			start = 0
		}
		end := target + radius
		if end > frameCount-1 {
			end = frameCount - 1
		}
		plan = append(plan, sampleWindow{target: target, start: start, end: end})
	}
	return plan
}

// Extract zerlegt das Video in Einzelbilder und schreibt sie als JPEG nach
// outDir. Unscharfe und kontrastarme Bilder werden verworfen.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string) ([]Frame, error) {
	vc, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", videoPath, err)
	}
	defer vc.Close()

	fps := vc.Get(gocv.VideoCaptureFPS)
	frameCount := int(vc.Get(gocv.VideoCaptureFrameCount))
	plan := samplePlan(fps, frameCount, e.cfg.IntervalSeconds, e.cfg.WindowSeconds)
	if len(plan) == 0 {
		return nil, fmt.Errorf("video %s has no readable frames (fps %.2f, frames %d)", videoPath, fps, frameCount)
	}
	log.Debugf("Extrahiere Frames aus %s: %.2f fps, %d Frames, %d Abtastpunkte",
		filepath.Base(videoPath), fps, frameCount, len(plan))

	img := gocv.NewMat()
	defer img.Close()

	var frames []Frame
	dropped := 0

	for _, w := range plan {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		vc.Set(gocv.VideoCapturePosFrames, float64(w.start))

		// Innerhalb des Fensters das schärfste Bild behalten
		best := gocv.NewMat()
		bestSharpness := -1.0
		bestContrast := 0.0
		found := false

		for idx := w.start; idx <= w.end; idx++ {
			if ok := vc.Read(&img); !ok || img.Empty() {
				break
			}
			sharpness, contrast := frameQuality(img)
			if sharpness > bestSharpness {
				bestSharpness = sharpness
				bestContrast = contrast
				img.CopyTo(&best)
				found = true
			}
		}

		if !found {
			best.Close()
			continue
		}
		if bestSharpness < e.cfg.BlurThreshold || bestContrast < e.cfg.ContrastThreshold {
			dropped++
			best.Close()
			continue
		}

		path := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", w.target))
		if ok := gocv.IMWrite(path, best); !ok {
			log.Warnf("Frame %d aus %s konnte nicht gespeichert werden", w.target, filepath.Base(videoPath))
			best.Close()
			continue
		}
		best.Close()

		frames = append(frames, Frame{
			Path:      path,
			Timestamp: float64(w.target) / fps,
			Sharpness: bestSharpness,
		})
	}

	log.Debugf("%d Frames gespeichert, %d wegen Unschärfe oder Kontrast verworfen", len(frames), dropped)
	return frames, nil
}

// frameQuality berechnet die Laplace-Varianz (Schärfe) und die
// Standardabweichung der Grauwerte (Kontrast) eines Bildes
func frameQuality(img gocv.Mat) (sharpness, contrast float64) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	_, lapStd := lap.MeanStdDev()
	_, grayStd := gray.MeanStdDev()
	return lapStd.Val1 * lapStd.Val1, grayStd.Val1
}
