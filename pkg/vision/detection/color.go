// Package detection provides OpenCV-backed detectors that produce
// vision.Frame values: HSV colour blobs for balls and robots, and
// ArUco fiducials for arena markers.
package detection

import (
	"fmt"
	"image"
	"sync"

	"github.com/teslashibe/go-rover/pkg/vision"
	"gocv.io/x/gocv"
)

// ColorClass is one HSV range mapped to a detection kind.
type ColorClass struct {
	ClassID int
	Kind    vision.Kind
	Lower   gocv.Scalar
	Upper   gocv.Scalar
}

// ColorConfig holds colour blob detection settings.
type ColorConfig struct {
	Classes []ColorClass
	MinArea float64 // contours smaller than this (pixels²) are noise
	Blur    int     // median blur kernel, 0 to disable
}

// DefaultColorConfig detects red balls and yellow robots.
func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		Classes: []ColorClass{
			{
				ClassID: vision.ColorRed,
				Kind:    vision.Ball,
				Lower:   gocv.NewScalar(0, 120, 70, 0),
				Upper:   gocv.NewScalar(10, 255, 255, 0),
			},
			{
				ClassID: vision.ColorRed,
				Kind:    vision.Ball,
				Lower:   gocv.NewScalar(170, 120, 70, 0),
				Upper:   gocv.NewScalar(180, 255, 255, 0),
			},
			{
				ClassID: vision.ColorYellow,
				Kind:    vision.Peer,
				Lower:   gocv.NewScalar(20, 100, 100, 0),
				Upper:   gocv.NewScalar(35, 255, 255, 0),
			},
		},
		MinArea: 40,
		Blur:    5,
	}
}

// ColorDetector finds coloured blobs in BGR images.
type ColorDetector struct {
	config ColorConfig
	mu     sync.Mutex
}

// NewColorDetector creates a colour blob detector.
func NewColorDetector(cfg ColorConfig) *ColorDetector {
	return &ColorDetector{config: cfg}
}

// Detect returns one DetectedObject per blob, in pixel coordinates.
func (d *ColorDetector) Detect(img gocv.Mat) ([]vision.DetectedObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
	if d.config.Blur > 1 {
		gocv.MedianBlur(hsv, &hsv, d.config.Blur)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	var out []vision.DetectedObject
	for _, class := range d.config.Classes {
		gocv.InRangeWithScalar(hsv, class.Lower, class.Upper, &mask)
		out = append(out, d.blobs(mask, class)...)
	}
	return out, nil
}

func (d *ColorDetector) blobs(mask gocv.Mat, class ColorClass) []vision.DetectedObject {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []vision.DetectedObject
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) < d.config.MinArea {
			continue
		}
		out = append(out, objectFromRect(gocv.BoundingRect(c), class.ClassID, class.Kind))
	}
	return out
}

func objectFromRect(r image.Rectangle, classID int, kind vision.Kind) vision.DetectedObject {
	w := float64(r.Dx())
	h := float64(r.Dy())
	return vision.DetectedObject{
		X:       float64(r.Min.X) + w/2,
		Y:       float64(r.Min.Y) + h/2,
		W:       w,
		H:       h,
		ClassID: classID,
		Kind:    kind,
	}
}
