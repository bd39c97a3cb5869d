package detection

import (
	"fmt"
	"math"
	"sync"

	"github.com/teslashibe/go-rover/pkg/vision"
	"gocv.io/x/gocv"
)

// MarkerDetector finds ArUco fiducials. Marker ids are reported as ClassID.
type MarkerDetector struct {
	detector gocv.ArucoDetector
	mu       sync.Mutex
}

// NewMarkerDetector creates a detector for the 4x4_50 dictionary.
func NewMarkerDetector() *MarkerDetector {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)
	params := gocv.NewArucoDetectorParameters()
	return &MarkerDetector{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}
}

// Detect returns the axis-aligned box of each marker found in img.
func (d *MarkerDetector) Detect(img gocv.Mat) ([]vision.DetectedObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	corners, ids, _ := d.detector.DetectMarkers(img)
	out := make([]vision.DetectedObject, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) == 0 {
			continue
		}
		out = append(out, objectFromCorners(corners[i], id))
	}
	return out, nil
}

// Close releases the OpenCV detector.
func (d *MarkerDetector) Close() error {
	return d.detector.Close()
}

func objectFromCorners(pts []gocv.Point2f, id int) vision.DetectedObject {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, float64(p.X))
		maxX = math.Max(maxX, float64(p.X))
		minY = math.Min(minY, float64(p.Y))
		maxY = math.Max(maxY, float64(p.Y))
	}
	return vision.DetectedObject{
		X:       (minX + maxX) / 2,
		Y:       (minY + maxY) / 2,
		W:       maxX - minX,
		H:       maxY - minY,
		ClassID: id,
		Kind:    vision.Marker,
	}
}
