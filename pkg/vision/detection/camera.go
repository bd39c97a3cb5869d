package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/vision"
	"gocv.io/x/gocv"
)

// Source supplies BGR frames. *gocv.VideoCapture satisfies it.
type Source interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// ErrNoFrame is returned when the source produced nothing.
var ErrNoFrame = errors.New("detection: source returned no frame")

// CameraDetector runs the detector matching the current mode on frames
// from a Source. It implements vision.Detector and vision.ModeSwitcher.
type CameraDetector struct {
	source  Source
	colors  *ColorDetector
	markers *MarkerDetector

	mu   sync.Mutex
	mode vision.Mode
	img  gocv.Mat
	now  func() time.Time
}

var (
	_ vision.Detector     = (*CameraDetector)(nil)
	_ vision.ModeSwitcher = (*CameraDetector)(nil)
)

// OpenCamera opens a V4L2 device by index.
func OpenCamera(device int, cfg ColorConfig) (*CameraDetector, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, 320)
	vc.Set(gocv.VideoCaptureFrameHeight, 240)
	return NewCameraDetector(vc, cfg), nil
}

// NewCameraDetector wraps a frame source. The detector starts in colour mode.
func NewCameraDetector(src Source, cfg ColorConfig) *CameraDetector {
	return &CameraDetector{
		source:  src,
		colors:  NewColorDetector(cfg),
		markers: NewMarkerDetector(),
		mode:    vision.ModeColor,
		img:     gocv.NewMat(),
		now:     time.Now,
	}
}

// SetMode switches the recognition algorithm used on the next refresh.
func (d *CameraDetector) SetMode(m vision.Mode) error {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	return nil
}

// Mode returns the active recognition algorithm.
func (d *CameraDetector) Mode() vision.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Refresh grabs one frame and runs detection on it.
func (d *CameraDetector) Refresh(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.source.Read(&d.img) || d.img.Empty() {
		return vision.Frame{}, ErrNoFrame
	}
	return d.detect(d.img, d.mode)
}

// DetectJPEG runs detection on an encoded image using the active mode.
func (d *CameraDetector) DetectJPEG(jpeg []byte) (vision.Frame, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detect(img, d.mode)
}

func (d *CameraDetector) detect(img gocv.Mat, mode vision.Mode) (vision.Frame, error) {
	now := d.now()
	frame := vision.Frame{At: now}

	if mode == vision.ModeColor || mode == vision.ModeClassification {
		blobs, err := d.colors.Detect(img)
		if err != nil {
			return frame, err
		}
		for _, b := range blobs {
			b.LastSeen = now
			switch b.Kind {
			case vision.Ball:
				frame.Balls = append(frame.Balls, b)
			case vision.Peer:
				frame.Peers = append(frame.Peers, b)
			}
		}
	}
	if mode == vision.ModeTag || mode == vision.ModeClassification {
		markers, err := d.markers.Detect(img)
		if err != nil {
			return frame, err
		}
		for _, m := range markers {
			m.LastSeen = now
			frame.Markers = append(frame.Markers, m)
		}
	}
	return frame, nil
}

// Close releases the source and OpenCV resources.
func (d *CameraDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.img.Close()
	d.markers.Close()
	return d.source.Close()
}
