package vision

import "context"

// Mode is the recognition algorithm the detector runs.
type Mode int

const (
	ModeColor Mode = iota
	ModeTag
	ModeClassification
)

func (m Mode) String() string {
	switch m {
	case ModeTag:
		return "tag"
	case ModeClassification:
		return "classification"
	default:
		return "color"
	}
}

// Detector produces one frame of detections per call.
// An empty frame is a valid result.
type Detector interface {
	Refresh(ctx context.Context) (Frame, error)
}

// ModeSwitcher is implemented by detectors that can change algorithm.
type ModeSwitcher interface {
	SetMode(m Mode) error
}
