// Package vision converts detector bounding boxes into polar targets
// (distance, bearing) and selects the most relevant one.
//
// Detections are replaced wholesale on every refresh. There is no
// cross-frame identity: an object is lost when it is absent from the
// newest frame.
package vision

import (
	"math"
	"strings"
	"time"
)

// Kind is the semantic class of a detected object.
type Kind int

const (
	Unknown Kind = iota
	Ball
	Marker
	Peer
)

func (k Kind) String() string {
	switch k {
	case Ball:
		return "ball"
	case Marker:
		return "marker"
	case Peer:
		return "peer"
	default:
		return "unknown"
	}
}

// ParseKind maps a name back to a Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(s) {
	case "ball":
		return Ball
	case "marker":
		return Marker
	case "peer":
		return Peer
	default:
		return Unknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Marker identities printed on the arena fiducials.
const (
	MarkerEast  = 1
	MarkerSouth = 2
	MarkerWest  = 3
	MarkerNorth = 4
	MarkerHome  = 5
)

// Colour classes reported by the blob detector.
const (
	ColorRed    = 1 // balls
	ColorYellow = 2 // other robots
)

// DetectedObject is one bounding box from the detector, in screen pixels.
// X and Y are the box centre.
type DetectedObject struct {
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	W        float64   `json:"w"`
	H        float64   `json:"h"`
	ClassID  int       `json:"class_id"`
	Kind     Kind      `json:"kind"`
	LastSeen time.Time `json:"last_seen"`
}

// Size is the box diagonal in pixels.
func (o DetectedObject) Size() float64 {
	return math.Hypot(o.W, o.H)
}

// Target is a detection projected to robot-relative polar coordinates.
// Bearing is in degrees, negative to the left. Distance is +Inf when the
// projection is undefined.
type Target struct {
	Distance float64 `json:"distance"`
	Bearing  float64 `json:"bearing"`
	Kind     Kind    `json:"kind"`
	ClassID  int     `json:"class_id"`
}

// Frame is the full result of one detector refresh.
type Frame struct {
	Balls   []DetectedObject `json:"balls"`
	Markers []DetectedObject `json:"markers"`
	Peers   []DetectedObject `json:"peers"`
	At      time.Time        `json:"at"`
}

// Objects returns the detections of the given kind.
func (f Frame) Objects(k Kind) []DetectedObject {
	switch k {
	case Ball:
		return f.Balls
	case Marker:
		return f.Markers
	case Peer:
		return f.Peers
	default:
		return nil
	}
}

// Marker returns the first marker with the given id.
func (f Frame) Marker(id int) (DetectedObject, bool) {
	for _, m := range f.Markers {
		if m.ClassID == id {
			return m, true
		}
	}
	return DetectedObject{}, false
}

// Side is the horizontal screen region an object was seen in.
type Side int

const (
	Middle Side = iota
	Left
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "middle"
	}
}
