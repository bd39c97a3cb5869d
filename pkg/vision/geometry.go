package vision

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Camera describes the detector's image plane.
type Camera struct {
	Width  float64 `json:"width" yaml:"width"`   // pixels
	Height float64 `json:"height" yaml:"height"` // pixels
	FOV    float64 `json:"fov" yaml:"fov"`       // horizontal field of view, degrees

	// Projection origin for point-like objects. It sits below the screen
	// centre to compensate for the camera's downward tilt.
	OriginX float64 `json:"origin_x" yaml:"origin_x"`
	OriginY float64 `json:"origin_y" yaml:"origin_y"`

	// SideTolerance is the half-width of the Middle band, in pixels.
	SideTolerance float64 `json:"side_tolerance" yaml:"side_tolerance"`
}

// DefaultCamera returns the 320x240, 52 degree detector geometry.
func DefaultCamera() Camera {
	return Camera{
		Width:         320,
		Height:        240,
		FOV:           52,
		OriginX:       160,
		OriginY:       200,
		SideTolerance: 10,
	}
}

// Bearing maps a horizontal pixel position to degrees off the forward axis.
// x=0 is -FOV/2, x=Width is +FOV/2.
func (c Camera) Bearing(x float64) float64 {
	if c.Width <= 0 {
		return 0
	}
	b := x*(c.FOV/c.Width) - c.FOV/2
	return math.Max(-180, math.Min(180, b))
}

// Side classifies x relative to the screen centre.
func (c Camera) Side(x float64) Side {
	center := c.Width / 2
	switch {
	case x > center+c.SideTolerance:
		return Right
	case x < center-c.SideTolerance:
		return Left
	default:
		return Middle
	}
}

// PlanarDistance is the pixel distance from the projection origin to the
// box centre. Zero-size boxes and boxes below the origin are +Inf.
func (c Camera) PlanarDistance(o DetectedObject) float64 {
	if o.W <= 0 || o.H <= 0 {
		return math.Inf(1)
	}
	dx := o.X - c.OriginX
	dy := o.Y - c.OriginY
	if dy > 0 {
		return math.Inf(1)
	}
	return math.Hypot(dx, dy)
}

// Projection selects how a kind's distance is estimated.
type Projection int

const (
	// PointProjection uses the planar pixel distance from the origin.
	PointProjection Projection = iota
	// SizeProjection uses the inverse of the box diagonal.
	SizeProjection
)

// Calibration converts a kind's raw measurement into centimetres.
type Calibration struct {
	Projection Projection `json:"projection" yaml:"projection"`
	// K is the size constant for SizeProjection: distance = K / diagonal.
	K float64 `json:"k" yaml:"k"`
	// Scale converts planar pixels to centimetres for PointProjection.
	Scale float64 `json:"scale" yaml:"scale"`
}

// Reference is one measured (diagonal size, distance) pair.
type Reference struct {
	Size     float64 `json:"size" yaml:"size"`         // pixels
	Distance float64 `json:"distance" yaml:"distance"` // centimetres
}

// FitSizeCalibration fits K = mean(size_i * distance_i).
func FitSizeCalibration(refs ...Reference) Calibration {
	if len(refs) == 0 {
		return Calibration{Projection: SizeProjection}
	}
	products := make([]float64, len(refs))
	for i, r := range refs {
		products[i] = r.Size * r.Distance
	}
	return Calibration{Projection: SizeProjection, K: stat.Mean(products, nil)}
}

// Geometry projects detections using a camera and per-kind calibrations.
type Geometry struct {
	Camera       Camera
	Calibrations map[Kind]Calibration
}

// DefaultGeometry returns the default camera with balls as point-like
// objects and markers and peers calibrated from reference boxes
// (30 px at 50 cm, 15 px at 100 cm).
func DefaultGeometry() *Geometry {
	sized := FitSizeCalibration(
		Reference{Size: 30, Distance: 50},
		Reference{Size: 15, Distance: 100},
	)
	return &Geometry{
		Camera: DefaultCamera(),
		Calibrations: map[Kind]Calibration{
			Ball:   {Projection: PointProjection, Scale: 1},
			Marker: sized,
			Peer:   sized,
		},
	}
}

// Distance estimates the distance to o in centimetres, +Inf if undefined.
func (g *Geometry) Distance(o DetectedObject) float64 {
	cal, ok := g.Calibrations[o.Kind]
	if !ok {
		cal = Calibration{Projection: PointProjection, Scale: 1}
	}
	switch cal.Projection {
	case SizeProjection:
		size := o.Size()
		if size <= 0 || o.W <= 0 || o.H <= 0 {
			return math.Inf(1)
		}
		return cal.K / size
	default:
		d := g.Camera.PlanarDistance(o)
		if math.IsInf(d, 1) {
			return d
		}
		scale := cal.Scale
		if scale == 0 {
			scale = 1
		}
		return d * scale
	}
}

// Target projects o into polar coordinates.
func (g *Geometry) Target(o DetectedObject) Target {
	return Target{
		Distance: g.Distance(o),
		Bearing:  g.Camera.Bearing(o.X),
		Kind:     o.Kind,
		ClassID:  o.ClassID,
	}
}

// Select picks, among objects of kind k only, the one with the smallest
// planar pixel distance. Ties keep list order. Objects with an infinite
// distance are never selected. ok is false when nothing qualifies.
func (g *Geometry) Select(k Kind, objects []DetectedObject) (Target, DetectedObject, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, o := range objects {
		if o.Kind != k {
			continue
		}
		d := g.Camera.PlanarDistance(o)
		if math.IsInf(d, 1) || math.IsNaN(d) {
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Target{}, DetectedObject{}, false
	}
	return g.Target(objects[best]), objects[best], true
}
