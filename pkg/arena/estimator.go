package arena

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Pose is the robot's estimated position and heading.
type Pose struct {
	X          float64 `json:"x"`          // cm from centre
	Y          float64 `json:"y"`          // cm from centre
	Heading    float64 `json:"heading"`    // compass degrees
	Confidence float64 `json:"confidence"` // 0-100
}

// Config tunes the estimator.
type Config struct {
	Layout Layout `json:"layout" yaml:"layout"`

	MaxAge        time.Duration `json:"max_age" yaml:"max_age"`               // a pose older than this is unreliable
	MinConfidence float64       `json:"min_confidence" yaml:"min_confidence"` // reliable above this
	PerMarker     float64       `json:"per_marker" yaml:"per_marker"`         // confidence per usable marker
	PairBonus     float64       `json:"pair_bonus" yaml:"pair_bonus"`         // confidence per consistent neighbour pair
	PairTolerance float64       `json:"pair_tolerance" yaml:"pair_tolerance"` // degrees
	FullSize      float64       `json:"full_size" yaml:"full_size"`           // marker diagonal (px) that earns full weight
}

// DefaultConfig returns the competition estimator settings.
func DefaultConfig() Config {
	return Config{
		Layout:        DefaultLayout(),
		MaxAge:        5 * time.Second,
		MinConfidence: 30,
		PerMarker:     25,
		PairBonus:     10,
		PairTolerance: 15,
		FullSize:      50,
	}
}

// Estimator triangulates the robot position from visible wall markers and
// the compass heading. It is safe for concurrent use.
type Estimator struct {
	cfg      Config
	geometry *vision.Geometry
	markers  *Resolved
	logger   *slog.Logger

	mu         sync.RWMutex
	pose       Pose
	lastUpdate time.Time
}

// NewEstimator creates an estimator. Ambiguous marker IDs in the layout are
// logged once and never used.
func NewEstimator(cfg Config, geometry *vision.Geometry) *Estimator {
	e := &Estimator{
		cfg:      cfg,
		geometry: geometry,
		markers:  cfg.Layout.Resolve(),
		logger:   log.Component("arena"),
	}
	if amb := e.markers.Ambiguous(); len(amb) > 0 {
		e.logger.Warn("ambiguous marker ids skipped", "ids", amb, "usable", e.markers.Len())
	}
	return e
}

type fix struct {
	obj     vision.DetectedObject
	x, y, w float64
}

// Update folds one marker sighting into the pose. With no usable marker
// the previous pose is returned unchanged.
func (e *Estimator) Update(markers []vision.DetectedObject, heading float64, now time.Time) Pose {
	fixes := make([]fix, 0, len(markers))
	for _, m := range markers {
		if m.Kind != vision.Marker || m.ClassID <= 0 {
			continue
		}
		if f, ok := e.triangulate(m, heading); ok {
			fixes = append(fixes, f)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(fixes) == 0 {
		return e.pose
	}

	xs := make([]float64, len(fixes))
	ys := make([]float64, len(fixes))
	ws := make([]float64, len(fixes))
	for i, f := range fixes {
		xs[i], ys[i], ws[i] = f.x, f.y, f.w
	}

	pose := Pose{Heading: heading}
	if floats.Sum(ws) > 0 {
		pose.X = stat.Mean(xs, ws)
		pose.Y = stat.Mean(ys, ws)
	}
	pose.Confidence = math.Min(100, float64(len(fixes))*e.cfg.PerMarker)

	if len(fixes) >= 2 {
		sort.SliceStable(fixes, func(i, j int) bool { return fixes[i].obj.X < fixes[j].obj.X })
		for i := 0; i+1 < len(fixes); i++ {
			if e.consistent(fixes[i].obj, fixes[i+1].obj) {
				pose.Confidence = math.Min(100, pose.Confidence+e.cfg.PairBonus)
			}
		}
	}

	e.pose = pose
	e.lastUpdate = now
	return pose
}

// triangulate places the robot at distance d behind the marker along the
// absolute sight line heading + bearing.
func (e *Estimator) triangulate(m vision.DetectedObject, heading float64) (fix, bool) {
	pos, ok := e.markers.Lookup(m.ClassID)
	if !ok {
		return fix{}, false
	}
	t := e.geometry.Target(m)
	if math.IsInf(t.Distance, 0) || math.IsNaN(t.Distance) {
		return fix{}, false
	}
	theta := (heading + t.Bearing) * math.Pi / 180
	return fix{
		obj: m,
		x:   pos.X - t.Distance*math.Sin(theta),
		y:   pos.Y - t.Distance*math.Cos(theta),
		w:   e.weight(m),
	}, true
}

// weight favours large markers near the centre of the image.
func (e *Estimator) weight(m vision.DetectedObject) float64 {
	size := math.Min(1, m.Size()/e.cfg.FullSize)
	half := e.geometry.Camera.Width / 2
	edge := math.Max(0.5, 1-math.Abs(m.X-half)/half)
	return size * edge
}

// consistent compares the observed angular separation of two markers with
// the separation implied by the layout.
func (e *Estimator) consistent(left, right vision.DetectedObject) bool {
	lp, ok1 := e.markers.Lookup(left.ClassID)
	rp, ok2 := e.markers.Lookup(right.ClassID)
	if !ok1 || !ok2 {
		return false
	}
	expected := math.Atan2(rp.X-lp.X, rp.Y-lp.Y) * 180 / math.Pi
	observed := e.geometry.Camera.Bearing(right.X) - e.geometry.Camera.Bearing(left.X)
	return math.Abs(expected-observed) < e.cfg.PairTolerance
}

// Pose returns the last estimate.
func (e *Estimator) Pose() Pose {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pose
}

// Reliable reports whether the estimate is recent and confident enough to
// navigate by.
func (e *Estimator) Reliable(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastUpdate.IsZero() {
		return false
	}
	return now.Sub(e.lastUpdate) < e.cfg.MaxAge && e.pose.Confidence > e.cfg.MinConfidence
}

// DistanceToBase is the straight-line distance from the pose to base camp.
func (e *Estimator) DistanceToBase() float64 {
	p := e.Pose()
	b := e.cfg.Layout.Base
	return math.Hypot(p.X-b.X, p.Y-b.Y)
}

// BearingToBase is the compass bearing from the pose to base camp, 0..360.
func (e *Estimator) BearingToBase() float64 {
	p := e.Pose()
	b := e.cfg.Layout.Base
	bearing := math.Atan2(b.X-p.X, b.Y-p.Y) * 180 / math.Pi
	if bearing < 0 {
		bearing += 360
	}
	return bearing
}

// Layout returns the configured layout.
func (e *Estimator) Layout() Layout { return e.cfg.Layout }
