// Package arena estimates the robot's position on the playing field from
// the fixed markers on its walls, and keeps a coarse occupancy grid.
//
// Coordinates are centimetres from the arena centre, +Y north and +X east.
// Headings are compass degrees, 0 = north, clockwise positive.
package arena

import (
	"fmt"

	"github.com/teslashibe/go-rover/pkg/vision"
)

// Arena dimensions for the two-player field.
const (
	DefaultWidth  = 130.0 // cm
	DefaultHeight = 130.0 // cm
)

// MarkerPosition places one marker on the field.
type MarkerPosition struct {
	ID       int     `json:"id" yaml:"id"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Cardinal string  `json:"cardinal" yaml:"cardinal"`
}

// Layout is the field description: size, wall markers and base camp.
type Layout struct {
	Width   float64          `json:"width" yaml:"width"`
	Height  float64          `json:"height" yaml:"height"`
	Markers []MarkerPosition `json:"markers" yaml:"markers"`
	Base    MarkerPosition   `json:"base" yaml:"base"`
}

// DefaultLayout returns the field as surveyed for competition. The corner
// survey assigns each corner ID to two corners; those IDs are ambiguous and
// Resolve drops them, so localisation needs an operator-supplied layout.
func DefaultLayout() Layout {
	hw, hh := DefaultWidth/2, DefaultHeight/2
	return Layout{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Markers: []MarkerPosition{
			{ID: vision.MarkerEast, X: hw, Y: hh, Cardinal: "NE"},
			{ID: vision.MarkerEast, X: hw, Y: -hh, Cardinal: "SE"},
			{ID: vision.MarkerNorth, X: hw, Y: hh, Cardinal: "NE"},
			{ID: vision.MarkerNorth, X: -hw, Y: hh, Cardinal: "NW"},
			{ID: vision.MarkerWest, X: -hw, Y: hh, Cardinal: "NW"},
			{ID: vision.MarkerWest, X: -hw, Y: -hh, Cardinal: "SW"},
			{ID: vision.MarkerSouth, X: -hw, Y: -hh, Cardinal: "SW"},
			{ID: vision.MarkerSouth, X: hw, Y: -hh, Cardinal: "SE"},
		},
		Base: MarkerPosition{ID: vision.MarkerHome, X: DefaultWidth, Y: DefaultHeight, Cardinal: "Base"},
	}
}

// Resolved is a layout with one position per marker ID.
type Resolved struct {
	positions map[int]MarkerPosition
	ambiguous []int
}

// Resolve indexes the layout by marker ID. IDs listed at two different
// positions are reported as ambiguous and excluded. Exact duplicates are
// harmless and kept.
func (l Layout) Resolve() *Resolved {
	r := &Resolved{positions: make(map[int]MarkerPosition)}
	bad := make(map[int]bool)
	for _, m := range l.Markers {
		if bad[m.ID] {
			continue
		}
		if prev, ok := r.positions[m.ID]; ok {
			if prev.X != m.X || prev.Y != m.Y {
				delete(r.positions, m.ID)
				bad[m.ID] = true
				r.ambiguous = append(r.ambiguous, m.ID)
			}
			continue
		}
		r.positions[m.ID] = m
	}
	return r
}

// Lookup returns the position of an unambiguous marker.
func (r *Resolved) Lookup(id int) (MarkerPosition, bool) {
	p, ok := r.positions[id]
	return p, ok
}

// Ambiguous lists the IDs dropped by Resolve, in the order first seen.
func (r *Resolved) Ambiguous() []int { return r.ambiguous }

// Len is the number of usable markers.
func (r *Resolved) Len() int { return len(r.positions) }

// Validate checks the field size.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("arena: invalid size %vx%v", l.Width, l.Height)
	}
	return nil
}
