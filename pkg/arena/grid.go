package arena

import (
	"math"
	"sync"
)

// Cell states of the occupancy grid.
const (
	Unknown  int8 = -1
	Free     int8 = 0
	Occupied int8 = 1
)

// DefaultResolution is the grid cell size in cm.
const DefaultResolution = 5.0

// Grid is a coarse occupancy grid over the arena. Row 0 is the south edge.
type Grid struct {
	mu         sync.RWMutex
	cells      [][]int8
	resolution float64
	width      float64
	height     float64
}

// NewGrid creates a grid with every cell unknown except the walls, which
// are marked occupied.
func NewGrid(l Layout, resolution float64) *Grid {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	cols := int(math.Ceil(l.Width / resolution))
	rows := int(math.Ceil(l.Height / resolution))
	g := &Grid{
		cells:      make([][]int8, rows),
		resolution: resolution,
		width:      l.Width,
		height:     l.Height,
	}
	for i := range g.cells {
		g.cells[i] = make([]int8, cols)
		for j := range g.cells[i] {
			g.cells[i][j] = Unknown
		}
	}
	g.markWalls()
	return g
}

func (g *Grid) markWalls() {
	for i, row := range g.cells {
		for j := range row {
			x := float64(j)*g.resolution - g.width/2
			y := float64(i)*g.resolution - g.height/2
			if math.Abs(x) >= g.width/2-g.resolution || math.Abs(y) >= g.height/2-g.resolution {
				row[j] = Occupied
			}
		}
	}
}

// cell maps arena coordinates to a grid index.
func (g *Grid) cell(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x + g.width/2) / g.resolution))
	row = int(math.Floor((y + g.height/2) / g.resolution))
	if row < 0 || row >= len(g.cells) || col < 0 || col >= len(g.cells[row]) {
		return 0, 0, false
	}
	return row, col, true
}

// MarkObstacle records an obstacle at (x, y). Points outside the arena are
// ignored.
func (g *Grid) MarkObstacle(x, y float64) { g.set(x, y, Occupied) }

// MarkFree records that (x, y) was traversed.
func (g *Grid) MarkFree(x, y float64) { g.set(x, y, Free) }

func (g *Grid) set(x, y float64, v int8) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, c, ok := g.cell(x, y); ok {
		g.cells[r][c] = v
	}
}

// At returns the state of the cell containing (x, y). Outside the arena is
// Occupied.
func (g *Grid) At(x, y float64) int8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, c, ok := g.cell(x, y)
	if !ok {
		return Occupied
	}
	return g.cells[r][c]
}

// IsFree reports whether (x, y) is known to be free. Unknown cells are not.
func (g *Grid) IsFree(x, y float64) bool {
	return g.At(x, y) == Free
}

// Size returns the grid dimensions in cells.
func (g *Grid) Size() (rows, cols int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.cells) == 0 {
		return 0, 0
	}
	return len(g.cells), len(g.cells[0])
}

// Count returns the number of cells in state v.
func (g *Grid) Count(v int8) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, row := range g.cells {
		for _, c := range row {
			if c == v {
				n++
			}
		}
	}
	return n
}

// Cells returns a copy of the grid for display.
func (g *Grid) Cells() [][]int8 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([][]int8, len(g.cells))
	for i, row := range g.cells {
		out[i] = append([]int8(nil), row...)
	}
	return out
}
