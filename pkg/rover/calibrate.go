package rover

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teslashibe/go-rover/pkg/motion"
)

// HeadingTolerance is how far the compass may end from the expected
// heading for a calibration move to count as reached.
const HeadingTolerance = 10.0 // degrees

// Move is one open-loop calibration maneuver: "straight" covers Amount
// centimetres, "spin" turns Amount degrees (positive = right).
type Move struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount"`
}

func (m Move) String() string { return fmt.Sprintf("%s:%g", m.Kind, m.Amount) }

// ParseMoves parses a comma separated list such as "spin:90,straight:50".
func ParseMoves(s string) ([]Move, error) {
	var moves []Move
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, amount, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("move %q: want kind:amount", part)
		}
		v, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, fmt.Errorf("move %q: %w", part, err)
		}
		kind = strings.ToLower(kind)
		if kind != "straight" && kind != "spin" {
			return nil, fmt.Errorf("move %q: unknown kind %q", part, kind)
		}
		moves = append(moves, Move{Kind: kind, Amount: v})
	}
	if len(moves) == 0 {
		return nil, fmt.Errorf("no moves in %q", s)
	}
	return moves, nil
}

// MoveResult compares the compass before and after a move.
type MoveResult struct {
	Move    Move    `json:"move"`
	Before  float64 `json:"before"`
	After   float64 `json:"after"`
	Want    float64 `json:"want"`
	Reached bool    `json:"reached"`
}

// Calibrate runs each move with the blocking maneuver API and checks the
// resulting heading against the compass. A straight move should keep the
// heading; a spin should turn it by the move amount. It must not be called
// while Run is active, and the drive and IMU must already be running.
func (r *Rover) Calibrate(ctx context.Context, moves []Move) ([]MoveResult, error) {
	results := make([]MoveResult, 0, len(moves))
	for _, m := range moves {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		before := r.imu.Heading()
		want := before
		switch m.Kind {
		case "straight":
			r.motion.MoveStraight(m.Amount)
		case "spin":
			r.motion.Spin(m.Amount)
			want = compass(before + m.Amount)
		default:
			return results, fmt.Errorf("unknown move kind %q", m.Kind)
		}
		after := r.imu.Heading()

		res := MoveResult{
			Move:    m,
			Before:  before,
			After:   after,
			Want:    want,
			Reached: motion.HeadingReached(after, want, HeadingTolerance),
		}
		r.logger.Info("calibration move",
			"move", m, "before", before, "after", after, "want", want, "reached", res.Reached)
		results = append(results, res)
	}
	return results, nil
}

// compass normalises degrees to [0, 360).
func compass(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
