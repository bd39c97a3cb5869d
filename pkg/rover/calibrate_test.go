package rover

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedIMU replays a fixed list of compass headings.
type scriptedIMU struct {
	mu       sync.Mutex
	headings []float64
}

func (i *scriptedIMU) Heading() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	h := i.headings[0]
	if len(i.headings) > 1 {
		i.headings = i.headings[1:]
	}
	return h
}

func (i *scriptedIMU) Acceleration() (float64, float64) { return 0, 0 }

func TestParseMoves(t *testing.T) {
	moves, err := ParseMoves("spin:90, straight:-50,")
	require.NoError(t, err)
	assert.Equal(t, []Move{{Kind: "spin", Amount: 90}, {Kind: "straight", Amount: -50}}, moves)

	for _, bad := range []string{"", "spin", "spin:fast", "hop:3"} {
		_, err := ParseMoves(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestRover_Calibrate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Motion.SpinAngularSpeed = 600
	cfg.Motion.CruiseLinearSpeed = 1000
	imu := &scriptedIMU{headings: []float64{350, 20, 20, 45}}
	drive := &mockDrive{}
	r, err := New(cfg, &stubDetector{}, imu, drive, nil)
	require.NoError(t, err)

	results, err := r.Calibrate(context.Background(), []Move{
		{Kind: "spin", Amount: 30},
		{Kind: "straight", Amount: 50},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.InDelta(t, 20, results[0].Want, 1e-9, "spin target wraps past north")
	assert.True(t, results[0].Reached)
	assert.InDelta(t, 20, results[1].Want, 1e-9)
	assert.False(t, results[1].Reached, "straight move drifted 25 degrees")

	assert.Zero(t, drive.snapshot().throttle, "drive left moving")
}

func TestRover_CalibrateHonoursContext(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := f.rover.Calibrate(ctx, []Move{{Kind: "spin", Amount: 90}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
