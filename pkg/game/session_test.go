package game

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StartRequiresSlave(t *testing.T) {
	s := NewSession(DefaultConfig())
	now := time.Unix(1000, 0)

	assert.False(t, s.Start(now), "start honoured in free mode")
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, uuid.Nil, s.ID())

	s.Obey()
	require.True(t, s.Start(now))
	assert.Equal(t, Started, s.State())
	assert.Equal(t, Slave, s.Mode())
	assert.NotEqual(t, uuid.Nil, s.ID())
}

func TestSession_StartInSlave(t *testing.T) {
	s := NewSession(Config{Duration: time.Minute, StartInSlave: true})
	assert.True(t, s.Start(time.Unix(0, 0)))
}

func TestSession_Remaining(t *testing.T) {
	s := NewSession(DefaultConfig())
	t0 := time.Unix(1000, 0)

	assert.Equal(t, DefaultDuration, s.Remaining(t0), "stopped session reports full duration")

	s.Obey()
	s.Start(t0)
	assert.Equal(t, 390*time.Second, s.Remaining(t0.Add(10*time.Second)))

	s.Stop()
	assert.Equal(t, DefaultDuration, s.Remaining(t0.Add(20*time.Second)))
}

func TestSession_CheckExpired(t *testing.T) {
	s := NewSession(Config{Duration: 30 * time.Second})
	t0 := time.Unix(0, 0)
	s.Obey()
	s.Start(t0)

	assert.False(t, s.CheckExpired(t0.Add(29*time.Second)))
	assert.True(t, s.CheckExpired(t0.Add(30*time.Second)))
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.CheckExpired(t0.Add(31*time.Second)), "expiry fires once")
}

func TestSession_NewMatchGetsNewID(t *testing.T) {
	s := NewSession(Config{StartInSlave: true})
	s.Start(time.Unix(0, 0))
	first := s.ID()
	s.Stop()
	s.Start(time.Unix(10, 0))
	assert.NotEqual(t, first, s.ID())
}

func TestSession_DangerClearedOnStart(t *testing.T) {
	s := NewSession(Config{StartInSlave: true})
	s.SetDanger()
	assert.True(t, s.Danger())
	s.Start(time.Unix(0, 0))
	assert.False(t, s.Danger())
}

func TestSession_Snapshot(t *testing.T) {
	s := NewSession(Config{Duration: time.Minute, StartInSlave: true})
	t0 := time.Unix(0, 0)
	s.Start(t0)

	snap := s.Snapshot(t0.Add(15 * time.Second))
	assert.Equal(t, "slave", snap.Mode)
	assert.Equal(t, "started", snap.State)
	assert.Equal(t, 45*time.Second, snap.Remaining)
	assert.Equal(t, s.ID().String(), snap.ID)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"start", Start},
		{"STOP", Stop},
		{" danger\n", Danger},
		{"Obey", Obey},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseCommand("jump")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestInbox_LastWriteWins(t *testing.T) {
	b := NewInbox()

	_, ok := b.Drain()
	assert.False(t, ok)

	b.Post(Event{Command: Start})
	b.Post(Event{Command: Danger})
	b.Post(Event{Command: Stop})

	ev, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, Stop, ev.Command)
	assert.Equal(t, uint64(2), b.Overwritten())

	_, ok = b.Drain()
	assert.False(t, ok, "drain must clear the slot")
}

func TestInbox_ConcurrentPost(t *testing.T) {
	b := NewInbox()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Post(Event{Command: Obey})
		}()
	}
	wg.Wait()

	ev, ok := b.Drain()
	require.True(t, ok)
	assert.Equal(t, Obey, ev.Command)
	assert.Equal(t, uint64(49), b.Overwritten())
}
