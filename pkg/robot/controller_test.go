package robot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// mockDriver records all commands for testing
type mockDriver struct {
	mu    sync.Mutex
	calls []Command
	err   error
}

func (m *mockDriver) SetCommand(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, cmd)
	return nil
}

func (m *mockDriver) last() Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Command{}
	}
	return m.calls[len(m.calls)-1]
}

func (m *mockDriver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestCommand_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   Command
		want Command
	}{
		{"inside", Command{Throttle: 50, Steering: -10, Auxiliary: 20, Tilt: -5}, Command{Throttle: 50, Steering: -10, Auxiliary: 20, Tilt: -5}},
		{"above", Command{Throttle: 150, Steering: 90, Auxiliary: 200, Tilt: 60}, Command{Throttle: 100, Steering: 45, Auxiliary: 100, Tilt: 40}},
		{"below", Command{Throttle: -150, Steering: -90, Auxiliary: -200, Tilt: -60}, Command{Throttle: -100, Steering: -45, Auxiliary: -100, Tilt: -40}},
		{"nan", Command{Throttle: math.NaN(), Steering: math.NaN()}, Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestController_BatchesSetters(t *testing.T) {
	mock := &mockDriver{}
	ctrl := NewRateController(mock, 10*time.Millisecond)

	ctrl.SetThrottle(60)
	ctrl.SetSteering(-12)
	ctrl.SetAuxiliary(50)
	ctrl.SetTilt(-20)
	ctrl.tick()

	if mock.callCount() != 1 {
		t.Fatalf("expected one batched call, got %d", mock.callCount())
	}
	got := mock.last()
	if !floatEquals(got.Throttle, 60) || !floatEquals(got.Steering, -12) ||
		!floatEquals(got.Auxiliary, 50) || !floatEquals(got.Tilt, -20) {
		t.Errorf("sent %+v", got)
	}
}

func TestController_ClampsBeforeSending(t *testing.T) {
	mock := &mockDriver{}
	ctrl := NewRateController(mock, 10*time.Millisecond)

	ctrl.SetThrottle(500)
	ctrl.SetSteering(-500)
	ctrl.tick()

	got := mock.last()
	if got.Throttle != MaxThrottle || got.Steering != -MaxSteering {
		t.Errorf("sent %+v, want clamped", got)
	}
}

func TestController_DeadZone(t *testing.T) {
	mock := &mockDriver{}
	ctrl := NewRateController(mock, 10*time.Millisecond)

	ctrl.SetThrottle(40)
	ctrl.tick()
	ctrl.SetThrottle(40.2)
	ctrl.tick()
	ctrl.tick()

	if mock.callCount() != 1 {
		t.Errorf("expected small changes to be skipped, got %d calls", mock.callCount())
	}
	if st := ctrl.Stats(); st.Skipped != 2 || st.Ticks != 3 {
		t.Errorf("stats = %+v", st)
	}

	ctrl.SetThrottle(0)
	ctrl.tick()
	if mock.callCount() != 2 || mock.last().Throttle != 0 {
		t.Error("stop command not sent")
	}
}

func TestController_HaltBypassesDeadZone(t *testing.T) {
	mock := &mockDriver{}
	ctrl := NewRateController(mock, 10*time.Millisecond)

	ctrl.SetThrottle(30)
	ctrl.tick()
	ctrl.SetThrottle(0.4)
	ctrl.tick()
	if mock.callCount() != 2 || mock.last().Throttle != 0.4 {
		t.Fatalf("setup commands not sent: %+v", mock.calls)
	}

	ctrl.halt()
	if mock.callCount() != 3 {
		t.Fatalf("halt inside the dead zone was skipped, %d calls", mock.callCount())
	}
	if last := mock.last(); last.Throttle != 0 {
		t.Errorf("halt sent %+v, want zero", last)
	}
}

func TestController_RetriesAfterError(t *testing.T) {
	mock := &mockDriver{err: errors.New("daemon down")}
	ctrl := NewRateController(mock, 10*time.Millisecond)
	var reported int
	ctrl.OnError = func(error) { reported++ }

	ctrl.SetThrottle(30)
	ctrl.tick()
	ctrl.tick()
	if st := ctrl.Stats(); st.Errors != 2 {
		t.Errorf("errors = %d, want 2", st.Errors)
	}
	if reported != 2 {
		t.Errorf("OnError calls = %d, want 2", reported)
	}

	mock.mu.Lock()
	mock.err = nil
	mock.mu.Unlock()
	ctrl.tick()
	if mock.callCount() != 1 || mock.last().Throttle != 30 {
		t.Error("failed command was not resent")
	}
}

func TestController_ThreadSafe(t *testing.T) {
	ctrl := NewRateController(&mockDriver{}, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(val float64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ctrl.SetThrottle(val)
				ctrl.SetSteering(-val)
			}
		}(float64(i))
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ctrl.Command()
			}
		}()
	}
	wg.Wait()
}

func TestController_RunStop(t *testing.T) {
	mock := &mockDriver{}
	ctrl := NewRateController(mock, 5*time.Millisecond)
	ctrl.SetThrottle(50)

	done := make(chan struct{})
	go func() {
		ctrl.Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	ctrl.Stop()
	ctrl.Stop()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("controller did not stop within timeout")
	}

	if mock.callCount() < 2 {
		t.Fatalf("expected drive and halt calls, got %d", mock.callCount())
	}
	if last := mock.last(); last.Throttle != 0 {
		t.Errorf("driver left running: %+v", last)
	}
}

func TestController_RunContextCancel(t *testing.T) {
	ctrl := NewRateController(&mockDriver{}, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("controller ignored context cancellation")
	}
}

func TestController_NilDriver(t *testing.T) {
	ctrl := NewRateController(nil, 10*time.Millisecond)

	// Should not panic with nil driver
	ctrl.SetThrottle(50)
	ctrl.tick()
}
