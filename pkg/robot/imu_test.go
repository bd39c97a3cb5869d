package robot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestIMUPoller_Poll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/imu" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"heading":271.5,"ax":120,"ay":-40}`))
	}))
	defer srv.Close()

	p := NewIMUPoller(srv.URL+"/", time.Second)
	if _, at := p.Reading(); !at.IsZero() {
		t.Fatal("fresh poller has a reading")
	}
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if h := p.Heading(); h != 271.5 {
		t.Errorf("heading = %v, want 271.5", h)
	}
	if ax, ay := p.Acceleration(); ax != 120 || ay != -40 {
		t.Errorf("acceleration = (%v, %v)", ax, ay)
	}
}

func TestIMUPoller_ErrorKeepsLastReading(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "sensor offline", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"heading":90}`))
	}))
	defer srv.Close()

	p := NewIMUPoller(srv.URL, time.Second)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	fail.Store(true)
	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("Poll succeeded against a failing daemon")
	}

	if p.Heading() != 90 {
		t.Errorf("heading = %v, want last good reading 90", p.Heading())
	}
	if p.Errors() != 1 {
		t.Errorf("errors = %d, want 1", p.Errors())
	}
}

func TestIMUPoller_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"heading":10}`))
	}))
	defer srv.Close()

	p := NewIMUPoller(srv.URL, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.Heading() != 10 {
		t.Errorf("heading = %v, want 10", p.Heading())
	}
}
