// Package game tracks the match: who may start it, when it started and
// how much time is left.
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is the length of a match.
const DefaultDuration = 400 * time.Second

// Mode decides whether the external controller is obeyed.
type Mode int

const (
	Free Mode = iota
	Slave
)

func (m Mode) String() string {
	if m == Slave {
		return "slave"
	}
	return "free"
}

// State is whether the match clock is running.
type State int

const (
	Stopped State = iota
	Started
)

func (s State) String() string {
	if s == Started {
		return "started"
	}
	return "stopped"
}

// Config holds match settings.
type Config struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	// StartInSlave skips the obey handshake.
	StartInSlave bool `json:"start_in_slave" yaml:"start_in_slave"`
}

// DefaultConfig returns the standard 400 second match.
func DefaultConfig() Config {
	return Config{Duration: DefaultDuration}
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	ID        string        `json:"id,omitempty"`
	Mode      string        `json:"mode"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Remaining time.Duration `json:"-"`
	Seconds   float64       `json:"remaining_s"`
	Danger    bool          `json:"danger"`
}

// Session is the match state. Mode and state are independent axes.
type Session struct {
	mu        sync.RWMutex
	duration  time.Duration
	mode      Mode
	state     State
	id        uuid.UUID
	startedAt time.Time
	danger    bool
}

// NewSession creates a stopped session.
func NewSession(cfg Config) *Session {
	d := cfg.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	s := &Session{duration: d}
	if cfg.StartInSlave {
		s.mode = Slave
	}
	return s
}

// Obey switches to Slave mode so a start command will be honoured.
func (s *Session) Obey() {
	s.mu.Lock()
	s.mode = Slave
	s.mu.Unlock()
}

// Start begins the match at now. It is ignored unless the session is in
// Slave mode, and reports whether it took effect.
func (s *Session) Start(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Slave {
		return false
	}
	s.state = Started
	s.startedAt = now
	s.id = uuid.New()
	s.danger = false
	return true
}

// Stop ends the match.
func (s *Session) Stop() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

// SetDanger raises the danger flag for the current match.
func (s *Session) SetDanger() {
	s.mu.Lock()
	s.danger = true
	s.mu.Unlock()
}

// Danger reports whether danger was signalled during this match.
func (s *Session) Danger() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.danger
}

// Remaining returns duration minus elapsed time while started, and the
// full duration otherwise. It may be negative once the match is overdue.
func (s *Session) Remaining(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remaining(now)
}

func (s *Session) remaining(now time.Time) time.Duration {
	if s.state != Started {
		return s.duration
	}
	return s.duration - now.Sub(s.startedAt)
}

// CheckExpired stops the session when the countdown has run out and
// reports whether it did so.
func (s *Session) CheckExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Started && s.remaining(now) <= 0 {
		s.state = Stopped
		return true
	}
	return false
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Duration returns the match length.
func (s *Session) Duration() time.Duration { return s.duration }

// ID returns the identifier of the current or last match, or uuid.Nil.
func (s *Session) ID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Snapshot returns the session for telemetry.
func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Mode:      s.mode.String(),
		State:     s.state.String(),
		StartedAt: s.startedAt,
		Remaining: s.remaining(now),
		Danger:    s.danger,
	}
	snap.Seconds = snap.Remaining.Seconds()
	if s.id != uuid.Nil {
		snap.ID = s.id.String()
	}
	return snap
}
