package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnknownCommand is returned by ParseCommand for unrecognised words.
var ErrUnknownCommand = errors.New("game: unknown command")

// Command is an edge trigger from the external game controller.
type Command int

const (
	None Command = iota
	Start
	Stop
	Danger
	Obey
)

func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Danger:
		return "danger"
	case Obey:
		return "obey"
	default:
		return "none"
	}
}

// ParseCommand maps a command word, case-insensitively, to a Command.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return Start, nil
	case "stop":
		return Stop, nil
	case "danger":
		return Danger, nil
	case "obey":
		return Obey, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Event is a command with its arrival time.
type Event struct {
	Command Command   `json:"command"`
	At      time.Time `json:"at"`
	Source  string    `json:"source,omitempty"`
}

// Inbox is a single-slot mailbox between transport goroutines and the
// control loop. A newer event overwrites an unread one; there is no queue.
type Inbox struct {
	mu      sync.Mutex
	pending Event
	has     bool
	dropped uint64
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Post stores ev, replacing any event not yet drained.
func (b *Inbox) Post(ev Event) {
	b.mu.Lock()
	if b.has {
		b.dropped++
	}
	b.pending = ev
	b.has = true
	b.mu.Unlock()
}

// Drain returns and clears the pending event.
func (b *Inbox) Drain() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.has {
		return Event{}, false
	}
	ev := b.pending
	b.pending = Event{}
	b.has = false
	return ev, true
}

// Overwritten returns how many events were replaced before being read.
func (b *Inbox) Overwritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
