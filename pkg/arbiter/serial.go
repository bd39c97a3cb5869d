// Package arbiter connects the rover to the external game controller and
// turns its command words into game.Events posted to the control loop's
// inbox.
package arbiter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/game"
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriter
	io.Closer
}

// SerialConfig describes the radio bridge's serial port.
type SerialConfig struct {
	Path     string `json:"path" yaml:"path"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
}

// DefaultSerialConfig returns 115200 8N1 on the first USB serial device.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{Path: "/dev/ttyUSB0", BaudRate: 115200}
}

// OpenSerial opens the radio bridge port.
func OpenSerial(cfg SerialConfig, inbox *game.Inbox) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return NewSerialLink(port, inbox), nil
}

// SerialLink reads newline-delimited command words from a radio bridge.
// Each recognised word is acknowledged with "ack <word>".
type SerialLink struct {
	port   Port
	inbox  *game.Inbox
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex
}

// NewSerialLink wraps an open port.
func NewSerialLink(port Port, inbox *game.Inbox) *SerialLink {
	return &SerialLink{
		port:   port,
		inbox:  inbox,
		logger: log.Component("arbiter").With("link", "serial"),
		now:    time.Now,
	}
}

// Run reads lines until ctx is done or the port fails. A closed port ends
// Run with a nil error.
func (l *SerialLink) Run(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			l.handle(line)
		}
	}
}

func (l *SerialLink) handle(line string) {
	word := strings.TrimSpace(line)
	if word == "" || strings.HasPrefix(word, "#") {
		return
	}
	cmd, err := game.ParseCommand(word)
	if err != nil {
		l.logger.Warn("ignoring line", "line", word, "error", err)
		return
	}
	l.inbox.Post(game.Event{Command: cmd, At: l.now(), Source: "serial"})
	if err := l.write("ack " + cmd.String()); err != nil {
		l.logger.Debug("ack failed", "error", err)
	}
}

func (l *SerialLink) write(s string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := io.WriteString(l.port, s+"\n")
	return err
}

// Close closes the port.
func (l *SerialLink) Close() error {
	if err := l.port.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}
