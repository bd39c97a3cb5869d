package robot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/internal/log"
)

// IMUReading is one inertial sample from the daemon.
type IMUReading struct {
	Heading float64 `json:"heading"` // compass degrees, 0 = north, clockwise
	AX      float64 `json:"ax"`      // milli-g, forward
	AY      float64 `json:"ay"`      // milli-g, right
}

// IMUPoller polls the daemon's /api/imu endpoint and caches the latest
// reading. Heading and Acceleration never block on the network.
type IMUPoller struct {
	BaseURL string
	client  *http.Client
	rate    time.Duration
	logger  *slog.Logger

	mu   sync.RWMutex
	last IMUReading
	at   time.Time

	errors   atomic.Uint64
	lastWarn time.Time
}

// NewIMUPoller creates a poller for the daemon at baseURL.
func NewIMUPoller(baseURL string, rate time.Duration) *IMUPoller {
	return &IMUPoller{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  httpc.Client,
		rate:    rate,
		logger:  log.Component("imu"),
	}
}

// WithClient replaces the HTTP client.
func (p *IMUPoller) WithClient(c *http.Client) *IMUPoller {
	p.client = c
	return p
}

// Poll fetches one reading.
func (p *IMUPoller) Poll(ctx context.Context) error {
	var r IMUReading
	if err := httpc.GetJSON(ctx, p.client, p.BaseURL+"/api/imu", &r); err != nil {
		p.errors.Add(1)
		return err
	}
	p.mu.Lock()
	p.last = r
	p.at = time.Now()
	p.mu.Unlock()
	return nil
}

// Run polls at the configured rate until ctx is done.
func (p *IMUPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				if time.Since(p.lastWarn) > errorLogInterval {
					p.logger.Warn("imu poll failed", "error", err, "total_errors", p.errors.Load())
					p.lastWarn = time.Now()
				}
			}
		}
	}
}

// Reading returns the latest sample and when it arrived.
func (p *IMUPoller) Reading() (IMUReading, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.at
}

// Heading returns the latest compass heading.
func (p *IMUPoller) Heading() float64 {
	r, _ := p.Reading()
	return r.Heading
}

// Acceleration returns the latest planar acceleration.
func (p *IMUPoller) Acceleration() (ax, ay float64) {
	r, _ := p.Reading()
	return r.AX, r.AY
}

// Errors returns the number of failed polls.
func (p *IMUPoller) Errors() uint64 {
	return p.errors.Load()
}
