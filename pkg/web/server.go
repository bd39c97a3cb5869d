// Package web provides the rover's dashboard and control API.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/metrics"
)

// maxLogs is the size of the log backlog.
const maxLogs = 500

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Server is the dashboard and control API server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	// Latest telemetry, pushed by the control loop
	status   any
	statusMu sync.RWMutex

	logs   []LogEntry
	logsMu sync.RWMutex

	statusHub *hub.Hub
	logHub    *hub.Hub
	cancel    context.CancelFunc

	// OnCommand receives controller command words (start, stop, ...)
	OnCommand func(name string) error

	// Tuning API callbacks
	OnGetTuning func() any
	OnSetTuning func(body []byte) error

	// OnGetGrid returns the occupancy grid for the map view
	OnGetGrid func() any
}

// NewServer creates a server listening on addr (":8080"). When m is
// non-nil its registry is served at /metrics.
func NewServer(addr string, m *metrics.Metrics) *Server {
	s := &Server{
		addr:      addr,
		logger:    log.Component("web"),
		logs:      make([]LogEntry, 0, maxLogs),
		statusHub: hub.New("status", 1),
		logHub:    hub.New("logs", maxLogs),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/command/:name", s.handleCommand)
	api.Get("/tuning", s.handleGetTuning)
	api.Post("/tuning", s.handleSetTuning)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/grid", s.handleGetGrid)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) startHubs() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
}

// Start starts the web server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", s.addr)
	s.startHubs()
	return s.app.Listen(s.addr)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.startHubs()
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// PublishStatus stores the latest telemetry and broadcasts it.
func (s *Server) PublishStatus(v any) {
	s.statusMu.Lock()
	s.status = v
	s.statusMu.Unlock()

	if err := s.statusHub.BroadcastJSON("status", v); err != nil {
		s.logger.Debug("status encode failed", "error", err)
	}
}

// AddLog appends a log entry and broadcasts it.
func (s *Server) AddLog(level slog.Level, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05.000"),
		Level:   level.String(),
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	_ = s.logHub.BroadcastJSON("log", entry)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.app.Shutdown()
}
