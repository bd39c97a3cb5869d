package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/game"
)

// WSConfig configures the websocket link to the game controller.
type WSConfig struct {
	URL              string        `json:"url" yaml:"url"`
	RobotID          string        `json:"robot_id" yaml:"robot_id"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	MinBackoff       time.Duration `json:"min_backoff" yaml:"min_backoff"`
	MaxBackoff       time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// DefaultWSConfig returns the reconnect policy used in competition.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		RobotID:          "rover",
		HandshakeTimeout: 5 * time.Second,
		MinBackoff:       500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
	}
}

// Hello is sent once per connection.
type Hello struct {
	Type  string `json:"type"`
	Robot string `json:"robot"`
}

// wireCommand is one controller message.
type wireCommand struct {
	Command string `json:"command"`
}

// WSClient keeps a websocket connection to the game controller open and
// posts every command it receives to the inbox.
type WSClient struct {
	cfg    WSConfig
	inbox  *game.Inbox
	dialer *websocket.Dialer
	logger *slog.Logger
	now    func() time.Time
}

// NewWSClient creates a client. Call Run to connect.
func NewWSClient(cfg WSConfig, inbox *game.Inbox) *WSClient {
	return &WSClient{
		cfg:   cfg,
		inbox: inbox,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: log.Component("arbiter").With("link", "ws", "url", cfg.URL),
		now:    time.Now,
	}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (c *WSClient) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.logger.Warn("controller link down", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (c *WSClient) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(Hello{Type: "hello", Robot: c.cfg.RobotID}); err != nil {
		return true, err
	}
	c.logger.Info("controller link up")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return true, errors.New("closed by controller")
			}
			return true, err
		}
		c.handle(data)
	}
}

func (c *WSClient) handle(data []byte) {
	var msg wireCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("malformed controller message", "error", err)
		return
	}
	cmd, err := game.ParseCommand(msg.Command)
	if err != nil {
		c.logger.Warn("unknown controller command", "command", msg.Command)
		return
	}
	c.inbox.Post(game.Event{Command: cmd, At: c.now(), Source: "ws"})
}
