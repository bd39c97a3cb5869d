package arbiter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/game"
)

// fakePort replays scripted input and records writes.
type fakePort struct {
	r   *strings.Reader
	mu  sync.Mutex
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func TestSerialLink_PostsCommands(t *testing.T) {
	port := &fakePort{r: strings.NewReader("obey\n\n# heartbeat\nwarp\r\nSTART\r\n")}
	inbox := game.NewInbox()
	link := NewSerialLink(port, inbox)

	require.NoError(t, link.Run(context.Background()))

	ev, ok := inbox.Drain()
	require.True(t, ok)
	assert.Equal(t, game.Start, ev.Command)
	assert.Equal(t, "serial", ev.Source)
	assert.Equal(t, uint64(1), inbox.Overwritten(), "obey was overwritten by start")
	assert.Equal(t, "ack obey\nack start\n", port.written())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

type errPort struct{ errReader }

func (errPort) Write(b []byte) (int, error) { return len(b), nil }
func (errPort) Close() error                { return nil }

func TestSerialLink_ReadError(t *testing.T) {
	link := NewSerialLink(errPort{}, game.NewInbox())
	err := link.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unplugged")
}

var upgrader = websocket.Upgrader{}

func TestWSClient_ReceivesCommand(t *testing.T) {
	hello := make(chan Hello, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var h Hello
		if err := conn.ReadJSON(&h); err == nil {
			hello <- h
		}
		conn.WriteJSON(map[string]string{"command": "nonsense"})
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]string{"command": "danger"})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	inbox := game.NewInbox()
	cfg := DefaultWSConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.RobotID = "rover-7"
	client := NewWSClient(cfg, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case h := <-hello:
		assert.Equal(t, Hello{Type: "hello", Robot: "rover-7"}, h)
	case <-time.After(2 * time.Second):
		t.Fatal("no hello received")
	}

	require.Eventually(t, func() bool {
		ev, ok := inbox.Drain()
		return ok && ev.Command == game.Danger && ev.Source == "ws"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestWSClient_Reconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns.Add(1) == 1 {
			// Drop the first connection straight away.
			return
		}
		conn.WriteJSON(map[string]string{"command": "start"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	inbox := game.NewInbox()
	cfg := DefaultWSConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.MinBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWSClient(cfg, inbox).Run(ctx)

	require.Eventually(t, func() bool {
		ev, ok := inbox.Drain()
		return ok && ev.Command == game.Start
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}
