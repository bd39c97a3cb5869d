package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/pkg/game"
	"github.com/teslashibe/go-rover/pkg/metrics"
)

type statusDoc struct {
	State string `json:"state"`
}

func TestStatus(t *testing.T) {
	s := NewServer(":0", nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("Status before telemetry = %d, want 503", resp.StatusCode)
	}

	s.PublishStatus(statusDoc{State: "waiting"})

	resp, err = s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	var got statusDoc
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "waiting" {
		t.Errorf("state = %q", got.State)
	}
}

func TestCommand(t *testing.T) {
	s := NewServer(":0", nil)

	var mu sync.Mutex
	var received []string
	s.OnCommand = func(name string) error {
		if _, err := game.ParseCommand(name); err != nil {
			return err
		}
		mu.Lock()
		received = append(received, name)
		mu.Unlock()
		return nil
	}

	tests := []struct {
		name string
		want int
	}{
		{"start", 202},
		{"danger", 202},
		{"dance", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.App().Test(httptest.NewRequest("POST", "/api/command/"+tt.name, nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(received, ",") != "start,danger" {
		t.Errorf("received = %v", received)
	}
}

func TestCommandNotConfigured(t *testing.T) {
	s := NewServer(":0", nil)
	resp, err := s.App().Test(httptest.NewRequest("POST", "/api/command/start", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("Status = %d, want 500", resp.StatusCode)
	}
}

func TestTuning(t *testing.T) {
	s := NewServer(":0", nil)

	params := map[string]float64{"track_gain": 2}
	s.OnGetTuning = func() any { return params }
	s.OnSetTuning = func(body []byte) error {
		var in map[string]float64
		if err := json.Unmarshal(body, &in); err != nil {
			return err
		}
		if v, ok := in["track_gain"]; ok && v < 0 {
			return errors.New("track_gain must be positive")
		}
		for k, v := range in {
			params[k] = v
		}
		return nil
	}

	req := httptest.NewRequest("POST", "/api/tuning", strings.NewReader(`{"track_gain": 3}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	var got map[string]float64
	_ = json.NewDecoder(resp.Body).Decode(&got)
	if got["track_gain"] != 3 {
		t.Errorf("echo = %v", got)
	}

	resp, _ = s.App().Test(httptest.NewRequest("POST", "/api/tuning", strings.NewReader(`{"track_gain": -1}`)))
	if resp.StatusCode != 400 {
		t.Errorf("invalid tuning Status = %d, want 400", resp.StatusCode)
	}
}

func TestGrid(t *testing.T) {
	s := NewServer(":0", nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/grid", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("Status without grid = %d, want 404", resp.StatusCode)
	}

	s.OnGetGrid = func() any { return [][]int8{{1, 1}, {1, 0}} }
	resp, err = s.App().Test(httptest.NewRequest("GET", "/api/grid", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	var cells [][]int8
	if err := json.NewDecoder(resp.Body).Decode(&cells); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cells) != 2 || cells[1][1] != 0 {
		t.Errorf("grid = %v", cells)
	}
}

func TestLogs(t *testing.T) {
	s := NewServer(":0", nil)
	for i := 0; i < maxLogs+10; i++ {
		s.AddLog(slog.LevelInfo, fmt.Sprintf("line %d", i))
	}

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/logs", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	var logs []LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != maxLogs {
		t.Fatalf("backlog = %d, want %d", len(logs), maxLogs)
	}
	if logs[0].Message != "line 10" || logs[0].Level != "INFO" {
		t.Errorf("oldest = %+v", logs[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Stalls.Add(2)
	s := NewServer(":0", m)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "rover_stalls_total 2") {
		t.Errorf("metrics body missing stall counter:\n%s", body)
	}
}

func TestWebSocketUpgradeRequired(t *testing.T) {
	s := NewServer(":0", nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestStatusWebSocket(t *testing.T) {
	s := NewServer(":0", nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ln)
	defer s.Shutdown()

	s.PublishStatus(statusDoc{State: "waiting"})

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/status", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	read := func() (string, statusDoc) {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env struct {
			Type string    `json:"type"`
			Data statusDoc `json:"data"`
		}
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return env.Type, env.Data
	}

	if kind, doc := read(); kind != "status" || doc.State != "waiting" {
		t.Errorf("initial = %s %+v", kind, doc)
	}

	// Registration with the hub is asynchronous; publish until it lands.
	deadline := time.Now().Add(time.Second)
	for s.statusHub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.PublishStatus(statusDoc{State: "searching_targets"})

	if _, doc := read(); doc.State != "searching_targets" {
		t.Errorf("update = %+v", doc)
	}
}
