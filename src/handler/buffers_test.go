package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"vibetunnel/server/src/fanout"
	"vibetunnel/server/src/terminal"
)

type fakeBufferSource struct {
	grid *terminal.Grid
}

func (f fakeBufferSource) Snapshot() (*terminal.Grid, int, int, bool) {
	return f.grid, 0, 0, false
}

func newBuffersTestServer(t *testing.T, hub *fanout.BufferHub) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewBufferHandler(hub, "test-version")
	r.GET("/buffers", h.HandleBuffers)

	srv := httptest.NewServer(r)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/buffers"
	return srv, wsURL
}

func TestHandleBuffersSendsGreetingOnConnect(t *testing.T) {
	hub := fanout.NewBufferHub()
	srv, wsURL := newBuffersTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("greeting message type = %d, want text", msgType)
	}
	if !strings.Contains(string(data), `"connected"`) {
		t.Fatalf("greeting = %s, want it to mention \"connected\"", data)
	}
	if !strings.Contains(string(data), "test-version") {
		t.Fatalf("greeting = %s, want it to carry the version", data)
	}
}

func TestHandleBuffersPingPong(t *testing.T) {
	hub := fanout.NewBufferHub()
	srv, wsURL := newBuffersTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if !strings.Contains(string(data), "pong") {
		t.Fatalf("reply = %s, want \"pong\"", data)
	}
}

func TestHandleBuffersSubscribeReceivesPublishedFrame(t *testing.T) {
	hub := fanout.NewBufferHub()
	srv, wsURL := newBuffersTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","sessionId":"s1"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.Publish("s1", []byte("frame-data"))
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		msgType, data, err := conn.ReadMessage()
		if err == nil {
			if msgType == websocket.BinaryMessage && string(data) == "frame-data" {
				return
			}
			continue
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for published frame")
		}
	}
}

func TestHandleBuffersSubscribeReceivesInitialSnapshotWithoutPublish(t *testing.T) {
	hub := fanout.NewBufferHub()
	hub.SetSource("s1", fakeBufferSource{grid: terminal.NewGrid(80, 24, 0)})
	srv, wsURL := newBuffersTestServer(t, hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","sessionId":"s1"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if msgType != websocket.BinaryMessage || len(data) == 0 || data[0] != 0xBF {
		t.Fatalf("initial frame = %v, want a binary frame starting with the 0xBF magic byte", data)
	}
}
