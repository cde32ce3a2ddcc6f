package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	jsoniter "github.com/json-iterator/go"

	"vibetunnel/server/src/fanout"
)

var bufferJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// BufferHandler serves the single multi-session WebSocket endpoint at
// /buffers: one socket subscribing to many sessions by id, rather than one
// socket per session.
type BufferHandler struct {
	*BaseHandler
	hub      *fanout.BufferHub
	upgrader websocket.Upgrader
	version  string
}

// NewBufferHandler wires a BufferHandler over hub.
func NewBufferHandler(hub *fanout.BufferHub, version string) *BufferHandler {
	return &BufferHandler{
		BaseHandler: NewBaseHandler(),
		hub:         hub,
		version:     version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleBuffers upgrades the connection and services subscribe/unsubscribe/
// ping control messages plus binary frame fan-out until the client
// disconnects.
func (h *BufferHandler) HandleBuffers(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("buffers: websocket upgrade failed")
		return
	}
	defer conn.Close()

	greeting := fanout.Greeting(h.version)
	if b, err := bufferJSON.Marshal(greeting); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var mu sync.Mutex
	unsubscribers := make(map[string]func())
	defer func() {
		mu.Lock()
		for _, unsub := range unsubscribers {
			unsub()
		}
		mu.Unlock()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg fanout.ControlMessage
		if err := bufferJSON.Unmarshal(data, &msg); err != nil {
			logrus.WithError(err).Debug("buffers: dropping malformed control frame")
			continue
		}

		reply, err := fanout.HandleControl(msg)
		if err != nil {
			logrus.WithError(err).Debug("buffers: dropping invalid control message")
			continue
		}

		switch msg.Type {
		case "subscribe":
			client, unsub := h.hub.Register(conn, msg.SessionID)
			mu.Lock()
			unsubscribers[msg.SessionID] = unsub
			mu.Unlock()
			go client.WritePump(ctx)
		case "unsubscribe":
			mu.Lock()
			if unsub, ok := unsubscribers[msg.SessionID]; ok {
				unsub()
				delete(unsubscribers, msg.SessionID)
			}
			mu.Unlock()
		}

		if reply != nil {
			b, err := bufferJSON.Marshal(reply)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
