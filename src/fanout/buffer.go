package fanout

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
	"vibetunnel/server/src/snapshot"
	"vibetunnel/server/src/terminal"
)

// bufferMagic prefixes every binary frame sent over /buffers so a client
// can tell a raw snapshot frame apart from a JSON control message sharing
// the same socket.
var bufferMagic = []byte{0xBF}

// subscriberQueueSize bounds the per-client backlog; once full, the oldest
// queued frame is dropped rather than blocking the broadcaster.
const subscriberQueueSize = 8

// ControlMessage is the JSON control protocol spoken alongside binary
// frames on /buffers.
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Source supplies the latest renderable state for one session; the
// Terminal Model implements this.
type Source interface {
	Snapshot() (*terminal.Grid, int, int, bool)
}

// BufferHub multiplexes snapshot pushes from many session models to many
// WebSocket subscribers, one hub per server process.
type BufferHub struct {
	mu          sync.Mutex
	subscribers map[string]map[*bufferClient]struct{}
	sources     map[string]Source
}

// NewBufferHub returns an empty hub.
func NewBufferHub() *BufferHub {
	return &BufferHub{
		subscribers: make(map[string]map[*bufferClient]struct{}),
		sources:     make(map[string]Source),
	}
}

// SetSource registers src as sessionID's snapshot provider so a client
// subscribing later gets an immediate frame instead of waiting on the next
// change. Handlers call this when a session's terminal model comes up.
func (h *BufferHub) SetSource(sessionID string, src Source) {
	h.mu.Lock()
	h.sources[sessionID] = src
	h.mu.Unlock()
}

// RemoveSource drops sessionID's snapshot provider, typically once its
// session exits or is cleaned up.
func (h *BufferHub) RemoveSource(sessionID string) {
	h.mu.Lock()
	delete(h.sources, sessionID)
	h.mu.Unlock()
}

type bufferClient struct {
	conn  *websocket.Conn
	queue chan []byte
}

// Register opens a subscription for conn to sessionID and returns a
// closure-based unsubscribe func.
func (h *BufferHub) Register(conn *websocket.Conn, sessionID string) (*bufferClient, func()) {
	c := &bufferClient{conn: conn, queue: make(chan []byte, subscriberQueueSize)}

	h.mu.Lock()
	set, ok := h.subscribers[sessionID]
	if !ok {
		set = make(map[*bufferClient]struct{})
		h.subscribers[sessionID] = set
	}
	set[c] = struct{}{}
	src := h.sources[sessionID]
	h.mu.Unlock()

	if src != nil {
		grid, cx, cy, bell := src.Snapshot()
		initial := EncodeFrame(sessionID, snapshot.Encode(grid, 0, cx, cy, bell))
		select {
		case c.queue <- initial:
		default:
		}
	}

	return c, func() {
		h.mu.Lock()
		if set, ok := h.subscribers[sessionID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscribers, sessionID)
			}
		}
		h.mu.Unlock()
		close(c.queue)
	}
}

// Publish enqueues an already-encoded frame to every subscriber of
// sessionID, dropping the oldest queued frame for any client whose queue is
// full.
func (h *BufferHub) Publish(sessionID string, frame []byte) {
	h.mu.Lock()
	set := h.subscribers[sessionID]
	clients := make([]*bufferClient, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.queue <- frame:
		default:
			select {
			case <-c.queue:
			default:
			}
			select {
			case c.queue <- frame:
			default:
			}
		}
	}
}

// EncodeFrame wraps a raw snapshot encoding with the magic byte and a
// sessionId length-prefixed so the client can demux frames for multiple
// subscribed sessions sharing one socket.
func EncodeFrame(sessionID string, payload []byte) []byte {
	idBytes := []byte(sessionID)
	out := make([]byte, 0, 1+4+len(idBytes)+len(payload))
	out = append(out, bufferMagic...)
	idLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(idLen, uint32(len(idBytes)))
	out = append(out, idLen...)
	out = append(out, idBytes...)
	out = append(out, payload...)
	return out
}

// WritePump drains c's queue to the websocket connection until ctx ends or
// the connection errors.
func (c *bufferClient) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.queue:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logrus.WithError(err).Debug("fanout: buffer write failed, closing")
				return
			}
		}
	}
}

// HandleControl validates one decoded control message and returns the
// reply to send, if any. It does not touch hub state: the caller performs
// the actual subscribe/unsubscribe.
func HandleControl(msg ControlMessage) (reply *ControlMessage, err error) {
	switch msg.Type {
	case "ping":
		return &ControlMessage{Type: "pong"}, nil
	case "subscribe", "unsubscribe":
		if msg.SessionID == "" {
			return nil, errs.New(errs.KindInvalidRequest, "subscribe/unsubscribe requires sessionId")
		}
		return nil, nil
	default:
		return nil, errs.New(errs.KindMalformedFrame, "unknown control message type: "+msg.Type)
	}
}

// Greeting builds the {type:"connected", version} message sent once a
// /buffers client first connects.
func Greeting(version string) ControlMessage {
	return ControlMessage{Type: "connected", Version: version}
}
