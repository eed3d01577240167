package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signwatch/internal/logging"
	"signwatch/internal/pipeline"
	"signwatch/internal/violations"
)

// EventViolation carries violation events to viewers
const EventViolation = "violation"

// HubConfig controls message format and buffering
type HubConfig struct {
	BinaryFrames bool // Send JPEG as a binary message instead of base64
	ClientBuffer int  // Messages queued per client before frames are dropped
}

// DetectionHub fans annotated frames out to WebSocket viewers. Each client
// has its own queue and writer goroutine, so Emit never waits on the network.
type DetectionHub struct {
	cfg HubConfig
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// outbound is one logical message; binary, when set, is written right after text
type outbound struct {
	text   []byte
	binary []byte
}

type client struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub(cfg HubConfig, log zerolog.Logger) *DetectionHub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 4
	}
	return &DetectionHub{
		cfg:     cfg,
		log:     logging.Component(log, "WS"),
		clients: make(map[*client]struct{}),
	}
}

// register adds a connection and returns its client handle
func (h *DetectionHub) register(conn *websocket.Conn) (*client, bool) {
	c := &client{
		conn: conn,
		send: make(chan outbound, h.cfg.ClientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c] = struct{}{}
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Int("total", len(h.clients)).Msg("Client registered")
	return c, true
}

// unregister removes a client; it is safe to call more than once
func (h *DetectionHub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.log.Info().Int("total", len(h.clients)).Msg("Client unregistered")
	}
	h.mu.Unlock()
	c.close()
}

// Emit encodes the payload once and queues it for every client. Clients
// whose queue is full miss this message.
func (h *DetectionHub) Emit(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed || len(h.clients) == 0 {
		return
	}

	msg, err := h.encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Error marshaling message")
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *DetectionHub) encode(event string, payload any) (outbound, error) {
	var out outbound
	data := payload

	switch p := payload.(type) {
	case pipeline.VideoFrame:
		data = NewFrameMessage(p, h.cfg.BinaryFrames)
		if h.cfg.BinaryFrames {
			out.binary = p.JPEG
		}
	case *pipeline.VideoFrame:
		data = NewFrameMessage(*p, h.cfg.BinaryFrames)
		if h.cfg.BinaryFrames {
			out.binary = p.JPEG
		}
	}

	text, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return outbound{}, err
	}
	out.text = text
	return out, nil
}

// LogViolation pushes a violation event to viewers
func (h *DetectionHub) LogViolation(ev violations.Event) error {
	h.Emit(EventViolation, ev)
	return nil
}

// ClientCount returns the number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent counts messages queued to clients
func (h *DetectionHub) Sent() uint64 { return h.sent.Load() }

// Dropped counts messages skipped because a client queue was full
func (h *DetectionHub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones
func (h *DetectionHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

var (
	_ pipeline.Transport     = (*DetectionHub)(nil)
	_ pipeline.ViolationSink = (*DetectionHub)(nil)
)
