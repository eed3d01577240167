package stream

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"signwatch/internal/logging"
	"signwatch/internal/pipeline"
)

const clientBuffer = 5

// MJPEG serves annotated frames as a multipart/x-mixed-replace stream for
// viewers that cannot run the WebSocket client (plain <img> tags, VLC).
type MJPEG struct {
	log zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
	closed    bool

	frames  atomic.Uint64
	skipped atomic.Uint64
}

// NewMJPEG creates a stream with no clients
func NewMJPEG(log zerolog.Logger) *MJPEG {
	return &MJPEG{
		log:     logging.Component(log, "MJPEGStream"),
		clients: make(map[chan []byte]struct{}),
	}
}

// Emit broadcasts the JPEG of a video_frame event. Other events are ignored.
func (s *MJPEG) Emit(event string, payload any) {
	if event != pipeline.EventVideoFrame {
		return
	}

	var frame []byte
	switch v := payload.(type) {
	case pipeline.VideoFrame:
		frame = v.JPEG
	case *pipeline.VideoFrame:
		frame = v.JPEG
	}
	if len(frame) == 0 {
		return
	}
	s.frames.Add(1)

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
			s.skipped.Add(1)
		}
	}
	s.clientsMu.RUnlock()
}

// ServeHTTP streams frames until the client goes away or Close is called
func (s *MJPEG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan []byte, clientBuffer)
	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	s.clients[clientCh] = struct{}{}
	s.clientsMu.Unlock()

	defer s.remove(clientCh)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	for {
		select {
		case <-r.Context().Done():
			s.log.Info().Str("remote", r.RemoteAddr).Msg("Client disconnected")
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *MJPEG) remove(ch chan []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected viewers
func (s *MJPEG) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Skipped counts frames not delivered to a slow client
func (s *MJPEG) Skipped() uint64 { return s.skipped.Load() }

// Close ends every open stream and rejects new ones
func (s *MJPEG) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

var _ pipeline.Transport = (*MJPEG)(nil)
