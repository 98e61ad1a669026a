package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
)

const (
	streamWriteWait  = 10 * time.Second
	streamSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from other origins in deployment; auth happens
	// upstream at the gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHub fans completed diagnostic reports out to websocket subscribers.
// A slow subscriber is dropped rather than allowed to block the pipeline.
type StreamHub struct {
	mu      sync.Mutex
	clients map[chan *domain.DiagnosticReport]struct{}
	log     *logrus.Logger
}

// NewStreamHub creates an empty hub.
func NewStreamHub(logger *logrus.Logger) *StreamHub {
	return &StreamHub{
		clients: make(map[chan *domain.DiagnosticReport]struct{}),
		log:     logger,
	}
}

// Run blocks until ctx is cancelled, then disconnects all subscribers.
func (h *StreamHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// Broadcast delivers a report to every connected subscriber without blocking.
func (h *StreamHub) Broadcast(report *domain.DiagnosticReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- report:
		default:
			h.log.Warn("Dropping slow report stream subscriber")
			close(ch)
			delete(h.clients, ch)
		}
	}
}

func (h *StreamHub) subscribe() chan *domain.DiagnosticReport {
	ch := make(chan *domain.DiagnosticReport, streamSendBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unsubscribe(ch chan *domain.DiagnosticReport) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		close(ch)
		delete(h.clients, ch)
	}
	h.mu.Unlock()
}

// SubscriberCount reports the number of connected stream clients.
func (h *StreamHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleStream upgrades the connection and forwards completed reports as JSON
// until the client disconnects.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	s.log.WithField("remote", conn.RemoteAddr().String()).Info("Report stream subscriber connected")

	// Reader goroutine: the stream is write-only, but we must consume control
	// frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case report, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(report); err != nil {
				s.log.WithError(err).Debug("Report stream write failed")
				return
			}
		case <-done:
			return
		}
	}
}
