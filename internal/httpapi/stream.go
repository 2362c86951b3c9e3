package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/agentworkforce/indicators/internal/resultsync"
)

const (
	streamBufferSize   = 16
	streamWriteTimeout = 5 * time.Second
	eventStatus        = "results.status"
)

// streamHub fans coordinator events out to websocket clients. A client that
// falls behind by a full buffer is disconnected.
type streamHub struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

func newStreamHub() *streamHub {
	return &streamHub{clients: map[*streamClient]struct{}{}}
}

func (h *streamHub) publish(event resultsync.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			client.close()
		}
	}
}

func (h *streamHub) add() *streamClient {
	client := &streamClient{send: make(chan []byte, streamBufferSize)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *streamHub) remove(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.StreamOrigins,
	})
	if err != nil {
		// Accept has already written the handshake failure.
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	client := s.stream.add()
	defer s.stream.remove(client)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	hello, err := json.Marshal(resultsync.Event{
		Type:   eventStatus,
		Status: s.coord.Status(),
		At:     time.Now().UTC(),
	})
	if err == nil {
		if err := writeFrame(ctx, conn, hello); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-client.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
