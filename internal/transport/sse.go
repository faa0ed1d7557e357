package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"

	"github.com/campro/campro-mcp/internal/logging"
	"github.com/campro/campro-mcp/internal/server"
)

// sseConn is one legacy event-stream connection and its protocol server.
type sseConn struct {
	id   string
	srv  *server.Server
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *sseConn) close() {
	c.once.Do(func() { close(c.done) })
}

// LegacySSE serves the pre-streamable transport: a GET opens an event stream
// that advertises a message endpoint, and POSTs to that endpoint are answered
// on the stream. Connections live in a registry of their own and never touch
// the session table.
type LegacySSE struct {
	path      string
	newServer func() *server.Server
	log       *log.Entry

	mu    sync.RWMutex
	conns map[string]*sseConn
}

// NewLegacySSE creates the handler pair mounted at path.
func NewLegacySSE(path string, newServer func() *server.Server) *LegacySSE {
	return &LegacySSE{
		path:      path,
		newServer: newServer,
		log:       logging.For("sse"),
		conns:     make(map[string]*sseConn),
	}
}

// Len returns the number of open streams.
func (h *LegacySSE) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll ends every open stream.
func (h *LegacySSE) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.close()
	}
}

func (h *LegacySSE) lookup(id string) (*sseConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *LegacySSE) add(c *sseConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *LegacySSE) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// ServeStream handles GET: it upgrades the connection, sends the endpoint
// event, then writes queued responses until the client goes away.
func (h *LegacySSE) ServeStream(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		h.log.WithError(err).Error("failed to upgrade session")
		http.Error(w, "SSE connection failed", http.StatusInternalServerError)
		return
	}

	conn := &sseConn{
		id:   uuid.NewString(),
		srv:  h.newServer(),
		out:  make(chan []byte, 16),
		done: make(chan struct{}),
	}
	h.add(conn)
	defer h.remove(conn.id)
	defer conn.close()

	entry := h.log.WithField("session_id", conn.id)

	endpoint := h.path + "?sessionId=" + url.QueryEscape(conn.id)
	if err := sendEvent(sess, "endpoint", endpoint); err != nil {
		entry.WithError(err).Warn("failed to write endpoint event")
		return
	}
	entry.Info("SSE connection established")

	for {
		select {
		case <-r.Context().Done():
			entry.Info("SSE connection closed by client")
			return
		case <-conn.done:
			entry.Info("SSE connection closed")
			return
		case payload := <-conn.out:
			if err := sendEvent(sess, "message", string(payload)); err != nil {
				entry.WithError(err).Warn("failed to write message event")
				return
			}
		}
	}
}

// ServeMessage handles POST ?sessionId=: the message is dispatched to the
// connection's server and any response is queued on its stream.
func (h *LegacySSE) ServeMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, "Missing sessionId", http.StatusBadRequest)
		return
	}
	conn, ok := h.lookup(id)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	resp := conn.srv.HandleMessage(r.Context(), body)
	if resp != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			h.log.WithError(err).Error("failed to encode response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		select {
		case conn.out <- payload:
		case <-conn.done:
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		case <-r.Context().Done():
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}
