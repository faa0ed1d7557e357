package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tmaxmax/go-sse"

	"github.com/campro/campro-mcp/internal/logging"
	"github.com/campro/campro-mcp/internal/server"
)

// HeaderSessionID carries the session identifier on streamable HTTP
// requests and on the initialize response.
const HeaderSessionID = "Mcp-Session-Id"

// maxBodySize caps a single POSTed message.
const maxBodySize = 1 << 20

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	responseMediaTypes    = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

// StreamableTransport serves one streamable HTTP session. It is pending
// until an initialize request succeeds, at which point it takes an
// identifier and registers itself through onInit.
type StreamableTransport struct {
	srv *server.Server
	now func() time.Time
	log *log.Entry

	onInit  func(*StreamableTransport) error
	onClose func(*StreamableTransport)

	mu          sync.Mutex
	id          string
	initialized bool
	closed      bool
	createdAt   time.Time
	lastSeen    time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newStreamableTransport(srv *server.Server, now func() time.Time, onInit func(*StreamableTransport) error, onClose func(*StreamableTransport)) *StreamableTransport {
	ts := now()
	return &StreamableTransport{
		srv:       srv,
		now:       now,
		log:       logging.For("streamable"),
		onInit:    onInit,
		onClose:   onClose,
		createdAt: ts,
		lastSeen:  ts,
		done:      make(chan struct{}),
	}
}

// SessionID returns the assigned identifier, or "" while pending.
func (t *StreamableTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Server returns the protocol server owned by the session.
func (t *StreamableTransport) Server() *server.Server {
	return t.srv
}

// CreatedAt returns when the transport was created.
func (t *StreamableTransport) CreatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createdAt
}

// LastSeen returns when the transport last received a request.
func (t *StreamableTransport) LastSeen() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// Done is closed when the transport closes.
func (t *StreamableTransport) Done() <-chan struct{} {
	return t.done
}

// Close ends the session. It is safe to call more than once; the closure
// callback fires on the first call only.
func (t *StreamableTransport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		close(t.done)
		if t.onClose != nil {
			t.onClose(t)
		}
	})
}

func (t *StreamableTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *StreamableTransport) isInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

func (t *StreamableTransport) touch() {
	ts := t.now()
	t.mu.Lock()
	t.lastSeen = ts
	t.mu.Unlock()
}

// initialize assigns the session identifier and registers the session.
func (t *StreamableTransport) initialize() error {
	t.mu.Lock()
	t.id = uuid.NewString()
	t.initialized = true
	t.mu.Unlock()

	if t.onInit == nil {
		return nil
	}
	if err := t.onInit(t); err != nil {
		t.mu.Lock()
		t.id = ""
		t.initialized = false
		t.mu.Unlock()
		return err
	}
	return nil
}

// ServeHTTP handles POST, GET and DELETE for the session endpoint.
func (t *StreamableTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.isClosed() {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	t.touch()

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodDelete:
		t.Close()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
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

	req, err := server.DecodeRequest(body)
	if err != nil {
		if errors.Is(err, server.ErrBatchUnsupported) {
			writeJSONRPCError(w, http.StatusBadRequest, server.CodeInvalidRequest, err.Error())
			return
		}
		writeJSONRPCError(w, http.StatusBadRequest, server.CodeParseError, "Parse error")
		return
	}

	initialized := t.isInitialized()
	switch {
	case req.Method == server.MethodInitialize && initialized:
		writeJSONRPCError(w, http.StatusBadRequest, server.CodeInvalidRequest, "Server already initialized")
		return
	case req.Method != server.MethodInitialize && !initialized:
		writeJSONRPCError(w, http.StatusBadRequest, server.CodeInvalidRequest, "Server not initialized")
		return
	}

	if req.IsNotification() || req.IsResponse() {
		t.srv.Handle(r.Context(), req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := t.srv.Handle(r.Context(), req)

	if req.Method == server.MethodInitialize && resp != nil && resp.Error == nil {
		if err := t.initialize(); err != nil {
			t.log.WithError(err).Error("failed to register session")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set(HeaderSessionID, t.SessionID())
	}

	t.writeResponse(w, r, resp)
}

// writeResponse answers with plain JSON unless the client prefers an event
// stream, in which case the response is a single "message" event.
func (t *StreamableTransport) writeResponse(w http.ResponseWriter, r *http.Request, resp *server.MCPResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		t.log.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	mt, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
	if err != nil || !mt.Matches(eventStreamMediaType) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		t.log.WithError(err).Error("failed to upgrade to event stream")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := sendEvent(sess, "message", string(payload)); err != nil {
		t.log.WithError(err).Warn("failed to write event")
	}
}

// handleGet holds a standalone event stream open for server-initiated
// messages until the client leaves or the session closes.
func (t *StreamableTransport) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "" {
		http.Error(w, "Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		http.Error(w, "Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	if !t.isInitialized() {
		http.Error(w, "Server not initialized", http.StatusBadRequest)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		t.log.WithError(err).Error("failed to upgrade to event stream")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := sess.Flush(); err != nil {
		return
	}

	entry := t.log.WithField("session_id", t.SessionID())
	entry.Debug("standalone stream opened")

	select {
	case <-r.Context().Done():
	case <-t.done:
	}
	entry.Debug("standalone stream closed")
}

func sendEvent(sess *sse.Session, eventType, data string) error {
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(server.ErrorResponse(nil, code, message, ""))
}
