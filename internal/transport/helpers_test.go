package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campro/campro-mcp/internal/server"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`

type stubClient struct{}

func (stubClient) ParseImage(context.Context, string, string) (string, error) { return "ok", nil }
func (stubClient) DetectObjects(context.Context, string) (string, error)      { return "objects", nil }
func (stubClient) Chat(context.Context, string) (string, error)               { return "hello", nil }

func newTestServer() *server.Server {
	return server.New(stubClient{})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeUploader struct {
	mu       sync.Mutex
	calls    int
	filename string
	field    string
	path     string
	data     string

	status int
	body   []byte
	err    error
}

func (u *fakeUploader) RelayUpload(_ context.Context, path, field, filename, _ string, body io.Reader) (int, []byte, error) {
	data, _ := io.ReadAll(body)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.path = path
	u.field = field
	u.filename = filename
	u.data = string(data)
	return u.status, u.body, u.err
}

func newTestRouter(t *testing.T) (*Router, *SessionManager, *fakeUploader) {
	t.Helper()

	sessions := NewSessionManager()
	up := &fakeUploader{status: http.StatusOK, body: []byte(`{"objects_detected":"cat"}`)}
	r := NewRouter(RouterConfig{
		Sessions:   sessions,
		NewServer:  newTestServer,
		Uploader:   up,
		Production: true,
		Version:    "0.2.0",
	})
	return r, sessions, up
}

func doRequest(t *testing.T, h http.Handler, method, target, sessionID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// handshake performs initialize and returns the assigned session id.
func handshake(t *testing.T, h http.Handler) string {
	t.Helper()

	rec := doRequest(t, h, http.MethodPost, "/mcp", "", initializeBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, id)
	return id
}
