package transport

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamable_SessionLifecycle(t *testing.T) {
	r, sessions, _ := newTestRouter(t)

	id := handshake(t, r)
	assert.Equal(t, 1, sessions.Len())

	rec := doRequest(t, r, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Parse_Image_Into_Rules_Of_Thirds")
	assert.Equal(t, 1, sessions.Len(), "request with a session id must not create a new session")

	rec = doRequest(t, r, http.MethodDelete, "/mcp", id, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, sessions.Len())

	rec = doRequest(t, r, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","id":3,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", rec.Body.String())
}

func TestStreamable_ToolCall(t *testing.T) {
	r, _, _ := newTestRouter(t)
	id := handshake(t, r)

	rec := doRequest(t, r, http.MethodPost, "/mcp", id,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"Parse_Image_Into_Rules_Of_Thirds","arguments":{"prompt":"analyze","imagePath":"/a.jpg"}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.ID)
	assert.False(t, resp.Result.IsError)
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "ok", resp.Result.Content[0].Text)
}

func TestStreamable_EventStreamResponse(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/mcp", "", initializeBody,
		map[string]string{"Accept": "text/event-stream"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, rec.Header().Get(HeaderSessionID))

	body := rec.Body.String()
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, `"serverInfo"`)
}

func TestStreamable_RejectsWrongContentType(t *testing.T) {
	r, sessions, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/mcp", "", initializeBody,
		map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, sessions.Len())
}

func TestStreamable_RequiresInitializeFirst(t *testing.T) {
	r, sessions, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server not initialized")
	assert.Zero(t, sessions.Len())
}

func TestStreamable_RejectsSecondInitialize(t *testing.T) {
	r, sessions, _ := newTestRouter(t)
	id := handshake(t, r)

	rec := doRequest(t, r, http.MethodPost, "/mcp", id, initializeBody, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already initialized")
	assert.Equal(t, 1, sessions.Len())
}

func TestStreamable_RejectsBatchAndGarbage(t *testing.T) {
	r, _, _ := newTestRouter(t)
	id := handshake(t, r)

	rec := doRequest(t, r, http.MethodPost, "/mcp", id, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "-32600")

	rec = doRequest(t, r, http.MethodPost, "/mcp", id, `{oops`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "-32700")
}

func TestStreamable_BodyTooLarge(t *testing.T) {
	r, _, _ := newTestRouter(t)
	id := handshake(t, r)

	big := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", maxBodySize) + `"}}`
	rec := doRequest(t, r, http.MethodPost, "/mcp", id, big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStreamable_GetRequiresEventStream(t *testing.T) {
	r, _, _ := newTestRouter(t)
	id := handshake(t, r)

	rec := doRequest(t, r, http.MethodGet, "/mcp", id, "", map[string]string{"Accept": "application/json"})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/mcp", id, "", nil)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestStreamable_MethodNotAllowed(t *testing.T) {
	r, _, _ := newTestRouter(t)
	id := handshake(t, r)

	rec := doRequest(t, r, http.MethodPut, "/mcp", id, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, DELETE", rec.Header().Get("Allow"))
}

func TestStreamable_StandaloneStreamEndsOnDelete(t *testing.T) {
	r, _, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	id := handshake(t, r)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(HeaderSessionID, id)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	ended := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
		}
		close(ended)
	}()

	del, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	del.Header.Set(HeaderSessionID, id)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("standalone stream still open after DELETE")
	}
}
