package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/campro/campro-mcp/internal/logging"
)

// Server identity reported during initialize.
const (
	ServerName    = "org/CamPro"
	ServerVersion = "0.2.0"
)

// LatestProtocolVersion is answered when the client asks for a version this
// server does not know.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the protocol revisions accepted during
// initialize, newest first.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Method names handled by the server.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// maxMessageSize bounds a single stdio line.
const maxMessageSize = 1024 * 1024

// AnalysisClient is the outbound side the tool handlers call into.
type AnalysisClient interface {
	ParseImage(ctx context.Context, prompt, imagePath string) (string, error)
	DetectObjects(ctx context.Context, filePath string) (string, error)
	Chat(ctx context.Context, message string) (string, error)
}

// Server handles MCP protocol messages. It is transport agnostic: stdio,
// streamable HTTP and legacy SSE all feed raw messages into it.
type Server struct {
	client AnalysisClient
	log    *log.Entry
}

// MCPRequest represents an incoming JSON-RPC request or notification.
// Notifications carry no id.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (r *MCPRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// IsResponse reports whether the message is a client reply to a
// server-initiated request. Such messages have no method.
func (r *MCPRequest) IsResponse() bool {
	return r.Method == ""
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ErrBatchUnsupported is returned by DecodeRequest for JSON arrays.
var ErrBatchUnsupported = errors.New("batch requests are not supported")

// New creates a new MCP server instance backed by client.
func New(client AnalysisClient) *Server {
	return &Server{
		client: client,
		log:    logging.For("server"),
	}
}

// DecodeRequest parses a single JSON-RPC message.
func DecodeRequest(raw []byte) (*MCPRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return nil, ErrBatchUnsupported
	}

	var req MCPRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// HandleMessage decodes and handles one raw message. It returns nil when no
// response is due (notifications and client replies).
func (s *Server) HandleMessage(ctx context.Context, raw []byte) *MCPResponse {
	req, err := DecodeRequest(raw)
	if err != nil {
		if errors.Is(err, ErrBatchUnsupported) {
			return ErrorResponse(nil, CodeInvalidRequest, "Invalid request", err.Error())
		}
		return ErrorResponse(nil, CodeParseError, "Parse error", err.Error())
	}
	return s.Handle(ctx, req)
}

// Handle routes a decoded request to its handler.
func (s *Server) Handle(ctx context.Context, req *MCPRequest) *MCPResponse {
	if req.IsResponse() {
		s.log.WithField("id", string(req.ID)).Debug("ignoring client response")
		return nil
	}
	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return ErrorResponse(req.ID, CodeInvalidRequest, "Invalid request", `jsonrpc must be "2.0"`)
	}

	resp := s.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req)
	case MethodInitialized:
		s.log.Info("client initialized")
		return nil
	case MethodToolsList:
		return s.handleToolsList(req)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	case MethodPing:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]any{},
		}
	default:
		if req.IsNotification() {
			s.log.WithField("method", req.Method).Debug("ignoring notification")
			return nil
		}
		return ErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), "")
	}
}

// Serve reads newline-delimited JSON-RPC messages from in and writes
// responses to out until in is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxMessageSize)

	encoder := json.NewEncoder(out)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		defer func() { scanErr <- scanner.Err() }()
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("scanner error: %w", err)
				}
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			resp := s.HandleMessage(ctx, line)
			if resp == nil {
				continue
			}
			if err := encoder.Encode(resp); err != nil {
				s.log.WithError(err).Error("failed to encode response")
			}
		}
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
		}
	}

	version := NegotiateProtocolVersion(params.ProtocolVersion)
	s.log.WithFields(log.Fields{
		"client":           params.ClientInfo.Name,
		"client_version":   params.ClientInfo.Version,
		"protocol_version": version,
	}).Info("initialize")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": version,
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": ServerVersion,
			},
		},
	}
}

// NegotiateProtocolVersion echoes requested when supported and falls back to
// the latest known revision otherwise.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(SupportedProtocolVersions, requested) {
		return requested
	}
	return LatestProtocolVersion
}

func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"tools": GetToolDefinitions(),
		},
	}
}

// ErrorResponse creates a JSON-RPC error response. An empty data is omitted.
func ErrorResponse(id json.RawMessage, code int, message, data string) *MCPResponse {
	e := &MCPError{Code: code, Message: message}
	if data != "" {
		e.Data = data
	}
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   e,
	}
}
