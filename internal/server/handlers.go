package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "CamPro_DetectObj").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is one item of a tool result. Only text blocks are produced.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the tools/call result envelope. It always holds exactly
// one text block.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// Text returns the text of the first content block.
func (r *CallToolResult) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func textResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}

func errorResult(err error) *CallToolResult {
	return textResult("Error: "+err.Error(), true)
}

// handleToolsCall processes a tools/call request. Tool failures are reported
// inside the result with isError set; only undecodable params produce a
// JSON-RPC error.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ErrorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}
	if params.Name == "" {
		return ErrorResponse(req.ID, CodeInvalidParams, "Invalid params", "missing tool name")
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  s.CallTool(ctx, params.Name, params.Arguments),
	}
}

// CallTool validates args for the named tool and runs it. It never returns
// nil and never panics.
func (s *Server) CallTool(ctx context.Context, name string, raw json.RawMessage) (result *CallToolResult) {
	entry := s.log.WithField("tool", name)

	defer func() {
		if r := recover(); r != nil {
			entry.WithFields(log.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("tool handler panicked")
			result = errorResult(fmt.Errorf("internal error: %v", r))
		}
	}()

	args, err := ValidateArgs(name, raw)
	if err != nil {
		if errors.Is(err, ErrUnknownTool) {
			entry.Warn("unknown tool")
			return textResult("Unknown tool: "+name, true)
		}
		entry.WithError(err).Info("rejected tool arguments")
		return errorResult(err)
	}

	text, err := s.executeTool(ctx, args)
	if err != nil {
		entry.WithError(err).Warn("tool call failed")
		return errorResult(err)
	}

	entry.Debug("tool call succeeded")
	return textResult(text, false)
}

// executeTool dispatches validated arguments to the analysis client.
func (s *Server) executeTool(ctx context.Context, args ToolArgs) (string, error) {
	switch a := args.(type) {
	case *ParseImageArgs:
		return s.client.ParseImage(ctx, a.Prompt, a.ImagePath)
	case *DetectObjectsArgs:
		return s.client.DetectObjects(ctx, a.FilePath)
	case *ChatArgs:
		return s.client.Chat(ctx, a.Message)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, args.ToolName())
	}
}
