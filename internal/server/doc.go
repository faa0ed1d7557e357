// Package server implements the MCP (Model Context Protocol) server for the
// CamPro photography tools.
//
// The server speaks JSON-RPC 2.0 and is transport agnostic. Serve runs it over
// newline-delimited stdio; the transport package feeds it messages received
// over HTTP.
//
// Supported MCP methods:
//   - initialize: Protocol handshake and version negotiation
//   - notifications/initialized: Client acknowledgment
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - Parse_Image_Into_Rules_Of_Thirds: exposure analysis of a local image
//   - CamPro_DetectObj: object detection on a local image
//   - CamPro_Chat: free-text question to the assistant
//
// The work is done by a remote analysis service reached through an
// AnalysisClient.
//
// # Error Handling
//
// Every tools/call produces a result. Invalid arguments, missing files and
// remote failures come back as a text block prefixed with "Error: " and the
// isError flag set. Arguments are checked before the client is called, so a
// rejected call never reaches the network. JSON-RPC errors are reserved for
// protocol problems:
//   - -32700: malformed JSON
//   - -32600: not a JSON-RPC 2.0 request
//   - -32601: unknown method
//   - -32602: undecodable params
package server
