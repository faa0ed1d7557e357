// Package transport exposes the MCP server over HTTP.
//
// Router mounts the HTTP surface on echo:
//
//	/mcp              streamable HTTP, one session per Mcp-Session-Id
//	/sse              legacy event stream (GET) and its message endpoint (POST)
//	/health           liveness probe
//	/receive_message  JSON echo envelope
//	/detect_objects   multipart relay to the analysis service
//
// # Sessions
//
// A POST to /mcp without a session header creates a pending
// StreamableTransport. It only becomes visible in the SessionManager after
// its initialize request succeeds, at which point the identifier is returned
// in the Mcp-Session-Id response header. Later requests must carry that
// header; unknown identifiers get 404 and the client is expected to start a
// new handshake. DELETE, shutdown and idle eviction close a session, which
// removes it from the table.
//
// Two concurrent first POSTs can create two sessions. Each gets its own
// identifier, so the table invariant of one live session per identifier
// still holds.
//
// # Legacy SSE
//
// Each GET /sse gets its own protocol server. Responses to POSTs on the
// advertised endpoint are written to the stream by the GET handler
// goroutine, which is the only writer for that connection.
package transport
