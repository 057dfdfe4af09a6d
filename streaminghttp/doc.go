// Package streaminghttp implements the MCP streamable HTTP transport for an
// mcpserver.Server. It mounts as a standard net/http handler.
//
// Routes, relative to the public endpoint:
//
//	POST    <endpoint>          client messages; initialize issues Mcp-Session-Id
//	GET     <endpoint>          SSE stream for an existing session (keep-alive only)
//	DELETE  <endpoint>          terminate a session
//	OPTIONS <endpoint>          CORS preflight
//	GET|POST <endpoint>/health  liveness document
//
// Requests are answered with a single SSE event when the client accepts
// text/event-stream, and with a plain JSON body otherwise. Notifications and
// client responses are acknowledged with 202.
//
// Session failures (missing, malformed or unknown Mcp-Session-Id, protocol
// version mismatch, a method the session state does not allow) are reported
// as JSON-RPC error objects with code -32600 and a 400 or 404 status.
//
// # Authentication
//
// Bearer tokens are checked with an auth.Authenticator and failures surface
// RFC 6750 challenges. When the authenticator also implements
// auth.MetadataProvider, an OAuth 2.0 Protected Resource Metadata document is
// served under /.well-known/oauth-protected-resource and referenced from the
// challenges. WithAnonymousAccess admits requests without credentials except
// tools/call; the first authenticated tools/call binds the session to its
// principal.
//
// Example:
//
//	h, err := streaminghttp.New("https://api.example/mcp", srv, authenticator,
//	    streaminghttp.WithLogger(logger),
//	)
//	if err != nil { log.Fatal(err) }
//	http.ListenAndServe(":8080", h)
package streaminghttp
