// Package stdio serves MCP over a pair of byte streams, normally the
// process's stdin and stdout. Each line carries one JSON-RPC message.
//
//	Connection model : 1 process <-> 1 client
//	Principal        : OS user, or whatever the UserProvider returns
//	Session          : one, created by initialize, terminated at EOF
//	Engine           : same as the streaming HTTP transport
//
// Before initialize only ping is accepted. Requests run concurrently and may
// be aborted with notifications/cancelled, in which case no response is
// written. Malformed lines are answered with a Parse error or Invalid Request
// carrying a null id.
//
// Example:
//
//	srv := mcpserver.NewServer(mgr, dispatcher,
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "toolhost", Version: "0.1.0"}),
//	)
//	h := stdio.NewHandler(srv, stdio.WithLogger(stderrLogger))
//	if err := h.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Logs must go somewhere other than stdout; the output stream belongs to the
// protocol.
package stdio
