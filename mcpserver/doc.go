// Package mcpserver assembles an MCP tool server from a session manager and
// a tool dispatcher. The resulting Server is transport agnostic; mount it
// with streaminghttp.New or stdio.NewHandler.
//
// Quick start:
//
//	reg, err := mcpservice.NewRegistry(
//	    mcpservice.NewTool("echo", func(ctx context.Context, call *mcpservice.ToolCall, a EchoArgs) (any, error) {
//	        return "you said: " + a.Message, nil
//	    }, mcpservice.WithDescription("Echo a message")),
//	)
//	if err != nil { log.Fatal(err) }
//
//	mgr := sessions.NewManager(memoryhost.New())
//	srv := mcpserver.NewServer(mgr, mcpservice.NewDispatcher(reg),
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	)
//
// Passing a nil manager, or WithStateless, yields a server that never issues
// session identifiers and allows every method.
package mcpserver
