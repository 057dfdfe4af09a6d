// Package mcpservice holds the tool registry and dispatcher.
//
// Tools are registered once, at process start, by passing them to
// NewRegistry. The resulting Registry is immutable: listing and lookup never
// take a lock and are safe from any number of goroutines.
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo back"`
//	}
//
//	echo := mcpservice.NewTool("echo",
//	    func(ctx context.Context, call *mcpservice.ToolCall, a EchoArgs) (any, error) {
//	        return "you said: " + a.Message, nil
//	    },
//	    mcpservice.WithDescription("Echo a message back to the caller"),
//	    mcpservice.WithReadOnly(),
//	)
//
//	reg, err := mcpservice.NewRegistry(echo)
//	if err != nil { ... }
//	d := mcpservice.NewDispatcher(reg)
//
// A Dispatcher filters the registry through a Visibility predicate, the
// single place where deactivated tools disappear from listings and calls.
// Policy is a Visibility loaded from YAML that can also demand user consent
// for individual tools; see the policyfile subpackage for hot reloading.
//
// Errors follow two tiers. Lookup and input problems (ErrToolNotFound,
// ErrInvalidArguments) are returned as Go errors before the tool runs.
// Anything the tool itself returns or panics with is folded into an
// error-flagged *mcp.CallToolResult so the caller always gets a well-formed
// response.
package mcpservice
