// Package mcp contains the protocol data types and constants used by the
// tool host. It mirrors the wire representation of the Model Context Protocol
// for the subset this server speaks: the initialize handshake, liveness pings,
// and tool discovery and invocation.
//
// The package is free of transport logic. The HTTP and stdio transports
// marshal these types; mcpservice builds tool descriptors and call results
// out of them.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Tool results
//
// A tool call always produces a CallToolResult. Execution failures are
// reported in-band with IsError set, never as JSON-RPC errors:
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "boom"}},
//	    IsError: true,
//	}
//
// # Protocol versions
//
// LatestProtocolVersion is the newest protocol revision the server targets.
// SupportedProtocolVersions lists every revision accepted during negotiation.
package mcp
