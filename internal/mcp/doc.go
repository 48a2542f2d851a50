// Package mcp connects to MCP (Model Context Protocol) servers and
// exposes their tools to the agent as a [tools.Provider].
//
// MCP speaks JSON-RPC 2.0 over two transports: stdio (a subprocess
// with newline-delimited messages) and streamable HTTP. Discovery is
// initialize followed by tools/list; invocation is tools/call. Only the
// client side is implemented.
package mcp
