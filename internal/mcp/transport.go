package mcp

import "context"

// Transport delivers JSON-RPC messages to one MCP server.
type Transport interface {
	// Send delivers a request and waits for the response with the
	// same ID. Server-initiated messages received meanwhile are skipped.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify delivers a notification. No response is expected.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases the transport. For stdio this stops the subprocess.
	Close() error
}
