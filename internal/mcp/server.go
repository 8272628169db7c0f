// Package mcp exposes the correction engine as a Model Context Protocol
// server, built on the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk).
//
// Three tools are registered: correct_transcript, phonetic_distance and
// lookup_terms. The server can be reached over stdio (for agents that spawn
// phonofix as a subprocess) or over the MCP Streamable HTTP protocol, mounted
// on the HTTP API.
//
// Usage:
//
//	s := mcp.NewServer(eng, mcp.WithVersion(version))
//	err := mcp.Serve(ctx, s, mcp.TransportStdio)
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/phonofix/internal/engine"
	"github.com/MrWong99/phonofix/internal/observe"
)

// Transport selects the connection mechanism for the MCP server.
type Transport string

const (
	// TransportStdio communicates over the process's stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

type options struct {
	version string
	metrics *observe.Metrics
}

// Option configures [NewServer].
type Option func(*options)

// WithVersion sets the implementation version announced to clients.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithMetrics sets the instruments tool calls are recorded on.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewServer returns an MCP server with every phonofix tool registered.
func NewServer(e *engine.Engine, opts ...Option) *mcpsdk.Server {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	s := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "phonofix", Version: o.version}, nil)

	t := NewTools(e, o.metrics)
	mcpsdk.AddTool(s, MetadataCorrectTranscript, t.CorrectTranscript)
	mcpsdk.AddTool(s, MetadataPhoneticDistance, t.PhoneticDistance)
	mcpsdk.AddTool(s, MetadataLookupTerms, t.LookupTerms)
	return s
}

// Serve runs s over stdio until ctx is cancelled or the client disconnects.
// Streamable HTTP is not served here; mount [HTTPHandler] on an HTTP server
// instead.
func Serve(ctx context.Context, s *mcpsdk.Server, transport Transport) error {
	switch transport {
	case TransportStdio, "":
		slog.Info("mcp server running", "transport", TransportStdio)
		if err := s.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: serve stdio: %w", err)
		}
		return nil
	case TransportStreamableHTTP:
		return fmt.Errorf("mcp: transport %q is served through HTTPHandler", transport)
	default:
		return fmt.Errorf("mcp: unknown transport %q", transport)
	}
}

// HTTPHandler returns a Streamable HTTP handler that serves s to every
// session.
func HTTPHandler(s *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s }, nil)
}
