// Package mcpserver exposes the tool dispatcher over the Model Context
// Protocol on stdio. Every dispatcher descriptor becomes one MCP tool; calls
// run through the same pipeline the HTTP transport uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Server adapts the dispatcher to an MCP stdio server.
type Server struct {
	dispatcher *dispatch.Dispatcher
	mcpServer  *mcpserver.MCPServer
}

// New builds the MCP server and registers one tool per descriptor.
func New(d *dispatch.Dispatcher, version string) *Server {
	mcpSrv := mcpserver.NewMCPServer(
		"browserctl",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	s := &Server{dispatcher: d, mcpServer: mcpSrv}

	for _, desc := range d.Descriptors() {
		schema, err := json.Marshal(jsonSchemaFor(desc))
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		tool := mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema)
		mcpSrv.AddTool(tool, s.handlerFor(desc.Name))
	}

	return s
}

// Serve runs the stdio transport until the context ends or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeOn(ctx, os.Stdin, os.Stdout)
}

// ServeOn runs the stdio transport over the given streams.
func (s *Server) ServeOn(ctx context.Context, in io.Reader, out io.Writer) error {
	log.Info().Msg("MCP stdio server listening")
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

// handlerFor bridges one MCP call into the dispatcher. Tool failures come
// back as MCP error results, never as protocol errors.
func (s *Server) handlerFor(tool string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		// The session id rides inside the arguments on MCP; lift it out so
		// the schema's closed parameter set stays intact.
		sessionID := ""
		if v, ok := args["sessionId"].(string); ok {
			sessionID = v
			delete(args, "sessionId")
		}

		env := s.dispatcher.Dispatch(ctx, types.ToolCallRequest{
			Tool:      tool,
			Arguments: args,
			SessionID: sessionID,
		}, types.CallAuth{
			// Stdio is a local, single-user transport.
			SourceAddress:   "stdio",
			SecureTransport: true,
		})

		payload, err := json.Marshal(env)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(`{"status":"error"}`)},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: env.Error != nil,
		}, nil
	}
}
