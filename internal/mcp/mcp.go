// Package mcp implements the Model Context Protocol server for Shirushi.
//
// The MCP server exposes the prompt registry through MCP resources and
// tools, allowing MCP-compatible AI agents to fetch, create, and link
// prompts without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hoshizora-ml/shirushi/internal/registry"
)

// Server wraps the MCP server with the prompt registry.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *registry.Registry
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(reg *registry.Registry, logger *slog.Logger, version string) *Server {
	s := &Server{
		registry: reg,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"shirushi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// shirushi://prompts — all registered prompts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"shirushi://prompts",
			"Prompts",
			mcplib.WithResourceDescription("All registered prompts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePromptsList,
	)

	// shirushi://prompts/{name} — one prompt and its latest version.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"shirushi://prompts/{name}",
			"Prompt",
			mcplib.WithTemplateDescription("A single prompt with its latest version"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handlePromptResource,
	)
}

func (s *Server) handlePromptsList(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	prompts, _, err := s.registry.SearchPrompts(ctx, "", 0, nil, "")
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	data, err := json.MarshalIndent(prompts, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handlePromptResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	name := request.Params.Arguments["name"]
	var promptName string
	if vals, ok := name.([]string); ok && len(vals) > 0 {
		promptName = vals[0]
	} else if val, ok := name.(string); ok {
		promptName = val
	}
	if promptName == "" {
		return nil, fmt.Errorf("prompt name is required")
	}

	prompt, err := s.registry.GetPrompt(ctx, promptName)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	if prompt == nil {
		return nil, fmt.Errorf("prompt %q does not exist", promptName)
	}

	data, err := json.MarshalIndent(prompt, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResult builds a tool result carrying an error message. Tool-level
// failures are reported in-band so the agent can read and react to them.
func errorResult(message string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: message},
		},
	}
}

// jsonResult marshals v into an indented text content result.
func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
