package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

func (s *Server) registerTools() {
	// shirushi_get_prompt — fetch a prompt version for use.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_get_prompt",
			mcplib.WithDescription(`Fetch a prompt template from the registry.

WHEN TO USE: whenever you need a managed prompt. Pass the prompt name and
either a version number or an alias (e.g. "production"). Omitting the
version returns the latest one.

WHAT YOU GET BACK: the template text (or chat messages), the version
number, and any response format attached to the version.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Prompt name"),
				mcplib.Required(),
			),
			mcplib.WithString("version",
				mcplib.Description("Version number or alias. Omit for the latest version."),
			),
		),
		s.handleGetPrompt,
	)

	// shirushi_search_prompts — list prompts matching a filter.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_search_prompts",
			mcplib.WithDescription(`Search the registry for prompts.

FILTER EXAMPLES:
- All prompts: omit the filter
- By name: filter="name = 'summarizer'"
- By name prefix: filter="name LIKE 'chat-%'"
- By tag: filter="tags.team = 'ml'"
Conditions can be combined with AND.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("filter",
				mcplib.Description("Optional filter expression over name and tags"),
			),
			mcplib.WithNumber("max_results",
				mcplib.Description("Maximum prompts to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(25),
			),
		),
		s.handleSearchPrompts,
	)

	// shirushi_create_prompt — register a new prompt.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_create_prompt",
			mcplib.WithDescription("Register a new named prompt. Create versions afterwards with shirushi_create_prompt_version."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Prompt name, unique across the registry"),
				mcplib.Required(),
			),
			mcplib.WithString("description",
				mcplib.Description("What the prompt is for"),
			),
		),
		s.handleCreatePrompt,
	)

	// shirushi_create_prompt_version — add a version to an existing prompt.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_create_prompt_version",
			mcplib.WithDescription(`Add a new immutable version to an existing prompt.

For a text prompt, pass the template text directly. Placeholders use
double braces: "Summarize {{article}} in one paragraph."

For a chat prompt, set type="chat" and pass the template as a JSON array
of {"role": ..., "content": ...} messages.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Prompt name"),
				mcplib.Required(),
			),
			mcplib.WithString("template",
				mcplib.Description("Template text, or a JSON message array when type is chat"),
				mcplib.Required(),
			),
			mcplib.WithString("type",
				mcplib.Description("Template kind: text or chat"),
				mcplib.Enum("text", "chat"),
				mcplib.DefaultString("text"),
			),
			mcplib.WithString("description",
				mcplib.Description("What changed in this version"),
			),
		),
		s.handleCreatePromptVersion,
	)

	// shirushi_set_alias — point a named alias at a version.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_set_alias",
			mcplib.WithDescription(`Point an alias (e.g. "production") at a prompt version. Re-running with a different version atomically repoints the alias.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Prompt name"),
				mcplib.Required(),
			),
			mcplib.WithString("alias",
				mcplib.Description("Alias name"),
				mcplib.Required(),
			),
			mcplib.WithString("version",
				mcplib.Description("Version number the alias should point at"),
				mcplib.Required(),
			),
		),
		s.handleSetAlias,
	)

	// shirushi_link_trace — record prompt usage on a trace.
	s.mcpServer.AddTool(
		mcplib.NewTool("shirushi_link_trace",
			mcplib.WithDescription(`Record that a prompt version was used while producing a trace. Linking is idempotent: repeating a link is a no-op.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("name",
				mcplib.Description("Prompt name"),
				mcplib.Required(),
			),
			mcplib.WithString("version",
				mcplib.Description("Version number that was used"),
				mcplib.Required(),
			),
		),
		s.handleLinkTrace,
	)
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}
	version := request.GetString("version", "")

	if version == "" {
		latest, err := s.registry.Store().GetLatestVersions(ctx, name)
		if err != nil {
			return errorResult(fmt.Sprintf("get prompt: %v", err)), nil
		}
		if len(latest) == 0 {
			return errorResult(fmt.Sprintf("prompt %q has no versions", name)), nil
		}
		version = fmt.Sprintf("%d", latest[0].Version)
	}

	pv, err := s.registry.GetPromptVersion(ctx, name, version)
	if err != nil {
		return errorResult(fmt.Sprintf("get prompt version: %v", err)), nil
	}
	if pv == nil {
		return errorResult(fmt.Sprintf("prompt version %q/%s does not exist", name, version)), nil
	}
	return jsonResult(pv), nil
}

func (s *Server) handleSearchPrompts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filter := request.GetString("filter", "")
	maxResults := request.GetInt("max_results", 25)

	prompts, nextToken, err := s.registry.SearchPrompts(ctx, filter, maxResults, nil, "")
	if err != nil {
		return errorResult(fmt.Sprintf("search prompts: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"prompts":         prompts,
		"next_page_token": nextToken,
	}), nil
}

func (s *Server) handleCreatePrompt(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}
	prompt, err := s.registry.CreatePrompt(ctx, name, request.GetString("description", ""), nil)
	if err != nil {
		return errorResult(fmt.Sprintf("create prompt: %v", err)), nil
	}
	return jsonResult(prompt), nil
}

func (s *Server) handleCreatePromptVersion(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	rawTemplate := request.GetString("template", "")
	if name == "" || rawTemplate == "" {
		return errorResult("name and template are required"), nil
	}

	var template model.PromptTemplate
	switch kind := request.GetString("type", "text"); kind {
	case "chat":
		var messages []model.ChatMessage
		if err := json.Unmarshal([]byte(rawTemplate), &messages); err != nil {
			return errorResult(fmt.Sprintf("chat template must be a JSON message array: %v", err)), nil
		}
		template = model.ChatTemplate(messages)
	default:
		template = model.TextTemplate(rawTemplate)
	}

	pv, err := s.registry.CreatePromptVersion(ctx, name, template, request.GetString("description", ""), nil, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("create prompt version: %v", err)), nil
	}
	return jsonResult(pv), nil
}

func (s *Server) handleSetAlias(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	alias := request.GetString("alias", "")
	version := request.GetString("version", "")
	if name == "" || alias == "" || version == "" {
		return errorResult("name, alias, and version are required"), nil
	}
	if err := s.registry.SetPromptAlias(ctx, name, alias, version); err != nil {
		return errorResult(fmt.Sprintf("set alias: %v", err)), nil
	}
	return jsonResult(map[string]string{
		"name":    name,
		"alias":   alias,
		"version": version,
	}), nil
}

func (s *Server) handleLinkTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	name := request.GetString("name", "")
	version := request.GetString("version", "")
	if traceID == "" || name == "" || version == "" {
		return errorResult("trace_id, name, and version are required"), nil
	}

	pv, err := s.registry.GetPromptVersion(ctx, name, version)
	if err != nil {
		return errorResult(fmt.Sprintf("get prompt version: %v", err)), nil
	}
	if pv == nil {
		return errorResult(fmt.Sprintf("prompt version %q/%s does not exist", name, version)), nil
	}
	if err := s.registry.LinkPromptsToTrace(ctx, []model.PromptVersion{*pv}, traceID); err != nil {
		return errorResult(fmt.Sprintf("link to trace: %v", err)), nil
	}
	return jsonResult(map[string]string{
		"trace_id": traceID,
		"name":     name,
		"version":  version,
	}), nil
}
