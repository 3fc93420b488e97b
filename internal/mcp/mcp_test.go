package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/hoshizora-ml/shirushi/internal/memstore"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/registry"
)

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	reg := registry.New(store, store, slog.New(slog.DiscardHandler))
	return New(reg, slog.New(slog.DiscardHandler), "test"), store
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the text content of a tool result.
func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestCreateAndGetPrompt(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{
		"name":        "summarizer",
		"description": "summarizes articles",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = s.handleCreatePromptVersion(ctx, callRequest("shirushi_create_prompt_version", map[string]any{
		"name":     "summarizer",
		"template": "Summarize {{article}} in one paragraph.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var pv model.PromptVersion
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &pv))
	assert.Equal(t, 1, pv.Version)

	// Omitting the version fetches the latest.
	result, err = s.handleGetPrompt(ctx, callRequest("shirushi_get_prompt", map[string]any{
		"name": "summarizer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &pv))
	assert.Equal(t, "Summarize {{article}} in one paragraph.", pv.Template.Text())
}

func TestGetPromptMissingArgs(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleGetPrompt(context.Background(), callRequest("shirushi_get_prompt", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetPromptAbsent(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleGetPrompt(context.Background(), callRequest("shirushi_get_prompt", map[string]any{
		"name": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestChatPromptVersion(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{
		"name": "assistant",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleCreatePromptVersion(ctx, callRequest("shirushi_create_prompt_version", map[string]any{
		"name":     "assistant",
		"type":     "chat",
		"template": `[{"role":"system","content":"Be helpful."},{"role":"user","content":"{{question}}"}]`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var pv model.PromptVersion
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &pv))
	require.True(t, pv.Template.IsChat())
	assert.Len(t, pv.Template.Messages(), 2)

	// A chat template that is not a message array is rejected.
	result, err = s.handleCreatePromptVersion(ctx, callRequest("shirushi_create_prompt_version", map[string]any{
		"name":     "assistant",
		"type":     "chat",
		"template": "not json",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchPrompts(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{"name": name}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	result, err := s.handleSearchPrompts(ctx, callRequest("shirushi_search_prompts", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var page struct {
		Prompts []model.Prompt `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &page))
	assert.Len(t, page.Prompts, 2)

	result, err = s.handleSearchPrompts(ctx, callRequest("shirushi_search_prompts", map[string]any{
		"filter": "name = 'one'",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &page))
	require.Len(t, page.Prompts, 1)
	assert.Equal(t, "one", page.Prompts[0].Name)
}

func TestSetAlias(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{"name": "aliased"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	result, err = s.handleCreatePromptVersion(ctx, callRequest("shirushi_create_prompt_version", map[string]any{
		"name": "aliased", "template": "v1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleSetAlias(ctx, callRequest("shirushi_set_alias", map[string]any{
		"name": "aliased", "alias": "production", "version": "1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = s.handleGetPrompt(ctx, callRequest("shirushi_get_prompt", map[string]any{
		"name": "aliased", "version": "production",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var pv model.PromptVersion
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &pv))
	assert.Equal(t, 1, pv.Version)
}

func TestLinkTrace(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{"name": "traced"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	result, err = s.handleCreatePromptVersion(ctx, callRequest("shirushi_create_prompt_version", map[string]any{
		"name": "traced", "template": "hi",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	store.PutTrace("tr-1", nil)

	result, err = s.handleLinkTrace(ctx, callRequest("shirushi_link_trace", map[string]any{
		"trace_id": "tr-1", "name": "traced", "version": "1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	info, err := store.GetTraceInfo(ctx, "tr-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Contains(t, info.Tags[model.LinkedPromptsTagKey], `"traced"`)

	// Linking against an absent trace fails in-band.
	result, err = s.handleLinkTrace(ctx, callRequest("shirushi_link_trace", map[string]any{
		"trace_id": "missing", "name": "traced", "version": "1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPromptResource(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreatePrompt(ctx, callRequest("shirushi_create_prompt", map[string]any{"name": "res"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	contents, err := s.handlePromptResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI:       "shirushi://prompts/res",
			Arguments: map[string]any{"name": []string{"res"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"res"`)

	_, err = s.handlePromptResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{
			URI:       "shirushi://prompts/ghost",
			Arguments: map[string]any{"name": []string{"ghost"}},
		},
	})
	require.Error(t, err)
}
