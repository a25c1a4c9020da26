package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/revops-ai/tracecompact/pkg/models"
	"github.com/revops-ai/tracecompact/pkg/promptcache"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"tracecompact_cache_stats":    handleCacheStats,
	"tracecompact_resolve_prompt": handleResolvePrompt,
	"tracecompact_list_prompts":   handleListPrompts,
	"tracecompact_trace_search":   handleTraceSearch,
	"tracecompact_trace_stats":    handleTraceStats,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "tracecompact_cache_stats",
		Description: "Show prompt cache statistics (entries, usage, evictions, characters saved).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "tracecompact_resolve_prompt",
		Description: "Return the full text of a prompt reference id such as prompt_3f9a1c2b7d4e.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"id"},
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The prompt reference id",
				},
				"archive": map[string]any{
					"type":        "boolean",
					"description": "Fall back to the archive when the prompt was evicted (optional)",
				},
			},
		},
	},
	{
		Name:        "tracecompact_list_prompts",
		Description: "List cached prompts, most used first.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "tracecompact_trace_search",
		Description: "Search archived compacted traces with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Filter by agent (optional)",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Filter by session ID (optional)",
				},
				"prompt_ref": map[string]any{
					"type":        "string",
					"description": "Filter by prompt reference id (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
			},
		},
	},
	{
		Name:        "tracecompact_trace_stats",
		Description: "Show archived trace counts and byte savings per agent and day.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.prompts == nil {
		return textResult("Prompt cache is not configured.")
	}
	return textResult(formatCacheStats(s.prompts.Stats()))
}

type resolveArgs struct {
	ID      string `json:"id"`
	Archive bool   `json:"archive"`
}

func handleResolvePrompt(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args resolveArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ID == "" {
		return errorResult("id is required")
	}

	if s.prompts != nil {
		text, err := s.prompts.Resolve(args.ID)
		if err == nil {
			ref, _ := s.prompts.Reference(args.ID)
			return textResult(formatPrompt(ref, text, nil))
		}
		if !errors.Is(err, promptcache.ErrNotFound) {
			return errorResult("Error resolving prompt: " + err.Error())
		}
	}

	// Without a live cache the archive is the only source.
	if (args.Archive || s.prompts == nil) && s.traces != nil {
		p, err := s.traces.Prompt(ctx, args.ID)
		if err == nil {
			return textResult(formatPrompt(p.PromptReference, p.Text, p.EvictedAt))
		}
	}
	return errorResult("Prompt " + args.ID + " not found.")
}

func handleListPrompts(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.prompts == nil {
		return textResult("Prompt cache is not configured.")
	}
	return textResult(formatReferences(s.prompts.References()))
}

type traceSearchArgs struct {
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
	PromptRef string `json:"prompt_ref"`
	Since     string `json:"since"`
}

func handleTraceSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.traces == nil {
		return textResult("Trace archive is not configured.")
	}
	var args traceSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.TraceQueryOpts{
		Agent:     args.Agent,
		SessionID: args.SessionID,
		PromptRef: args.PromptRef,
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.traces.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching traces: " + err.Error())
	}
	return textResult(formatTraceEntries(entries))
}

func handleTraceStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.traces == nil {
		return textResult("Trace archive is not configured.")
	}
	stats, err := s.traces.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching trace stats: " + err.Error())
	}
	return textResult(formatTraceStats(stats))
}
