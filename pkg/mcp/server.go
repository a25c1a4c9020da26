package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/revops-ai/tracecompact/pkg/models"
)

// PromptIndex is the read side of the in-memory prompt cache.
type PromptIndex interface {
	Resolve(id string) (string, error)
	Reference(id string) (models.PromptReference, error)
	References() []models.PromptReference
	Stats() models.PromptCacheStats
}

// TraceStore provides archived traces and prompt snapshots without coupling
// to the SQLite archive.
type TraceStore interface {
	Query(ctx context.Context, opts models.TraceQueryOpts) ([]models.TraceEntry, error)
	Stats(ctx context.Context) ([]models.TraceStat, error)
	Prompt(ctx context.Context, id string) (models.ArchivedPrompt, error)
}

const instructions = "Trace records carry prompt references like prompt_3f9a1c2b7d4e " +
	"in place of their system prompt. Use tracecompact_resolve_prompt to read one."

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	prompts PromptIndex
	traces  TraceStore
	logger  *zap.Logger
	version string
}

// New creates a new MCP Server. prompts and traces may be nil.
func New(prompts PromptIndex, traces TraceStore, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		prompts: prompts,
		traces:  traces,
		logger:  logger.Named("mcp"),
		version: version,
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: "tracecompact", Version: s.version},
		Capabilities:    map[string]any{"tools": map[string]any{}},
		Instructions:    instructions,
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return resultResponse(req.ID, ToolsListResult{Tools: allTools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
