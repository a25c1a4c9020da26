package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/revops-ai/tracecompact/pkg/archive"
	"github.com/revops-ai/tracecompact/pkg/config"
	"github.com/revops-ai/tracecompact/pkg/models"
	"github.com/revops-ai/tracecompact/pkg/pipeline"
	"github.com/revops-ai/tracecompact/pkg/promptcache"
)

// PromptIndex is the read side of the prompt cache exposed over HTTP.
type PromptIndex interface {
	Resolve(id string) (string, error)
	Reference(id string) (models.PromptReference, error)
	References() []models.PromptReference
	Stats() models.PromptCacheStats
}

// Server is the tracecompact HTTP API.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	prompts  PromptIndex
	archive  *archive.Archive
	logger   *zap.Logger
	mux      *http.ServeMux
}

// New creates a Server wired with all dependencies. a may be nil.
func New(cfg *config.Config, p *pipeline.Pipeline, prompts PromptIndex, a *archive.Archive, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		prompts:  prompts,
		archive:  a,
		logger:   logger.Named("server"),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/traces", s.handleTrace)
	s.mux.HandleFunc("POST /v1/traces/batch", s.handleBatch)
	s.mux.HandleFunc("GET /v1/prompts", s.handleListPrompts)
	s.mux.HandleFunc("GET /v1/prompts/{id}", s.handleGetPrompt)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := r.Header.Get("X-Request-Id")
	if rid == "" {
		rid = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", rid)
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		zap.String("request_id", rid),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("latency", time.Since(start)))
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tracecompact listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		grace := s.cfg.Pipeline.ShutdownGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) maxBody() int64 {
	if n := s.cfg.Pipeline.MaxLineSize; n > 0 {
		return int64(n)
	}
	return 4 * 1024 * 1024
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := s.pipeline.ProcessOne(r.Context(), body)
	if err != nil {
		s.writeProcessError(w, err)
		return
	}

	if res.TraceID != "" {
		w.Header().Set("X-Trace-Id", res.TraceID)
	}
	if res.PromptRef != "" {
		w.Header().Set("X-Prompt-Ref", res.PromptRef)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Compacted)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var out bytes.Buffer
	res, err := s.pipeline.Run(r.Context(), r.Body, &out)
	if err != nil {
		s.writeProcessError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Records", fmt.Sprint(res.Records))
	w.Header().Set("X-Compacted", fmt.Sprint(res.Compacted))
	w.Header().Set("X-Skipped", fmt.Sprint(res.Skipped))
	w.WriteHeader(http.StatusOK)
	_, _ = out.WriteTo(w)
}

func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidJSON):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case pipeline.IsRecordError(err):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("trace processing failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type promptResponse struct {
	Reference models.PromptReference `json:"reference"`
	Text      string                 `json:"text"`
	Source    string                 `json:"source"`
	EvictedAt *time.Time             `json:"evicted_at,omitempty"`
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	text, err := s.prompts.Resolve(id)
	if err == nil {
		ref, refErr := s.prompts.Reference(id)
		if refErr == nil {
			writeJSON(w, http.StatusOK, promptResponse{Reference: ref, Text: text, Source: "cache"})
			return
		}
		err = refErr
	}
	if !errors.Is(err, promptcache.ErrNotFound) {
		s.logger.Error("prompt resolve failed", zap.String("prompt_ref", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.archive != nil && r.URL.Query().Get("archive") != "" {
		p, aerr := s.archive.Prompt(r.Context(), id)
		if aerr == nil {
			writeJSON(w, http.StatusOK, promptResponse{
				Reference: p.PromptReference,
				Text:      p.Text,
				Source:    "archive",
				EvictedAt: p.EvictedAt,
			})
			return
		}
		if !errors.Is(aerr, archive.ErrNotFound) {
			s.logger.Error("archive prompt lookup failed", zap.String("prompt_ref", id), zap.Error(aerr))
		}
	}
	writeJSONError(w, http.StatusNotFound, fmt.Sprintf("prompt %s not found", id))
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": s.prompts.References()})
}

type statsResponse struct {
	models.PromptCacheStats
	SavedChars       int64   `json:"saved_chars"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.prompts.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		PromptCacheStats: st,
		SavedChars:       st.SavedChars(),
		CompressionRatio: st.CompressionRatio(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"tracecompact_error","code":%d}}`, message, code)
}
