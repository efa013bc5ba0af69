package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"news-processor/internal/middleware"
	"news-processor/internal/pipeline"
	"news-processor/internal/repo"
	"news-processor/internal/services/categorizer"
	"news-processor/internal/services/summarizer"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 2 << 20

type BatchRunner interface {
	RunBatch(ctx context.Context) (pipeline.BatchReport, error)
}

// ProcessorHandler exposes the summarizer, the categorizer and the batch
// driver over HTTP.
type ProcessorHandler struct {
	summarizer  pipeline.Summarizer
	categorizer pipeline.Categorizer
	table       *categorizer.Table
	batch       BatchRunner
	maxRawChars int
}

func NewProcessorHandler(s pipeline.Summarizer, c pipeline.Categorizer, table *categorizer.Table, batch BatchRunner) *ProcessorHandler {
	return &ProcessorHandler{
		summarizer:  s,
		categorizer: c,
		table:       table,
		batch:       batch,
		maxRawChars: 4000,
	}
}

func (h *ProcessorHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/summarize", h.Summarize)
		r.Post("/categorize", h.Categorize)
		r.Post("/process", h.Process)
	})
}

// Summarize handles POST /api/v1/summarize
func (h *ProcessorHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required")
		return
	}

	text := req.Content
	if req.Title != "" {
		text = pipeline.SummaryInput(repo.Article{Title: req.Title, Content: req.Content})
	}

	summary, err := h.summarizer.Summarize(r.Context(), text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummarizeResponse{Summary: summary})
}

// Categorize handles POST /api/v1/categorize
func (h *ProcessorHandler) Categorize(w http.ResponseWriter, r *http.Request) {
	var req CategorizeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required")
		return
	}

	text := pipeline.TruncateInput(req.Content, h.maxRawChars)
	if req.Title != "" {
		text = pipeline.RawInput(repo.Article{Title: req.Title, Content: req.Content}, h.maxRawChars)
	}

	result, err := h.categorizer.Categorize(r.Context(), text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !result.HasCategory() {
		middleware.WriteError(w, http.StatusUnprocessableEntity, "NO_CATEGORY", "no model produced a valid category")
		return
	}

	name, _ := h.table.Name(result.Index)
	writeJSON(w, http.StatusOK, CategorizeResponse{
		Category: result.Index,
		Name:     name,
		Outcome:  string(result.Outcome),
		Votes:    votesToDTO(result.Votes),
	})
}

// Process handles POST /api/v1/process and runs one batch synchronously.
func (h *ProcessorHandler) Process(w http.ResponseWriter, r *http.Request) {
	report, err := h.batch.RunBatch(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrBatchRunning):
		middleware.WriteError(w, http.StatusConflict, "BATCH_RUNNING", "a batch is already running")
	case errors.Is(err, summarizer.ErrSummaryTooShort):
		middleware.WriteError(w, http.StatusBadGateway, "SUMMARY_FAILED", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		middleware.WriteError(w, http.StatusGatewayTimeout, "TIMEOUT", "upstream model timed out")
	case errors.Is(err, context.Canceled):
		middleware.WriteError(w, http.StatusServiceUnavailable, "CANCELLED", "request cancelled")
	default:
		log.Error().Err(err).Msg("Service call failed")
		middleware.WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream call failed")
	}
}
