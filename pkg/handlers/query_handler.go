package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

// GenerateQueryRequest is the body for POST /api/queries.
type GenerateQueryRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`

	// OriginalAttemptID links a rephrased question to the attempt it
	// retries. Empty for a fresh question.
	OriginalAttemptID string `json:"original_attempt_id,omitempty"`
}

// QueryHandler handles query generation, execution and results requests.
type QueryHandler struct {
	queries   services.QueryService
	execution services.ExecutionService
	export    services.ExportService
	logger    *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(
	queries services.QueryService,
	execution services.ExecutionService,
	export services.ExportService,
	logger *zap.Logger,
) *QueryHandler {
	return &QueryHandler{
		queries:   queries,
		execution: execution,
		export:    export,
		logger:    logger,
	}
}

// RegisterRoutes registers the query routes.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/queries", h.Generate)
	mux.HandleFunc("GET /api/queries", h.List)
	mux.HandleFunc("GET /api/queries/{id}", h.Get)
	mux.HandleFunc("POST /api/queries/{id}/execute", h.Execute)
	mux.HandleFunc("GET /api/queries/{id}/results", h.Results)
	mux.HandleFunc("GET /api/queries/{id}/export", h.Export)
}

// Generate handles POST /api/queries: runs the generation pipeline for
// a natural-language question and returns the persisted attempt.
func (h *QueryHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_question", "question is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	originalID := uuid.Nil
	if req.OriginalAttemptID != "" {
		parsed, err := uuid.Parse(req.OriginalAttemptID)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_original_attempt_id", "Invalid original attempt ID format")
			return
		}
		originalID = parsed
	}

	result, err := h.queries.Generate(r.Context(), req.UserID, req.Question, originalID)
	if err != nil {
		h.logger.Error("Generation failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/queries/{id}.
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}

	attempt, err := h.queries.GetAttempt(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, attempt); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/queries?user_id=...&limit=N, newest first.
func (h *QueryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_user_id", "user_id query parameter is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	attempts, err := h.queries.ListAttempts(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to list attempts", zap.String("user_id", userID), zap.Error(err))
		WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"attempts": attempts}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /api/queries/{id}/execute: runs the attempt's
// SQL against the warehouse and returns the first page of results.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}

	manifest, err := h.execution.Execute(r.Context(), id)
	if err != nil {
		h.logger.Warn("Execution failed", zap.String("attempt_id", id.String()), zap.Error(err))
		WriteError(w, err)
		return
	}

	page := &services.ResultsPage{
		AttemptID: manifest.AttemptID,
		Columns:   manifest.Columns,
		Rows:      manifest.Page(1),
		Page:      1,
		PageSize:  manifest.PageSize,
		PageCount: manifest.PageCount,
		TotalRows: manifest.TotalRows,
	}
	if err := WriteJSON(w, http.StatusOK, page); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Results handles GET /api/queries/{id}/results?page=N (1-based).
func (h *QueryHandler) Results(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_page", "page must be a positive integer")
			return
		}
		page = parsed
	}

	results, err := h.execution.GetResultsPage(r.Context(), id, page)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, results); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /api/queries/{id}/export: streams the full result
// set as a CSV download. Oversized result sets are rejected outright.
func (h *QueryHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))

	if err := h.export.WriteCSV(r.Context(), id, w); err != nil {
		// Reset the download headers before writing the JSON error.
		w.Header().Del("Content-Disposition")
		w.Header().Set("Content-Type", "application/json")
		h.logger.Warn("Export failed", zap.String("attempt_id", id.String()), zap.Error(err))
		WriteError(w, err)
	}
}

func (h *QueryHandler) attemptID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_attempt_id", "Invalid attempt ID format")
		return uuid.Nil, false
	}
	return id, true
}
