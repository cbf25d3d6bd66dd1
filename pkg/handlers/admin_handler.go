package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

// AdminHandler handles the operational endpoints: schema and knowledge
// base refresh, embedding generation and knowledge base stats.
type AdminHandler struct {
	catalog  services.SchemaCatalog
	examples services.ExampleStore
	indexer  services.EmbeddingIndexer
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	catalog services.SchemaCatalog,
	examples services.ExampleStore,
	indexer services.EmbeddingIndexer,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		catalog:  catalog,
		examples: examples,
		indexer:  indexer,
		logger:   logger,
	}
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/schema/refresh", h.RefreshSchema)
	mux.HandleFunc("POST /api/admin/knowledge-base/refresh", h.RefreshKnowledgeBase)
	mux.HandleFunc("POST /api/admin/knowledge-base/embeddings", h.GenerateEmbeddings)
	mux.HandleFunc("GET /api/admin/knowledge-base/stats", h.Stats)
}

// RefreshSchema handles POST /api/admin/schema/refresh: reloads the
// schema snapshot from disk and swaps it in atomically.
func (h *AdminHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.catalog.Refresh()
	if err != nil {
		h.logger.Error("Schema refresh failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "refresh_failed", "failed to refresh schema")
		return
	}

	h.logger.Info("Schema refreshed", zap.Int("tables", len(schema.Tables)))
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tables": len(schema.Tables),
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RefreshKnowledgeBase handles POST /api/admin/knowledge-base/refresh:
// re-reads the example files and their embeddings from disk.
func (h *AdminHandler) RefreshKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	examples, err := h.examples.Refresh()
	if err != nil {
		h.logger.Error("Knowledge base refresh failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "refresh_failed", "failed to refresh knowledge base")
		return
	}

	h.logger.Info("Knowledge base refreshed", zap.Int("examples", len(examples)))
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"examples": len(examples),
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GenerateEmbeddings handles POST /api/admin/knowledge-base/embeddings.
// Pass ?force=true to regenerate vectors that already exist.
func (h *AdminHandler) GenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	stats, err := h.indexer.GenerateEmbeddings(r.Context(), force)
	if err != nil {
		h.logger.Error("Embedding generation failed", zap.Error(err))
		WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Stats handles GET /api/admin/knowledge-base/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.examples.Stats()
	if err != nil {
		h.logger.Error("Failed to read knowledge base stats", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "stats_failed", "failed to read knowledge base stats")
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
