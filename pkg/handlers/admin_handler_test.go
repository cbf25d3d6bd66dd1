package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/models"
	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

type stubSchemaCatalog struct {
	RefreshFunc func() (*models.Schema, error)
}

func (s *stubSchemaCatalog) Schema() (*models.Schema, error)     { return nil, nil }
func (s *stubSchemaCatalog) TableNames() ([]string, error)       { return nil, nil }
func (s *stubSchemaCatalog) TableInfo(string) (*models.Table, error) {
	return nil, nil
}
func (s *stubSchemaCatalog) SearchTables(string) ([]string, error) { return nil, nil }
func (s *stubSchemaCatalog) FilterByTables([]string) (*models.Schema, error) {
	return nil, nil
}
func (s *stubSchemaCatalog) FormatForLLM(*models.Schema, services.FormatOptions) string {
	return ""
}
func (s *stubSchemaCatalog) Refresh() (*models.Schema, error) { return s.RefreshFunc() }

type stubExampleStore struct {
	RefreshFunc func() ([]*models.Example, error)
	StatsFunc   func() (*services.ExampleStoreStats, error)
}

func (s *stubExampleStore) Examples() ([]*models.Example, error) { return nil, nil }
func (s *stubExampleStore) FindSimilar([]float32, int) ([]*models.Example, float64, error) {
	return nil, 0, nil
}
func (s *stubExampleStore) FindByKeyword(string) ([]*models.Example, error) { return nil, nil }
func (s *stubExampleStore) ExampleByFilename(string) (*models.Example, error) {
	return nil, nil
}
func (s *stubExampleStore) SaveEmbeddings() error                 { return nil }
func (s *stubExampleStore) Refresh() ([]*models.Example, error)   { return s.RefreshFunc() }
func (s *stubExampleStore) Stats() (*services.ExampleStoreStats, error) {
	return s.StatsFunc()
}

type stubIndexer struct {
	GenerateEmbeddingsFunc func(ctx context.Context, force bool) (*services.IndexStats, error)
}

func (s *stubIndexer) GenerateEmbeddings(ctx context.Context, force bool) (*services.IndexStats, error) {
	return s.GenerateEmbeddingsFunc(ctx, force)
}

func newAdminHandler(c *stubSchemaCatalog, e *stubExampleStore, i *stubIndexer) *AdminHandler {
	return NewAdminHandler(c, e, i, zap.NewNop())
}

func TestAdminHandler_RefreshSchema(t *testing.T) {
	catalog := &stubSchemaCatalog{
		RefreshFunc: func() (*models.Schema, error) {
			return &models.Schema{
				Tables: map[string]*models.Table{
					"vehicles": {},
					"trips":    {},
				},
				TableNames: []string{"trips", "vehicles"},
			}, nil
		},
	}
	h := newAdminHandler(catalog, &stubExampleStore{}, &stubIndexer{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/schema/refresh", nil)
	rec := httptest.NewRecorder()

	h.RefreshSchema(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["tables"])
}

func TestAdminHandler_RefreshSchema_Error(t *testing.T) {
	catalog := &stubSchemaCatalog{
		RefreshFunc: func() (*models.Schema, error) {
			return nil, fmt.Errorf("read schema dump: no such file")
		},
	}
	h := newAdminHandler(catalog, &stubExampleStore{}, &stubIndexer{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/schema/refresh", nil)
	rec := httptest.NewRecorder()

	h.RefreshSchema(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "refresh_failed")
}

func TestAdminHandler_RefreshKnowledgeBase(t *testing.T) {
	store := &stubExampleStore{
		RefreshFunc: func() ([]*models.Example, error) {
			return []*models.Example{{Filename: "trips_by_driver.sql"}}, nil
		},
	}
	h := newAdminHandler(&stubSchemaCatalog{}, store, &stubIndexer{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/knowledge-base/refresh", nil)
	rec := httptest.NewRecorder()

	h.RefreshKnowledgeBase(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["examples"])
}

func TestAdminHandler_GenerateEmbeddings_ForceFlag(t *testing.T) {
	var gotForce bool
	indexer := &stubIndexer{
		GenerateEmbeddingsFunc: func(ctx context.Context, force bool) (*services.IndexStats, error) {
			gotForce = force
			return &services.IndexStats{
				TotalExamples:       4,
				EmbeddingsGenerated: 4,
				EmbeddingsAvailable: 4,
			}, nil
		},
	}
	h := newAdminHandler(&stubSchemaCatalog{}, &stubExampleStore{}, indexer)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/knowledge-base/embeddings?force=true", nil)
	rec := httptest.NewRecorder()

	h.GenerateEmbeddings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotForce)
	var stats services.IndexStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 4, stats.EmbeddingsGenerated)
}

func TestAdminHandler_GenerateEmbeddings_DefaultsToIncremental(t *testing.T) {
	indexer := &stubIndexer{
		GenerateEmbeddingsFunc: func(ctx context.Context, force bool) (*services.IndexStats, error) {
			assert.False(t, force)
			return &services.IndexStats{}, nil
		},
	}
	h := newAdminHandler(&stubSchemaCatalog{}, &stubExampleStore{}, indexer)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/knowledge-base/embeddings", nil)
	rec := httptest.NewRecorder()

	h.GenerateEmbeddings(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminHandler_Stats(t *testing.T) {
	store := &stubExampleStore{
		StatsFunc: func() (*services.ExampleStoreStats, error) {
			return &services.ExampleStoreStats{TotalExamples: 12, WithEmbeddings: 9}, nil
		},
	}
	h := newAdminHandler(&stubSchemaCatalog{}, store, &stubIndexer{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/knowledge-base/stats", nil)
	rec := httptest.NewRecorder()

	h.Stats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats services.ExampleStoreStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 12, stats.TotalExamples)
	assert.Equal(t, 9, stats.WithEmbeddings)
}
