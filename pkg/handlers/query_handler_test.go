package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
	"github.com/fleetsense/fleetsense-engine/pkg/services"
)

type stubQueryService struct {
	GenerateFunc     func(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*services.GenerationResult, error)
	GetAttemptFunc   func(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error)
	ListAttemptsFunc func(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error)
}

func (s *stubQueryService) Generate(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*services.GenerationResult, error) {
	return s.GenerateFunc(ctx, userID, question, originalAttemptID)
}

func (s *stubQueryService) GetAttempt(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
	return s.GetAttemptFunc(ctx, id)
}

func (s *stubQueryService) ListAttempts(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error) {
	return s.ListAttemptsFunc(ctx, userID, limit)
}

type stubExecutionService struct {
	ExecuteFunc        func(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error)
	GetResultsPageFunc func(ctx context.Context, attemptID uuid.UUID, page int) (*services.ResultsPage, error)
}

func (s *stubExecutionService) Execute(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error) {
	return s.ExecuteFunc(ctx, attemptID)
}

func (s *stubExecutionService) GetResultsPage(ctx context.Context, attemptID uuid.UUID, page int) (*services.ResultsPage, error) {
	return s.GetResultsPageFunc(ctx, attemptID, page)
}

type stubExportService struct {
	WriteCSVFunc func(ctx context.Context, attemptID uuid.UUID, w io.Writer) error
}

func (s *stubExportService) WriteCSV(ctx context.Context, attemptID uuid.UUID, w io.Writer) error {
	return s.WriteCSVFunc(ctx, attemptID, w)
}

func (s *stubExportService) ExportToFile(ctx context.Context, attemptID uuid.UUID) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func newQueryHandler(q *stubQueryService, e *stubExecutionService, x *stubExportService) *QueryHandler {
	return NewQueryHandler(q, e, x, zap.NewNop())
}

func sampleAttempt(id uuid.UUID) *models.QueryAttempt {
	sql := "SELECT * FROM vehicles;"
	return &models.QueryAttempt{
		ID:                   id,
		UserID:               "user-1",
		NaturalLanguageQuery: "show me all vehicles",
		GeneratedSQL:         &sql,
		Status:               models.StatusNotExecuted,
		CreatedAt:            time.Now().UTC(),
	}
}

func TestQueryHandler_Generate_Success(t *testing.T) {
	attemptID := uuid.New()
	queries := &stubQueryService{
		GenerateFunc: func(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*services.GenerationResult, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "show me all vehicles", question)
			assert.Equal(t, uuid.Nil, originalAttemptID)
			return &services.GenerationResult{
				Attempt:        sampleAttempt(attemptID),
				SelectedTables: []string{"vehicles"},
			}, nil
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	body, _ := json.Marshal(GenerateQueryRequest{Question: "show me all vehicles", UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/queries", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Generate(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var result services.GenerationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, attemptID, result.Attempt.ID)
	assert.Equal(t, []string{"vehicles"}, result.SelectedTables)
}

func TestQueryHandler_Generate_MissingQuestion(t *testing.T) {
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, &stubExportService{})

	body := []byte(`{"user_id": "user-1", "question": "   "}`)
	req := httptest.NewRequest(http.MethodPost, "/api/queries", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_question")
}

func TestQueryHandler_Generate_InvalidOriginalAttemptID(t *testing.T) {
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, &stubExportService{})

	body := []byte(`{"user_id": "user-1", "question": "q", "original_attempt_id": "not-a-uuid"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/queries", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_original_attempt_id")
}

func TestQueryHandler_Generate_UnknownOriginalAttempt(t *testing.T) {
	queries := &stubQueryService{
		GenerateFunc: func(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*services.GenerationResult, error) {
			return nil, fmt.Errorf("original attempt: %w", apperrors.ErrNotFound)
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	body, _ := json.Marshal(GenerateQueryRequest{
		Question:          "q",
		UserID:            "user-1",
		OriginalAttemptID: uuid.NewString(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/queries", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Generate(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryHandler_Generate_LLMUnavailable(t *testing.T) {
	queries := &stubQueryService{
		GenerateFunc: func(ctx context.Context, userID, question string, originalAttemptID uuid.UUID) (*services.GenerationResult, error) {
			return nil, fmt.Errorf("synthesis: %w", apperrors.ErrLLMUnavailable)
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	body, _ := json.Marshal(GenerateQueryRequest{Question: "q", UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/queries", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Generate(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryHandler_Get(t *testing.T) {
	attemptID := uuid.New()
	queries := &stubQueryService{
		GetAttemptFunc: func(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
			assert.Equal(t, attemptID, id)
			return sampleAttempt(attemptID), nil
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+attemptID.String(), nil)
	req.SetPathValue("id", attemptID.String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var attempt models.QueryAttempt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&attempt))
	assert.Equal(t, attemptID, attempt.ID)
}

func TestQueryHandler_Get_NotFound(t *testing.T) {
	queries := &stubQueryService{
		GetAttemptFunc: func(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
			return nil, apperrors.ErrNotFound
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryHandler_Get_InvalidID(t *testing.T) {
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, &stubExportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/queries/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_attempt_id")
}

func TestQueryHandler_List(t *testing.T) {
	queries := &stubQueryService{
		ListAttemptsFunc: func(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, 10, limit)
			return []*models.QueryAttempt{sampleAttempt(uuid.New()), sampleAttempt(uuid.New())}, nil
		},
	}
	h := newQueryHandler(queries, &stubExecutionService{}, &stubExportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/queries?user_id=user-1&limit=10", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Attempts []*models.QueryAttempt `json:"attempts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Attempts, 2)
}

func TestQueryHandler_List_MissingUserID(t *testing.T) {
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, &stubExportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/queries", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_user_id")
}

func TestQueryHandler_Execute_ReturnsFirstPage(t *testing.T) {
	attemptID := uuid.New()
	execution := &stubExecutionService{
		ExecuteFunc: func(ctx context.Context, id uuid.UUID) (*models.ResultsManifest, error) {
			assert.Equal(t, attemptID, id)
			return &models.ResultsManifest{
				AttemptID: attemptID,
				Columns:   []string{"id", "plate"},
				Rows:      [][]any{{float64(1), "AB-123"}, {float64(2), "CD-456"}},
				TotalRows: 2,
				PageSize:  500,
				PageCount: 1,
			}, nil
		},
	}
	h := newQueryHandler(&stubQueryService{}, execution, &stubExportService{})

	req := httptest.NewRequest(http.MethodPost, "/api/queries/"+attemptID.String()+"/execute", nil)
	req.SetPathValue("id", attemptID.String())
	rec := httptest.NewRecorder()

	h.Execute(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page services.ResultsPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.TotalRows)
	assert.Len(t, page.Rows, 2)
}

func TestQueryHandler_Execute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"already successful", apperrors.ErrConflict, http.StatusConflict},
		{"missing attempt", apperrors.ErrNotFound, http.StatusNotFound},
		{"timeout", fmt.Errorf("execute: %w", apperrors.ErrExecutionTimeout), http.StatusGatewayTimeout},
		{"warehouse failure", fmt.Errorf("execute: %w", apperrors.ErrExecutionError), http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			execution := &stubExecutionService{
				ExecuteFunc: func(ctx context.Context, id uuid.UUID) (*models.ResultsManifest, error) {
					return nil, tc.err
				},
			}
			h := newQueryHandler(&stubQueryService{}, execution, &stubExportService{})

			id := uuid.New()
			req := httptest.NewRequest(http.MethodPost, "/api/queries/"+id.String()+"/execute", nil)
			req.SetPathValue("id", id.String())
			rec := httptest.NewRecorder()

			h.Execute(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestQueryHandler_Results(t *testing.T) {
	attemptID := uuid.New()
	execution := &stubExecutionService{
		GetResultsPageFunc: func(ctx context.Context, id uuid.UUID, page int) (*services.ResultsPage, error) {
			assert.Equal(t, 3, page)
			return &services.ResultsPage{
				AttemptID: attemptID,
				Columns:   []string{"id"},
				Rows:      [][]any{{float64(1001)}},
				Page:      3,
				PageSize:  500,
				PageCount: 3,
				TotalRows: 1001,
			}, nil
		},
	}
	h := newQueryHandler(&stubQueryService{}, execution, &stubExportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+attemptID.String()+"/results?page=3", nil)
	req.SetPathValue("id", attemptID.String())
	rec := httptest.NewRecorder()

	h.Results(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page services.ResultsPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 3, page.Page)
}

func TestQueryHandler_Results_InvalidPage(t *testing.T) {
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, &stubExportService{})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+id.String()+"/results?page=0", nil)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.Results(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_page")
}

func TestQueryHandler_Export(t *testing.T) {
	attemptID := uuid.New()
	export := &stubExportService{
		WriteCSVFunc: func(ctx context.Context, id uuid.UUID, w io.Writer) error {
			assert.Equal(t, attemptID, id)
			_, err := w.Write([]byte("id,plate\n1,AB-123\n"))
			return err
		},
	}
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, export)

	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+attemptID.String()+"/export", nil)
	req.SetPathValue("id", attemptID.String())
	rec := httptest.NewRecorder()

	h.Export(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), attemptID.String())
	assert.Equal(t, "id,plate\n1,AB-123\n", rec.Body.String())
}

func TestQueryHandler_Export_TooLarge(t *testing.T) {
	export := &stubExportService{
		WriteCSVFunc: func(ctx context.Context, id uuid.UUID, w io.Writer) error {
			return fmt.Errorf("export: %w", apperrors.ErrExportTooLarge)
		},
	}
	h := newQueryHandler(&stubQueryService{}, &stubExecutionService{}, export)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/queries/"+id.String()+"/export", nil)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.Export(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
