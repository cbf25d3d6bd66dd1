package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// MockAttemptRepository is an in-memory AttemptRepository for tests.
// Behavior can be overridden per call via the function fields.
type MockAttemptRepository struct {
	CreateFunc  func(ctx context.Context, attempt *models.QueryAttempt) error
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error)
	UpdateFunc  func(ctx context.Context, attempt *models.QueryAttempt) error

	mu          sync.Mutex
	attempts    map[uuid.UUID]*models.QueryAttempt
	CreateCalls int
	UpdateCalls int
}

// NewMockAttemptRepository creates an empty in-memory repository.
func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{attempts: make(map[uuid.UUID]*models.QueryAttempt)}
}

var _ AttemptRepository = (*MockAttemptRepository)(nil)

func (m *MockAttemptRepository) Create(ctx context.Context, attempt *models.QueryAttempt) error {
	m.mu.Lock()
	m.CreateCalls++
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *attempt
	m.attempts[attempt.ID] = &copied
	return nil
}

func (m *MockAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.QueryAttempt, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("query attempt %s: %w", id, apperrors.ErrNotFound)
	}
	copied := *attempt
	return &copied, nil
}

func (m *MockAttemptRepository) Update(ctx context.Context, attempt *models.QueryAttempt) error {
	m.mu.Lock()
	m.UpdateCalls++
	m.mu.Unlock()
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[attempt.ID]; !ok {
		return fmt.Errorf("query attempt %s: %w", attempt.ID, apperrors.ErrNotFound)
	}
	copied := *attempt
	m.attempts[attempt.ID] = &copied
	return nil
}

func (m *MockAttemptRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.QueryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.QueryAttempt
	for _, attempt := range m.attempts {
		if attempt.UserID == userID {
			copied := *attempt
			result = append(result, &copied)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// Stored returns the stored attempt, or nil.
func (m *MockAttemptRepository) Stored(id uuid.UUID) *models.QueryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

// MockManifestRepository is an in-memory ManifestRepository for tests.
type MockManifestRepository struct {
	SaveFunc func(ctx context.Context, manifest *models.ResultsManifest) error

	mu        sync.Mutex
	manifests map[uuid.UUID]*models.ResultsManifest
	SaveCalls int
}

// NewMockManifestRepository creates an empty in-memory repository.
func NewMockManifestRepository() *MockManifestRepository {
	return &MockManifestRepository{manifests: make(map[uuid.UUID]*models.ResultsManifest)}
}

var _ ManifestRepository = (*MockManifestRepository)(nil)

func (m *MockManifestRepository) Save(ctx context.Context, manifest *models.ResultsManifest) error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, manifest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[manifest.AttemptID] = manifest
	return nil
}

func (m *MockManifestRepository) GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[attemptID]
	if !ok {
		return nil, fmt.Errorf("manifest for attempt %s: %w", attemptID, apperrors.ErrNotFound)
	}
	return manifest, nil
}
