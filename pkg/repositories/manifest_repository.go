package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/database"
	"github.com/fleetsense/fleetsense-engine/pkg/models"
)

// ManifestRepository provides data access for result manifests.
type ManifestRepository interface {
	Save(ctx context.Context, manifest *models.ResultsManifest) error
	GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error)
}

type manifestRepository struct {
	db *database.DB
}

// NewManifestRepository creates a new ManifestRepository.
func NewManifestRepository(db *database.DB) ManifestRepository {
	return &manifestRepository{db: db}
}

var _ ManifestRepository = (*manifestRepository)(nil)

// Save stores a manifest. A retried execution replaces any manifest left
// over from a previous failed run of the same attempt.
func (r *manifestRepository) Save(ctx context.Context, manifest *models.ResultsManifest) error {
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	columnsJSON, err := json.Marshal(manifest.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	rowsJSON, err := json.Marshal(manifest.Rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}

	query := `
		INSERT INTO result_manifests (
			attempt_id, columns, rows, total_rows, page_size, page_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id) DO UPDATE
		SET columns = EXCLUDED.columns,
		    rows = EXCLUDED.rows,
		    total_rows = EXCLUDED.total_rows,
		    page_size = EXCLUDED.page_size,
		    page_count = EXCLUDED.page_count,
		    created_at = EXCLUDED.created_at`

	_, err = r.db.Exec(ctx, query,
		manifest.AttemptID, columnsJSON, rowsJSON,
		manifest.TotalRows, manifest.PageSize, manifest.PageCount, manifest.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result manifest: %w", err)
	}

	return nil
}

func (r *manifestRepository) GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*models.ResultsManifest, error) {
	query := `
		SELECT attempt_id, columns, rows, total_rows, page_size, page_count, created_at
		FROM result_manifests
		WHERE attempt_id = $1`

	var manifest models.ResultsManifest
	var columnsJSON, rowsJSON []byte

	err := r.db.QueryRow(ctx, query, attemptID).Scan(
		&manifest.AttemptID, &columnsJSON, &rowsJSON,
		&manifest.TotalRows, &manifest.PageSize, &manifest.PageCount, &manifest.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("manifest for attempt %s: %w", attemptID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan result manifest: %w", err)
	}

	if err := json.Unmarshal(columnsJSON, &manifest.Columns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
	}
	if err := json.Unmarshal(rowsJSON, &manifest.Rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
	}

	return &manifest, nil
}
