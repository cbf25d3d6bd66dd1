package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
	"github.com/fleetsense/fleetsense-engine/pkg/repositories"
)

// ExportService writes executed results as CSV. Result sets over the
// configured row limit are rejected outright, never truncated.
type ExportService interface {
	// WriteCSV streams an attempt's full result set as CSV.
	WriteCSV(ctx context.Context, attemptID uuid.UUID, w io.Writer) error

	// ExportToFile writes the CSV into the export directory and returns
	// the file path.
	ExportToFile(ctx context.Context, attemptID uuid.UUID) (string, error)
}

type exportService struct {
	manifests repositories.ManifestRepository
	rowLimit  int
	directory string
	logger    *zap.Logger
}

// NewExportService creates an ExportService.
func NewExportService(manifests repositories.ManifestRepository, rowLimit int, directory string, logger *zap.Logger) ExportService {
	return &exportService{
		manifests: manifests,
		rowLimit:  rowLimit,
		directory: directory,
		logger:    logger.Named("export_service"),
	}
}

var _ ExportService = (*exportService)(nil)

func (s *exportService) WriteCSV(ctx context.Context, attemptID uuid.UUID, w io.Writer) error {
	manifest, err := s.manifests.GetByAttemptID(ctx, attemptID)
	if err != nil {
		return err
	}

	if manifest.TotalRows > s.rowLimit {
		return fmt.Errorf("result set has %d rows, export limit is %d: %w",
			manifest.TotalRows, s.rowLimit, apperrors.ErrExportTooLarge)
	}

	writer := csv.NewWriter(w)

	if err := writer.Write(manifest.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(manifest.Columns))
	for _, row := range manifest.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprintf("%v", row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	s.logger.Info("Exported results",
		zap.String("attempt_id", attemptID.String()),
		zap.Int("rows", manifest.TotalRows),
	)

	return nil
}

func (s *exportService) ExportToFile(ctx context.Context, attemptID uuid.UUID) (string, error) {
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(s.directory, attemptID.String()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := s.WriteCSV(ctx, attemptID, f); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}
