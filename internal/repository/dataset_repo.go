package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"phishing-detector/internal/models"
)

// SplitCount is the number of stored rows for one split and label
type SplitCount struct {
	Split     string `db:"split"`
	Label     int    `db:"label"`
	LabelName string `db:"label_name"`
	Count     int    `db:"count"`
}

// DatasetRepository stores the cleaned rows each run was trained on
type DatasetRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *sqlx.DB, logger *zap.Logger) *DatasetRepository {
	return &DatasetRepository{db: db, logger: logger}
}

// SaveEntries inserts entries in a single transaction
func (r *DatasetRepository) SaveEntries(ctx context.Context, entries []models.DatasetEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO dataset_entries (run_id, split, message_text, label, label_name, source, created_at)
		VALUES (:run_id, :split, :message_text, :label, :label_name, :source, :created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		if _, err := stmt.ExecContext(ctx, &entries[i]); err != nil {
			return fmt.Errorf("failed to insert dataset entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset entries: %w", err)
	}

	r.logger.Info("Dataset entries saved",
		zap.String("run_id", entries[0].RunID),
		zap.Int("count", len(entries)))
	return nil
}

// Stats counts stored rows per split and label for a run
func (r *DatasetRepository) Stats(ctx context.Context, runID string) ([]SplitCount, error) {
	query := r.db.Rebind(`
		SELECT split, label, label_name, COUNT(*) AS count
		FROM dataset_entries
		WHERE run_id = ?
		GROUP BY split, label, label_name
		ORDER BY split, label
	`)

	var counts []SplitCount
	if err := r.db.SelectContext(ctx, &counts, query, runID); err != nil {
		return nil, fmt.Errorf("failed to get dataset stats: %w", err)
	}
	return counts, nil
}

// Entries returns the stored rows of one split of a run
func (r *DatasetRepository) Entries(ctx context.Context, runID, split string) ([]models.DatasetEntry, error) {
	query := r.db.Rebind(`
		SELECT id, run_id, split, message_text, label, label_name, source, created_at
		FROM dataset_entries
		WHERE run_id = ? AND split = ?
		ORDER BY id
	`)

	var entries []models.DatasetEntry
	if err := r.db.SelectContext(ctx, &entries, query, runID, split); err != nil {
		return nil, fmt.Errorf("failed to get dataset entries: %w", err)
	}
	return entries, nil
}
