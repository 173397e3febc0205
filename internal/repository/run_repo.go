package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"phishing-detector/internal/models"
)

// ErrRunNotFound is returned by Get for an unknown run id
var ErrRunNotFound = errors.New("training run not found")

const runColumns = `id, status, dataset_path, dataset_encoding, dataset_fingerprint,
	total_rows, dropped_rows, train_size, validation_size, test_size,
	tokenizer_mode, max_length, epochs, learning_rate, best_epoch, val_f1,
	test_accuracy, test_precision, test_recall, test_f1, test_auc,
	model_dir, tokenizer_dir, sample_label, sample_confidence, error_message,
	started_at, completed_at`

// RunRepository stores training runs
type RunRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sqlx.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save inserts the run or replaces the stored copy with the same id
func (r *RunRepository) Save(ctx context.Context, run *models.TrainingRun) error {
	query := `
		INSERT INTO training_runs (` + runColumns + `) VALUES (
			:id, :status, :dataset_path, :dataset_encoding, :dataset_fingerprint,
			:total_rows, :dropped_rows, :train_size, :validation_size, :test_size,
			:tokenizer_mode, :max_length, :epochs, :learning_rate, :best_epoch, :val_f1,
			:test_accuracy, :test_precision, :test_recall, :test_f1, :test_auc,
			:model_dir, :tokenizer_dir, :sample_label, :sample_confidence, :error_message,
			:started_at, :completed_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			best_epoch = excluded.best_epoch,
			val_f1 = excluded.val_f1,
			test_accuracy = excluded.test_accuracy,
			test_precision = excluded.test_precision,
			test_recall = excluded.test_recall,
			test_f1 = excluded.test_f1,
			test_auc = excluded.test_auc,
			sample_label = excluded.sample_label,
			sample_confidence = excluded.sample_confidence,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to save training run: %w", err)
	}

	r.logger.Debug("Training run saved",
		zap.String("run_id", run.ID),
		zap.String("status", run.Status))
	return nil
}

// Get returns a single run
func (r *RunRepository) Get(ctx context.Context, id string) (*models.TrainingRun, error) {
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM training_runs WHERE id = ?`)

	var run models.TrainingRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get training run: %w", err)
	}
	return &run, nil
}

// List returns the most recent runs first. limit <= 0 returns all of them.
func (r *RunRepository) List(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var runs []models.TrainingRun
	if err := r.db.SelectContext(ctx, &runs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list training runs: %w", err)
	}
	return runs, nil
}
