package models

import "time"

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// TrainingRun is one execution of the fine-tuning pipeline as recorded in
// the run ledger
type TrainingRun struct {
	ID                 string     `db:"id" json:"id"`
	Status             string     `db:"status" json:"status"`
	DatasetPath        string     `db:"dataset_path" json:"dataset_path"`
	DatasetEncoding    string     `db:"dataset_encoding" json:"dataset_encoding"`
	DatasetFingerprint string     `db:"dataset_fingerprint" json:"dataset_fingerprint"`
	TotalRows          int        `db:"total_rows" json:"total_rows"`
	DroppedRows        int        `db:"dropped_rows" json:"dropped_rows"`
	TrainSize          int        `db:"train_size" json:"train_size"`
	ValidationSize     int        `db:"validation_size" json:"validation_size"`
	TestSize           int        `db:"test_size" json:"test_size"`
	TokenizerMode      string     `db:"tokenizer_mode" json:"tokenizer_mode"`
	MaxLength          int        `db:"max_length" json:"max_length"`
	Epochs             int        `db:"epochs" json:"epochs"`
	LearningRate       float64    `db:"learning_rate" json:"learning_rate"`
	BestEpoch          int        `db:"best_epoch" json:"best_epoch"`
	ValF1              float64    `db:"val_f1" json:"val_f1"`
	TestAccuracy       float64    `db:"test_accuracy" json:"test_accuracy"`
	TestPrecision      float64    `db:"test_precision" json:"test_precision"`
	TestRecall         float64    `db:"test_recall" json:"test_recall"`
	TestF1             float64    `db:"test_f1" json:"test_f1"`
	TestAUC            float64    `db:"test_auc" json:"test_auc"`
	ModelDir           string     `db:"model_dir" json:"model_dir"`
	TokenizerDir       string     `db:"tokenizer_dir" json:"tokenizer_dir"`
	SampleLabel        string     `db:"sample_label" json:"sample_label"`
	SampleConfidence   float64    `db:"sample_confidence" json:"sample_confidence"`
	ErrorMessage       string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt          time.Time  `db:"started_at" json:"started_at"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
