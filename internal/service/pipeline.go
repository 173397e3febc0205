package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"phishing-detector/internal/config"
	"phishing-detector/internal/dataset"
	"phishing-detector/internal/model"
	"phishing-detector/internal/models"
	"phishing-detector/internal/report"
	"phishing-detector/internal/repository"
	"phishing-detector/internal/tokenizer"
	"phishing-detector/internal/training"
)

// ErrReloadMismatch is returned when the saved model does not reproduce the
// in-memory prediction
var ErrReloadMismatch = errors.New("reloaded model prediction differs from trained model")

// Result is everything one pipeline run produced
type Result struct {
	Run        models.TrainingRun
	Frame      *dataset.Frame
	Stats      dataset.Stats
	Splits     dataset.Splits
	History    *training.History
	Validation *training.EvalResult
	Test       *training.EvalResult
	Sample     models.Prediction
}

// Pipeline runs load, clean, split, tokenize, train, evaluate, save and
// verify for one dataset file
type Pipeline struct {
	cfg     *config.Config
	runs    *repository.RunRepository
	entries *repository.DatasetRepository
	out     io.Writer
	logger  *zap.Logger
}

// NewPipeline creates a new pipeline. runs and entries may be nil, which
// disables the run ledger.
func NewPipeline(
	cfg *config.Config,
	runs *repository.RunRepository,
	entries *repository.DatasetRepository,
	out io.Writer,
	logger *zap.Logger,
) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		cfg:     cfg,
		runs:    runs,
		entries: entries,
		out:     out,
		logger:  logger,
	}
}

// Run executes every stage on the CSV at path. The run is recorded in the
// ledger whether it succeeds or fails.
func (p *Pipeline) Run(ctx context.Context, path string) (*Result, error) {
	res := &Result{
		Run: models.TrainingRun{
			ID:            uuid.New().String(),
			Status:        models.RunStatusFailed,
			DatasetPath:   path,
			TokenizerMode: strings.ToLower(p.cfg.Tokenizer.Mode),
			MaxLength:     p.cfg.Tokenizer.MaxLength,
			Epochs:        p.cfg.Training.Epochs,
			LearningRate:  p.cfg.Training.LearningRate,
			ModelDir:      p.cfg.Output.ModelDir,
			TokenizerDir:  p.cfg.Output.TokenizerDir,
			StartedAt:     time.Now().UTC(),
		},
	}
	logger := p.logger.With(zap.String("run_id", res.Run.ID))
	logger.Info("Pipeline started", zap.String("dataset", path))

	err := p.run(ctx, res, logger)

	completed := time.Now().UTC()
	res.Run.CompletedAt = &completed
	if err != nil {
		res.Run.ErrorMessage = err.Error()
	} else {
		res.Run.Status = models.RunStatusCompleted
	}

	if p.runs != nil {
		// a cancelled ctx must not prevent recording the failure
		saveCtx := context.WithoutCancel(ctx)
		if saveErr := p.runs.Save(saveCtx, &res.Run); saveErr != nil {
			logger.Error("Failed to record training run", zap.Error(saveErr))
		}
	}

	if err != nil {
		return res, err
	}
	logger.Info("Pipeline completed",
		zap.Duration("duration", completed.Sub(res.Run.StartedAt)),
		zap.String("sample_label", res.Sample.LabelName))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result, logger *zap.Logger) error {
	cfg := p.cfg

	// Load and clean
	frame, err := dataset.Load(res.Run.DatasetPath)
	if err != nil {
		return err
	}
	res.Frame = frame
	res.Run.DatasetEncoding = frame.Encoding
	if frame.Encoding != dataset.EncodingUTF8 {
		logger.Warn("Dataset is not valid UTF-8, decoded as Latin-1")
	}

	emails, stats, err := dataset.Normalize(frame, dataset.NormalizeOptions{
		DropDuplicates: cfg.Data.DropDuplicates,
		MaxRows:        cfg.Data.MaxRows,
	})
	if err != nil {
		return err
	}
	res.Stats = stats
	res.Run.TotalRows = stats.TotalRows
	res.Run.DroppedRows = stats.Dropped()
	res.Run.DatasetFingerprint = dataset.Fingerprint(emails)
	logger.Info("Dataset cleaned",
		zap.Int("rows", stats.TotalRows),
		zap.Int("kept", stats.Kept),
		zap.Int("dropped", stats.Dropped()),
		zap.Int("malformed", stats.Malformed))

	// Split
	splits, err := dataset.Split(emails, dataset.SplitOptions{
		TestSize: cfg.Data.TestSize,
		ValSize:  cfg.Data.ValSize,
		Seed:     cfg.Data.Seed,
		Stratify: cfg.Data.Stratify,
	})
	if err != nil {
		return err
	}
	res.Splits = splits
	res.Run.TrainSize = len(splits.Train)
	res.Run.ValidationSize = len(splits.Validation)
	res.Run.TestSize = len(splits.Test)
	report.Print(p.out, report.Dataset(frame, stats, splits))

	trainRows := splits.Train
	if n := cfg.Training.MaxTrainSamples; n > 0 && len(trainRows) > n {
		logger.Info("Training on a subset of the train split",
			zap.Int("train_rows", len(trainRows)),
			zap.Int("max_train_samples", n))
		trainRows = trainRows[:n]
	}

	base, err := p.resolveBase(logger)
	if err != nil {
		return err
	}

	// Tokenize
	tok, err := p.tokenizer(base, trainRows, logger)
	if err != nil {
		return err
	}
	res.Run.TokenizerMode = tok.Mode()
	res.Run.MaxLength = tok.MaxLength()

	trainEx, err := p.encode(ctx, tok, trainRows)
	if err != nil {
		return err
	}
	valEx, err := p.encode(ctx, tok, splits.Validation)
	if err != nil {
		return err
	}
	testEx, err := p.encode(ctx, tok, splits.Test)
	if err != nil {
		return err
	}

	// Fine-tune
	backend, err := model.NewBackend(cfg.Model.Backend)
	if err != nil {
		return err
	}
	defer backend.Finalize()
	logger.Info("Compute backend ready", zap.String("backend", backend.Name()))

	clf, err := p.classifier(backend, base, tok, logger)
	if err != nil {
		return err
	}
	trainer := training.NewTrainer(clf, training.Options{
		Epochs:             cfg.Training.Epochs,
		BatchSize:          cfg.Training.BatchSize,
		LearningRate:       cfg.Training.LearningRate,
		WeightDecay:        cfg.Training.WeightDecay,
		WarmupRatio:        cfg.Training.WarmupRatio,
		Beta1:              cfg.Training.Beta1,
		Beta2:              cfg.Training.Beta2,
		Epsilon:            cfg.Training.Epsilon,
		LoadBestModelAtEnd: cfg.Training.LoadBestModelAtEnd,
		LogEvery:           cfg.Training.LogEvery,
		Seed:               cfg.Data.Seed,
	}, logger)

	history, err := trainer.Train(ctx, trainEx, valEx)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	res.History = history
	res.Run.BestEpoch = history.BestEpoch

	// Evaluate
	if res.Validation, err = trainer.Evaluate(ctx, valEx); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if res.Test, err = trainer.Evaluate(ctx, testEx); err != nil {
		return fmt.Errorf("test evaluation failed: %w", err)
	}
	res.Run.ValF1 = res.Validation.F1
	res.Run.TestAccuracy = res.Test.Accuracy
	res.Run.TestPrecision = res.Test.Precision
	res.Run.TestRecall = res.Test.Recall
	res.Run.TestF1 = res.Test.F1
	res.Run.TestAUC = res.Test.AUC
	if !res.Test.AUCDefined {
		logger.Warn("Test split holds a single class, AUC-ROC reported as default",
			zap.Float64("auc", training.DefaultAUC))
	}
	logger.Info("Test set evaluated",
		zap.Float64("accuracy", res.Test.Accuracy),
		zap.Float64("f1", res.Test.F1),
		zap.Float64("auc", res.Test.AUC))

	// Save
	if err := clf.Save(cfg.Output.ModelDir); err != nil {
		return err
	}
	if err := tok.Save(cfg.Output.TokenizerDir); err != nil {
		return err
	}
	// a copy next to the weights lets the model dir serve as a base model
	if filepath.Clean(cfg.Output.TokenizerDir) != filepath.Clean(cfg.Output.ModelDir) {
		if err := tok.Save(cfg.Output.ModelDir); err != nil {
			return err
		}
	}
	logger.Info("Model and tokenizer saved",
		zap.String("model_dir", cfg.Output.ModelDir),
		zap.String("tokenizer_dir", cfg.Output.TokenizerDir))

	// Verify the saved artifacts reproduce the trained model
	inMemory, err := clf.Predict(tok.Encode(cfg.SampleText))
	if err != nil {
		return err
	}
	inMemory.Text = cfg.SampleText
	sample, err := p.verifyReload(backend, inMemory)
	if err != nil {
		return err
	}
	res.Sample = sample
	res.Run.SampleLabel = sample.LabelName
	res.Run.SampleConfidence = sample.Confidence

	report.Print(p.out,
		report.History(history),
		report.Metrics("Validation set", res.Validation),
		report.Metrics("Test set", res.Test),
		report.ClassReport(res.Test.Report),
		report.ConfusionMatrix(res.Test.Confusion),
		report.Prediction(sample),
	)

	if p.entries != nil && cfg.Database.StoreDataset {
		if err := p.entries.SaveEntries(ctx, datasetEntries(res.Run.ID, res.Run.DatasetPath, splits)); err != nil {
			logger.Error("Failed to store dataset entries", zap.Error(err))
		}
	}
	return nil
}

// baseModel is where a pretrained model and its tokenizer were found
type baseModel struct {
	modelDir     string
	tokenizerDir string
}

// resolveBase downloads model.base_repo or takes model.base_dir. The
// tokenizer defaults to the one saved next to the model.
func (p *Pipeline) resolveBase(logger *zap.Logger) (baseModel, error) {
	base := baseModel{modelDir: p.cfg.Model.BaseDir}
	if repo := p.cfg.Model.BaseRepo; repo != "" {
		logger.Info("Downloading base model", zap.String("repo", repo))
		dir, err := model.Download(repo, model.HubOptions{
			Token:    p.cfg.Model.HubToken,
			CacheDir: p.cfg.Model.HubCacheDir,
		})
		if err != nil {
			return base, fmt.Errorf("failed to download base model: %w", err)
		}
		base.modelDir = dir
	}
	base.tokenizerDir = p.cfg.Model.BaseTokenizerDir
	if base.tokenizerDir == "" {
		base.tokenizerDir = base.modelDir
	}
	return base, nil
}

func (p *Pipeline) tokenizer(base baseModel, train []models.Email, logger *zap.Logger) (*tokenizer.Tokenizer, error) {
	if dir := base.tokenizerDir; dir != "" {
		tok, err := tokenizer.Load(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load base tokenizer: %w", err)
		}
		logger.Info("Loaded base tokenizer", zap.String("dir", dir), zap.Int("vocab_size", tok.VocabSize()))
		return tok, nil
	}

	texts := make([]string, len(train))
	for i, e := range train {
		texts[i] = e.Text
	}
	tok, err := tokenizer.Train(texts, tokenizer.Config{
		Mode:         strings.ToLower(p.cfg.Tokenizer.Mode),
		Encoding:     p.cfg.Tokenizer.Encoding,
		VocabSize:    p.cfg.Tokenizer.VocabSize,
		MinFrequency: p.cfg.Tokenizer.MinFrequency,
		MaxLength:    p.cfg.Tokenizer.MaxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tokenizer: %w", err)
	}
	logger.Info("Tokenizer built",
		zap.String("mode", tok.Mode()),
		zap.Int("vocab_size", tok.VocabSize()),
		zap.Int("max_length", tok.MaxLength()))
	return tok, nil
}

func (p *Pipeline) classifier(backend backends.Backend, base baseModel, tok *tokenizer.Tokenizer, logger *zap.Logger) (*model.Classifier, error) {
	if dir := base.modelDir; dir != "" {
		clf, err := model.Load(backend, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load base model: %w", err)
		}
		if _, err := NewPredictor(tok, clf); err != nil {
			return nil, fmt.Errorf("base model does not fit tokenizer: %w", err)
		}
		logger.Info("Fine-tuning base model", zap.String("dir", dir), zap.Int("parameters", clf.NumParameters()))
		return clf, nil
	}

	logger.Warn("No base model configured, starting from random weights")
	cfg := model.NewConfig(tok.VocabSize(), tok.MaxLength(), p.cfg.Model.NLayer, p.cfg.Model.NEmbd, p.cfg.Model.NHead)
	cfg.TokenizerFingerprint = tok.Fingerprint()
	return model.New(backend, cfg, p.cfg.Data.Seed)
}

func (p *Pipeline) encode(ctx context.Context, tok *tokenizer.Tokenizer, emails []models.Email) ([]training.Example, error) {
	texts := make([]string, len(emails))
	for i, e := range emails {
		texts[i] = e.Text
	}
	encs, err := tok.EncodeBatch(ctx, texts, p.cfg.Training.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	out := make([]training.Example, len(emails))
	for i := range emails {
		out[i] = training.Example{Encoding: encs[i], Label: emails[i].Label}
	}
	return out, nil
}

// verifyReload loads the saved model and tokenizer and predicts the sample
// twice. Both predictions must match want.
func (p *Pipeline) verifyReload(backend backends.Backend, want models.Prediction) (models.Prediction, error) {
	predictor, err := LoadPredictor(backend, p.cfg.Output.ModelDir, p.cfg.Output.TokenizerDir)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("failed to reload saved model: %w", err)
	}
	var preds [2]models.Prediction
	for i := range preds {
		if preds[i], err = predictor.Predict(want.Text); err != nil {
			return models.Prediction{}, fmt.Errorf("failed to run reloaded model: %w", err)
		}
	}
	first := preds[0]
	for _, got := range preds {
		if !samePrediction(got, want) {
			return got, fmt.Errorf("%w: got %s (%.6f), want %s (%.6f)",
				ErrReloadMismatch, got.LabelName, got.Confidence, want.LabelName, want.Confidence)
		}
	}
	return first, nil
}

func samePrediction(a, b models.Prediction) bool {
	return a.Label == b.Label &&
		a.LabelName == b.LabelName &&
		math.Abs(a.Confidence-b.Confidence) < 1e-9
}

func datasetEntries(runID, path string, splits dataset.Splits) []models.DatasetEntry {
	now := time.Now().UTC()
	source := filepath.Base(path)
	var out []models.DatasetEntry
	add := func(split string, emails []models.Email) {
		for _, e := range emails {
			out = append(out, models.DatasetEntry{
				RunID:     runID,
				Split:     split,
				Text:      e.Text,
				Label:     e.Label,
				LabelName: e.Label.String(),
				Source:    source,
				CreatedAt: now,
			})
		}
	}
	add(models.SplitTrain, splits.Train)
	add(models.SplitValidation, splits.Validation)
	add(models.SplitTest, splits.Test)
	return out
}
