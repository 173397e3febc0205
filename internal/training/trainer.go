package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/types/tensors"
	"go.uber.org/zap"

	"phishing-detector/internal/model"
	"phishing-detector/internal/models"
	"phishing-detector/internal/tokenizer"
)

// Example is a tokenized, labelled email
type Example struct {
	Encoding tokenizer.Encoding
	Label    models.Label
}

// Options are the fine-tuning hyperparameters
type Options struct {
	Epochs             int
	BatchSize          int
	LearningRate       float64
	WeightDecay        float64
	WarmupRatio        float64
	Beta1              float64
	Beta2              float64
	Epsilon            float64
	LoadBestModelAtEnd bool
	LogEvery           int
	Seed               int64
}

// EpochStats is one row of the training history
type EpochStats struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	ValF1         float64
	LearningRate  float64
	Duration      time.Duration
}

// History is the per-epoch record of a training run
type History struct {
	Epochs    []EpochStats
	BestEpoch int
	BestF1    float64
	Steps     int
}

// EvalResult holds the metrics for one evaluation pass
type EvalResult struct {
	Loss        float64
	Accuracy    float64
	Precision   float64
	Recall      float64
	F1          float64
	Specificity float64
	AUC         float64
	AUCDefined  bool
	Confusion   ConfusionMatrix
	Report      ClassReport
	Predictions []models.Prediction
}

// Trainer fine-tunes a classifier with a gomlx train.Trainer
type Trainer struct {
	clf    *model.Classifier
	opts   Options
	logger *zap.Logger
}

// NewTrainer creates a new trainer
func NewTrainer(clf *model.Classifier, opts Options, logger *zap.Logger) *Trainer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Trainer{
		clf:    clf,
		opts:   opts,
		logger: logger,
	}
}

// Train runs the configured number of epochs over trainSet and evaluates on
// val after each one. With LoadBestModelAtEnd the weights of the epoch with
// the highest validation F1 are restored before returning.
func (t *Trainer) Train(ctx context.Context, trainSet, val []Example) (*History, error) {
	if len(trainSet) == 0 {
		return nil, errors.New("no training examples")
	}

	batchesPerEpoch := (len(trainSet) + t.opts.BatchSize - 1) / t.opts.BatchSize
	schedule := NewLinearSchedule(t.opts.LearningRate, t.opts.Epochs*batchesPerEpoch, t.opts.WarmupRatio)
	rng := rand.New(rand.NewSource(t.opts.Seed))

	tr, lr, err := t.newStepper()
	if err != nil {
		return nil, err
	}

	t.logger.Info("Training started",
		zap.Int("train_examples", len(trainSet)),
		zap.Int("val_examples", len(val)),
		zap.Int("epochs", t.opts.Epochs),
		zap.Int("total_steps", schedule.Total),
		zap.Int("warmup_steps", schedule.Warmup))

	history := &History{BestEpoch: -1, BestF1: -1}
	var best map[string]*tensors.Tensor

	order := make([]int, len(trainSet))
	for i := range order {
		order[i] = i
	}

	step := 0
	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		start := time.Now()
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		epochLoss := 0.0
		var rate, accuracy float64
		for b := 0; b < batchesPerEpoch; b++ {
			if err := ctx.Err(); err != nil {
				return history, fmt.Errorf("training interrupted: %w", err)
			}

			lo := b * t.opts.BatchSize
			hi := min(lo+t.opts.BatchSize, len(order))
			batch := make([]Example, 0, hi-lo)
			for _, idx := range order[lo:hi] {
				batch = append(batch, trainSet[idx])
			}

			rate = schedule.LR(step)
			loss, acc, err := t.trainStep(tr, lr, batch, rate)
			if err != nil {
				return history, fmt.Errorf("training step %d failed: %w", step, err)
			}
			step++
			accuracy = acc
			epochLoss += loss * float64(len(batch))

			if t.opts.LogEvery > 0 && step%t.opts.LogEvery == 0 {
				t.logger.Info("Training step",
					zap.Int("epoch", epoch),
					zap.Int("step", step),
					zap.Float64("loss", loss),
					zap.Float64("lr", rate),
					zap.Float64("moving_accuracy", acc))
			}
		}
		if epoch == 1 {
			t.logger.Info("Model built", zap.Int("parameters", t.clf.NumParameters()))
		}

		stats := EpochStats{
			Epoch:         epoch,
			TrainLoss:     epochLoss / float64(len(trainSet)),
			TrainAccuracy: accuracy,
			LearningRate:  rate,
		}

		if len(val) > 0 {
			res, err := t.Evaluate(ctx, val)
			if err != nil {
				return history, fmt.Errorf("failed to evaluate epoch %d: %w", epoch, err)
			}
			stats.ValLoss = res.Loss
			stats.ValAccuracy = res.Accuracy
			stats.ValF1 = res.F1

			if res.F1 > history.BestF1 {
				history.BestF1 = res.F1
				history.BestEpoch = epoch
				if t.opts.LoadBestModelAtEnd {
					best = t.clf.Snapshot()
				}
			}
		}
		stats.Duration = time.Since(start)
		history.Epochs = append(history.Epochs, stats)

		t.logger.Info("Epoch completed",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", stats.TrainLoss),
			zap.Float64("val_loss", stats.ValLoss),
			zap.Float64("val_accuracy", stats.ValAccuracy),
			zap.Float64("val_f1", stats.ValF1),
			zap.Duration("duration", stats.Duration))
	}
	history.Steps = step

	if best != nil && history.BestEpoch != t.opts.Epochs {
		if err := t.clf.Restore(best); err != nil {
			return history, fmt.Errorf("failed to restore best model: %w", err)
		}
		t.logger.Info("Restored best model",
			zap.Int("epoch", history.BestEpoch),
			zap.Float64("val_f1", history.BestF1))
	}

	return history, nil
}

// newStepper wires the classifier graph, binary cross-entropy on the logit
// and AdamW into a gomlx trainer
func (t *Trainer) newStepper() (tr *train.Trainer, lr *learningRate, err error) {
	err = exceptions.TryCatch[error](func() {
		ctx := t.clf.Context()
		lr = newLearningRate(ctx, t.opts.LearningRate)
		tr = train.NewTrainer(t.clf.Backend(), ctx, t.clf.ModelGraph,
			losses.BinaryCrossentropyLogits,
			newAdamW(t.opts),
			[]metrics.Interface{metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.05)},
			[]metrics.Interface{metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build trainer: %w", err)
	}
	return tr, lr, nil
}

// trainStep applies one optimizer update at the given learning rate and
// returns the batch loss and the moving training accuracy
func (t *Trainer) trainStep(tr *train.Trainer, lr *learningRate, batch []Example, rate float64) (loss, accuracy float64, err error) {
	encs := make([]tokenizer.Encoding, len(batch))
	labels := make([][]float32, len(batch))
	for i, ex := range batch {
		encs[i] = ex.Encoding
		labels[i] = []float32{float32(ex.Label)}
	}
	tokens, mask := t.clf.Inputs(encs)

	var out []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		lr.Set(rate)
		out = tr.TrainStep(nil, []*tensors.Tensor{tokens, mask}, []*tensors.Tensor{tensors.FromValue(labels)})
	})
	if err != nil {
		return 0, 0, err
	}
	loss = scalar(out[0])
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, 0, fmt.Errorf("loss is %v", loss)
	}
	// the accuracy metric comes after the loss metrics
	if len(out) > 1 {
		accuracy = scalar(out[len(out)-1])
	}
	return loss, accuracy, nil
}

func scalar(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return math.NaN()
}

// Evaluate runs inference over examples in batches and computes loss and
// classification metrics
func (t *Trainer) Evaluate(ctx context.Context, examples []Example) (*EvalResult, error) {
	return Evaluate(ctx, t.clf, examples, t.opts.BatchSize)
}

// Evaluate scores clf on examples. Weights must not change while it runs.
func Evaluate(ctx context.Context, clf *model.Classifier, examples []Example, batchSize int) (*EvalResult, error) {
	if len(examples) == 0 {
		return nil, errors.New("no examples to evaluate")
	}
	if batchSize < 1 {
		batchSize = 1
	}

	preds := make([]models.Prediction, 0, len(examples))
	for lo := 0; lo < len(examples); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation interrupted: %w", err)
		}
		hi := min(lo+batchSize, len(examples))
		encs := make([]tokenizer.Encoding, 0, hi-lo)
		for _, ex := range examples[lo:hi] {
			encs = append(encs, ex.Encoding)
		}
		batch, err := clf.PredictBatch(encs)
		if err != nil {
			return nil, err
		}
		preds = append(preds, batch...)
	}

	res := &EvalResult{Predictions: preds}
	scores := make([]float64, len(examples))
	labels := make([]models.Label, len(examples))
	lossSum := 0.0
	for i, ex := range examples {
		p := preds[i].Probabilities[ex.Label]
		lossSum += -math.Log(math.Max(p, 1e-12))
		res.Confusion.Add(ex.Label, preds[i].Label)
		scores[i] = preds[i].Probabilities[models.Phishing]
		labels[i] = ex.Label
	}

	res.Loss = lossSum / float64(len(examples))
	res.Accuracy = res.Confusion.Accuracy()
	res.Precision = res.Confusion.Precision()
	res.Recall = res.Confusion.Recall()
	res.F1 = res.Confusion.F1()
	res.Specificity = res.Confusion.Specificity()
	res.Report = res.Confusion.Report()

	auc, err := CalculateAUCROC(scores, labels)
	switch {
	case errors.Is(err, ErrDegenerateAUC):
		res.AUC = DefaultAUC
	case err != nil:
		return nil, err
	default:
		res.AUC = auc
		res.AUCDefined = true
	}
	return res, nil
}
