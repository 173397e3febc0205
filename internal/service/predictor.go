package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/backends"

	"phishing-detector/internal/model"
	"phishing-detector/internal/models"
	"phishing-detector/internal/tokenizer"
)

// ErrTokenizerMismatch is returned when a model is paired with a tokenizer
// other than the one its embeddings were trained against
var ErrTokenizerMismatch = errors.New("tokenizer does not match model")

// predictBatchSize bounds one inference call
const predictBatchSize = 64

// Predictor classifies raw email text with a trained model and tokenizer
type Predictor struct {
	tok *tokenizer.Tokenizer
	clf *model.Classifier
}

// NewPredictor pairs a tokenizer with a classifier built for it
func NewPredictor(tok *tokenizer.Tokenizer, clf *model.Classifier) (*Predictor, error) {
	cfg := clf.Config()
	if got := tok.Fingerprint(); cfg.TokenizerFingerprint != got {
		return nil, fmt.Errorf("%w: model expects tokenizer %q, got %q",
			ErrTokenizerMismatch, cfg.TokenizerFingerprint, got)
	}
	if tok.VocabSize() > cfg.VocabSize {
		return nil, fmt.Errorf("%w: tokenizer has %d ids, model embeds %d",
			model.ErrInvalidConfig, tok.VocabSize(), cfg.VocabSize)
	}
	if tok.MaxLength() > cfg.MaxLength {
		return nil, fmt.Errorf("%w: tokenizer max length %d exceeds model positions %d",
			model.ErrInvalidConfig, tok.MaxLength(), cfg.MaxLength)
	}
	return &Predictor{tok: tok, clf: clf}, nil
}

// LoadPredictor reads a saved model directory and tokenizer directory. An
// empty tokenizerDir reads tokenizer.json from the model directory.
func LoadPredictor(backend backends.Backend, modelDir, tokenizerDir string) (*Predictor, error) {
	if tokenizerDir == "" {
		tokenizerDir = modelDir
	}
	clf, err := model.Load(backend, modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	tok, err := tokenizer.Load(tokenizerDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return NewPredictor(tok, clf)
}

// Predict classifies a single text
func (p *Predictor) Predict(text string) (models.Prediction, error) {
	enc := p.tok.Encode(text)
	pred, err := p.clf.Predict(enc)
	if err != nil {
		return models.Prediction{}, err
	}
	return p.annotate(pred, text, enc), nil
}

// PredictBatch tokenizes texts with up to workers goroutines and classifies
// them in batches
func (p *Predictor) PredictBatch(ctx context.Context, texts []string, workers int) ([]models.Prediction, error) {
	encs, err := p.tok.EncodeBatch(ctx, texts, workers)
	if err != nil {
		return nil, err
	}

	out := make([]models.Prediction, 0, len(texts))
	for lo := 0; lo < len(encs); lo += predictBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+predictBatchSize, len(encs))
		preds, err := p.clf.PredictBatch(encs[lo:hi])
		if err != nil {
			return nil, err
		}
		for i, pred := range preds {
			out = append(out, p.annotate(pred, texts[lo+i], encs[lo+i]))
		}
	}
	return out, nil
}

func (p *Predictor) annotate(pred models.Prediction, text string, enc tokenizer.Encoding) models.Prediction {
	pred.Text = text
	pred.ModelInput = p.tok.Decode(enc.IDs)
	return pred
}
