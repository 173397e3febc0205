package model

import (
	"errors"
	"fmt"

	"phishing-detector/internal/models"
)

// ErrInvalidConfig is returned for architectures or checkpoints that cannot
// be built
var ErrInvalidConfig = errors.New("invalid model config")

// Config describes the classifier architecture. It is saved as config.json
// next to the checkpoint.
type Config struct {
	ModelType string         `json:"model_type"`
	VocabSize int            `json:"vocab_size"`
	MaxLength int            `json:"max_position_embeddings"`
	NLayer    int            `json:"n_layer"`
	NEmbd     int            `json:"n_embd"`
	NHead     int            `json:"n_head"`
	NumLabels int            `json:"num_labels"`
	ID2Label  map[int]string `json:"id2label"`
	Label2ID  map[string]int `json:"label2id"`

	// TokenizerFingerprint identifies the vocabulary the embedding rows
	// were trained against
	TokenizerFingerprint string `json:"tokenizer_fingerprint,omitempty"`
}

// NewConfig fills the label maps for the two email classes
func NewConfig(vocabSize, maxLength, nLayer, nEmbd, nHead int) Config {
	cfg := Config{
		ModelType: "phishing-encoder",
		VocabSize: vocabSize,
		MaxLength: maxLength,
		NLayer:    nLayer,
		NEmbd:     nEmbd,
		NHead:     nHead,
		NumLabels: models.NumLabels,
		ID2Label:  make(map[int]string, models.NumLabels),
		Label2ID:  make(map[string]int, models.NumLabels),
	}
	for label, name := range models.LabelNames {
		cfg.ID2Label[int(label)] = name
		cfg.Label2ID[name] = int(label)
	}
	return cfg
}

// Validate checks the sizes needed to build the graph
func (c Config) Validate() error {
	if c.VocabSize < 1 || c.MaxLength < 1 || c.NLayer < 1 || c.NEmbd < 1 || c.NHead < 1 {
		return fmt.Errorf("%w: sizes must be positive (vocab=%d max_length=%d layers=%d embd=%d heads=%d)",
			ErrInvalidConfig, c.VocabSize, c.MaxLength, c.NLayer, c.NEmbd, c.NHead)
	}
	if c.NEmbd%c.NHead != 0 {
		return fmt.Errorf("%w: n_embd %d must be divisible by n_head %d", ErrInvalidConfig, c.NEmbd, c.NHead)
	}
	if c.NumLabels != models.NumLabels {
		return fmt.Errorf("%w: num_labels %d, want %d", ErrInvalidConfig, c.NumLabels, models.NumLabels)
	}
	return nil
}

// LabelName maps a label id through id2label
func (c Config) LabelName(label models.Label) string {
	if name := c.ID2Label[int(label)]; name != "" {
		return name
	}
	return label.String()
}
