package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context/checkpoints"

	"phishing-detector/internal/tokenizer"
)

// ErrMissingWeights is returned when a model directory has a config but no
// checkpoint
var ErrMissingWeights = errors.New("model checkpoint not found")

// ConfigFile sits next to the checkpoint files
const ConfigFile = "config.json"

// checkpointPattern matches the files written by the gomlx checkpoint handler
const checkpointPattern = "checkpoint-*"

// Save writes config.json and a checkpoint of the weights into dir. Older
// checkpoints in dir are removed first so they can never be loaded back over
// the current weights.
func (c *Classifier) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}

	cfg, err := json.MarshalIndent(c.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), cfg, 0o644); err != nil {
		return fmt.Errorf("failed to write model config: %w", err)
	}

	// variables only exist once a graph has been built
	if c.NumParameters() == 0 {
		if _, err := c.Scores([]tokenizer.Encoding{{}}); err != nil {
			return err
		}
	}

	stale, _ := filepath.Glob(filepath.Join(dir, checkpointPattern))
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove old checkpoint: %w", err)
		}
	}

	var handler *checkpoints.Handler
	var buildErr error
	if err := exceptions.TryCatch[error](func() {
		handler, buildErr = checkpoints.Build(c.ctx).Dir(dir).Keep(1).Done()
	}); err != nil {
		buildErr = err
	}
	if err := buildErr; err != nil {
		return fmt.Errorf("failed to open checkpoint dir: %w", err)
	}
	if err := handler.Save(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadConfig reads and validates config.json from dir
func LoadConfig(dir string) (Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read model config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load rebuilds a classifier saved by Save. The graph is built once so a
// checkpoint that does not fit the config fails here rather than at the
// first prediction.
func Load(backend backends.Backend, dir string) (*Classifier, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	if found, _ := filepath.Glob(filepath.Join(dir, checkpointPattern)); len(found) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrMissingWeights, dir)
	}

	c, err := New(backend, cfg, 0)
	if err != nil {
		return nil, err
	}
	var loadErr error
	if err := exceptions.TryCatch[error](func() {
		_, loadErr = checkpoints.Build(c.ctx).Dir(dir).Immediate().Done()
	}); err != nil {
		loadErr = err
	}
	if err := loadErr; err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	loaded := c.NumParameters()
	if _, err := c.Scores([]tokenizer.Encoding{{}}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if built := c.NumParameters(); built != loaded {
		return nil, fmt.Errorf("%w: checkpoint holds %d weights, config needs %d", ErrInvalidConfig, loaded, built)
	}
	return c, nil
}
