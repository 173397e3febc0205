package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Data struct {
		Path           string  `yaml:"path" env:"PHISH_DATA_PATH"`
		PickerDir      string  `yaml:"picker_dir" env:"PHISH_PICKER_DIR"`
		DropDuplicates bool    `yaml:"drop_duplicates"`
		Stratify       bool    `yaml:"stratify"`
		TestSize       float64 `yaml:"test_size"`
		ValSize        float64 `yaml:"val_size"`
		Seed           int64   `yaml:"seed" env:"PHISH_SEED"`
		MaxRows        int     `yaml:"max_rows" env:"PHISH_MAX_ROWS"`
	} `yaml:"data"`

	Tokenizer struct {
		Mode         string `yaml:"mode" env:"PHISH_TOKENIZER_MODE"` // "bpe" or "word"
		Encoding     string `yaml:"encoding"`
		VocabSize    int    `yaml:"vocab_size"`
		MinFrequency int    `yaml:"min_frequency"`
		MaxLength    int    `yaml:"max_length" env:"PHISH_MAX_LENGTH"`
	} `yaml:"tokenizer"`

	Model struct {
		Backend          string `yaml:"backend" env:"PHISH_BACKEND"`                       // gomlx backend, "go" or "xla"
		BaseRepo         string `yaml:"base_repo" env:"PHISH_BASE_REPO"`                   // Hugging Face repo holding a base model
		BaseDir          string `yaml:"base_dir" env:"PHISH_BASE_MODEL_DIR"`               // local base model to fine-tune
		BaseTokenizerDir string `yaml:"base_tokenizer_dir" env:"PHISH_BASE_TOKENIZER_DIR"` // defaults to the base model dir
		HubToken         string `yaml:"hub_token" env:"HF_TOKEN"`
		HubCacheDir      string `yaml:"hub_cache_dir" env:"PHISH_HUB_CACHE_DIR"`
		NLayer           int    `yaml:"n_layer"`
		NEmbd            int    `yaml:"n_embd"`
		NHead            int    `yaml:"n_head"`
	} `yaml:"model"`

	Training struct {
		Epochs             int     `yaml:"epochs" env:"PHISH_EPOCHS"`
		BatchSize          int     `yaml:"batch_size"`
		LearningRate       float64 `yaml:"learning_rate" env:"PHISH_LEARNING_RATE"`
		WeightDecay        float64 `yaml:"weight_decay"`
		WarmupRatio        float64 `yaml:"warmup_ratio"`
		Beta1              float64 `yaml:"beta1"`
		Beta2              float64 `yaml:"beta2"`
		Epsilon            float64 `yaml:"epsilon"`
		MaxTrainSamples    int     `yaml:"max_train_samples" env:"PHISH_MAX_TRAIN_SAMPLES"`
		LoadBestModelAtEnd bool    `yaml:"load_best_model_at_end"`
		LogEvery           int     `yaml:"log_every"`
		Workers            int     `yaml:"workers"`
	} `yaml:"training"`

	Output struct {
		ModelDir     string `yaml:"model_dir" env:"PHISH_MODEL_DIR"`
		TokenizerDir string `yaml:"tokenizer_dir" env:"PHISH_TOKENIZER_DIR"`
	} `yaml:"output"`

	Database struct {
		Enabled      bool   `yaml:"enabled" env:"PHISH_DB_ENABLED"`
		Type         string `yaml:"type"` // "sqlite" or "postgres"
		Path         string `yaml:"path" env:"PHISH_DB_PATH"` // SQLite path or PostgreSQL URL
		StoreDataset bool   `yaml:"store_dataset"`
	} `yaml:"database"`

	Log struct {
		Level  string `yaml:"level" env:"PHISH_LOG_LEVEL"`
		Format string `yaml:"format"` // "console" or "json"
	} `yaml:"log"`

	SampleText string `yaml:"sample_text"`
}

// DefaultSampleText is the email classified after training
const DefaultSampleText = "Congratulations! You've won a $1000 gift card. Click here to claim your prize now!"

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.Data.Stratify = true
	cfg.Training.LoadBestModelAtEnd = true
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.Data.Stratify = true
	config.Training.LoadBestModelAtEnd = true

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	config.Data.Path = os.ExpandEnv(config.Data.Path)
	config.Database.Path = os.ExpandEnv(config.Database.Path)

	return config, nil
}

// ApplyEnv overrides fields from PHISH_* environment variables
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Data.PickerDir == "" {
		c.Data.PickerDir = "."
	}
	if c.Data.TestSize == 0 {
		c.Data.TestSize = 0.15
	}
	if c.Data.ValSize == 0 {
		c.Data.ValSize = 0.15
	}
	if c.Data.Seed == 0 {
		c.Data.Seed = 42
	}

	if c.Tokenizer.Mode == "" {
		c.Tokenizer.Mode = "bpe"
	}
	if c.Tokenizer.Encoding == "" {
		c.Tokenizer.Encoding = "cl100k_base"
	}
	if c.Tokenizer.VocabSize == 0 {
		c.Tokenizer.VocabSize = 4096
	}
	if c.Tokenizer.MinFrequency == 0 {
		c.Tokenizer.MinFrequency = 2
	}
	if c.Tokenizer.MaxLength == 0 {
		c.Tokenizer.MaxLength = 64
	}

	if c.Model.NLayer == 0 {
		c.Model.NLayer = 1
	}
	if c.Model.NEmbd == 0 {
		c.Model.NEmbd = 16
	}
	if c.Model.NHead == 0 {
		c.Model.NHead = 2
	}
	if c.Model.Backend == "" {
		c.Model.Backend = "go"
	}

	if c.Training.Epochs == 0 {
		c.Training.Epochs = 3
	}
	if c.Training.BatchSize == 0 {
		c.Training.BatchSize = 8
	}
	if c.Training.LearningRate == 0 {
		c.Training.LearningRate = 0.01
	}
	if c.Training.WeightDecay == 0 {
		c.Training.WeightDecay = 0.01
	}
	if c.Training.WarmupRatio == 0 {
		c.Training.WarmupRatio = 0.1
	}
	if c.Training.Beta1 == 0 {
		c.Training.Beta1 = 0.9
	}
	if c.Training.Beta2 == 0 {
		c.Training.Beta2 = 0.999
	}
	if c.Training.Epsilon == 0 {
		c.Training.Epsilon = 1e-8
	}
	if c.Training.LogEvery == 0 {
		c.Training.LogEvery = 10
	}
	if c.Training.Workers == 0 {
		c.Training.Workers = 4
	}

	if c.Output.ModelDir == "" {
		c.Output.ModelDir = "./phishing_model"
	}
	if c.Output.TokenizerDir == "" {
		c.Output.TokenizerDir = "./phishing_tokenizer"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/runs.db"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.SampleText == "" {
		c.SampleText = DefaultSampleText
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error

	if c.Data.TestSize <= 0 || c.Data.TestSize >= 1 {
		err = multierr.Append(err, fmt.Errorf("data.test_size must be in (0,1), got %v", c.Data.TestSize))
	}
	if c.Data.ValSize <= 0 || c.Data.ValSize >= 1 {
		err = multierr.Append(err, fmt.Errorf("data.val_size must be in (0,1), got %v", c.Data.ValSize))
	}

	switch strings.ToLower(c.Tokenizer.Mode) {
	case "bpe", "word":
	default:
		err = multierr.Append(err, fmt.Errorf("tokenizer.mode must be \"bpe\" or \"word\", got %q", c.Tokenizer.Mode))
	}
	if c.Tokenizer.MaxLength < 3 {
		err = multierr.Append(err, fmt.Errorf("tokenizer.max_length must be at least 3, got %d", c.Tokenizer.MaxLength))
	}
	if c.Tokenizer.VocabSize < 8 {
		err = multierr.Append(err, fmt.Errorf("tokenizer.vocab_size must be at least 8, got %d", c.Tokenizer.VocabSize))
	}

	if c.Model.NLayer < 1 || c.Model.NEmbd < 1 || c.Model.NHead < 1 {
		err = multierr.Append(err, errors.New("model.n_layer, model.n_embd and model.n_head must be positive"))
	} else if c.Model.NEmbd%c.Model.NHead != 0 {
		err = multierr.Append(err, fmt.Errorf("model.n_embd (%d) must be divisible by model.n_head (%d)", c.Model.NEmbd, c.Model.NHead))
	}

	if c.Model.BaseRepo != "" && c.Model.BaseDir != "" {
		err = multierr.Append(err, errors.New("model.base_repo and model.base_dir are mutually exclusive"))
	}
	if c.Model.BaseTokenizerDir != "" && c.Model.BaseDir == "" && c.Model.BaseRepo == "" {
		err = multierr.Append(err, errors.New("model.base_tokenizer_dir needs model.base_dir or model.base_repo"))
	}

	if c.Training.Epochs < 1 {
		err = multierr.Append(err, fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs))
	}
	if c.Training.BatchSize < 1 {
		err = multierr.Append(err, fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize))
	}
	if c.Training.LearningRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("training.learning_rate must be positive, got %v", c.Training.LearningRate))
	}
	if c.Training.WarmupRatio < 0 || c.Training.WarmupRatio >= 1 {
		err = multierr.Append(err, fmt.Errorf("training.warmup_ratio must be in [0,1), got %v", c.Training.WarmupRatio))
	}

	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		err = multierr.Append(err, fmt.Errorf("database.type must be \"sqlite\" or \"postgres\", got %q", c.Database.Type))
	}

	return err
}
