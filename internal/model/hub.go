package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"

	"phishing-detector/internal/tokenizer"
)

// HubOptions locate and authorize a Hugging Face model repository
type HubOptions struct {
	Token    string
	CacheDir string
}

// Download fetches a model saved by this tool (config.json, tokenizer.json
// and the checkpoint files) from a Hugging Face repository and returns the
// local directory holding them
func Download(repoID string, opts HubOptions) (string, error) {
	if repoID == "" {
		return "", errors.New("empty model repository id")
	}
	repo := hub.New(repoID)
	if opts.Token != "" {
		repo = repo.WithAuth(opts.Token)
	}
	if opts.CacheDir != "" {
		repo = repo.WithCacheDir(opts.CacheDir)
	}

	var dir string
	for name, err := range repo.IterFileNames() {
		if err != nil {
			return "", fmt.Errorf("failed to list %s: %w", repoID, err)
		}
		if !hubFile(name) {
			continue
		}
		local, err := repo.DownloadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to download %s/%s: %w", repoID, name, err)
		}
		if name == ConfigFile {
			dir = filepath.Dir(local)
		}
	}
	if dir == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrInvalidConfig, repoID, ConfigFile)
	}
	return dir, nil
}

// hubFile reports whether a repository file is part of a saved model
func hubFile(name string) bool {
	if strings.Contains(name, "/") {
		return false
	}
	if name == ConfigFile || name == tokenizer.FileName {
		return true
	}
	ok, _ := filepath.Match(checkpointPattern, name)
	return ok
}
