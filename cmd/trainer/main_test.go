package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"phishing-detector/internal/repository"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	root := a.rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`tokenizer:
  mode: word
  vocab_size: 128
  min_frequency: 1
  max_length: 16
model:
  n_embd: 8
  n_head: 2
training:
  epochs: 1
  batch_size: 4
  workers: 2
output:
  model_dir: %[1]s/model
  tokenizer_dir: %[1]s/tokenizer
database:
  enabled: true
  store_dataset: true
  path: %[1]s/runs.db
log:
  level: error
`, dir)
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeEmails(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(",Email Text,Email Type\n")
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d,verify your password now %d,Phishing Email\n", i, i)
		} else {
			fmt.Fprintf(&b, "%d,agenda for the weekly meeting %d,Safe Email\n", i, i)
		}
	}
	path := filepath.Join(dir, "emails.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTrainPredictRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	csv := writeEmails(t, dir)

	out, err := execute(t, "runs", "-c", cfg)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Errorf("empty ledger output = %q", out)
	}

	if out, err = execute(t, "train", "-c", cfg, "-f", csv); err != nil {
		t.Fatalf("train: %v", err)
	}
	if !strings.Contains(out, "Test set") {
		t.Errorf("train output missing test metrics")
	}

	if out, err = execute(t, "predict", "-c", cfg, "verify your password now"); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !strings.Contains(out, "Prediction") || !strings.Contains(out, "verify your password") {
		t.Errorf("predict output = %q", out)
	}
	if !strings.Contains(out, "Model input") {
		t.Errorf("predict output has no model input row: %q", out)
	}

	if out, err = execute(t, "runs", "-c", cfg); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.Contains(out, "no runs recorded") || !strings.Contains(out, "completed") {
		t.Errorf("runs output = %q", out)
	}
}

// lastRunID reads the newest run straight from the ledger
func lastRunID(t *testing.T, dir string) string {
	t.Helper()
	db, err := repository.NewDB("sqlite", filepath.Join(dir, "runs.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := repository.NewRunRepository(db, zap.NewNop()).List(context.Background(), 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("List: %v (%d runs)", err, len(runs))
	}
	return runs[0].ID
}

func TestRunsShow(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	csv := writeEmails(t, dir)
	if _, err := execute(t, "train", "-c", cfg, "-f", csv); err != nil {
		t.Fatalf("train: %v", err)
	}
	id := lastRunID(t, dir)

	out, err := execute(t, "runs", "show", id, "-c", cfg, "--split", "train", "--limit", "2")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{"Training run", id, "Stored dataset", "train rows", "more"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs show output missing %q", want)
		}
	}

	if _, err := execute(t, "runs", "show", id, "-c", cfg, "--split", "holdout"); err == nil {
		t.Error("expected error for unknown split")
	}
	if _, err := execute(t, "runs", "show", "no-such-run", "-c", cfg); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRunsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "runs", "-c", path); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("err = %v, want ledger disabled", err)
	}
}

func TestRootRunsTrain(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	csv := writeEmails(t, dir)

	if _, err := execute(t, "-c", cfg, "--file", csv); err != nil {
		t.Fatalf("root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "model")); err != nil {
		t.Errorf("model not saved: %v", err)
	}
}

func TestMissingConfig(t *testing.T) {
	if _, err := execute(t, "runs", "-c", filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestTrainRejectsNonCSV(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	txt := filepath.Join(dir, "emails.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "train", "-c", cfg, "-f", txt); err == nil {
		t.Error("expected error for non-CSV dataset")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug", "json"); err != nil {
		t.Errorf("json logger: %v", err)
	}
	if _, err := newLogger("loud", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
}
