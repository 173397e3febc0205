package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"phishing-detector/internal/dataset"
	"phishing-detector/internal/models"
	"phishing-detector/internal/repository"
	"phishing-detector/internal/training"
)

func TestMetricsMarksUndefinedAUC(t *testing.T) {
	res := &training.EvalResult{Accuracy: 0.5, AUC: training.DefaultAUC}
	out := Metrics("Test set", res)
	if !strings.Contains(out, "Test set") || !strings.Contains(out, "0.5000") {
		t.Errorf("missing title or values:\n%s", out)
	}
	if !strings.Contains(out, "undefined") {
		t.Errorf("undefined AUC not flagged:\n%s", out)
	}
}

func TestConfusionMatrix(t *testing.T) {
	var cm training.ConfusionMatrix
	cm.Add(models.Phishing, models.Phishing)
	cm.Add(models.Phishing, models.Phishing)
	cm.Add(models.Legitimate, models.Phishing)
	out := ConfusionMatrix(cm)
	for _, want := range []string{"Legitimate", "Phishing", "2", "1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryMarksBestEpoch(t *testing.T) {
	h := &training.History{
		Epochs: []training.EpochStats{
			{Epoch: 1, TrainLoss: 0.7, ValF1: 0.4},
			{Epoch: 2, TrainLoss: 0.5, ValF1: 0.8},
		},
		BestEpoch: 2,
	}
	out := History(h)
	if !strings.Contains(out, "2 *") {
		t.Errorf("best epoch not marked:\n%s", out)
	}
}

func TestDatasetAndRuns(t *testing.T) {
	frame := &dataset.Frame{Path: "emails.csv", Encoding: dataset.EncodingUTF8}
	stats := dataset.Stats{TextColumn: "Email Text", LabelColumn: "Email Type", TotalRows: 10, Kept: 8,
		ByLabel: map[models.Label]int{models.Phishing: 3, models.Legitimate: 5}}
	splits := dataset.Splits{Train: make([]models.Email, 6), Validation: make([]models.Email, 1), Test: make([]models.Email, 1)}

	var buf bytes.Buffer
	Print(&buf, Dataset(frame, stats, splits), Runs(nil))
	out := buf.String()
	for _, want := range []string{"emails.csv", "Email Text / Email Type", "no runs recorded"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}

	runs := []models.TrainingRun{{
		ID:               "0123456789abcdef",
		Status:           models.RunStatusCompleted,
		StartedAt:        time.Now(),
		SampleLabel:      "Phishing",
		SampleConfidence: 0.91,
	}}
	out = Runs(runs)
	if !strings.Contains(out, "01234567") || strings.Contains(out, "0123456789") {
		t.Errorf("run id not shortened:\n%s", out)
	}
	if !strings.Contains(out, "Phishing (91%)") {
		t.Errorf("sample column missing:\n%s", out)
	}
}

func TestRunDetail(t *testing.T) {
	run := &models.TrainingRun{
		ID:           "0123456789abcdef",
		Status:       models.RunStatusFailed,
		DatasetPath:  "emails.csv",
		TrainSize:    28,
		TestSize:     6,
		ErrorMessage: "training failed: boom",
		StartedAt:    time.Now(),
	}
	counts := []repository.SplitCount{{Split: models.SplitTest, Label: 1, LabelName: "Phishing", Count: 3}}
	entries := []models.DatasetEntry{
		{Split: models.SplitTest, Text: "verify your password", LabelName: "Phishing"},
		{Split: models.SplitTest, Text: "lunch friday", LabelName: "Legitimate"},
		{Split: models.SplitTest, Text: "quarterly report", LabelName: "Legitimate"},
	}

	out := Run(run) + StoredSplits(counts) + Entries(models.SplitTest, entries, 2)
	for _, want := range []string{"0123456789abcdef", "28 / 0 / 6", "boom", "Phishing", "verify your password", "... 1 more"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "quarterly report") {
		t.Errorf("row past the limit rendered:\n%s", out)
	}
	if out := StoredSplits(nil); !strings.Contains(out, "no rows stored") {
		t.Errorf("empty stored splits = %q", out)
	}
}

func TestPredictionShowsModelInput(t *testing.T) {
	pred := models.Prediction{Text: "Verify NOW", LabelName: "Phishing", ModelInput: "verify [UNK]"}
	if out := Prediction(pred); !strings.Contains(out, "verify [UNK]") {
		t.Errorf("model input missing:\n%s", out)
	}
	pred.ModelInput = ""
	if out := Prediction(pred); strings.Contains(out, "Model input") {
		t.Errorf("empty model input rendered:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a  very\nlong line of text", 10); got != "a very ..." {
		t.Errorf("truncate = %q", got)
	}
}
