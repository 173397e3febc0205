package training

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"phishing-detector/internal/model"
	"phishing-detector/internal/models"
	"phishing-detector/internal/tokenizer"
)

func TestConfusionMatrixMetrics(t *testing.T) {
	var cm ConfusionMatrix
	// 3 TP, 1 FN, 2 FP, 4 TN
	for i := 0; i < 3; i++ {
		cm.Add(models.Phishing, models.Phishing)
	}
	cm.Add(models.Phishing, models.Legitimate)
	for i := 0; i < 2; i++ {
		cm.Add(models.Legitimate, models.Phishing)
	}
	for i := 0; i < 4; i++ {
		cm.Add(models.Legitimate, models.Legitimate)
	}
	cm.Add(models.Label(7), models.Phishing)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"accuracy", cm.Accuracy(), 0.7},
		{"precision", cm.Precision(), 0.6},
		{"recall", cm.Recall(), 0.75},
		{"f1", cm.F1(), 2 * 0.6 * 0.75 / 1.35},
		{"specificity", cm.Specificity(), 4.0 / 6.0},
		{"npv", cm.NPV(), 0.8},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if cm.TotalSamples != 10 {
		t.Errorf("invalid label counted: total %d", cm.TotalSamples)
	}

	rep := cm.Report()
	if rep.Classes[0].Name != "Legitimate" || rep.Classes[1].Name != "Phishing" {
		t.Errorf("class order = %s,%s", rep.Classes[0].Name, rep.Classes[1].Name)
	}
	if rep.Classes[0].Support != 6 || rep.Classes[1].Support != 4 {
		t.Errorf("supports = %d,%d", rep.Classes[0].Support, rep.Classes[1].Support)
	}
	wantMacro := (rep.Classes[0].F1 + rep.Classes[1].F1) / 2
	if math.Abs(rep.MacroAvg.F1-wantMacro) > 1e-12 {
		t.Errorf("macro f1 = %v, want %v", rep.MacroAvg.F1, wantMacro)
	}
}

func TestEmptyConfusionMatrix(t *testing.T) {
	var cm ConfusionMatrix
	if cm.Accuracy() != 0 || cm.Precision() != 0 || cm.F1() != 0 {
		t.Error("empty matrix should report zeros")
	}
}

func TestCalculateAUCROC(t *testing.T) {
	P, L := models.Phishing, models.Legitimate
	tests := []struct {
		name   string
		scores []float64
		labels []models.Label
		want   float64
	}{
		{"perfect", []float64{0.9, 0.8, 0.3, 0.1}, []models.Label{P, P, L, L}, 1},
		{"inverted", []float64{0.9, 0.8, 0.3, 0.1}, []models.Label{L, L, P, P}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []models.Label{P, L, P, L}, 0.5},
		{"one swap", []float64{0.9, 0.7, 0.6, 0.2}, []models.Label{P, L, P, L}, 0.75},
	}
	for _, tt := range tests {
		got, err := CalculateAUCROC(tt.scores, tt.labels)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: auc = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCalculateAUCROCSingleClass(t *testing.T) {
	_, err := CalculateAUCROC([]float64{0.2, 0.9}, []models.Label{models.Phishing, models.Phishing})
	if !errors.Is(err, ErrDegenerateAUC) {
		t.Fatalf("err = %v, want ErrDegenerateAUC", err)
	}
}

func TestLinearSchedule(t *testing.T) {
	s := NewLinearSchedule(1.0, 10, 0.2)
	if s.Warmup != 2 {
		t.Fatalf("warmup = %d, want 2", s.Warmup)
	}
	want := []float64{0.5, 1.0, 1.0, 0.875, 0.75, 0.625, 0.5, 0.375, 0.25, 0.125}
	for step, w := range want {
		if got := s.LR(step); math.Abs(got-w) > 1e-12 {
			t.Errorf("LR(%d) = %v, want %v", step, got, w)
		}
	}
	if got := s.LR(20); got != 0 {
		t.Errorf("LR past the end = %v, want 0", got)
	}
}

func TestLearningRateVariable(t *testing.T) {
	clf := toyClassifier(t)
	lr := newLearningRate(clf.Context(), 0.05)
	if got := lr.Value(); math.Abs(got-0.05) > 1e-7 {
		t.Errorf("initial rate = %v, want 0.05", got)
	}
	lr.Set(0.125)
	if got := lr.Value(); got != 0.125 {
		t.Errorf("rate after Set = %v, want 0.125", got)
	}
}

// toyExamples are separable by a single token: 5 marks phishing, 6 marks
// legitimate
func toyExamples() []Example {
	var out []Example
	for i := 0; i < 8; i++ {
		label, tok := models.Legitimate, 6
		if i%2 == 0 {
			label, tok = models.Phishing, 5
		}
		out = append(out, Example{
			Encoding: tokenizer.Encoding{
				IDs:           []int{tokenizer.ClsID, tok, tokenizer.SepID, tokenizer.PadID},
				AttentionMask: []int{1, 1, 1, 0},
			},
			Label: label,
		})
	}
	return out
}

func toyClassifier(t *testing.T) *model.Classifier {
	t.Helper()
	backend, err := model.NewBackend(model.DefaultBackend)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(backend.Finalize)
	clf, err := model.New(backend, model.NewConfig(8, 4, 1, 8, 2), 3)
	if err != nil {
		t.Fatal(err)
	}
	return clf
}

func toyTrainer(t *testing.T, epochs int) (*Trainer, *model.Classifier) {
	t.Helper()
	clf := toyClassifier(t)
	opts := Options{
		Epochs:             epochs,
		BatchSize:          4,
		LearningRate:       0.05,
		WarmupRatio:        0.1,
		Beta1:              0.9,
		Beta2:              0.999,
		Epsilon:            1e-8,
		LoadBestModelAtEnd: true,
		Seed:               42,
	}
	return NewTrainer(clf, opts, zap.NewNop()), clf
}

func TestTrainLossDecreases(t *testing.T) {
	trainer, _ := toyTrainer(t, 40)
	examples := toyExamples()

	history, err := trainer.Train(context.Background(), examples, examples)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(history.Epochs) != 40 {
		t.Fatalf("epochs recorded = %d", len(history.Epochs))
	}
	if history.Steps != 80 {
		t.Errorf("steps = %d, want 80", history.Steps)
	}
	first, last := history.Epochs[0].TrainLoss, history.Epochs[39].TrainLoss
	if last >= first {
		t.Errorf("loss did not decrease: first %v last %v", first, last)
	}
	if history.BestEpoch < 1 {
		t.Errorf("best epoch = %d", history.BestEpoch)
	}

	res, err := trainer.Evaluate(context.Background(), examples)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Accuracy < 0.75 {
		t.Errorf("accuracy after training = %v", res.Accuracy)
	}
	if !res.AUCDefined {
		t.Error("AUC should be defined with both classes present")
	}
	if res.F1 != history.BestF1 {
		t.Errorf("restored model F1 %v, best recorded %v", res.F1, history.BestF1)
	}
}

func TestEvaluateSingleClassUsesDefaultAUC(t *testing.T) {
	trainer, _ := toyTrainer(t, 1)
	var phishing []Example
	for _, ex := range toyExamples() {
		if ex.Label == models.Phishing {
			phishing = append(phishing, ex)
		}
	}
	res, err := trainer.Evaluate(context.Background(), phishing)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.AUCDefined || res.AUC != DefaultAUC {
		t.Errorf("auc = %v defined=%v, want default", res.AUC, res.AUCDefined)
	}
	if len(res.Predictions) != len(phishing) {
		t.Errorf("predictions = %d", len(res.Predictions))
	}
}

func TestTrainCancelled(t *testing.T) {
	trainer, _ := toyTrainer(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := trainer.Train(ctx, toyExamples(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTrainNoExamples(t *testing.T) {
	trainer, _ := toyTrainer(t, 1)
	if _, err := trainer.Train(context.Background(), nil, nil); err == nil {
		t.Error("expected error with no training examples")
	}
}
