package training

import (
	"errors"
	"sort"

	"phishing-detector/internal/models"
)

// ErrDegenerateAUC is returned when the labels hold a single class
var ErrDegenerateAUC = errors.New("AUC-ROC undefined: only one class present")

// DefaultAUC is reported in place of an undefined AUC-ROC
const DefaultAUC = 0.5

// ConfusionMatrix counts predictions for the two email classes, Phishing
// being the positive class
type ConfusionMatrix struct {
	Matrix       [models.NumLabels][models.NumLabels]int // [true][predicted]
	TotalSamples int
}

// Add records one prediction
func (cm *ConfusionMatrix) Add(truth, predicted models.Label) {
	if !truth.Valid() || !predicted.Valid() {
		return
	}
	cm.Matrix[truth][predicted]++
	cm.TotalSamples++
}

func (cm *ConfusionMatrix) tp() float64 { return float64(cm.Matrix[models.Phishing][models.Phishing]) }
func (cm *ConfusionMatrix) fp() float64 { return float64(cm.Matrix[models.Legitimate][models.Phishing]) }
func (cm *ConfusionMatrix) fn() float64 { return float64(cm.Matrix[models.Phishing][models.Legitimate]) }
func (cm *ConfusionMatrix) tn() float64 { return float64(cm.Matrix[models.Legitimate][models.Legitimate]) }

// Accuracy is the fraction of correct predictions
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	return (cm.tp() + cm.tn()) / float64(cm.TotalSamples)
}

// Precision of the Phishing class
func (cm *ConfusionMatrix) Precision() float64 {
	return safeDiv(cm.tp(), cm.tp()+cm.fp())
}

// Recall of the Phishing class
func (cm *ConfusionMatrix) Recall() float64 {
	return safeDiv(cm.tp(), cm.tp()+cm.fn())
}

// F1 of the Phishing class
func (cm *ConfusionMatrix) F1() float64 {
	return f1(cm.Precision(), cm.Recall())
}

// Specificity is the recall of the Legitimate class
func (cm *ConfusionMatrix) Specificity() float64 {
	return safeDiv(cm.tn(), cm.tn()+cm.fp())
}

// NPV is the precision of the Legitimate class
func (cm *ConfusionMatrix) NPV() float64 {
	return safeDiv(cm.tn(), cm.tn()+cm.fn())
}

// ClassMetrics is one row of a classification report
type ClassMetrics struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassReport holds per-class rows followed by macro and weighted averages
type ClassReport struct {
	Classes     []ClassMetrics
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Accuracy    float64
}

// Report builds per-class precision, recall and F1 in label id order
func (cm *ConfusionMatrix) Report() ClassReport {
	legit := ClassMetrics{
		Name:      models.Legitimate.String(),
		Precision: cm.NPV(),
		Recall:    cm.Specificity(),
		Support:   int(cm.tn() + cm.fp()),
	}
	legit.F1 = f1(legit.Precision, legit.Recall)
	phish := ClassMetrics{
		Name:      models.Phishing.String(),
		Precision: cm.Precision(),
		Recall:    cm.Recall(),
		F1:        cm.F1(),
		Support:   int(cm.tp() + cm.fn()),
	}

	rep := ClassReport{
		Classes:  []ClassMetrics{legit, phish},
		Accuracy: cm.Accuracy(),
	}
	rep.MacroAvg = ClassMetrics{Name: "macro avg", Support: cm.TotalSamples}
	rep.WeightedAvg = ClassMetrics{Name: "weighted avg", Support: cm.TotalSamples}
	for _, c := range rep.Classes {
		rep.MacroAvg.Precision += c.Precision / float64(len(rep.Classes))
		rep.MacroAvg.Recall += c.Recall / float64(len(rep.Classes))
		rep.MacroAvg.F1 += c.F1 / float64(len(rep.Classes))
		if cm.TotalSamples > 0 {
			w := float64(c.Support) / float64(cm.TotalSamples)
			rep.WeightedAvg.Precision += c.Precision * w
			rep.WeightedAvg.Recall += c.Recall * w
			rep.WeightedAvg.F1 += c.F1 * w
		}
	}
	return rep
}

// CalculateAUCROC returns the area under the ROC curve of scores (the
// Phishing probability) against labels, by the trapezoid rule with tied
// scores grouped into one step.
func CalculateAUCROC(scores []float64, labels []models.Label) (float64, error) {
	if len(scores) != len(labels) {
		return 0, errors.New("scores and labels differ in length")
	}

	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(scores))
	totalPos, totalNeg := 0, 0
	for i := range scores {
		pairs[i] = pair{score: scores[i], pos: labels[i] == models.Phishing}
		if pairs[i].pos {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return 0, ErrDegenerateAUC
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	auc := 0.0
	tp, fp := 0, 0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for ; j < len(pairs) && pairs[j].score == pairs[i].score; j++ {
			if pairs[j].pos {
				tp++
			} else {
				fp++
			}
		}
		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return auc, nil
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}
