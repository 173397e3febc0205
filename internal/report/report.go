package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"phishing-detector/internal/dataset"
	"phishing-detector/internal/models"
	"phishing-detector/internal/repository"
	"phishing-detector/internal/training"
)

var (
	brand  = lipgloss.AdaptiveColor{Light: "26", Dark: "81"}
	subtle = lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	border = lipgloss.AdaptiveColor{Light: "250", Dark: "238"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(brand).MarginTop(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(brand).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(subtle).Padding(0, 1)
	phishStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	safeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(border)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return dimStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func section(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), body)
}

// Print writes sections separated by blank lines
func Print(w io.Writer, sections ...string) {
	for _, s := range sections {
		fmt.Fprintln(w, s)
	}
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// Dataset summarizes loading, cleaning and splitting
func Dataset(frame *dataset.Frame, stats dataset.Stats, splits dataset.Splits) string {
	t := newTable("Item", "Value").
		Row("File", frame.Path).
		Row("Encoding", frame.Encoding).
		Row("Columns", fmt.Sprintf("%s / %s", stats.TextColumn, stats.LabelColumn)).
		Row("Rows read", strconv.Itoa(stats.TotalRows)).
		Row("Malformed records", strconv.Itoa(stats.Malformed)).
		Row("Dropped (empty text)", strconv.Itoa(stats.DroppedEmptyText)).
		Row("Dropped (bad label)", strconv.Itoa(stats.DroppedBadLabel)).
		Row("Dropped (duplicate)", strconv.Itoa(stats.DroppedDuplicates)).
		Row("Kept", strconv.Itoa(stats.Kept)).
		Row(models.Phishing.String(), strconv.Itoa(stats.ByLabel[models.Phishing])).
		Row(models.Legitimate.String(), strconv.Itoa(stats.ByLabel[models.Legitimate])).
		Row("Train", strconv.Itoa(len(splits.Train))).
		Row("Validation", strconv.Itoa(len(splits.Validation))).
		Row("Test", strconv.Itoa(len(splits.Test)))
	return section("Dataset", t.String())
}

// History renders one row per epoch
func History(h *training.History) string {
	t := newTable("Epoch", "Train loss", "Train acc", "Val loss", "Val accuracy", "Val F1", "LR", "Time")
	for _, e := range h.Epochs {
		epoch := strconv.Itoa(e.Epoch)
		if e.Epoch == h.BestEpoch {
			epoch += " *"
		}
		t.Row(epoch, f4(e.TrainLoss), f4(e.TrainAccuracy), f4(e.ValLoss), f4(e.ValAccuracy), f4(e.ValF1),
			strconv.FormatFloat(e.LearningRate, 'e', 2, 64), e.Duration.Round(time.Millisecond).String())
	}
	return section("Training history", t.String())
}

// Metrics renders the headline evaluation metrics
func Metrics(title string, res *training.EvalResult) string {
	auc := f4(res.AUC)
	if !res.AUCDefined {
		auc += " (undefined, single class)"
	}
	t := newTable("Metric", "Value").
		Row("Loss", f4(res.Loss)).
		Row("Accuracy", f4(res.Accuracy)).
		Row("Precision", f4(res.Precision)).
		Row("Recall", f4(res.Recall)).
		Row("F1", f4(res.F1)).
		Row("Specificity", f4(res.Specificity)).
		Row("AUC-ROC", auc)
	return section(title, t.String())
}

// ClassReport renders per-class precision, recall, F1 and support
func ClassReport(rep training.ClassReport) string {
	t := newTable("", "Precision", "Recall", "F1", "Support")
	for _, c := range rep.Classes {
		t.Row(c.Name, f4(c.Precision), f4(c.Recall), f4(c.F1), strconv.Itoa(c.Support))
	}
	t.Row("accuracy", "", "", f4(rep.Accuracy), strconv.Itoa(rep.MacroAvg.Support))
	for _, c := range []training.ClassMetrics{rep.MacroAvg, rep.WeightedAvg} {
		t.Row(c.Name, f4(c.Precision), f4(c.Recall), f4(c.F1), strconv.Itoa(c.Support))
	}
	return section("Classification report", t.String())
}

// ConfusionMatrix renders true classes as rows and predictions as columns
func ConfusionMatrix(cm training.ConfusionMatrix) string {
	t := newTable("True \\ Predicted", models.Legitimate.String(), models.Phishing.String())
	for _, truth := range []models.Label{models.Legitimate, models.Phishing} {
		t.Row(truth.String(),
			strconv.Itoa(cm.Matrix[truth][models.Legitimate]),
			strconv.Itoa(cm.Matrix[truth][models.Phishing]))
	}
	return section("Confusion matrix", t.String())
}

// Prediction renders a single classified text
func Prediction(pred models.Prediction) string {
	style := safeStyle
	if pred.IsPhishing {
		style = phishStyle
	}
	t := newTable("Field", "Value").
		Row("Text", truncate(pred.Text, 70)).
		Row("Prediction", style.Render(pred.LabelName)).
		Row("Confidence", fmt.Sprintf("%.2f%%", pred.Confidence*100)).
		Row("P(Legitimate)", f4(pred.Probabilities[models.Legitimate])).
		Row("P(Phishing)", f4(pred.Probabilities[models.Phishing]))
	if pred.ModelInput != "" {
		t.Row("Model input", truncate(pred.ModelInput, 70))
	}
	return section("Prediction", t.String())
}

// Runs renders the run ledger
func Runs(runs []models.TrainingRun) string {
	if len(runs) == 0 {
		return section("Training runs", dimStyle.Render("no runs recorded"))
	}
	t := newTable("Run", "Started", "Status", "Rows", "Test acc", "Test F1", "AUC", "Sample")
	for _, r := range runs {
		sample := r.SampleLabel
		if sample != "" {
			sample = fmt.Sprintf("%s (%.0f%%)", sample, r.SampleConfidence*100)
		}
		t.Row(shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status,
			strconv.Itoa(r.TotalRows), f4(r.TestAccuracy), f4(r.TestF1), f4(r.TestAUC), sample)
	}
	return section("Training runs", t.String())
}

// Run renders the stored record of one run
func Run(r *models.TrainingRun) string {
	t := newTable("Field", "Value").
		Row("Run", r.ID).
		Row("Status", r.Status).
		Row("Started", r.StartedAt.Local().Format(time.DateTime)).
		Row("Dataset", r.DatasetPath).
		Row("Fingerprint", shortID(r.DatasetFingerprint)).
		Row("Rows", fmt.Sprintf("%d (%d dropped)", r.TotalRows, r.DroppedRows)).
		Row("Splits", fmt.Sprintf("%d / %d / %d", r.TrainSize, r.ValidationSize, r.TestSize)).
		Row("Tokenizer", fmt.Sprintf("%s, max length %d", r.TokenizerMode, r.MaxLength)).
		Row("Best epoch", strconv.Itoa(r.BestEpoch)).
		Row("Test F1", f4(r.TestF1)).
		Row("Test AUC", f4(r.TestAUC)).
		Row("Model dir", r.ModelDir)
	if r.ErrorMessage != "" {
		t.Row("Error", truncate(r.ErrorMessage, 70))
	}
	return section("Training run", t.String())
}

// StoredSplits renders the label counts of the rows stored for a run
func StoredSplits(counts []repository.SplitCount) string {
	if len(counts) == 0 {
		return section("Stored dataset", dimStyle.Render("no rows stored (database.store_dataset: false)"))
	}
	t := newTable("Split", "Label", "Rows")
	for _, c := range counts {
		t.Row(c.Split, c.LabelName, strconv.Itoa(c.Count))
	}
	return section("Stored dataset", t.String())
}

// Entries renders up to limit stored rows
func Entries(split string, entries []models.DatasetEntry, limit int) string {
	title := fmt.Sprintf("%s rows", split)
	if len(entries) == 0 {
		return section(title, dimStyle.Render("none"))
	}
	t := newTable("#", "Label", "Text")
	for i, e := range entries {
		if limit > 0 && i == limit {
			t.Row("", "", dimStyle.Render(fmt.Sprintf("... %d more", len(entries)-limit)))
			break
		}
		t.Row(strconv.Itoa(i+1), e.LabelName, truncate(e.Text, 70))
	}
	return section(title, t.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
