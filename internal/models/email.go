package models

import "time"

// Label is the binary class of an email
type Label int

const (
	Legitimate Label = 0 // Safe Email
	Phishing   Label = 1 // Phishing Email
)

// NumLabels is the number of classes the classifier predicts
const NumLabels = 2

// LabelNames maps label IDs to the names printed by inference
var LabelNames = map[Label]string{
	Legitimate: "Legitimate",
	Phishing:   "Phishing",
}

// String returns the display name of the label
func (l Label) String() string {
	if name, ok := LabelNames[l]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether the label is one of the two known classes
func (l Label) Valid() bool {
	return l == Legitimate || l == Phishing
}

// Email is a single cleaned dataset row
type Email struct {
	Text  string `json:"text"`
	Label Label  `json:"label"`
}

// Split names used by the ledger
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// DatasetEntry is a cleaned row stored in the run ledger together with the
// split it was assigned to. The text is stored in plain form.
type DatasetEntry struct {
	ID        int64     `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	Split     string    `db:"split" json:"split"`
	Text      string    `db:"message_text" json:"message_text"`
	Label     Label     `db:"label" json:"label"`
	LabelName string    `db:"label_name" json:"label_name"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Prediction is the result of classifying a single text
type Prediction struct {
	Text          string     `json:"text"`
	Label         Label      `json:"label_id"`
	LabelName     string     `json:"label"`
	Confidence    float64    `json:"confidence"`
	Probabilities [2]float64 `json:"probabilities"`
	IsPhishing    bool       `json:"is_phishing"`
	ModelInput    string     `json:"model_input,omitempty"` // text the tokenizer kept
}
