package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"phishing-detector/internal/models"
)

// ErrMissingColumns is returned when the text or label column cannot be found
var ErrMissingColumns = errors.New("required columns not found")

var (
	textColumns  = []string{"email text", "text"}
	labelColumns = []string{"email type", "label"}

	// Values read as missing, as pandas does by default
	nullValues = map[string]bool{
		"": true, "nan": true, "null": true, "none": true, "na": true, "n/a": true, "<na>": true,
	}

	labelValues = map[string]models.Label{
		"phishing email": models.Phishing,
		"phishing":       models.Phishing,
		"phish":          models.Phishing,
		"spam":           models.Phishing,
		"scam":           models.Phishing,
		"safe email":     models.Legitimate,
		"safe":           models.Legitimate,
		"legitimate":     models.Legitimate,
		"ham":            models.Legitimate,
	}
)

// NormalizeOptions controls row cleaning
type NormalizeOptions struct {
	DropDuplicates bool
	MaxRows        int // 0 keeps every row
}

// Stats describes what cleaning did to the frame
type Stats struct {
	TextColumn        string
	LabelColumn       string
	TotalRows         int
	Kept              int
	DroppedEmptyText  int
	DroppedBadLabel   int
	DroppedDuplicates int
	Malformed         int
	ByLabel           map[models.Label]int
}

// Dropped is the number of rows removed by cleaning
func (s Stats) Dropped() int {
	return s.DroppedEmptyText + s.DroppedBadLabel + s.DroppedDuplicates
}

// Normalize resolves the text and label columns, maps labels to {0,1} and
// drops every row without usable text or label.
func Normalize(frame *Frame, opts NormalizeOptions) ([]models.Email, Stats, error) {
	stats := Stats{
		TotalRows: len(frame.Rows),
		Malformed: frame.Malformed,
		ByLabel:   make(map[models.Label]int),
	}

	textIdx := findColumn(frame.Header, textColumns)
	labelIdx := findColumn(frame.Header, labelColumns)
	if textIdx == -1 || labelIdx == -1 {
		return nil, stats, fmt.Errorf("%w: need \"Email Text\"/\"text\" and \"Email Type\"/\"label\", have %q",
			ErrMissingColumns, frame.Header)
	}
	stats.TextColumn = frame.Header[textIdx]
	stats.LabelColumn = frame.Header[labelIdx]

	seen := make(map[string]bool)
	emails := make([]models.Email, 0, len(frame.Rows))

	for _, record := range frame.Rows {
		if opts.MaxRows > 0 && len(emails) >= opts.MaxRows {
			break
		}

		text := ""
		if textIdx < len(record) {
			text = strings.TrimSpace(record[textIdx])
		}
		if nullValues[strings.ToLower(text)] {
			stats.DroppedEmptyText++
			continue
		}

		labelStr := ""
		if labelIdx < len(record) {
			labelStr = record[labelIdx]
		}
		label, ok := ParseLabel(labelStr)
		if !ok {
			stats.DroppedBadLabel++
			continue
		}

		text = norm.NFC.String(text)
		if opts.DropDuplicates {
			if seen[text] {
				stats.DroppedDuplicates++
				continue
			}
			seen[text] = true
		}

		emails = append(emails, models.Email{Text: text, Label: label})
		stats.ByLabel[label]++
	}

	stats.Kept = len(emails)
	return emails, stats, nil
}

// ParseLabel maps a raw label cell to a binary label
func ParseLabel(raw string) (models.Label, bool) {
	clean := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if label, ok := labelValues[clean]; ok {
		return label, true
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	switch f {
	case 0:
		return models.Legitimate, true
	case 1:
		return models.Phishing, true
	}
	return 0, false
}

func findColumn(header []string, candidates []string) int {
	for _, want := range candidates {
		for i, h := range header {
			if canonicalColumn(h) == want {
				return i
			}
		}
	}
	return -1
}

func canonicalColumn(h string) string {
	h = strings.ReplaceAll(h, "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}
