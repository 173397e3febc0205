package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encodings reported by Load
const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
)

// ErrEmptyFile is returned when the CSV has no header row
var ErrEmptyFile = errors.New("dataset file is empty")

// Frame is the raw tabular content of a CSV file
type Frame struct {
	Path      string
	Encoding  string
	Header    []string
	Rows      [][]string
	Malformed int // records the CSV reader rejected
}

// Load reads a CSV file. Content that is not valid UTF-8 is decoded as
// Latin-1 instead.
func Load(path string) (*Frame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	frame, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	frame.Path = path
	return frame, nil
}

// Parse decodes and parses CSV bytes
func Parse(raw []byte) (*Frame, error) {
	text, encoding, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset as %s: %w", encoding, err)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read header: %w", err)
	}

	frame := &Frame{
		Encoding: encoding,
		Header:   header,
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			frame.Malformed++
			continue
		}
		frame.Rows = append(frame.Rows, record)
	}

	return frame, nil
}

func decode(raw []byte) (string, string, error) {
	if utf8.Valid(raw) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err != nil {
			return "", EncodingUTF8, err
		}
		return string(out), EncodingUTF8, nil
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", EncodingLatin1, err
	}
	return string(out), EncodingLatin1, nil
}
