// Package expect checks that fragments of expected text appear in the
// outputs of an executed notebook. Cells are addressed by index, or by a
// cell tag when one is given.
package expect

import (
	"fmt"
	"strings"
)

// Field selects what part of a cell an expectation looks at.
type Field string

const (
	// FieldText is the text of a stream output.
	FieldText Field = "text"
	// FieldData matches a MIME key of a display output's data bundle.
	FieldData Field = "data"
	// FieldSource is the cell's source code.
	FieldSource Field = "source"

	dataPrefix = "data:"
)

// Expectation is one (cell, output, field, fragment) check.
type Expectation struct {
	Cell     int    `yaml:"cell" json:"cell"`
	Tag      string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Output   int    `yaml:"output,omitempty" json:"output"`
	Field    Field  `yaml:"field,omitempty" json:"field"`
	Contains string `yaml:"contains" json:"contains"`
	Note     string `yaml:"note,omitempty" json:"note,omitempty"`
}

// FieldName returns the field, defaulting to text.
func (e Expectation) FieldName() Field {
	if e.Field == "" {
		return FieldText
	}
	return e.Field
}

// MIME returns the MIME type of a "data:<mime>" field.
func (e Expectation) MIME() (string, bool) {
	f := string(e.FieldName())
	if !strings.HasPrefix(f, dataPrefix) {
		return "", false
	}
	return strings.TrimPrefix(f, dataPrefix), true
}

// ValidField reports whether f names a field this package understands.
func ValidField(f Field) bool {
	switch f {
	case "", FieldText, FieldData, FieldSource:
		return true
	}
	s := string(f)
	return strings.HasPrefix(s, dataPrefix) && len(s) > len(dataPrefix)
}

// Target describes where the expectation points, for messages.
func (e Expectation) Target() string {
	cell := fmt.Sprintf("cell %d", e.Cell)
	if e.Tag != "" {
		cell = fmt.Sprintf("cell tagged %q", e.Tag)
	}
	if e.FieldName() == FieldSource {
		return cell + " source"
	}
	return fmt.Sprintf("%s output %d %s", cell, e.Output, e.FieldName())
}

// Result is the evaluation of one expectation.
type Result struct {
	Expectation Expectation `json:"expectation"`
	Cell        int         `json:"cell"` // resolved cell index, -1 if unresolved
	Passed      bool        `json:"passed"`
	Actual      string      `json:"actual"`
}
