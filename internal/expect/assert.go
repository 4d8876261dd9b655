package expect

import (
	"fmt"
	"sort"
	"strings"

	"nbsmoke/internal/harness"
	"nbsmoke/internal/notebook"
)

// maxActual bounds how much actual content goes into an error message.
const maxActual = 200

// MismatchError reports the first expectation that did not hold.
type MismatchError struct {
	Index       int // position in the expectation list
	Cell        int // resolved cell index, -1 if unresolved
	Expectation Expectation
	Actual      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %s to contain %q, got %q",
		e.Location(), e.Expectation.Target(), e.Expectation.Contains, Truncate(e.Actual, maxActual))
}

// Location names the resolved cell, or the expectation's target when the
// cell could not be resolved.
func (e *MismatchError) Location() string {
	if e.Cell < 0 {
		return e.Expectation.Target()
	}
	return fmt.Sprintf("cell %d", e.Cell)
}

// ExecutionErrorsError is returned when the notebook produced cell errors,
// which makes content checks meaningless.
type ExecutionErrorsError struct {
	Errors []harness.ErrorRecord
}

func (e *ExecutionErrorsError) Error() string {
	if len(e.Errors) == 0 {
		return "notebook produced errors"
	}
	first := e.Errors[0]
	return fmt.Sprintf("notebook produced %d error(s); first in cell %d: %s: %s",
		len(e.Errors), first.Cell, first.Kind, first.Message)
}

// Assert requires errs to be empty, then checks every expectation in order
// and stops at the first mismatch.
func Assert(doc *notebook.Document, errs []harness.ErrorRecord, exps []Expectation) error {
	if len(errs) > 0 {
		return &ExecutionErrorsError{Errors: errs}
	}
	for i, exp := range exps {
		res := Check(doc, exp)
		if !res.Passed {
			return &MismatchError{
				Index:       i,
				Cell:        res.Cell,
				Expectation: exp,
				Actual:      res.Actual,
			}
		}
	}
	return nil
}

// Evaluate checks every expectation without stopping.
func Evaluate(doc *notebook.Document, exps []Expectation) []Result {
	results := make([]Result, len(exps))
	for i, exp := range exps {
		results[i] = Check(doc, exp)
	}
	return results
}

// Check evaluates a single expectation against doc.
func Check(doc *notebook.Document, exp Expectation) Result {
	res := Result{Expectation: exp, Cell: -1}

	idx := exp.Cell
	if exp.Tag != "" {
		var ok bool
		idx, ok = doc.CellByTag(exp.Tag)
		if !ok {
			res.Actual = fmt.Sprintf("<no cell tagged %q>", exp.Tag)
			return res
		}
	}
	if idx < 0 || idx >= len(doc.Cells) {
		res.Actual = fmt.Sprintf("<missing cell %d of %d>", idx, len(doc.Cells))
		return res
	}
	res.Cell = idx
	cell := doc.Cells[idx]

	field := exp.FieldName()
	if field == FieldSource {
		res.Actual = cell.Source.String()
		res.Passed = strings.Contains(res.Actual, exp.Contains)
		return res
	}

	if exp.Output < 0 || exp.Output >= len(cell.Outputs) {
		res.Actual = fmt.Sprintf("<missing output %d of %d>", exp.Output, len(cell.Outputs))
		return res
	}
	out := cell.Outputs[exp.Output]

	switch {
	case field == FieldText:
		res.Actual = out.Text.String()
		res.Passed = strings.Contains(res.Actual, exp.Contains)
	case field == FieldData:
		// Membership test on the MIME keys of the bundle.
		keys := mimeKeys(out)
		res.Actual = strings.Join(keys, ", ")
		_, res.Passed = out.Data[exp.Contains]
	default:
		mime, ok := exp.MIME()
		if !ok {
			res.Actual = fmt.Sprintf("<unknown field %q>", field)
			return res
		}
		text, ok := out.DataText(mime)
		if !ok {
			res.Actual = fmt.Sprintf("<no %s data; have %s>", mime, strings.Join(mimeKeys(out), ", "))
			return res
		}
		res.Actual = text
		res.Passed = strings.Contains(text, exp.Contains)
	}
	return res
}

func mimeKeys(out notebook.Output) []string {
	keys := make([]string, 0, len(out.Data))
	for k := range out.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
