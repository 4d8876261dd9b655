package harness

import (
	"nbsmoke/internal/notebook"
)

// DefaultSentinel is the error message that marks a transient embedding
// search failure worth retrying the whole notebook for.
const DefaultSentinel = "no embedding found"

// ErrorRecord is an error output extracted from an executed notebook.
type ErrorRecord struct {
	Cell      int      `json:"cell"`      // index of the cell that raised
	Output    int      `json:"output"`    // index of the error output within the cell
	Kind      string   `json:"kind"`      // exception name (ename)
	Message   string   `json:"message"`   // exception value (evalue)
	Traceback []string `json:"traceback,omitempty"`
}

// CollectErrors returns every error output in document order: cells in
// order, then outputs within each cell in order. It does not modify doc.
func CollectErrors(doc *notebook.Document) []ErrorRecord {
	errs := []ErrorRecord{}
	if doc == nil {
		return errs
	}
	for ci, cell := range doc.Cells {
		for oi, out := range cell.Outputs {
			if !out.IsError() {
				continue
			}
			errs = append(errs, ErrorRecord{
				Cell:      ci,
				Output:    oi,
				Kind:      out.EName,
				Message:   out.EValue,
				Traceback: out.Traceback,
			})
		}
	}
	return errs
}

// IsRetryableFailure reports whether errs describe the transient failure:
// the list is non-empty and the first message equals sentinel exactly.
// Later errors are ignored; they usually cascade from the first.
func IsRetryableFailure(errs []ErrorRecord, sentinel string) bool {
	return len(errs) > 0 && errs[0].Message == sentinel
}
