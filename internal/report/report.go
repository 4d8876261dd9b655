// Package report renders the outcome of a smoketest run for terminals, CI
// annotations and machines.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nbsmoke/internal/engine"
	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
	"nbsmoke/internal/notebook"
)

// Status is the overall classification of a run.
type Status string

const (
	StatusPass       Status = "pass"
	StatusCellErrors Status = "cell-errors"
	StatusLoadError  Status = "load-error"
	StatusTimeout    Status = "timeout"
	StatusEngine     Status = "engine-error"
	StatusMismatch   Status = "mismatch"
)

// Report gathers everything known about one run.
type Report struct {
	RunID        string
	Document     string
	Fingerprint  string
	Outcome      *harness.Outcome // nil when execution failed before producing a result
	Err          error            // first fatal problem; nil when the run passed
	Expectations int              // number of expectations checked
	Duration     time.Duration
}

// ExitCode is the process exit status for s.
func (s Status) ExitCode() int {
	switch s {
	case StatusPass:
		return 0
	case StatusCellErrors:
		return 2
	case StatusLoadError:
		return 3
	case StatusTimeout:
		return 4
	case StatusMismatch:
		return 5
	default:
		return 1
	}
}

// Status classifies r.Err.
func (r Report) Status() Status {
	return Classify(r.Err)
}

// Classify maps a run error to a Status.
func Classify(err error) Status {
	if err == nil {
		return StatusPass
	}
	var execErr *expect.ExecutionErrorsError
	var mismatch *expect.MismatchError
	switch {
	case errors.As(err, &execErr):
		return StatusCellErrors
	case errors.As(err, &mismatch):
		return StatusMismatch
	case errors.Is(err, notebook.ErrLoad):
		return StatusLoadError
	case errors.Is(err, engine.ErrTimeout):
		return StatusTimeout
	default:
		return StatusEngine
	}
}

// FormatCLI renders a report for a terminal.
func FormatCLI(r Report) string {
	var sb strings.Builder

	if r.Err == nil {
		sb.WriteString(fmt.Sprintf("✓ %s passed: %d expectation(s) held", r.Document, r.Expectations))
		if r.Outcome != nil {
			sb.WriteString(fmt.Sprintf(" after %d attempt(s)", r.Outcome.Attempts))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString(fmt.Sprintf("❌ %s failed (%s)\n", r.Document, r.Status()))
	}

	if r.Outcome != nil && len(r.Outcome.History) > 0 {
		sb.WriteString("\n")
		sb.WriteString(AttemptTable(r.Outcome.History, ASCII))
		sb.WriteString("\n")
	}

	if r.Err == nil {
		return sb.String()
	}

	sb.WriteString("\n")
	var execErr *expect.ExecutionErrorsError
	var mismatch *expect.MismatchError
	switch {
	case errors.As(r.Err, &execErr):
		if r.Outcome != nil && r.Outcome.Verdict() == harness.VerdictTransientExhausted {
			sb.WriteString(fmt.Sprintf("Transient failure %q persisted through %d attempt(s).\n\n",
				r.Outcome.Sentinel, r.Outcome.Attempts))
		}
		sb.WriteString(ErrorTable(execErr.Errors, ASCII))
		sb.WriteString("\n")
	case errors.As(r.Err, &mismatch):
		exp := mismatch.Expectation
		if mismatch.Cell >= 0 {
			sb.WriteString(fmt.Sprintf("  Cell: %d\n", mismatch.Cell))
		}
		sb.WriteString(fmt.Sprintf("  Check: %s\n", exp.Target()))
		if exp.Note != "" {
			sb.WriteString(fmt.Sprintf("  Section: %s\n", exp.Note))
		}
		sb.WriteString(fmt.Sprintf("  Expected: %q\n", exp.Contains))
		sb.WriteString(fmt.Sprintf("  Actual: %q\n", expect.Truncate(mismatch.Actual, 200)))
	default:
		sb.WriteString(fmt.Sprintf("  Error: %v\n", r.Err))
	}

	return sb.String()
}

// FormatCI renders failures as GitHub Actions error annotations.
func FormatCI(r Report) string {
	if r.Err == nil {
		return ""
	}

	var sb strings.Builder
	var execErr *expect.ExecutionErrorsError
	var mismatch *expect.MismatchError
	switch {
	case errors.As(r.Err, &execErr):
		for _, e := range execErr.Errors {
			sb.WriteString(fmt.Sprintf("::error file=%s::cell %d raised %s: %s\n",
				r.Document, e.Cell, e.Kind, escapeCI(e.Message)))
		}
	case errors.As(r.Err, &mismatch):
		sb.WriteString(fmt.Sprintf("::error file=%s::%s: expected %s to contain '%s', got '%s'\n",
			r.Document, mismatch.Location(), mismatch.Expectation.Target(),
			escapeCI(mismatch.Expectation.Contains), escapeCI(expect.Truncate(mismatch.Actual, 200))))
	default:
		sb.WriteString(fmt.Sprintf("::error file=%s::%s\n", r.Document, escapeCI(r.Err.Error())))
	}

	attempts := 0
	if r.Outcome != nil {
		attempts = r.Outcome.Attempts
	}
	sb.WriteString(fmt.Sprintf("\n❌ Notebook smoketest failed: %s after %d attempt(s)\n", r.Status(), attempts))
	return sb.String()
}

// escapeCI encodes characters that end a workflow command.
func escapeCI(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

// jsonReport is the JSON output format.
type jsonReport struct {
	RunID        string                   `json:"runId,omitempty"`
	Document     string                   `json:"document"`
	Fingerprint  string                   `json:"fingerprint,omitempty"`
	Passed       bool                     `json:"passed"`
	Status       Status                   `json:"status"`
	Verdict      harness.Verdict          `json:"verdict,omitempty"`
	Attempts     int                      `json:"attempts"`
	History      []harness.AttemptSummary `json:"history"`
	Errors       []harness.ErrorRecord    `json:"errors"`
	Mismatch     *jsonMismatch            `json:"mismatch,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Expectations int                      `json:"expectations"`
	DurationMS   int64                    `json:"durationMs"`
}

type jsonMismatch struct {
	Index       int                `json:"index"`
	Cell        int                `json:"cell"`
	Expectation expect.Expectation `json:"expectation"`
	Actual      string             `json:"actual"`
}

// FormatJSON renders a machine-readable report.
func FormatJSON(r Report) (string, error) {
	out := jsonReport{
		RunID:        r.RunID,
		Document:     r.Document,
		Fingerprint:  r.Fingerprint,
		Passed:       r.Err == nil,
		Status:       r.Status(),
		History:      []harness.AttemptSummary{},
		Errors:       []harness.ErrorRecord{},
		Expectations: r.Expectations,
		DurationMS:   r.Duration.Milliseconds(),
	}
	if r.Outcome != nil {
		out.Verdict = r.Outcome.Verdict()
		out.Attempts = r.Outcome.Attempts
		if r.Outcome.History != nil {
			out.History = r.Outcome.History
		}
		if r.Outcome.Errors != nil {
			out.Errors = r.Outcome.Errors
		}
	}

	var mismatch *expect.MismatchError
	if errors.As(r.Err, &mismatch) {
		out.Mismatch = &jsonMismatch{
			Index:       mismatch.Index,
			Cell:        mismatch.Cell,
			Expectation: mismatch.Expectation,
			Actual:      expect.Truncate(mismatch.Actual, 1000),
		}
	}
	if r.Err != nil {
		out.Message = r.Err.Error()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
