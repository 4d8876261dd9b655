// Package runlog keeps a history of smoketest runs on disk so flaky
// behaviour can be inspected after the fact.
package runlog

import (
	"time"

	"github.com/google/uuid"

	"nbsmoke/internal/harness"
)

// Record is everything stored about one run.
type Record struct {
	RunID       string                   `json:"runId"`
	Document    string                   `json:"document"`
	Fingerprint string                   `json:"fingerprint"`
	Attempts    int                      `json:"attempts"`
	Verdict     harness.Verdict          `json:"verdict"`
	Status      string                   `json:"status"`
	Passed      bool                     `json:"passed"`
	Failure     string                   `json:"failure,omitempty"`
	History     []harness.AttemptSummary `json:"history"`
	Errors      []harness.ErrorRecord    `json:"errors"`
	StartedAt   time.Time                `json:"startedAt"`
	Duration    time.Duration            `json:"duration"`
}

// Summary is the short form shown by list.
type Summary struct {
	RunID     string
	Document  string
	Status    string
	Attempts  int
	StartedAt time.Time
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// ValidRunID reports whether id looks like a run identifier.
func ValidRunID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Summarize returns the list form of r.
func (r Record) Summarize() Summary {
	return Summary{
		RunID:     r.RunID,
		Document:  r.Document,
		Status:    r.Status,
		Attempts:  r.Attempts,
		StartedAt: r.StartedAt,
	}
}
