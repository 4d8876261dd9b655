// Package engine runs every cell of a notebook and returns the document
// annotated with outputs. Cell errors are recorded as error outputs and
// never stop execution.
package engine

import (
	"context"
	"errors"
	"fmt"

	"nbsmoke/internal/notebook"
)

// ErrTimeout is returned when execution does not finish before the
// context deadline.
var ErrTimeout = errors.New("notebook execution timed out")

// ErrBadResult is returned when an engine hands back no document, or one
// whose cells do not line up with the input.
var ErrBadResult = errors.New("engine returned a malformed result")

// ErrEngineNotFound is returned when the execution engine binary is missing.
var ErrEngineNotFound = errors.New("execution engine not found")

// Engine executes all cells of doc in order in a fresh kernel whose working
// directory is dir. The returned document has the same cells as doc with
// outputs filled in. CheckResult enforces that for any engine.
type Engine interface {
	Execute(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error) {
	return f(ctx, doc, dir)
}

// ExitError reports a non-zero exit of the engine process itself, as
// opposed to errors raised inside cells.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string // tail of the engine's stderr
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

type attemptKey struct{}

// WithAttempt records the attempt number on ctx so engines can expose it
// to the kernel.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the attempt number stored by WithAttempt, or 1.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

// CheckResult verifies that executed is a result for doc: non-nil and with
// one cell per input cell, so cell indices stay stable.
func CheckResult(doc, executed *notebook.Document) error {
	if executed == nil {
		return fmt.Errorf("%w: no document", ErrBadResult)
	}
	if len(executed.Cells) != len(doc.Cells) {
		return fmt.Errorf("%w: %d cells, want %d", ErrBadResult, len(executed.Cells), len(doc.Cells))
	}
	return nil
}
