// Package harness executes a notebook end to end and retries the whole
// document when the first cell error is a known transient failure.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"nbsmoke/internal/engine"
	"nbsmoke/internal/logging"
	"nbsmoke/internal/notebook"
)

const (
	DefaultTimeout     = 500 * time.Second
	DefaultMaxAttempts = 3
)

// Verdict classifies the final state of a run.
type Verdict string

const (
	VerdictPass               Verdict = "pass"                // no cell errors
	VerdictTransientExhausted Verdict = "transient-exhausted" // sentinel still first after the last attempt
	VerdictError              Verdict = "error"               // non-retryable cell error
	VerdictAborted            Verdict = "aborted"             // hard error before a result
)

// ExecutionResult is one executed copy of the document and its errors.
type ExecutionResult struct {
	Document *notebook.Document
	Errors   []ErrorRecord
	Attempt  int
	Duration time.Duration
}

// AttemptSummary describes one attempt for reporting.
type AttemptSummary struct {
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration"`
	ErrorCount int           `json:"errorCount"`
	FirstError string        `json:"firstError,omitempty"`
	Retried    bool          `json:"retried"`
	Error      string        `json:"error,omitempty"` // hard error that ended the run
}

// Outcome is what RunWithRetry returns: the last result only, plus a
// summary line per attempt. Result is nil when a hard error ended the run.
type Outcome struct {
	Result   *ExecutionResult
	Errors   []ErrorRecord
	Attempts int
	History  []AttemptSummary
	Sentinel string
}

// Verdict classifies the outcome.
func (o *Outcome) Verdict() Verdict {
	switch {
	case o.Result == nil:
		return VerdictAborted
	case len(o.Errors) == 0:
		return VerdictPass
	case IsRetryableFailure(o.Errors, o.Sentinel):
		return VerdictTransientExhausted
	default:
		return VerdictError
	}
}

// Runner executes notebooks through an Engine.
type Runner struct {
	Engine      engine.Engine
	Timeout     time.Duration // wall-clock limit per attempt
	MaxAttempts int           // bound on attempts for the transient failure
	Sentinel    string        // message that marks the transient failure
	Logger      *slog.Logger
}

// New returns a Runner with the default timeout, attempt bound and sentinel.
func New(e engine.Engine) *Runner {
	return &Runner{
		Engine:      e,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		Sentinel:    DefaultSentinel,
		Logger:      logging.New("harness"),
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return logging.New("harness")
	}
	return r.Logger
}

func (r *Runner) sentinel() string {
	if r.Sentinel == "" {
		return DefaultSentinel
	}
	return r.Sentinel
}

// Retryable reports whether errs match the runner's sentinel.
func (r *Runner) Retryable(errs []ErrorRecord) bool {
	return IsRetryableFailure(errs, r.sentinel())
}

// Execute loads the document from path, runs it once against a fresh
// kernel rooted at the document's directory and collects its errors.
// Cell errors are part of the result; load failures, engine failures and
// timeouts are returned as errors.
func (r *Runner) Execute(ctx context.Context, path string, attempt int) (*ExecutionResult, error) {
	doc, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notebook.ErrLoad, err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	ctx = engine.WithAttempt(ctx, attempt)

	start := time.Now()
	executed, err := r.Engine.Execute(ctx, doc, filepath.Dir(abs))
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, engine.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("attempt %d after %s: %w", attempt, elapsed.Round(time.Millisecond), engine.ErrTimeout)
		}
		return nil, fmt.Errorf("attempt %d: %w", attempt, err)
	}
	if err := engine.CheckResult(doc, executed); err != nil {
		return nil, fmt.Errorf("attempt %d: %w", attempt, err)
	}

	return &ExecutionResult{
		Document: executed,
		Errors:   CollectErrors(executed),
		Attempt:  attempt,
		Duration: elapsed,
	}, nil
}

// RunWithRetry executes the document until it produces no transient
// failure or MaxAttempts is reached, and returns the last result. Hard
// errors end the run immediately; the outcome is still returned with the
// attempts made so far and a nil Result.
func (r *Runner) RunWithRetry(ctx context.Context, path string) (*Outcome, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := r.logger().With("document", path)

	outcome := &Outcome{Sentinel: r.sentinel()}
	for attempt := 1; ; attempt++ {
		res, err := r.Execute(ctx, path, attempt)
		if err != nil {
			logger.Error("attempt failed", "attempt", attempt, "error", err)
			outcome.History = append(outcome.History, AttemptSummary{Attempt: attempt, Error: err.Error()})
			outcome.Result = nil
			outcome.Errors = nil
			outcome.Attempts = attempt
			return outcome, err
		}

		retry := r.Retryable(res.Errors) && attempt < maxAttempts
		summary := AttemptSummary{
			Attempt:    attempt,
			Duration:   res.Duration,
			ErrorCount: len(res.Errors),
			Retried:    retry,
		}
		if len(res.Errors) > 0 {
			summary.FirstError = res.Errors[0].Message
		}
		outcome.History = append(outcome.History, summary)
		outcome.Result = res
		outcome.Errors = res.Errors
		outcome.Attempts = attempt

		logger.Info("attempt finished",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"duration", res.Duration.Round(time.Millisecond),
			"errors", len(res.Errors),
		)

		if !retry {
			break
		}
		logger.Warn("transient failure, retrying notebook",
			"attempt", attempt,
			"cell", res.Errors[0].Cell,
			"message", res.Errors[0].Message,
		)
	}

	return outcome, nil
}
