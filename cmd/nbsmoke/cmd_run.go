package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nbsmoke/internal/config"
	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
	"nbsmoke/internal/logging"
	"nbsmoke/internal/report"
	"nbsmoke/internal/runlog"
)

var runFlags struct {
	timeout      string
	maxAttempts  int
	retryOn      string
	ci           bool
	json         bool
	saveExecuted string
	noRecord     bool
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [document]",
		Short: "Execute a notebook with retries and check its outputs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRun(cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&runFlags.timeout, "timeout", "", "Wall-clock limit per attempt, e.g. 500s or 8m")
	f.IntVar(&runFlags.maxAttempts, "max-attempts", 0, "Maximum attempts while the transient failure persists")
	f.StringVar(&runFlags.retryOn, "retry-on", "", "First-error message that triggers a retry")
	f.BoolVar(&runFlags.ci, "ci", false, "Emit GitHub Actions annotations on failure")
	f.BoolVar(&runFlags.json, "json", false, "Print the report as JSON")
	f.StringVar(&runFlags.saveExecuted, "save-executed", "", "Write the last executed notebook to this path")
	f.BoolVar(&runFlags.noRecord, "no-record", false, "Do not store a run record")
	return cmd
}

// applyRunFlags overlays explicitly set flags on cfg.
func (a *app) applyRunFlags(cmd *cobra.Command, args []string, cfg config.Config) (config.Config, []config.ValidationError) {
	var errs []config.ValidationError
	f := cmd.Flags()

	if len(args) == 1 {
		cfg.Document = a.resolve(args[0])
	}
	if f.Changed("timeout") {
		d, err := config.ParseDuration(runFlags.timeout)
		if err != nil {
			errs = append(errs, config.ValidationError{Key: "timeout", Value: runFlags.timeout, Message: "not a duration"})
		} else {
			cfg.Timeout = d
		}
	}
	if f.Changed("max-attempts") {
		cfg.MaxAttempts = runFlags.maxAttempts
	}
	if f.Changed("retry-on") {
		cfg.RetryOn = runFlags.retryOn
	}
	if runFlags.noRecord {
		cfg.Record = false
	}
	return cfg, errs
}

func (a *app) runRun(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg, errs := a.applyRunFlags(cmd, args, cfg)
	if result := config.Validate(cfg); !result.Valid || len(errs) > 0 {
		printValidationErrors(cmd, append(errs, result.Errors...))
		return exitCode(1)
	}

	runID := runlog.NewRunID()
	logger := logging.New("run").With("run_id", runID)
	logger.Info("starting run",
		"document", cfg.Document,
		"timeout", cfg.Timeout,
		"max_attempts", cfg.MaxAttempts,
		"expectations", len(cfg.Expectations),
	)

	runner := harness.New(newEngine(cfg))
	runner.Timeout = cfg.Timeout
	runner.MaxAttempts = cfg.MaxAttempts
	runner.Sentinel = cfg.RetryOn

	started := time.Now()
	outcome, err := runner.RunWithRetry(cmd.Context(), cfg.Document)
	if err == nil {
		if runFlags.saveExecuted != "" {
			path := a.resolve(runFlags.saveExecuted)
			if werr := outcome.Result.Document.WriteFile(path); werr != nil {
				logger.Warn("cannot save executed notebook", "path", path, "error", werr)
			} else {
				logger.Info("saved executed notebook", "path", path)
			}
		}
		err = expect.Assert(outcome.Result.Document, outcome.Errors, cfg.Expectations)
	}

	rep := report.Report{
		RunID:        runID,
		Document:     cfg.Document,
		Outcome:      outcome,
		Err:          err,
		Expectations: len(cfg.Expectations),
		Duration:     time.Since(started),
	}
	if outcome != nil && outcome.Result != nil {
		rep.Fingerprint = outcome.Result.Document.Fingerprint()
	}
	logger.Info("run finished", "status", rep.Status(), "duration", rep.Duration.Round(time.Millisecond))

	if cfg.Record {
		store := runlog.NewStore(runlog.ResolveDir(cfg.RunDir, a.environ))
		path, serr := store.Save(newRecord(rep, started))
		if serr != nil {
			logger.Warn("cannot record run", "error", serr)
		} else {
			logger.Debug("recorded run", "path", path)
		}
	}

	if err := printReport(cmd, rep, runFlags.json, a.ciMode(runFlags.ci)); err != nil {
		return err
	}
	return exitCode(rep.Status().ExitCode())
}

func printReport(cmd *cobra.Command, rep report.Report, asJSON, ci bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		data, err := report.FormatJSON(rep)
		if err != nil {
			return fmt.Errorf("format report: %w", err)
		}
		fmt.Fprintln(out, data)
		return nil
	}

	fmt.Fprint(out, report.FormatCLI(rep))
	if ci {
		fmt.Fprint(cmd.ErrOrStderr(), report.FormatCI(rep))
	}
	return nil
}

func newRecord(rep report.Report, started time.Time) runlog.Record {
	rec := runlog.Record{
		RunID:       rep.RunID,
		Document:    rep.Document,
		Fingerprint: rep.Fingerprint,
		Status:      string(rep.Status()),
		Passed:      rep.Err == nil,
		History:     []harness.AttemptSummary{},
		Errors:      []harness.ErrorRecord{},
		StartedAt:   started.UTC(),
		Duration:    rep.Duration,
	}
	if rep.Err != nil {
		rec.Failure = rep.Err.Error()
	}
	if rep.Outcome != nil {
		rec.Attempts = rep.Outcome.Attempts
		rec.Verdict = rep.Outcome.Verdict()
		if rep.Outcome.History != nil {
			rec.History = rep.Outcome.History
		}
		if rep.Outcome.Errors != nil {
			rec.Errors = rep.Outcome.Errors
		}
	}
	return rec
}
