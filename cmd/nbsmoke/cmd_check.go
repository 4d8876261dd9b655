package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nbsmoke/internal/config"
	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
	"nbsmoke/internal/notebook"
	"nbsmoke/internal/report"
)

var checkFlags struct {
	all  bool
	ci   bool
	json bool
}

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <executed.ipynb>",
		Short: "Check expectations against an already executed notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVar(&checkFlags.all, "all", false, "Evaluate every expectation and print a table")
	f.BoolVar(&checkFlags.ci, "ci", false, "Emit GitHub Actions annotations on failure")
	f.BoolVar(&checkFlags.json, "json", false, "Print the report as JSON")
	return cmd
}

func (a *app) runCheck(cmd *cobra.Command, path string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if errs := config.ValidateExpectations(cfg.Expectations); len(errs) > 0 {
		printValidationErrors(cmd, errs)
		return exitCode(1)
	}

	path = a.resolve(path)
	doc, err := notebook.Load(path)
	if err != nil {
		if errors.Is(err, notebook.ErrLoad) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return exitCode(report.StatusLoadError.ExitCode())
		}
		return err
	}
	errs := harness.CollectErrors(doc)

	if checkFlags.all {
		return a.checkAll(cmd, doc, errs, cfg.Expectations)
	}

	rep := report.Report{
		Document:     path,
		Fingerprint:  doc.Fingerprint(),
		Err:          expect.Assert(doc, errs, cfg.Expectations),
		Expectations: len(cfg.Expectations),
	}
	if err := printReport(cmd, rep, checkFlags.json, a.ciMode(checkFlags.ci)); err != nil {
		return err
	}
	return exitCode(rep.Status().ExitCode())
}

// checkAll evaluates every expectation without stopping at the first
// mismatch. Cell errors still fail the check.
func (a *app) checkAll(cmd *cobra.Command, doc *notebook.Document, errs []harness.ErrorRecord, exps []expect.Expectation) error {
	out := cmd.OutOrStdout()
	results := expect.Evaluate(doc, exps)
	fmt.Fprintln(out, report.FormatExpectations(results, report.ASCII))

	if len(errs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.ErrorTable(errs, report.ASCII))
		return exitCode(report.StatusCellErrors.ExitCode())
	}
	for _, r := range results {
		if !r.Passed {
			return exitCode(report.StatusMismatch.ExitCode())
		}
	}
	return nil
}
