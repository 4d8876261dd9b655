package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nbsmoke/internal/config"
	"nbsmoke/internal/report"
	"nbsmoke/internal/runlog"
)

var runsFlags struct {
	json      bool
	olderThan string
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage recorded runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runsList(cmd)
		},
	}
	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runsShow(cmd, args[0])
		},
	}
	showCmd.Flags().BoolVar(&runsFlags.json, "json", false, "Print the raw record as JSON")
	deleteCmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runsDelete(cmd, args[0])
		},
	}
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runsPrune(cmd)
		},
	}
	pruneCmd.Flags().StringVar(&runsFlags.olderThan, "older-than", "", "Age threshold, e.g. 72h or 30m (required)")
	_ = pruneCmd.MarkFlagRequired("older-than")

	cmd.AddCommand(listCmd, showCmd, deleteCmd, pruneCmd)
	return cmd
}

func (a *app) runStore(cmd *cobra.Command) (*runlog.Store, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return runlog.NewStore(runlog.ResolveDir(cfg.RunDir, a.environ)), nil
}

func (a *app) runsList(cmd *cobra.Command) error {
	store, err := a.runStore(cmd)
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs recorded in %s\n", store.Dir)
		return nil
	}
	fmt.Fprintln(out, report.FormatRuns(runs, report.ASCII))
	return nil
}

func (a *app) runsShow(cmd *cobra.Command, id string) error {
	store, err := a.runStore(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Load(id)
	if err != nil {
		return notFound(id, err)
	}

	out := cmd.OutOrStdout()
	if runsFlags.json {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Run:         %s\n", rec.RunID)
	fmt.Fprintf(out, "Document:    %s\n", rec.Document)
	fmt.Fprintf(out, "Fingerprint: %s\n", rec.Fingerprint)
	fmt.Fprintf(out, "Started:     %s\n", rec.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:    %s\n", rec.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Status:      %s\n", rec.Status)
	if rec.Verdict != "" {
		fmt.Fprintf(out, "Verdict:     %s\n", rec.Verdict)
	}
	if rec.Failure != "" {
		fmt.Fprintf(out, "Failure:     %s\n", rec.Failure)
	}
	if len(rec.History) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.AttemptTable(rec.History, report.ASCII))
	}
	if len(rec.Errors) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, report.ErrorTable(rec.Errors, report.ASCII))
	}
	return nil
}

func (a *app) runsDelete(cmd *cobra.Command, id string) error {
	store, err := a.runStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(id); err != nil {
		return notFound(id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
	return nil
}

func (a *app) runsPrune(cmd *cobra.Command) error {
	age, err := config.ParseDuration(runsFlags.olderThan)
	if err != nil {
		return fmt.Errorf("--older-than: %w", err)
	}
	store, err := a.runStore(cmd)
	if err != nil {
		return err
	}
	n, err := store.Prune(age, time.Now())
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) older than %s\n", n, age)
	return nil
}

func notFound(id string, err error) error {
	if errors.Is(err, runlog.ErrNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	return err
}
