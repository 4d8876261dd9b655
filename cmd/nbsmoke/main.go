// nbsmoke executes a Jupyter notebook, retries it when a known transient
// failure is the first error, and checks expected output fragments.
//
// Usage:
//
//	nbsmoke run [--config=<file>] [--timeout=<d>] [--max-attempts=<n>] [document]
//	nbsmoke check [--all] <executed.ipynb>
//	nbsmoke runs list|show <id>|delete <id>|prune --older-than=<d>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"nbsmoke/internal/config"
	"nbsmoke/internal/engine"
)

// newEngine builds the execution engine for a run. Tests replace it.
var newEngine = func(cfg config.Config) engine.Engine {
	return engine.NewKernel(cfg.Jupyter, cfg.Kernel)
}

func main() {
	os.Exit(run(os.Args[1:], os.Environ(), ".", os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
// It is separated from main() to enable testing.
func run(args, environ []string, dir string, stdout, stderr io.Writer) int {
	a := &app{environ: environ, dir: dir}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// exitError carries a specific exit code out of a command. A nil err means
// the command already printed its own report.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}
