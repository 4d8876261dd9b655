package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nbsmoke/internal/config"
	"nbsmoke/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// app holds process inputs shared by all commands.
type app struct {
	environ    []string
	dir        string
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "nbsmoke",
		Short: "Smoke-test Jupyter notebooks with retries for transient failures",
		Long: "nbsmoke executes a notebook in a fresh kernel, re-runs the whole document\n" +
			"when the first error is a known transient failure, and checks that\n" +
			"expected fragments appear in the executed outputs.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initLogging,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "Config file (default nbsmoke.yaml, or $"+config.EnvConfig+")")
	f.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newRunsCmd(a))
	return root
}

func (a *app) initLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	if a.logFormat != "text" && a.logFormat != "json" {
		return fmt.Errorf("unknown log format %q (want text or json)", a.logFormat)
	}
	logging.Init(level, a.logFormat, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads the config file and overlays the environment. Problems
// are printed and returned as an exit error.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(a.configPath, a.environ, a.dir)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, errs := config.ApplyEnv(cfg, a.environ)
	if len(errs) > 0 {
		printValidationErrors(cmd, errs)
		return config.Config{}, exitCode(1)
	}
	return cfg, nil
}

// resolve makes a command-line path relative to the working directory.
func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.dir, path)
}

func printValidationErrors(cmd *cobra.Command, errs []config.ValidationError) {
	w := cmd.ErrOrStderr()
	for _, msg := range config.FormatErrors(errs) {
		fmt.Fprintln(w, msg)
	}
}

// ciMode reports whether CI annotations were requested by flag or by the
// CI environment variable.
func (a *app) ciMode(flag bool) bool {
	if flag {
		return true
	}
	for _, env := range a.environ {
		if v, ok := strings.CutPrefix(env, "CI="); ok {
			v = strings.ToLower(v)
			return v == "true" || v == "1"
		}
	}
	return false
}
