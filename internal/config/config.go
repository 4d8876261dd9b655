// Package config loads nbsmoke settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nbsmoke/internal/engine"
	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
)

// DefaultFileName is looked up in the working directory when no config
// path is given.
const DefaultFileName = "nbsmoke.yaml"

// EnvConfig names the environment variable holding the config path.
const EnvConfig = "NBSMOKE_CONFIG"

// Config holds every setting for a run.
type Config struct {
	Path         string // file the config was read from; empty for defaults
	Document     string
	Timeout      time.Duration
	MaxAttempts  int
	RetryOn      string
	Jupyter      string
	Kernel       string
	RunDir       string
	Record       bool
	Expectations []expect.Expectation
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Timeout:     harness.DefaultTimeout,
		MaxAttempts: harness.DefaultMaxAttempts,
		RetryOn:     harness.DefaultSentinel,
		Jupyter:     engine.DefaultJupyter,
		Kernel:      engine.DefaultKernel,
		Record:      true,
	}
}

// configFile is the YAML file structure.
type configFile struct {
	Document     string             `yaml:"document"`
	Timeout      *Duration          `yaml:"timeout,omitempty"`
	MaxAttempts  *int               `yaml:"max_attempts,omitempty"`
	RetryOn      *string            `yaml:"retry_on,omitempty"`
	Engine       engineEntry        `yaml:"engine,omitempty"`
	Runs         runsEntry          `yaml:"runs,omitempty"`
	Expectations []expectationEntry `yaml:"expectations,omitempty"`
}

// expectationEntry records whether cell was written at all, so that an
// explicit cell 0 next to a tag is caught.
type expectationEntry struct {
	Cell     *int         `yaml:"cell"`
	Tag      string       `yaml:"tag"`
	Output   int          `yaml:"output"`
	Field    expect.Field `yaml:"field"`
	Contains string       `yaml:"contains"`
	Note     string       `yaml:"note"`
}

type engineEntry struct {
	Jupyter string `yaml:"jupyter,omitempty"`
	Kernel  string `yaml:"kernel,omitempty"`
}

type runsEntry struct {
	Dir  string `yaml:"dir,omitempty"`
	Keep *bool  `yaml:"keep,omitempty"`
}

// Duration accepts either an integer number of seconds or a Go duration
// string such as "500s" or "8m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses "500", "500s" or "8m20s".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Parse decodes YAML content on top of the defaults.
func Parse(content []byte) (Config, error) {
	var cf configFile
	if err := yaml.Unmarshal(content, &cf); err != nil {
		return Config{}, fmt.Errorf("invalid YAML: %w", err)
	}

	cfg := Default()
	cfg.Document = cf.Document
	if cf.Timeout != nil {
		cfg.Timeout = time.Duration(*cf.Timeout)
	}
	if cf.MaxAttempts != nil {
		cfg.MaxAttempts = *cf.MaxAttempts
	}
	if cf.RetryOn != nil {
		cfg.RetryOn = *cf.RetryOn
	}
	if cf.Engine.Jupyter != "" {
		cfg.Jupyter = cf.Engine.Jupyter
	}
	if cf.Engine.Kernel != "" {
		cfg.Kernel = cf.Engine.Kernel
	}
	cfg.RunDir = expandHome(cf.Runs.Dir)
	if cf.Runs.Keep != nil {
		cfg.Record = *cf.Runs.Keep
	}
	for i, e := range cf.Expectations {
		exp := expect.Expectation{
			Tag:      e.Tag,
			Output:   e.Output,
			Field:    e.Field,
			Contains: e.Contains,
			Note:     e.Note,
		}
		if e.Cell != nil {
			if e.Tag != "" {
				return Config{}, fmt.Errorf("expectations[%d]: set either cell or tag, not both", i)
			}
			exp.Cell = *e.Cell
		}
		cfg.Expectations = append(cfg.Expectations, exp)
	}

	return cfg, nil
}

// LoadFromPath reads and parses the config at path. A relative document
// path is resolved against the config file's directory.
func LoadFromPath(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg, err := Parse(content)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path

	if cfg.Document != "" && !filepath.IsAbs(cfg.Document) {
		cfg.Document = filepath.Join(filepath.Dir(path), cfg.Document)
	}
	return cfg, nil
}

// Load finds the config file (flag value, then NBSMOKE_CONFIG, then
// nbsmoke.yaml in dir) and reads it. A missing default file is not an
// error: defaults are returned. A missing explicit file is.
func Load(flagPath string, environ []string, dir string) (Config, error) {
	path, explicit := ResolvePath(flagPath, environ, dir)

	cfg, err := LoadFromPath(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// ResolvePath returns the config path to use and whether it was given
// explicitly.
func ResolvePath(flagPath string, environ []string, dir string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if v, ok := lookupEnv(environ, EnvConfig); ok && v != "" {
		return v, true
	}
	return filepath.Join(dir, DefaultFileName), false
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}
