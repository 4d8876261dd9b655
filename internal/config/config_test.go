package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbsmoke/internal/expect"
	"nbsmoke/internal/harness"
)

func TestParse_Full(t *testing.T) {
	content := `document: tutorial.ipynb
timeout: 8m
max_attempts: 5
retry_on: solver unavailable
engine:
  jupyter: /opt/conda/bin/jupyter
  kernel: ocean
runs:
  dir: /var/lib/nbsmoke
  keep: false
expectations:
  - {cell: 7, contains: "2048"}
  - {cell: 11, output: 1, field: data, contains: image/png, note: figure}
  - {tag: yield, contains: yield}
`
	cfg, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, "tutorial.ipynb", cfg.Document)
	assert.Equal(t, 8*time.Minute, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "solver unavailable", cfg.RetryOn)
	assert.Equal(t, "/opt/conda/bin/jupyter", cfg.Jupyter)
	assert.Equal(t, "ocean", cfg.Kernel)
	assert.Equal(t, "/var/lib/nbsmoke", cfg.RunDir)
	assert.False(t, cfg.Record)

	require.Len(t, cfg.Expectations, 3)
	assert.Equal(t, expect.Expectation{Cell: 7, Contains: "2048"}, cfg.Expectations[0])
	assert.Equal(t, expect.Expectation{Cell: 11, Output: 1, Field: expect.FieldData, Contains: "image/png", Note: "figure"}, cfg.Expectations[1])
	assert.Equal(t, "yield", cfg.Expectations[2].Tag)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("document: a.ipynb\n"))
	require.NoError(t, err)

	assert.Equal(t, harness.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, harness.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, harness.DefaultSentinel, cfg.RetryOn)
	assert.Equal(t, "jupyter", cfg.Jupyter)
	assert.Equal(t, "python3", cfg.Kernel)
	assert.True(t, cfg.Record)
}

func TestParse_TimeoutAsSeconds(t *testing.T) {
	cfg, err := Parse([]byte("timeout: 500\n"))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Second, cfg.Timeout)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("timeout: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	_, err = Parse([]byte("expectations: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestParse_CellAndTagConflict(t *testing.T) {
	_, err := Parse([]byte("expectations:\n  - {cell: 0, tag: yield, contains: x}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expectations[0]: set either cell or tag, not both")

	cfg, err := Parse([]byte("expectations:\n  - {tag: yield, contains: x}\n  - {contains: y}\n"))
	require.NoError(t, err)
	assert.Equal(t, expect.Expectation{Tag: "yield", Contains: "x"}, cfg.Expectations[0])
	assert.Equal(t, expect.Expectation{Cell: 0, Contains: "y"}, cfg.Expectations[1])
}

func TestLoadFromPath_ResolvesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbsmoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte("document: notebooks/tutorial.ipynb\n"), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notebooks", "tutorial.ipynb"), cfg.Document)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	cfg, err := Load("", nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "custom.yaml")

	_, err := Load(missing, nil, ".")
	assert.Error(t, err)

	_, err = Load("", []string{EnvConfig + "=" + missing}, ".")
	assert.Error(t, err)
}

func TestResolvePath_Precedence(t *testing.T) {
	environ := []string{EnvConfig + "=/etc/nbsmoke.yaml"}

	path, explicit := ResolvePath("flag.yaml", environ, "/work")
	assert.Equal(t, "flag.yaml", path)
	assert.True(t, explicit)

	path, explicit = ResolvePath("", environ, "/work")
	assert.Equal(t, "/etc/nbsmoke.yaml", path)
	assert.True(t, explicit)

	path, explicit = ResolvePath("", nil, "/work")
	assert.Equal(t, filepath.Join("/work", DefaultFileName), path)
	assert.False(t, explicit)
}

func TestProjectConfig_IsValid(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join("..", "..", DefaultFileName))
	require.NoError(t, err)

	result := Validate(cfg)
	assert.True(t, result.Valid, "errors: %v", FormatErrors(result.Errors))
	assert.Equal(t, 500*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "no embedding found", cfg.RetryOn)
	assert.Len(t, cfg.Expectations, 40)
	assert.Equal(t, expect.Expectation{Cell: 7, Contains: "2048"}, cfg.Expectations[0])
	assert.True(t, strings.HasSuffix(cfg.Document, "01-exploring-pegasus.ipynb"))
}

func TestApplyEnv_Overrides(t *testing.T) {
	environ := []string{
		EnvTimeout + "=90s",
		EnvMaxAttempts + "=7",
		EnvRetryOn + "=boom",
		EnvJupyter + "=/usr/bin/jupyter",
		EnvKernel + "=py311",
		EnvRunDir + "=/tmp/runs",
		"UNRELATED=1",
	}

	cfg, errs := ApplyEnv(Default(), environ)
	assert.Empty(t, errs)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, "boom", cfg.RetryOn)
	assert.Equal(t, "/usr/bin/jupyter", cfg.Jupyter)
	assert.Equal(t, "py311", cfg.Kernel)
	assert.Equal(t, "/tmp/runs", cfg.RunDir)
}

func TestApplyEnv_Malformed(t *testing.T) {
	cfg, errs := ApplyEnv(Default(), []string{EnvTimeout + "=later", EnvMaxAttempts + "=three"})

	require.Len(t, errs, 2)
	assert.Equal(t, harness.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, harness.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, "timeout (NBSMOKE_TIMEOUT): 'later' not a duration", FormatError(errs[0]))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{
		Timeout:     0,
		MaxAttempts: 0,
		Expectations: []expect.Expectation{
			{Cell: -1, Output: -2, Field: "stdout"},
			{Cell: 3, Tag: "x", Contains: "y"},
		},
	}

	result := Validate(cfg)
	assert.False(t, result.Valid)

	keys := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{
		"document",
		"timeout",
		"max_attempts",
		"retry_on",
		"expectations[0].contains",
		"expectations[0].field",
		"expectations[0].cell",
		"expectations[0].output",
		"expectations[1]",
	}, keys)
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "document: required but not set",
		FormatError(ValidationError{Key: "document", Message: "required but not set"}))
	assert.Equal(t, "max_attempts: '0' must be at least 1",
		FormatError(ValidationError{Key: "max_attempts", Value: "0", Message: "must be at least 1"}))
}

// Property: any positive integer attempt bound set through the
// environment is applied unchanged.
func TestApplyEnv_MaxAttempts_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("env attempt bound is applied", prop.ForAll(
		func(n int) bool {
			cfg, errs := ApplyEnv(Default(), []string{EnvMaxAttempts + "=" + strconv.Itoa(n)})
			return len(errs) == 0 && cfg.MaxAttempts == n && Validate(withDocument(cfg)).Valid
		},
		gen.IntRange(1, 1000),
	))

	properties.Property("values containing '=' survive environ parsing", prop.ForAll(
		func(a, b string) bool {
			v := a + "=" + b
			cfg, _ := ApplyEnv(Default(), []string{EnvRetryOn + "=" + v})
			return cfg.RetryOn == v
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func withDocument(cfg Config) Config {
	cfg.Document = "tutorial.ipynb"
	return cfg
}
