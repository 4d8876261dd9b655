package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbsmoke/internal/config"
	"nbsmoke/internal/engine"
	"nbsmoke/internal/harness"
	"nbsmoke/internal/notebook"
	"nbsmoke/internal/runlog"
)

// fakeKernel fills in outputs the way the tutorial notebook produces them.
// The first len(failures) calls raise failures[i] in cell 1 when non-empty.
// err is returned on call errAt, or on every call when errAt is 0.
type fakeKernel struct {
	failures []string
	err      error
	errAt    int
	calls    int
}

func (f *fakeKernel) Execute(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error) {
	f.calls++
	if f.err != nil && (f.errAt == 0 || f.errAt == f.calls) {
		return nil, f.err
	}
	out, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	out.Cells[1].Outputs = []notebook.Output{{
		OutputType: notebook.OutputDisplayData,
		Data:       map[string]json.RawMessage{"image/png": json.RawMessage(`"iVBORw0KGgo="`), "text/plain": json.RawMessage(`"<Figure>"`)},
	}}
	out.Cells[2].Outputs = []notebook.Output{{
		OutputType: notebook.OutputStream,
		Name:       "stdout",
		Text:       "2048\n",
	}}
	if i := f.calls - 1; i < len(f.failures) && f.failures[i] != "" {
		out.Cells[1].Outputs = append(out.Cells[1].Outputs, notebook.Output{
			OutputType: notebook.OutputError,
			EName:      "ValueError",
			EValue:     f.failures[i],
		})
	}
	return out, nil
}

func useEngine(t *testing.T, e engine.Engine) {
	t.Helper()
	prev := newEngine
	newEngine = func(config.Config) engine.Engine { return e }
	t.Cleanup(func() { newEngine = prev })
}

// workspace writes a notebook and a config into a temp dir and returns the
// dir.
func workspace(t *testing.T, expectations string) string {
	t.Helper()
	dir := t.TempDir()
	doc := &notebook.Document{
		NBFormat:      4,
		NBFormatMinor: 5,
		Cells: []notebook.Cell{
			{CellType: notebook.CellMarkdown, Source: "# More Qubits and Denser Connectivity"},
			{CellType: notebook.CellCode, Source: "draw(G)"},
			{CellType: notebook.CellCode, Source: "print(len(G))"},
		},
	}
	require.NoError(t, doc.WriteFile(filepath.Join(dir, "tutorial.ipynb")))

	cfg := fmt.Sprintf(`document: tutorial.ipynb
timeout: 30s
max_attempts: 3
runs:
  dir: %s
expectations:
%s`, filepath.Join(dir, "runs"), expectations)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFileName), []byte(cfg), 0644))
	return dir
}

const passingExpectations = `  - {cell: 2, contains: "2048"}
  - {cell: 1, field: data, contains: image/png}
`

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, dir string, environ []string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, environ, dir, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func records(t *testing.T, dir string) []runlog.Summary {
	t.Helper()
	runs, err := runlog.NewStore(filepath.Join(dir, "runs")).List()
	require.NoError(t, err)
	return runs
}

func TestRun_PassesAfterTransientFailure(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{failures: []string{harness.DefaultSentinel}}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, 2, fake.calls)
	assert.Contains(t, res.stdout, "passed: 2 expectation(s) held after 2 attempt(s)")
	assert.Contains(t, res.stderr, "transient failure, retrying notebook")

	runs := records(t, dir)
	require.Len(t, runs, 1)
	assert.Equal(t, "pass", runs[0].Status)
	assert.Equal(t, 2, runs[0].Attempts)
}

func TestRun_TransientExhausted(t *testing.T) {
	dir := workspace(t, passingExpectations)
	s := harness.DefaultSentinel
	fake := &fakeKernel{failures: []string{s, s, s, s}}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 2, res.code)
	assert.Equal(t, 3, fake.calls)
	assert.Contains(t, res.stdout, "persisted through 3 attempt(s)")
}

func TestRun_NonRetryableError(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{failures: []string{"division by zero"}}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 2, res.code)
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, res.stdout, "division by zero")
}

func TestRun_Mismatch(t *testing.T) {
	dir := workspace(t, `  - {cell: 2, contains: "4096", note: graph size}
`)
	useEngine(t, &fakeKernel{})

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 5, res.code)
	assert.Contains(t, res.stdout, "Cell: 2")
	assert.Contains(t, res.stdout, `Expected: "4096"`)
	assert.Contains(t, res.stdout, `Actual: "2048\n"`)
}

func TestRun_LoadError(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run", "missing.ipynb")

	assert.Equal(t, 3, res.code)
	assert.Equal(t, 0, fake.calls)
}

func TestRun_TimeoutIsFatal(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{err: engine.ErrTimeout}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 4, res.code)
	assert.Equal(t, 1, fake.calls)
}

func TestRun_TimeoutAfterRetryKeepsHistory(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{failures: []string{harness.DefaultSentinel}, err: engine.ErrTimeout, errAt: 2}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run", "--json")

	assert.Equal(t, 4, res.code)
	assert.Equal(t, 2, fake.calls)

	var got struct {
		Attempts int                      `json:"attempts"`
		Verdict  string                   `json:"verdict"`
		History  []harness.AttemptSummary `json:"history"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "aborted", got.Verdict)
	require.Len(t, got.History, 2)
	assert.True(t, got.History[0].Retried)
	assert.NotEmpty(t, got.History[1].Error)

	runs := records(t, dir)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Attempts)
	assert.Equal(t, "timeout", runs[0].Status)
}

func TestRun_EngineWithoutDocument(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, engine.Func(func(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error) {
		return nil, nil
	}))

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "engine-error")
}

func TestRun_EngineError(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, &fakeKernel{err: engine.ErrEngineNotFound})

	res := runCLI(t, dir, nil, "run")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "engine-error")
}

func TestRun_FlagOverridesEnv(t *testing.T) {
	dir := workspace(t, passingExpectations)
	s := harness.DefaultSentinel
	fake := &fakeKernel{failures: []string{s, s, s, s, s}}
	useEngine(t, fake)

	res := runCLI(t, dir, []string{config.EnvMaxAttempts + "=5"}, "run", "--max-attempts", "2")

	assert.Equal(t, 2, res.code)
	assert.Equal(t, 2, fake.calls)
}

func TestRun_EnvOverridesFile(t *testing.T) {
	dir := workspace(t, passingExpectations)
	s := harness.DefaultSentinel
	fake := &fakeKernel{failures: []string{s, s}}
	useEngine(t, fake)

	res := runCLI(t, dir, []string{config.EnvMaxAttempts + "=1"}, "run")

	assert.Equal(t, 2, res.code)
	assert.Equal(t, 1, fake.calls)
}

func TestRun_InvalidSettings(t *testing.T) {
	dir := workspace(t, passingExpectations)
	fake := &fakeKernel{}
	useEngine(t, fake)

	res := runCLI(t, dir, nil, "run", "--max-attempts", "0", "--timeout", "soon")

	assert.Equal(t, 1, res.code)
	assert.Equal(t, 0, fake.calls)
	assert.Contains(t, res.stderr, "timeout: 'soon' not a duration")
	assert.Contains(t, res.stderr, "max_attempts: '0' must be at least 1")
}

func TestRun_JSONReport(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, &fakeKernel{failures: []string{harness.DefaultSentinel}})

	res := runCLI(t, dir, nil, "run", "--json", "--no-record")
	require.Equal(t, 0, res.code, res.stderr)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, true, got["passed"])
	assert.Equal(t, float64(2), got["attempts"])
	assert.Empty(t, records(t, dir))
}

func TestRun_CIAnnotations(t *testing.T) {
	dir := workspace(t, `  - {cell: 2, contains: "4096"}
`)
	useEngine(t, &fakeKernel{})

	res := runCLI(t, dir, []string{"CI=true"}, "run")

	assert.Equal(t, 5, res.code)
	assert.Contains(t, res.stderr, "::error file=")
}

func TestRun_SaveExecuted(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, &fakeKernel{})

	res := runCLI(t, dir, nil, "run", "--save-executed", "out/executed.ipynb")
	require.Equal(t, 0, res.code, res.stderr)

	doc, err := notebook.Load(filepath.Join(dir, "out", "executed.ipynb"))
	require.NoError(t, err)
	assert.Equal(t, "2048\n", doc.Cells[2].Outputs[0].Text.String())
}

func TestCheck(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, &fakeKernel{})
	require.Equal(t, 0, runCLI(t, dir, nil, "run", "--save-executed", "executed.ipynb", "--no-record").code)

	res := runCLI(t, dir, nil, "check", "executed.ipynb")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "passed: 2 expectation(s) held")

	res = runCLI(t, dir, nil, "check", "missing.ipynb")
	assert.Equal(t, 3, res.code)
}

func TestCheck_All(t *testing.T) {
	dir := workspace(t, `  - {cell: 2, contains: "2048"}
  - {cell: 2, contains: "4096"}
`)
	useEngine(t, &fakeKernel{})
	require.Equal(t, 5, runCLI(t, dir, nil, "run", "--save-executed", "executed.ipynb", "--no-record").code)

	res := runCLI(t, dir, nil, "check", "--all", "executed.ipynb")
	assert.Equal(t, 5, res.code)
	assert.Contains(t, res.stdout, "1/2")
	assert.Contains(t, res.stdout, "FAIL")
}

func TestRuns_Lifecycle(t *testing.T) {
	dir := workspace(t, passingExpectations)
	useEngine(t, &fakeKernel{})
	require.Equal(t, 0, runCLI(t, dir, nil, "run").code)

	runs := records(t, dir)
	require.Len(t, runs, 1)
	id := runs[0].RunID

	res := runCLI(t, dir, nil, "runs", "list")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, id)

	res = runCLI(t, dir, nil, "runs", "show", id)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Status:      pass")

	res = runCLI(t, dir, nil, "runs", "show", "--json", id)
	var rec runlog.Record
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rec))
	assert.Equal(t, id, rec.RunID)

	res = runCLI(t, dir, nil, "runs", "prune", "--older-than", "1h")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "Pruned 0 run(s)")

	res = runCLI(t, dir, nil, "runs", "delete", id)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, records(t, dir))

	res = runCLI(t, dir, nil, "runs", "delete", id)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "not found")
}

func TestRuns_PruneRequiresAge(t *testing.T) {
	res := runCLI(t, t.TempDir(), []string{runlog.EnvRunDir + "=" + t.TempDir()}, "runs", "prune")
	assert.Equal(t, 1, res.code)
}

func TestRoot_BadLogLevel(t *testing.T) {
	res := runCLI(t, t.TempDir(), nil, "--log-level", "loud", "runs", "list")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown log level")
}

func TestExitError(t *testing.T) {
	assert.NoError(t, exitCode(0))
	assert.EqualError(t, exitCode(5), "exit status 5")
}
