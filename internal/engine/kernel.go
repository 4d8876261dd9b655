package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nbsmoke/internal/logging"
	"nbsmoke/internal/notebook"
)

const (
	DefaultJupyter = "jupyter"
	DefaultKernel  = "python3"

	// stderrTailLines bounds how much engine stderr is kept for error messages.
	stderrTailLines = 20
	// waitDelay is how long to wait for pipes to close after the process
	// group has been killed.
	waitDelay = 5 * time.Second
)

// Environment variables injected into the kernel process.
const (
	EnvAttempt     = "NBSMOKE_ATTEMPT"
	EnvDocumentDir = "NBSMOKE_DOCUMENT_DIR"
)

// Kernel executes notebooks with `jupyter nbconvert --execute --allow-errors`.
// The document is piped through stdin and read back from stdout, so the
// kernel's working directory is the directory passed to Execute.
type Kernel struct {
	Jupyter string   // jupyter executable (looked up on PATH)
	Name    string   // kernel name, e.g. python3
	Environ []string // base environment for the engine; nil means os.Environ()
	Logger  *slog.Logger
}

// NewKernel returns a Kernel engine with defaults applied.
func NewKernel(jupyter, kernelName string) *Kernel {
	if jupyter == "" {
		jupyter = DefaultJupyter
	}
	if kernelName == "" {
		kernelName = DefaultKernel
	}
	return &Kernel{
		Jupyter: jupyter,
		Name:    kernelName,
		Logger:  logging.New("engine"),
	}
}

// Args returns the nbconvert arguments for one execution. cellTimeout <= 0
// disables nbconvert's own per-cell limit.
func (k *Kernel) Args(cellTimeout time.Duration) []string {
	timeout := -1
	if cellTimeout > 0 {
		timeout = int(math.Ceil(cellTimeout.Seconds()))
	}
	return []string{
		"nbconvert",
		"--to", "notebook",
		"--execute",
		"--allow-errors",
		"--stdin",
		"--stdout",
		"--ExecutePreprocessor.kernel_name=" + k.Name,
		"--ExecutePreprocessor.timeout=" + strconv.Itoa(timeout),
	}
}

// Execute runs every cell of doc in a new kernel rooted at dir.
func (k *Kernel) Execute(ctx context.Context, doc *notebook.Document, dir string) (*notebook.Document, error) {
	logger := k.Logger
	if logger == nil {
		logger = logging.New("engine")
	}

	input, err := doc.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}

	execPath, err := exec.LookPath(k.Jupyter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineNotFound, k.Jupyter, err)
	}

	var cellTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		cellTimeout = time.Until(deadline)
	}

	cmd := exec.CommandContext(ctx, execPath, k.Args(cellTimeout)...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(input)

	environ := k.Environ
	if environ == nil {
		environ = os.Environ()
	}
	environ = withEnv(environ, EnvAttempt, strconv.Itoa(AttemptFrom(ctx)))
	environ = withEnv(environ, EnvDocumentDir, dir)
	cmd.Env = environ

	// Run in a new process group so the kernel dies with nbconvert.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	var stdout bytes.Buffer
	tail := newLineTail(stderrTailLines)

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, outR)
		return err
	})
	g.Go(func() error {
		return pumpLines(errR, func(line string) {
			tail.add(line)
			logger.Debug("engine output", "stream", "stderr", "line", line)
		})
	})

	logger.Debug("starting engine", "path", execPath, "dir", dir, "attempt", AttemptFrom(ctx))
	runErr := cmd.Run()
	outW.Close()
	errW.Close()
	if err := g.Wait(); err != nil {
		logger.Warn("engine output not fully read", "error", err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("notebook execution cancelled: %w", ctxErr)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &ExitError{
				Command:  k.Jupyter + " nbconvert",
				ExitCode: exitErr.ExitCode(),
				Stderr:   tail.String(),
			}
		}
		return nil, fmt.Errorf("run %s: %w", k.Jupyter, runErr)
	}

	executed, err := notebook.Parse(stdout.Bytes())
	if err != nil {
		// Bad engine output is an engine failure, not a load error.
		return nil, fmt.Errorf("read executed notebook: %v", err)
	}
	return executed, nil
}

// withEnv returns a copy of environ with key set to value, replacing any
// existing entry for key.
func withEnv(environ []string, key, value string) []string {
	result := make([]string, 0, len(environ)+1)
	prefix := key + "="
	for _, env := range environ {
		if !strings.HasPrefix(env, prefix) {
			result = append(result, env)
		}
	}
	return append(result, prefix+value)
}

// pumpLines calls fn for every line read from r and drains r to EOF.
func pumpLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the writer never blocks.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// lineTail keeps the last n lines written to it. It is only touched by the
// stderr pump goroutine and read after that goroutine has finished.
type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "\n")
}
