// Package process runs an external compiler and cancels it safely.
//
// A [Handle] owns exactly one child process. Its lifecycle is an explicit
// tagged state:
//
//	running ──Cancel──▶ terminating ──grace expires──▶ killed
//	   │                     │                            │
//	   └─────────exit────────┴────────────exit────────────┴──▶ reaped
//
// Cancel sends a graceful termination signal and arms a grace timer. If the
// child is still alive when the timer fires it is killed. The exit is always
// observed: reaping stops the timer and flushes captured output, so no
// goroutine or timer outlives the child.
//
// A canceled child never reports a compiler failure. [Handle.Wait] returns
// an error satisfying errors.Is(err, ErrCanceled) instead, which callers
// treat as "not an error" for display purposes.
package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/matzehuels/lilyview/pkg/errors"
)

// DefaultGracePeriod is how long a canceled child may take to exit after the
// graceful signal before it is killed.
const DefaultGracePeriod = 2 * time.Second

// ErrCanceled is returned by Wait for a child that was canceled.
var ErrCanceled = errors.New(errors.ErrCodeRenderCanceled, "render canceled")

// Spec describes a child process.
type Spec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string // appended to the parent environment
}

// String renders the invocation for status display.
func (s Spec) String() string {
	parts := append([]string{s.Executable}, s.Args...)
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\"'") {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		}
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a child that exited with code 0.
type Result struct {
	Diagnostics string
	Elapsed     time.Duration
}

// State is the lifecycle tag of a Handle.
type State int

const (
	StateRunning State = iota
	StateTerminating
	StateKilled
	StateReaped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateKilled:
		return "killed"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// lifecycle is the tagged state. Only terminating carries a timer, so a
// kill timer on a reaped child cannot be expressed.
type lifecycle interface{ tag() State }

type (
	running     struct{}
	terminating struct{ timer *time.Timer }
	killed      struct{}
	reaped      struct{ canceled bool }
)

func (running) tag() State     { return StateRunning }
func (terminating) tag() State { return StateTerminating }
func (killed) tag() State      { return StateKilled }
func (reaped) tag() State      { return StateReaped }

// Option configures a Handle.
type Option func(*Handle)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option { return func(h *Handle) { h.grace = d } }

// OnOutput streams each complete line of combined stdout and stderr.
func OnOutput(fn func(line string)) Option { return func(h *Handle) { h.out.onLine = fn } }

// Handle is a live child process.
type Handle struct {
	spec    Spec
	cmd     *exec.Cmd
	grace   time.Duration
	started time.Time
	out     *outputBuffer

	mu    sync.Mutex
	state lifecycle

	done   chan struct{}
	result Result
	err    error
}

// Start spawns the child described by spec. Failing to spawn (executable
// missing or not executable) returns an ErrCodeSpawnFailed error. When ctx
// is canceled the handle is canceled as if Cancel had been called.
func Start(ctx context.Context, spec Spec, opts ...Option) (*Handle, error) {
	h := &Handle{
		spec:  spec,
		grace: DefaultGracePeriod,
		out:   &outputBuffer{},
		state: running{},
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Stdout = h.out
	cmd.Stderr = h.out
	// Bound how long Wait blocks on pipes held open by grandchildren.
	cmd.WaitDelay = h.grace
	h.cmd = cmd

	if err := ctx.Err(); err != nil {
		return nil, ErrCanceled
	}
	h.started = time.Now()
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSpawnFailed, err, "start %s", spec.Executable)
	}

	go h.reap()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Cancel()
			case <-h.done:
			}
		}()
	}
	return h, nil
}

// Run is Start followed by Wait.
func Run(ctx context.Context, spec Spec, opts ...Option) (Result, error) {
	h, err := Start(ctx, spec, opts...)
	if err != nil {
		return Result{}, err
	}
	return h.Wait()
}

// Wait blocks until the child has been reaped.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State reports the current lifecycle tag.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.tag()
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Spec returns the invocation this handle was started with.
func (h *Handle) Spec() Spec { return h.spec }

// Cancel asks the child to terminate and arms the grace timer. It is a
// no-op unless the child is running.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.state.(running); !ok {
		return
	}
	// An error here means the child already exited; reap will observe it.
	_ = h.cmd.Process.Signal(terminateSignal)
	h.state = terminating{timer: time.AfterFunc(h.grace, h.kill)}
}

func (h *Handle) kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.state.(terminating); !ok {
		return
	}
	_ = h.cmd.Process.Kill()
	h.state = killed{}
}

func (h *Handle) reap() {
	waitErr := h.cmd.Wait()
	elapsed := time.Since(h.started)

	h.mu.Lock()
	canceled := false
	switch s := h.state.(type) {
	case terminating:
		s.timer.Stop()
		canceled = true
	case killed:
		canceled = true
	}
	h.state = reaped{canceled: canceled}
	h.mu.Unlock()

	diagnostics := h.out.finish()
	h.result = Result{Diagnostics: diagnostics, Elapsed: elapsed}
	switch {
	case canceled:
		h.err = ErrCanceled
	case waitErr != nil:
		h.err = exitError(waitErr, diagnostics)
	}
	close(h.done)
}

func exitError(err error, diagnostics string) error {
	if msg := strings.TrimSpace(diagnostics); msg != "" {
		return errors.Wrap(errors.ErrCodeCompilerFailed, err, "%s", msg)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return errors.Wrap(errors.ErrCodeCompilerFailed, err, "compiler exited with code %d", code)
		}
		return errors.Wrap(errors.ErrCodeCompilerFailed, err, "compiler terminated by %s", exitErr.ProcessState)
	}
	return errors.Wrap(errors.ErrCodeCompilerFailed, err, "compiler failed")
}

// outputBuffer collects combined output and emits complete lines. exec
// serializes writes when Stdout and Stderr are the same writer.
type outputBuffer struct {
	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
	onLine  func(string)
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all.Write(p)
	if b.onLine == nil {
		return len(p), nil
	}
	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.onLine(strings.TrimRight(string(b.partial[:i]), "\r"))
		b.partial = b.partial[i+1:]
	}
	return len(p), nil
}

func (b *outputBuffer) finish() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onLine != nil && len(b.partial) > 0 {
		b.onLine(string(b.partial))
		b.partial = nil
	}
	return b.all.String()
}
