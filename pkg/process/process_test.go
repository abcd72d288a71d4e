package process

import (
	"context"
	stderrors "errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/lilyview/pkg/errors"
)

func sh(t *testing.T, script string) Spec {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	return Spec{Executable: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), sh(t, "echo hello; echo warning: careful >&2"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, want := range []string{"hello", "warning: careful"} {
		if !strings.Contains(res.Diagnostics, want) {
			t.Errorf("Diagnostics = %q, want it to contain %q", res.Diagnostics, want)
		}
	}
}

func TestRunFailure(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantMsg string
	}{
		{"captured diagnostics", "echo 'input.ly:3:1: error: syntax error' >&2; exit 1", "input.ly:3:1: error: syntax error"},
		{"synthesized exit code", "exit 4", "compiler exited with code 4"},
		{"synthesized signal", "kill -9 $$", "compiler terminated by signal: killed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), sh(t, tt.script))
			if !errors.Is(err, errors.ErrCodeCompilerFailed) {
				t.Fatalf("Run() error = %v, want COMPILER_FAILED", err)
			}
			if got := errors.UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantMsg)
			}
			if stderrors.Is(err, ErrCanceled) {
				t.Error("compiler failure must not look like a cancellation")
			}
		})
	}
}

func TestStartSpawnFailure(t *testing.T) {
	_, err := Start(context.Background(), Spec{Executable: "/nonexistent/lilypond-binary"})
	if !errors.Is(err, errors.ErrCodeSpawnFailed) {
		t.Fatalf("Start() error = %v, want SPAWN_FAILED", err)
	}
}

func TestCancelGraceful(t *testing.T) {
	h, err := Start(context.Background(), sh(t, "exec sleep 10"))
	if err != nil {
		t.Fatal(err)
	}
	h.Cancel()

	_, err = h.Wait()
	if !stderrors.Is(err, ErrCanceled) {
		t.Fatalf("Wait() error = %v, want ErrCanceled", err)
	}
	if !errors.Is(err, errors.ErrCodeRenderCanceled) {
		t.Errorf("ErrCanceled should carry RENDER_CANCELED")
	}
	if h.State() != StateReaped {
		t.Errorf("State() = %v, want reaped", h.State())
	}
}

func TestCancelForcesKillAfterGrace(t *testing.T) {
	spec := sh(t, "trap '' TERM; while :; do sleep 0.05; done")
	h, err := Start(context.Background(), spec, WithGracePeriod(100*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	h.Cancel()
	if got := h.State(); got != StateTerminating && got != StateKilled {
		t.Errorf("State() after Cancel = %v, want terminating or killed", got)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child was not killed after the grace period")
	}
	if _, err := h.Wait(); !stderrors.Is(err, ErrCanceled) {
		t.Errorf("Wait() error = %v, want ErrCanceled", err)
	}
}

func TestCancelAfterExitIsNoop(t *testing.T) {
	h, err := Start(context.Background(), sh(t, "true"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	h.Cancel()
	h.Cancel()
	if h.State() != StateReaped {
		t.Errorf("State() = %v, want reaped", h.State())
	}
	if _, err := h.Wait(); err != nil {
		t.Errorf("Wait() after Cancel = %v, want nil", err)
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, sh(t, "exec sleep 10"))
	if !stderrors.Is(err, ErrCanceled) {
		t.Fatalf("Run() error = %v, want ErrCanceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("context cancellation did not stop the child")
	}
}

func TestStartWithCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Start(ctx, sh(t, "true")); !stderrors.Is(err, ErrCanceled) {
		t.Errorf("Start() error = %v, want ErrCanceled", err)
	}
}

func TestOnOutputStreamsLines(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	collect := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	}

	_, err := Run(context.Background(), sh(t, `printf 'Processing...\r\nParsing\nno newline'`), OnOutput(collect))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Processing...", "Parsing", "no newline"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestSpecString(t *testing.T) {
	s := Spec{Executable: "lilypond", Args: []string{"-dbackend=svg", "-o", "/tmp/My Scores/page", ""}}
	want := `lilypond -dbackend=svg -o "/tmp/My Scores/page" ""`
	if got := s.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateRunning:     "running",
		StateTerminating: "terminating",
		StateKilled:      "killed",
		StateReaped:      "reaped",
		State(42):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
