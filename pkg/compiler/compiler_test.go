package compiler

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/process"
)

// argParser is the shell prologue shared by the fake compilers: it leaves
// the output base in $out and the input file in $in.
const argParser = `#!/bin/sh
out=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2;;
    -I) shift 2;;
    -*) shift;;
    *) in="$1"; shift;;
  esac
done
`

func fakeCompiler(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-lilypond")
	if err := os.WriteFile(path, []byte(argParser+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestCompiler returns a compiler and a job whose source directory exists.
func newTestCompiler(t *testing.T, body string) (*Compiler, Job) {
	t.Helper()
	srcDir := filepath.Join(t.TempDir(), "My Scores")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	c := &Compiler{
		Executable:  fakeCompiler(t, body),
		StagingRoot: t.TempDir(),
	}
	job := Job{
		URI:     "file:///scores/sonata.ly",
		Path:    filepath.Join(srcDir, "sonata.ly"),
		Version: 3,
		Text:    "\\header { title = \"Sonata in C\" }\n{ c'4 d'4 e'4 }\n",
		Reason:  "open",
	}
	return c, job
}

const threePages = `
echo "$in:1:3: warning: no version statement found" >&2
for n in 1 2 10; do
  printf '<?xml version="1.0"?>\n<svg><a xlink:href="textedit://%s:%d:3:5"><path/></a><script>x()</script></svg>\n' "$in" "$n" > "$out-$n.svg"
done
`

func TestRender(t *testing.T) {
	c, job := newTestCompiler(t, threePages)

	art, err := c.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	if art.PageCount != 3 || len(art.Pages) != 3 {
		t.Fatalf("PageCount = %d, pages = %d, want 3", art.PageCount, len(art.Pages))
	}
	if art.Title != "Sonata in C" {
		t.Errorf("Title = %q", art.Title)
	}
	if !strings.Contains(art.Invocation, "-dpoint-and-click") || !strings.Contains(art.Invocation, "-dbackend=svg") {
		t.Errorf("Invocation = %q", art.Invocation)
	}
	if !strings.HasPrefix(art.Diagnostics, job.Path+":1:3: warning") {
		t.Errorf("Diagnostics not rebased to the source path: %q", art.Diagnostics)
	}
	if art.ContentHash == "" || art.ContentHash != c.ContentHash(job) {
		t.Errorf("ContentHash = %q", art.ContentHash)
	}

	if len(art.Anchors) != 3 {
		t.Fatalf("Anchors = %d, want 3", len(art.Anchors))
	}
	// Numeric-aware page order: page-10 comes last.
	for i, wantLine := range []int{1, 2, 10} {
		a := art.Anchors[i]
		if a.Line != wantLine {
			t.Errorf("Anchors[%d].Line = %d, want %d", i, a.Line, wantLine)
		}
		if a.Path != job.Path {
			t.Errorf("Anchors[%d].Path = %q, want %q", i, a.Path, job.Path)
		}
	}
	if art.Anchors[2].ElementID != "p3-a0" {
		t.Errorf("third page anchor id = %q, want p3-a0", art.Anchors[2].ElementID)
	}

	for i, page := range art.Pages {
		if strings.Contains(page, "<script") || strings.Contains(page, "<?xml") {
			t.Errorf("page %d not sanitized: %s", i+1, page)
		}
		if !strings.Contains(page, "My%20Scores/sonata.ly") {
			t.Errorf("page %d anchors not rewritten: %s", i+1, page)
		}
	}
}

func TestRenderReplacesPreviousPages(t *testing.T) {
	c, job := newTestCompiler(t, threePages)
	staging := c.StagingDir(job.URI)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "page-7.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	art, err := c.Render(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if art.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3 (stale page kept?)", art.PageCount)
	}
	if _, err := os.Stat(filepath.Join(staging, "page-7.svg")); !os.IsNotExist(err) {
		t.Error("stale page-7.svg should have been deleted")
	}
	input, _ := os.ReadFile(filepath.Join(staging, "input.ly"))
	if string(input) != job.Text {
		t.Errorf("input snapshot = %q, want job text", input)
	}
}

func TestRenderUntitled(t *testing.T) {
	c, job := newTestCompiler(t, threePages)
	job.Path = ""
	job.URI = "untitled:Untitled-1"
	job.Text = "{ c'4 }"

	art, err := c.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if art.Title != "Untitled" {
		t.Errorf("Title = %q, want Untitled", art.Title)
	}
	staged := filepath.Join(c.StagingDir(job.URI), "input.ly")
	if art.Anchors[0].Path != staged {
		t.Errorf("untitled anchors should point at the staged input, got %q", art.Anchors[0].Path)
	}
}

func TestRenderFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code errors.Code
	}{
		{"no output", "exit 0\n", errors.ErrCodeNoOutput},
		{"compiler error", "echo \"$in:2:1: error: boom\" >&2; exit 1\n", errors.ErrCodeCompilerFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, job := newTestCompiler(t, tt.body)
			_, err := c.Render(context.Background(), job)
			if !errors.Is(err, tt.code) {
				t.Fatalf("Render() error = %v, want %s", err, tt.code)
			}
			if tt.code == errors.ErrCodeCompilerFailed {
				msg := errors.UserMessage(err)
				if !strings.HasPrefix(msg, job.Path+":2:1: error: boom") {
					t.Errorf("failure message not rebased: %q", msg)
				}
			}
		})
	}
}

func TestRenderSpawnFailure(t *testing.T) {
	c, job := newTestCompiler(t, threePages)
	c.Executable = filepath.Join(t.TempDir(), "no-such-compiler")
	if _, err := c.Render(context.Background(), job); !errors.Is(err, errors.ErrCodeSpawnFailed) {
		t.Errorf("Render() error = %v, want SPAWN_FAILED", err)
	}
}

func TestRenderCanceled(t *testing.T) {
	c, job := newTestCompiler(t, "exec sleep 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.Render(ctx, job)
	if !stderrors.Is(err, process.ErrCanceled) {
		t.Errorf("Render() error = %v, want ErrCanceled", err)
	}
}

func TestNaturalCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"page-2.svg", "page-10.svg", -1},
		{"page-10.svg", "page-2.svg", 1},
		{"page.svg", "page.svg", 0},
		{"page-1.svg", "page-01.svg", -1},
		{"page-9.svg", "page.svg", -1},
		{"a", "ab", -1},
		{"page-100000000000000000000.svg", "page-99.svg", 1},
	}
	for _, tt := range tests {
		if got := NaturalCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalCompare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		text, path, want string
	}{
		{`\header { title = "Etude" composer = "X" }`, "/a/b.ly", "Etude"},
		{"\\header {\n  subtitle = \"Op. 3\"\n  title = \"Nocturne\"\n}", "/a/b.ly", "Nocturne"},
		{`\header { subtitle = "Only" }`, "/a/b.ly", "b.ly"},
		{`\header { title = "" }`, "/a/b.ly", "b.ly"},
		{"{ c'4 }", "", "Untitled"},
	}
	for _, tt := range tests {
		if got := Title(tt.text, tt.path); got != tt.want {
			t.Errorf("Title(%q, %q) = %q, want %q", tt.text, tt.path, got, tt.want)
		}
	}
}

func TestArtifactStatus(t *testing.T) {
	a := &Artifact{
		PageCount:   2,
		Elapsed:     1234 * time.Millisecond,
		Diagnostics: "/a.ly:1:1: warning: x\n/a.ly:2:1: warning: y\n",
	}
	if got, want := a.Status(), "2 pages in 1.234s, 2 warnings"; got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
	one := &Artifact{PageCount: 1, Elapsed: 0, Diagnostics: "/a.ly:1: error: z"}
	if got, want := one.Status(), "1 page in 0s, 1 error"; got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestContentHashTracksIncludes(t *testing.T) {
	c, job := newTestCompiler(t, threePages)
	inc := filepath.Join(filepath.Dir(job.Path), "parts.ily")
	if err := os.WriteFile(inc, []byte("a = { c'4 }"), 0o644); err != nil {
		t.Fatal(err)
	}
	job.Text = "\\include \"parts.ily\"\n{ \\a }\n"

	h1 := c.ContentHash(job)
	if err := os.WriteFile(inc, []byte("a = { d'4 }"), 0o644); err != nil {
		t.Fatal(err)
	}
	if h2 := c.ContentHash(job); h1 == h2 {
		t.Error("editing an included file should change the content hash")
	}
}

func TestContentHashMissingInclude(t *testing.T) {
	c, job := newTestCompiler(t, threePages)
	job.Text = "\\include \"parts.ily\"\n{ \\a }\n"

	missing := c.ContentHash(job)
	inc := filepath.Join(filepath.Dir(job.Path), "parts.ily")
	if err := os.WriteFile(inc, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if empty := c.ContentHash(job); empty == missing {
		t.Error("a missing include should not hash like an empty one")
	}
	if err := os.Remove(inc); err != nil {
		t.Fatal(err)
	}
	if again := c.ContentHash(job); again != missing {
		t.Error("content hash should be stable while the include stays missing")
	}
}

func TestExport(t *testing.T) {
	c, job := newTestCompiler(t, "printf '%%PDF-1.4' > \"$out.pdf\"\n")
	if err := os.WriteFile(job.Path, []byte(job.Text), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	files, err := c.Export(context.Background(), job.Path, "PDF", outDir)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if len(files) != 1 || files[0] != filepath.Join(outDir, "sonata.pdf") {
		t.Errorf("Export() = %v", files)
	}

	if _, err := c.Export(context.Background(), job.Path, "midi", outDir); !errors.Is(err, errors.ErrCodeNoOutput) {
		t.Errorf("Export(midi) without output: error = %v, want NO_OUTPUT", err)
	}
	if _, err := c.Export(context.Background(), job.Path, "docx", outDir); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("Export(docx) error = %v, want INVALID_FORMAT", err)
	}
}
