// Package compiler produces rendered artifacts by running the score compiler
// against a per-document staging directory.
//
// Each document owns one staging directory, keyed by a hash of its URI. A
// render snapshots the document text into input.ly, runs the compiler in
// SVG page-per-file mode with point-and-click anchors, and collects the
// pages in numeric-aware order. Anchors in each page are rewritten from the
// staged copy to the user's file, the markup is sanitized, and each anchor
// element gets a stable identity for the display surface.
//
// A new render deletes the previous pages before it starts, so only the most
// recent artifact ever lives on disk.
package compiler

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lilyview/pkg/anchor"
	"github.com/matzehuels/lilyview/pkg/cache"
	"github.com/matzehuels/lilyview/pkg/diag"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/includes"
	"github.com/matzehuels/lilyview/pkg/process"
)

const (
	inputName  = "input.ly"
	pagePrefix = "page"
)

// Job is one render request: a snapshot of a document at a version.
type Job struct {
	URI     string
	Path    string // empty for untitled documents
	Version int
	Text    string
	// Partial marks a render of a selection rather than the whole document.
	Partial bool
	Reason  string
}

// Artifact is a rendered document.
type Artifact struct {
	Title       string          `json:"title"`
	Pages       []string        `json:"pages"`
	PageCount   int             `json:"page_count"`
	Invocation  string          `json:"invocation"`
	Diagnostics string          `json:"diagnostics"`
	Elapsed     time.Duration   `json:"elapsed"`
	Anchors     []anchor.Anchor `json:"anchors"`
	ContentHash string          `json:"content_hash"`
}

// Status is the one-line summary shown next to the pages.
func (a *Artifact) Status() string {
	errs, warns := diag.Count(diag.Parse(a.Diagnostics))
	s := pluralize(a.PageCount, "page") + " in " + a.Elapsed.Round(time.Millisecond).String()
	if errs > 0 {
		s += ", " + pluralize(errs, "error")
	}
	if warns > 0 {
		s += ", " + pluralize(warns, "warning")
	}
	return s
}

// Renderer produces an artifact for a job.
type Renderer interface {
	Render(ctx context.Context, job Job) (*Artifact, error)
}

// Compiler runs the score compiler.
type Compiler struct {
	// Executable is the compiler command, resolved via PATH when bare.
	Executable string
	// StagingRoot holds one staging directory per document.
	StagingRoot  string
	IncludePaths []string
	ExtraArgs    []string
	Logger       *log.Logger
}

// StagingDir returns the staging directory owned by uri.
func (c *Compiler) StagingDir(uri string) string {
	return filepath.Join(c.StagingRoot, cache.Hash([]byte(uri))[:16])
}

// Args returns the compiler arguments for a render of input whose source
// lives in srcDir.
func (c *Compiler) Args(stagingDir, srcDir string) []string {
	args := []string{
		"-dbackend=svg",
		"-dpoint-and-click",
		"-dno-gs-load-fonts",
		"-dinclude-eps-fonts",
		"-I", srcDir,
	}
	for _, p := range c.IncludePaths {
		args = append(args, "-I", p)
	}
	args = append(args, c.ExtraArgs...)
	return append(args,
		"-o", filepath.Join(stagingDir, pagePrefix),
		filepath.Join(stagingDir, inputName),
	)
}

// Render implements Renderer. It returns process.ErrCanceled whenever ctx is
// canceled, whether during the compiler run or while collecting pages.
func (c *Compiler) Render(ctx context.Context, job Job) (*Artifact, error) {
	logger := c.logger().With("uri", job.URI, "version", job.Version)

	staging := c.StagingDir(job.URI)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create staging dir")
	}
	if err := removePages(staging); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "clear previous pages")
	}
	input := filepath.Join(staging, inputName)
	if err := os.WriteFile(input, []byte(job.Text), 0o644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "write input snapshot")
	}
	if ctx.Err() != nil {
		return nil, process.ErrCanceled
	}

	srcDir, source := staging, input
	if job.Path != "" {
		srcDir, source = filepath.Dir(job.Path), job.Path
	}
	spec := process.Spec{
		Executable: c.Executable,
		Args:       c.Args(staging, srcDir),
		Dir:        srcDir,
	}
	logger.Debug("compiling", "cmd", spec.String())

	res, err := process.Run(ctx, spec, process.OnOutput(func(line string) {
		logger.Debug(line)
	}))
	if err != nil {
		if errors.Is(err, errors.ErrCodeCompilerFailed) {
			return nil, errors.New(errors.ErrCodeCompilerFailed, "%s", diag.Rebase(errors.UserMessage(err), input, source))
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, process.ErrCanceled
	}

	files, err := listPages(staging)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "list pages")
	}
	if len(files) == 0 {
		return nil, errors.New(errors.ErrCodeNoOutput, "compiler produced no pages")
	}

	art := &Artifact{
		Title:       Title(job.Text, job.Path),
		Pages:       make([]string, 0, len(files)),
		PageCount:   len(files),
		Invocation:  spec.String(),
		Diagnostics: diag.Rebase(res.Diagnostics, input, source),
		Elapsed:     res.Elapsed,
		ContentHash: c.ContentHash(job),
	}
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "read %s", filepath.Base(f))
		}
		if ctx.Err() != nil {
			return nil, process.ErrCanceled
		}
		markup := anchor.Sanitize(anchor.Rewrite(string(data), input, source))
		markup, anchors := anchor.Annotate(markup, i+1)
		art.Pages = append(art.Pages, markup)
		art.Anchors = append(art.Anchors, anchors...)
	}

	logger.Debug("rendered", "pages", art.PageCount, "anchors", len(art.Anchors), "duration", art.Elapsed)
	return art, nil
}

// ContentHash identifies everything a render of job depends on: its text,
// the compiler invocation, and the current contents of every file it
// includes. Includes that are missing or unreadable hash differently from
// empty ones.
func (c *Compiler) ContentHash(job Job) string {
	var b strings.Builder
	b.WriteString(c.Executable)
	for _, a := range c.Args("", "") {
		b.WriteString("\x00" + a)
	}
	b.WriteString("\x00" + job.Text)

	if job.Path != "" {
		g := includes.ScanSource(job.Path, job.Text, c.IncludePaths)
		for _, f := range g.Files() {
			if f == g.Root {
				continue
			}
			data, err := os.ReadFile(f)
			if err != nil {
				b.WriteString("\x00" + f + "\x00unreadable\x00" + err.Error())
				continue
			}
			b.WriteString("\x00" + f + "\x00" + cache.Hash(data))
		}
		for _, m := range g.Missing {
			b.WriteString("\x00missing\x00" + m)
		}
	}
	return cache.Hash([]byte(b.String()))
}

var headerTitleRe = regexp.MustCompile(`(?s)\\header\s*\{.*?\btitle\s*=\s*"((?:[^"\\]|\\.)*)"`)

// Title picks a display title: the \header title when present, else the
// file name, else "Untitled".
func Title(text, path string) string {
	if m := headerTitleRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1])
	}
	if path != "" {
		return filepath.Base(path)
	}
	return "Untitled"
}

func (c *Compiler) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func listPages(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, pagePrefix+"*.svg"))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b string) int {
		return NaturalCompare(filepath.Base(a), filepath.Base(b))
	})
	return files, nil
}

func removePages(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, pagePrefix+"*.svg"))
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
