package compiler

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/process"
)

// Export formats.
const (
	FormatPDF  = "pdf"
	FormatPNG  = "png"
	FormatSVG  = "svg"
	FormatMIDI = "midi"
)

// ExportFormats lists the supported export formats.
var ExportFormats = []string{FormatPDF, FormatPNG, FormatSVG, FormatMIDI}

var exportArgs = map[string][]string{
	FormatPDF:  {"--pdf"},
	FormatPNG:  {"--png", "-dresolution=150"},
	FormatSVG:  {"-dbackend=svg"},
	FormatMIDI: {"-dno-print-pages"},
}

// exportExts are the file extensions the compiler writes per format.
var exportExts = map[string][]string{
	FormatPDF:  {".pdf"},
	FormatPNG:  {".png"},
	FormatSVG:  {".svg"},
	FormatMIDI: {".midi", ".mid"},
}

// Export compiles the saved file at path into outDir and returns the files
// written, in page order. MIDI is only produced for scores with a \midi
// block; a score without one yields ErrCodeNoOutput.
func (c *Compiler) Export(ctx context.Context, path, format, outDir string) ([]string, error) {
	format = strings.ToLower(format)
	fmtArgs, ok := exportArgs[format]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported export format %q (want one of %s)",
			format, strings.Join(ExportFormats, ", "))
	}
	if outDir == "" {
		outDir = filepath.Dir(path)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create output dir")
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	args := slices.Clone(fmtArgs)
	args = append(args, "-I", filepath.Dir(path))
	for _, p := range c.IncludePaths {
		args = append(args, "-I", p)
	}
	args = append(args, c.ExtraArgs...)
	args = append(args, "-o", filepath.Join(outDir, base), path)

	// Only files written by this run count; mtime granularity can be a second.
	started := time.Now().Truncate(time.Second)
	if _, err := process.Run(ctx, process.Spec{Executable: c.Executable, Args: args, Dir: filepath.Dir(path)}); err != nil {
		return nil, err
	}

	var files []string
	for _, f := range outputs(outDir, base, format) {
		if info, err := os.Stat(f); err == nil && !info.ModTime().Before(started) {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, errors.New(errors.ErrCodeNoOutput, "compiler produced no %s output", format)
	}
	return files, nil
}

func outputs(dir, base, format string) []string {
	var files []string
	for _, ext := range exportExts[format] {
		matches, _ := filepath.Glob(filepath.Join(dir, base+"*"+ext))
		files = append(files, matches...)
	}
	slices.SortFunc(files, func(a, b string) int {
		return NaturalCompare(filepath.Base(a), filepath.Base(b))
	})
	return files
}
