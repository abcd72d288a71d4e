package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/internal/server"
	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/diag"
	"github.com/matzehuels/lilyview/pkg/errors"
)

// renderOpts holds the command-line flags for the render command.
type renderOpts struct {
	output  string // directory the pages are written to
	noCache bool   // bypass the artifact store
}

// renderCommand creates the one-shot render command.
func (c *CLI) renderCommand() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render a score to SVG pages",
		Long: `Render a score once, the same way the live preview does: pages are
collected in order, position anchors point back at the source file, and the
markup is sanitized.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			return c.runRender(cmd.Context(), s, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output directory (default: next to the score)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "always run the compiler")

	return cmd
}

func (c *CLI) runRender(ctx context.Context, s config.Settings, path string, opts renderOpts) error {
	logger := loggerFromContext(ctx)
	if !s.Supported(path) {
		return errors.New(errors.ErrCodeInvalidPath, "not a score file: %s", path)
	}
	doc, err := server.NewDocument(path, nil)
	if err != nil {
		return err
	}

	renderer, closeStore, err := c.newRenderer(ctx, s, opts.noCache)
	if err != nil {
		return err
	}
	defer closeStore()

	spinner := newSpinnerWithContext(ctx, "Rendering "+filepath.Base(doc.Path)+"...")
	spinner.Start()
	prog := newProgress(logger)

	art, err := renderer.Render(ctx, compiler.Job{
		URI:     doc.URI,
		Path:    doc.Path,
		Version: doc.Version,
		Text:    doc.Text,
		Reason:  "open",
	})
	if err != nil {
		spinner.StopWithError("Render failed")
		printDiagnostics(diag.Parse(errors.UserMessage(err)))
		return err
	}
	spinner.Stop()

	outDir := opts.output
	if outDir == "" {
		outDir = filepath.Dir(doc.Path)
	}
	files, err := writePages(art, outDir, strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path)))
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Rendered %s", art.Title))

	printSuccess("%s", art.Title)
	printArtifactStats(art)
	for _, f := range files {
		printFile(f)
	}
	printDiagnostics(diag.Parse(art.Diagnostics))
	return nil
}

// writePages writes each page as <base>-<n>.svg and returns the paths.
func writePages(art *compiler.Artifact, dir, base string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
	}
	files := make([]string, 0, len(art.Pages))
	for i, page := range art.Pages {
		name := filepath.Join(dir, fmt.Sprintf("%s-%d.svg", base, i+1))
		if err := os.WriteFile(name, []byte(page), 0o644); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "write %s", name)
		}
		files = append(files, name)
	}
	return files, nil
}
