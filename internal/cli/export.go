package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/diag"
	"github.com/matzehuels/lilyview/pkg/errors"
)

// exportOpts holds the command-line flags for the export command.
type exportOpts struct {
	formats []string
	output  string
}

// exportCommand compiles a saved score into distributable formats.
func (c *CLI) exportCommand() *cobra.Command {
	var opts exportOpts

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export a score to PDF, PNG, SVG or MIDI",
		Long: fmt.Sprintf(`Compile the saved score into one or more output formats.

Supported formats: %s. MIDI is only produced for scores with a \midi block.`,
			strings.Join(compiler.ExportFormats, ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", args[0])
			}
			if !s.Supported(path) {
				return errors.New(errors.ErrCodeInvalidPath, "not a score file: %s", args[0])
			}

			comp := c.newCompiler(s)
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			spinner := newSpinnerWithContext(cmd.Context(), "Exporting "+filepath.Base(path)+"...")
			spinner.Start()

			var files []string
			for _, format := range opts.formats {
				spinner.SetMessage(fmt.Sprintf("Exporting %s (%s)...", filepath.Base(path), format))
				out, err := comp.Export(cmd.Context(), path, format, opts.output)
				if err != nil {
					spinner.StopWithError("Export failed: " + format)
					printDiagnostics(diag.Parse(errors.UserMessage(err)))
					return err
				}
				files = append(files, out...)
			}
			spinner.Stop()
			prog.done(fmt.Sprintf("Exported %s", filepath.Base(path)))

			printSuccess("Exported %s", filepath.Base(path))
			for _, f := range files {
				printFile(f)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.formats, "format", "f", []string{compiler.FormatPDF}, "output formats")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output directory (default: next to the score)")

	return cmd
}
