package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/includes"
)

// includesOpts holds the command-line flags for the includes command.
type includesOpts struct {
	output string // SVG output path; DOT goes to stdout when empty
}

// includesCommand shows the include graph of a score.
func (c *CLI) includesCommand() *cobra.Command {
	var opts includesOpts

	cmd := &cobra.Command{
		Use:   "includes [file]",
		Short: "Show the include graph of a score",
		Long: `Follow \include directives from a score, relative to its directory and the
configured include paths, and print the graph as Graphviz DOT. With -o the
graph is rendered to SVG instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			g, err := includes.Scan(args[0], s.IncludePaths)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.New(errors.ErrCodeFileNotFound, "score not found: %s", args[0])
				}
				return errors.Wrap(errors.ErrCodeInternal, err, "scan includes")
			}

			if opts.output == "" {
				fmt.Print(g.ToDOT())
			} else {
				svg, err := g.RenderSVG(cmd.Context())
				if err != nil {
					return errors.Wrap(errors.ErrCodeInternal, err, "render include graph")
				}
				if err := os.WriteFile(opts.output, svg, 0o644); err != nil {
					return errors.Wrap(errors.ErrCodeInternal, err, "write %s", opts.output)
				}
				printSuccess("Include graph of %s", filepath.Base(g.Root))
				printKeyValue("Files", fmt.Sprint(len(g.Files())))
				printFile(opts.output)
			}

			for _, m := range g.Missing {
				printWarning("Unresolved include: %s", m)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write an SVG rendering of the graph")

	return cmd
}
