package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/pkg/anchor"
	"github.com/matzehuels/lilyview/pkg/errors"
)

// anchorsOpts holds the command-line flags for the anchors command.
type anchorsOpts struct {
	page     int
	relocate string // rewrite anchors to point at this path
	output   string
}

// anchorsCommand lists the source positions embedded in a rendered page.
func (c *CLI) anchorsCommand() *cobra.Command {
	var opts anchorsOpts

	cmd := &cobra.Command{
		Use:   "anchors [page.svg]",
		Short: "List the source positions in a rendered page",
		Long: `List every clickable source position in a rendered SVG page, with the
data-anchor identity the preview assigns to it.

With --relocate the page's references are rewritten to point at another
file, for pages rendered from a staged copy of the score.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAnchors(args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.page, "page", 1, "page number used in anchor ids")
	cmd.Flags().StringVar(&opts.relocate, "relocate", "", "rewrite references to point at this file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the rewritten page here (with --relocate)")

	return cmd
}

func (c *CLI) runAnchors(path string, opts anchorsOpts) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.ErrCodeFileNotFound, "page not found: %s", path)
		}
		return errors.Wrap(errors.ErrCodeInternal, err, "read %s", path)
	}
	markup := string(data)

	if opts.relocate != "" {
		to, err := filepath.Abs(opts.relocate)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", opts.relocate)
		}
		markup = relocateAll(markup, to)
		if opts.output != "" {
			if err := os.WriteFile(opts.output, []byte(markup), 0o644); err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "write %s", opts.output)
			}
			printFile(opts.output)
		}
	}

	_, anchors := anchor.Annotate(markup, opts.page)
	if len(anchors) == 0 {
		printInfo("No anchors in %s", filepath.Base(path))
		return nil
	}
	fmt.Println(anchorTable(anchors))
	printDetail("%d anchors", len(anchors))
	return nil
}

// relocateAll points every reference in markup at to, whatever file it
// named before.
func relocateAll(markup, to string) string {
	seen := make(map[string]bool)
	for _, ref := range anchor.Refs(markup) {
		t, ok := anchor.Parse(ref)
		if !ok || seen[t.Path] {
			continue
		}
		seen[t.Path] = true
		markup = anchor.Rewrite(markup, t.Path, to)
	}
	return markup
}

// anchorTable renders anchors as a table of id, location and span.
func anchorTable(anchors []anchor.Anchor) string {
	rows := make([][]string, 0, len(anchors))
	for _, a := range anchors {
		end := ""
		if a.HasEnd {
			end = strconv.Itoa(a.EndColumn)
		}
		rows = append(rows, []string{
			a.ElementID,
			a.Path,
			strconv.Itoa(a.Line),
			strconv.Itoa(a.Column),
			end,
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("ID", "File", "Line", "Col", "End").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return StyleHighlight
			case col >= 2:
				return StyleNumber
			}
			return lipgloss.NewStyle()
		}).
		Render()
}
