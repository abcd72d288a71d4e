package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/internal/server"
	"github.com/matzehuels/lilyview/pkg/config"
)

// serveOpts holds the command-line flags for the serve command.
type serveOpts struct {
	addr    string
	noCache bool
}

// serveCommand hosts preview sessions for editor plugins.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host preview sessions for editor plugins",
		Long: `Start the preview server. Editors open a session per document with
POST /sessions and stream edits, saves and cursor moves to it; the preview
page for a session lives at /sessions/{id}/view.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				s.Addr = opts.addr
			}

			renderer, closeStore, err := c.newRenderer(cmd.Context(), s, opts.noCache)
			if err != nil {
				return err
			}
			defer closeStore()

			srv := server.New(renderer, func() config.Settings { return s }, c.Logger)
			printInfo("Listening on %s", StyleLink.Render("http://"+s.Addr))
			printNextStep("Open a session", `curl -X POST -d '{"path":"score.ly"}' http://`+s.Addr+"/sessions")
			return srv.ListenAndServe(cmd.Context(), s.Addr)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "always run the compiler")

	return cmd
}
