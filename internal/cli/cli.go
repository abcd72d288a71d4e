package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/pkg/buildinfo"
	"github.com/matzehuels/lilyview/pkg/cache"
	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/observability"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// configPath is set by the persistent --config flag.
	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "lilyview",
		Short:        "lilyview renders score documents and keeps the preview in sync",
		Long:         `lilyview runs the score compiler on your documents, serves the rendered pages to a live preview, and links every note on the page back to its place in the source.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			observability.SetRenderHooks(logHooks{c.Logger})
			observability.SetCacheHooks(logHooks{c.Logger})
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/lilyview/config.toml)")

	// Register all subcommands
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.watchCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.anchorsCommand())
	root.AddCommand(c.includesCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Settings and Renderer Factory
// =============================================================================

// settings loads and validates the configuration.
func (c *CLI) settings() (config.Settings, error) {
	s, err := config.Load(c.configPath)
	if err != nil {
		return s, err
	}
	return s, s.Validate()
}

// newCompiler builds the compiler described by s.
func (c *CLI) newCompiler(s config.Settings) *compiler.Compiler {
	return &compiler.Compiler{
		Executable:   s.CompilerPath,
		StagingRoot:  s.StagingDir,
		IncludePaths: s.IncludePaths,
		Logger:       c.Logger,
	}
}

// newRenderer wraps the compiler with the artifact store. The returned
// close function releases the store.
func (c *CLI) newRenderer(ctx context.Context, s config.Settings, noCache bool) (compiler.Renderer, func(), error) {
	comp := c.newCompiler(s)
	store, err := newCache(ctx, s, noCache)
	if err != nil {
		return nil, nil, err
	}
	return compiler.Cached(comp, store, nil), func() { store.Close() }, nil
}

func newCache(ctx context.Context, s config.Settings, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	dir, err := config.CacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	return cache.Open(ctx, s.CacheURL, dir)
}
