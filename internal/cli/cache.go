package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/pkg/cache"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the rendered artifact cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			store, err := newCache(cmd.Context(), s, false)
			if err != nil {
				return err
			}
			defer store.Close()

			clearer, ok := store.(cache.Clearer)
			if !ok {
				return errors.New(errors.ErrCodeInvalidConfig, "cache backend cannot be cleared")
			}
			if err := clearer.Clear(cmd.Context()); err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "clear cache")
			}

			printSuccess("Cache cleared")
			printDetail("Backend: %s", cacheLocation(s, store))
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print where artifacts are cached",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			if s.CacheURL != "" {
				fmt.Println(s.CacheURL)
				return nil
			}
			dir, err := config.CacheDir()
			if err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "get cache dir")
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// cacheLocation describes the backend for humans: the directory of a file
// cache, otherwise the configured URL.
func cacheLocation(s config.Settings, store cache.Cache) string {
	if fc, ok := store.(*cache.FileCache); ok {
		return fc.Dir()
	}
	return s.CacheURL
}
