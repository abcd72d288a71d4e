package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/matzehuels/lilyview/internal/server"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/includes"
	"github.com/matzehuels/lilyview/pkg/preview"
)

// watchOpts holds the command-line flags for the watch command.
type watchOpts struct {
	addr    string
	tui     bool
	noCache bool
}

// watchCommand runs a live preview session for one score.
func (c *CLI) watchCommand() *cobra.Command {
	var opts watchOpts

	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Re-render a score on save and serve a live preview",
		Long: `Open a preview session for a score and re-render it whenever the score or
one of its includes is saved. The preview is served over HTTP; clicking a
note in the browser reports its source position.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				s.Addr = opts.addr
			}
			return c.runWatch(cmd.Context(), s, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live status view")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "always run the compiler")

	return cmd
}

func (c *CLI) runWatch(ctx context.Context, s config.Settings, path string, opts watchOpts) error {
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

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sw, err := newScoreWatcher(doc.Path, s.IncludePaths, c.Logger)
	if err != nil {
		return err
	}
	defer sw.Close()

	srv := server.New(renderer, func() config.Settings { return s }, c.Logger)

	var (
		sess    *server.Session
		tuiDone chan error
	)
	if opts.tui {
		// The status view owns the terminal.
		c.Logger.SetOutput(io.Discard)
		var current atomic.Pointer[server.Session]
		model := NewWatchModel(doc.Path, "", func() {
			if cur := current.Load(); cur != nil {
				cur.Render()
			}
		})
		program := tea.NewProgram(model, tea.WithContext(ctx))
		tuiDone = make(chan error, 1)
		go func() {
			_, err := program.Run()
			tuiDone <- err
			cancel()
		}()
		sess = srv.Create(doc, teaSurface{program})
		current.Store(sess)
		program.Send(urlMsg(viewURL(s.Addr, sess.ID)))
	} else {
		sess = srv.Create(doc, consoleSurface{c.Logger})
		printInfo("Watching %s", filepath.Base(doc.Path))
		printKeyValue("Preview", StyleLink.Render(viewURL(s.Addr, sess.ID)))
		printKeyValue("Files", fmt.Sprint(len(sw.Files())))
	}

	go sw.Run(ctx,
		func(text string) { sess.Save(&text) },
		func(string) { sess.Refresh() },
	)

	err = srv.ListenAndServe(ctx, s.Addr)
	if tuiDone != nil {
		cancel()
		if tuiErr := <-tuiDone; tuiErr != nil && !stderrors.Is(tuiErr, tea.ErrProgramKilled) {
			return tuiErr
		}
	}
	return err
}

func viewURL(addr, id string) string {
	return "http://" + addr + "/sessions/" + id + "/view"
}

// urlMsg tells the status view where the preview is served.
type urlMsg string

// =============================================================================
// consoleSurface - preview.Surface for plain terminal output
// =============================================================================

// consoleSurface logs render outcomes. Cursor traffic is ignored.
type consoleSurface struct {
	logger *log.Logger
}

var _ preview.Surface = consoleSurface{}

func (s consoleSurface) PushStatus(status preview.Status, message string) {
	if status == preview.StatusError {
		s.logger.Error("render failed", "err", message)
	}
}

func (s consoleSurface) PushArtifact(u preview.ArtifactUpdate) {
	s.logger.Info("rendered", "title", u.Title, "version", u.Version, "pages", u.PageCount, "partial", u.Partial)
}

func (s consoleSurface) PushCursor(preview.CursorUpdate) {}
func (s consoleSurface) PushCursorClear()                {}

func (s consoleSurface) ShowError(message string) {
	printError("%s", message)
}

// =============================================================================
// scoreWatcher - file events for a score and its includes
// =============================================================================

// scoreWatcher reports saves of a score and of the files it includes. It
// watches their directories, so editors that save by renaming a temporary
// file over the original are seen too.
type scoreWatcher struct {
	root         string
	includePaths []string
	logger       *log.Logger
	w            *fsnotify.Watcher

	files map[string]bool
	dirs  map[string]bool
}

func newScoreWatcher(root string, includePaths []string, logger *log.Logger) (*scoreWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "start file watcher")
	}
	sw := &scoreWatcher{
		root:         filepath.Clean(root),
		includePaths: includePaths,
		logger:       logger,
		w:            w,
		dirs:         make(map[string]bool),
	}
	if err := sw.rescan(); err != nil {
		w.Close()
		return nil, err
	}
	return sw, nil
}

// rescan rebuilds the watched file set from the include graph.
func (sw *scoreWatcher) rescan() error {
	g, err := includes.Scan(sw.root, sw.includePaths)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileNotFound, err, "scan %s", sw.root)
	}
	sw.files = make(map[string]bool)
	for _, f := range g.Files() {
		sw.files[filepath.Clean(f)] = true
		dir := filepath.Dir(f)
		if sw.dirs[dir] {
			continue
		}
		if err := sw.w.Add(dir); err != nil {
			sw.logger.Warn("cannot watch directory", "dir", dir, "err", err)
			continue
		}
		sw.dirs[dir] = true
	}
	return nil
}

// Files returns the watched files.
func (sw *scoreWatcher) Files() []string {
	files := make([]string, 0, len(sw.files))
	for f := range sw.files {
		files = append(files, f)
	}
	return files
}

// Run delivers events until ctx is done. onRoot receives the score's new
// text; onInclude receives the path of a changed include.
func (sw *scoreWatcher) Run(ctx context.Context, onRoot func(text string), onInclude func(path string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Clean(ev.Name)
			switch {
			case name == sw.root:
				data, err := os.ReadFile(name)
				if err != nil {
					sw.logger.Debug("score not readable", "path", name, "err", err)
					continue
				}
				if err := sw.rescan(); err != nil {
					sw.logger.Warn("include scan failed", "err", err)
				}
				onRoot(string(data))
			case sw.files[name]:
				sw.logger.Debug("include changed", "path", name)
				onInclude(name)
			}
		case err, ok := <-sw.w.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("file watcher", "err", err)
		}
	}
}

// Close stops watching.
func (sw *scoreWatcher) Close() error {
	return sw.w.Close()
}
