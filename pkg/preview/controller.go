// Package preview decides when a document is rendered and what reaches the
// display surface.
//
// A Controller owns a single in-flight render slot and a single pending
// schedule slot. Every render start takes a fresh token; a result is
// published only when its token is still current, so an older render that
// finishes after a newer one started is dropped. Typing is debounced and
// throttled per document, saves render immediately, and explicit requests
// (open, manual, selection) bypass both the throttle and the check against
// the artifact already on display.
package preview

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lilyview/pkg/anchor"
	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/match"
	"github.com/matzehuels/lilyview/pkg/observability"
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for debounce and throttle.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(ctl *Controller) { ctl.logger = l } }

// inflight is the render currently running.
type inflight struct {
	token    uint64
	uri      string
	version  int
	canceled bool
	cancel   context.CancelFunc
}

// pending is a scheduled render waiting for its timer.
type pending struct {
	req   Request
	timer Timer
}

// displayed identifies the full-document artifact on the surface.
type displayed struct {
	uri     string
	version int
}

// Controller orchestrates renders for one preview panel.
type Controller struct {
	renderer Renderer
	surface  Surface
	host     Host
	settings func() config.Settings
	clock    Clock
	logger   *log.Logger

	mu          sync.Mutex
	wg          sync.WaitGroup
	initialized bool
	disposed    bool
	visible     bool
	state       State
	token       uint64
	inflight    *inflight
	pending     *pending
	completed   *displayed
	lastStart   map[string]time.Time
	last        *ArtifactUpdate
	anchors     []anchor.Anchor
	selected    *anchor.Anchor
	cursor      *match.Cursor
}

// New creates a controller. settings is consulted on every event, so mode
// changes take effect on the next trigger.
func New(r Renderer, s Surface, h Host, settings func() config.Settings, opts ...Option) *Controller {
	c := &Controller{
		renderer:  r,
		surface:   s,
		host:      h,
		settings:  settings,
		clock:     realClock{},
		logger:    log.Default(),
		visible:   true,
		lastStart: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize starts accepting events.
func (c *Controller) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.initialized = true
	c.state = StateIdle
	c.surface.PushStatus(StatusIdle, "")
}

// Dispose cancels the in-flight render and pending timer, then waits for
// render goroutines to return. Later events are ignored.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.clearPending()
	if c.inflight != nil {
		c.inflight.canceled = true
		c.inflight.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Anchors returns the anchors of the artifact on display.
func (c *Controller) Anchors() []anchor.Anchor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]anchor.Anchor(nil), c.anchors...)
}

// Last returns the artifact on display, if any.
func (c *Controller) Last() (ArtifactUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ArtifactUpdate{}, false
	}
	return *c.last, true
}

// SetVisible records whether the panel is shown. Editor switches only
// render while it is.
func (c *Controller) SetVisible(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = v
}

// Trigger requests a render.
func (c *Controller) Trigger(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || !c.initialized {
		return
	}
	s := c.settings()
	logger := c.logger.With("uri", req.Doc.URI, "version", req.Doc.Version, "reason", req.Reason)

	if !allowed(req.Reason, s.RefreshMode) {
		logger.Debug("trigger ignored by refresh mode", "mode", s.RefreshMode)
		return
	}
	if req.Reason == ReasonEditorSwitch && (!c.visible || !s.Supported(req.Doc.Path)) {
		logger.Debug("editor switch ignored", "visible", c.visible)
		return
	}
	if c.redundant(req) {
		logger.Debug("trigger dropped, version already rendered or rendering")
		return
	}

	switch req.Reason {
	case ReasonTyping:
		if p := c.pending; p != nil && p.req.Doc.URI == req.Doc.URI && p.req.Doc.Version > req.Doc.Version {
			logger.Debug("trigger dropped, newer edit pending", "pending", p.req.Doc.Version)
			return
		}
		c.schedule(req, s.Debounce())
	default:
		c.start(req, s)
	}
}

// Cursor moves the editor cursor and re-highlights the matching anchor.
func (c *Controller) Cursor(path string, line, column int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.cursor = &match.Cursor{Path: path, Line: line, Column: column}
	c.highlight(c.settings())
}

// Click reveals the source position of an anchor clicked on the surface.
// Malformed references are ignored.
func (c *Controller) Click(ref string) {
	t, ok := anchor.Parse(ref)
	if !ok {
		c.logger.Debug("ignoring malformed anchor", "ref", ref)
		return
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	for i := range c.anchors {
		if c.anchors[i].Ref == ref {
			a := c.anchors[i]
			c.selected = &a
			break
		}
	}
	c.mu.Unlock()

	text, err := c.host.Text(t.Path)
	if err != nil {
		c.logger.Debug("cannot read anchor target", "path", t.Path, "err", err)
		return
	}
	c.host.Reveal(t.Path, match.Resolve(t, text))
}

// PreviewReady re-pushes the artifact on display and the cursor highlight,
// e.g. after the surface reloaded.
func (c *Controller) PreviewReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.last == nil {
		return
	}
	c.surface.PushArtifact(*c.last)
	c.surface.PushStatus(StatusIdle, c.last.StatusText)
	c.selected = nil
	c.highlight(c.settings())
}

// DebugMessage logs a diagnostic line sent by the surface.
func (c *Controller) DebugMessage(text string) {
	c.logger.Debug("surface", "message", text)
}

// allowed applies the refresh-mode gate. Explicit requests always pass.
func allowed(r Reason, m config.RefreshMode) bool {
	switch r {
	case ReasonTyping:
		return m.OnTyping()
	case ReasonSave:
		return m.OnSave()
	case ReasonEditorSwitch:
		return m.OnSwitch()
	default:
		return true
	}
}

func (c *Controller) forced(req Request) bool { return req.Force || req.Reason.forced() }

// redundant reports whether req asks for a version that is already on
// display or already rendering.
func (c *Controller) redundant(req Request) bool {
	if c.forced(req) {
		return false
	}
	if f := c.inflight; f != nil && !f.canceled && f.uri == req.Doc.URI && f.version == req.Doc.Version {
		return true
	}
	d := c.completed
	return d != nil && d.uri == req.Doc.URI && d.version == req.Doc.Version
}

func (c *Controller) schedule(req Request, delay time.Duration) {
	c.clearPending()
	p := &pending{req: req}
	p.timer = c.clock.AfterFunc(delay, func() { c.fire(p) })
	c.pending = p
	c.settle()
}

func (c *Controller) clearPending() {
	if c.pending != nil {
		c.pending.timer.Stop()
		c.pending = nil
	}
}

// fire runs when a scheduled render's timer expires. The refresh mode and
// the throttle are evaluated now, not when the timer was armed.
func (c *Controller) fire(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.pending != p {
		return
	}
	c.pending = nil
	req := p.req
	s := c.settings()

	if !allowed(req.Reason, s.RefreshMode) || c.redundant(req) {
		c.settle()
		return
	}
	if last, ok := c.lastStart[req.Doc.URI]; ok && !c.forced(req) {
		if wait := s.MinInterval() - c.clock.Now().Sub(last); wait > 0 {
			c.logger.Debug("render throttled", "uri", req.Doc.URI, "wait", wait)
			c.schedule(req, wait)
			return
		}
	}
	c.start(req, s)
}

func (c *Controller) start(req Request, s config.Settings) {
	// A pending render of a newer version of the same document survives.
	if p := c.pending; p == nil || p.req.Doc.URI != req.Doc.URI || p.req.Doc.Version <= req.Doc.Version {
		c.clearPending()
	}
	if f := c.inflight; f != nil {
		f.canceled = true
		f.cancel()
	}
	c.token++
	tok := c.token
	c.lastStart[req.Doc.URI] = c.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	c.inflight = &inflight{token: tok, uri: req.Doc.URI, version: req.Doc.Version, cancel: cancel}
	c.state = StateRendering
	if s.ShowUpdatingBadge {
		c.surface.PushStatus(StatusUpdating, "Rendering…")
	}

	job := compiler.Job{
		URI:     req.Doc.URI,
		Path:    req.Doc.Path,
		Version: req.Doc.Version,
		Text:    req.Doc.Text,
		Reason:  string(req.Reason),
	}
	if req.Override != nil {
		job.Text = *req.Override
		job.Partial = true
	}
	c.logger.Debug("render started", "uri", job.URI, "version", job.Version, "reason", req.Reason, "token", tok)
	observability.Render().OnRenderStart(ctx, job.URI, job.Version, job.Reason)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		started := time.Now()
		art, err := c.renderer.Render(ctx, job)
		c.complete(tok, req, job, art, err, time.Since(started))
	}()
}

func (c *Controller) complete(tok uint64, req Request, job compiler.Job, art *compiler.Artifact, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	canceled := false
	if f := c.inflight; f != nil && f.token == tok {
		canceled = f.canceled
		c.inflight = nil
	}
	ctx := context.Background()
	logger := c.logger.With("uri", job.URI, "version", job.Version, "reason", req.Reason)

	switch {
	case c.disposed:
		return
	case tok != c.token || canceled:
		logger.Debug("dropping stale render", "token", tok, "current", c.token)
		observability.Render().OnRenderStale(ctx, job.URI, job.Version)
		c.settle()
		return
	case errors.Is(err, errors.ErrCodeRenderCanceled):
		observability.Render().OnRenderCanceled(ctx, job.URI, job.Version)
		c.settle()
		return
	}

	if err != nil {
		observability.Render().OnRenderComplete(ctx, job.URI, job.Version, 0, elapsed, err)
		c.fail(req, err, logger)
		c.settle()
		return
	}

	c.state = StateUpdatingDisplay
	if job.Partial {
		c.completed = nil
	} else {
		c.completed = &displayed{uri: job.URI, version: job.Version}
	}
	update := ArtifactUpdate{
		URI:         job.URI,
		Version:     job.Version,
		Partial:     job.Partial,
		Title:       art.Title,
		Pages:       art.Pages,
		PageCount:   art.PageCount,
		StatusText:  art.Status(),
		Invocation:  art.Invocation,
		Diagnostics: art.Diagnostics,
	}
	c.last = &update
	c.anchors = art.Anchors
	c.selected = nil
	c.surface.PushArtifact(update)
	c.surface.PushStatus(StatusIdle, update.StatusText)
	c.highlight(c.settings())

	logger.Info("rendered", "pages", art.PageCount, "duration", art.Elapsed)
	observability.Render().OnRenderComplete(ctx, job.URI, job.Version, art.PageCount, elapsed, nil)
	c.settle()
}

// fail surfaces a render error. Background triggers only update the status
// indicator; open and manual requests also raise a notification.
func (c *Controller) fail(req Request, err error, logger *log.Logger) {
	msg := errors.UserMessage(err)
	c.surface.PushStatus(StatusError, firstLine(msg))
	if !req.Reason.Foreground() {
		logger.Warn("render failed", "err", err)
		return
	}
	logger.Error("render failed", "err", err)
	if errors.Is(err, errors.ErrCodeSpawnFailed) {
		msg += "\nInstall the compiler or set compiler_path in the configuration."
	}
	c.surface.ShowError(msg)
}

// highlight pushes the anchor that best matches the cursor, or clears the
// highlight when nothing matches.
func (c *Controller) highlight(s config.Settings) {
	if c.cursor == nil {
		return
	}
	if !s.CursorHighlight || len(c.anchors) == 0 {
		c.selected = nil
		c.surface.PushCursorClear()
		return
	}
	cur := *c.cursor
	best, ok := match.ChooseBest(match.Candidates(c.anchors, cur), cur.Line, cur.Column, c.selected, s.Hysteresis)
	if !ok {
		c.selected = nil
		c.surface.PushCursorClear()
		return
	}
	c.selected = &best
	c.surface.PushCursor(CursorUpdate{
		Path:       cur.Path,
		Line:       cur.Line,
		Column:     cur.Column,
		AutoScroll: s.AutoScroll,
		Hysteresis: s.Hysteresis,
		AnchorID:   best.ElementID,
	})
}

// settle derives the state from the slots.
func (c *Controller) settle() {
	switch {
	case c.inflight != nil:
		c.state = StateRendering
	case c.pending != nil:
		c.state = StateScheduled
	default:
		c.state = StateIdle
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
