package preview

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lilyview/pkg/anchor"
	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/match"
	"github.com/matzehuels/lilyview/pkg/process"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{c: c, t: t}
}

type fakeTimerHandle struct {
	c *fakeClock
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	active := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order. Callbacks run
// without the clock lock held, and timers they arm fire too if due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

type outcome struct {
	art *compiler.Artifact
	err error
}

type renderCall struct {
	job    compiler.Job
	ctx    context.Context
	result chan outcome
}

func (c *renderCall) succeed(art *compiler.Artifact) { c.result <- outcome{art: art} }
func (c *renderCall) fail(err error)                 { c.result <- outcome{err: err} }

type fakeRenderer struct {
	calls chan *renderCall
	// honorCancel returns ErrCanceled as soon as ctx is done.
	honorCancel bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{calls: make(chan *renderCall, 32)}
}

func (f *fakeRenderer) Render(ctx context.Context, job compiler.Job) (*compiler.Artifact, error) {
	c := &renderCall{job: job, ctx: ctx, result: make(chan outcome, 1)}
	f.calls <- c
	if f.honorCancel {
		select {
		case o := <-c.result:
			return o.art, o.err
		case <-ctx.Done():
			return nil, process.ErrCanceled
		}
	}
	o := <-c.result
	return o.art, o.err
}

func (f *fakeRenderer) next(t *testing.T) *renderCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a render to start")
		return nil
	}
}

func (f *fakeRenderer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected render of version %d (%s)", c.job.Version, c.job.Reason)
	case <-time.After(30 * time.Millisecond):
	}
}

type recordingSurface struct {
	mu        sync.Mutex
	statuses  []Status
	messages  []string
	artifacts []ArtifactUpdate
	cursors   []CursorUpdate
	clears    int
	errors    []string
}

func (s *recordingSurface) PushStatus(status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.messages = append(s.messages, message)
}

func (s *recordingSurface) PushArtifact(u ArtifactUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, u)
}

func (s *recordingSurface) PushCursor(u CursorUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, u)
}

func (s *recordingSurface) PushCursorClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *recordingSurface) ShowError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

func (s *recordingSurface) snapshot() recordingSurface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordingSurface{
		statuses:  append([]Status(nil), s.statuses...),
		messages:  append([]string(nil), s.messages...),
		artifacts: append([]ArtifactUpdate(nil), s.artifacts...),
		cursors:   append([]CursorUpdate(nil), s.cursors...),
		clears:    s.clears,
		errors:    append([]string(nil), s.errors...),
	}
}

type revealed struct {
	path string
	r    match.Range
}

type fakeHost struct {
	mu       sync.Mutex
	texts    map[string]string
	revealed []revealed
}

func (h *fakeHost) Text(path string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	text, ok := h.texts[path]
	if !ok {
		return "", errors.New(errors.ErrCodeFileNotFound, "no such document: %s", path)
	}
	return text, nil
}

func (h *fakeHost) Reveal(path string, r match.Range) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.revealed = append(h.revealed, revealed{path, r})
}

type settingsBox struct {
	mu sync.Mutex
	s  config.Settings
}

func (b *settingsBox) get() config.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}

func (b *settingsBox) update(fn func(*config.Settings)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	ctl      *Controller
	clock    *fakeClock
	renderer *fakeRenderer
	surface  *recordingSurface
	host     *fakeHost
	settings *settingsBox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		renderer: newFakeRenderer(),
		surface:  &recordingSurface{},
		host:     &fakeHost{texts: map[string]string{}},
		settings: &settingsBox{s: config.Default()},
	}
	h.ctl = New(h.renderer, h.surface, h.host, h.settings.get,
		WithClock(h.clock),
		WithLogger(log.New(io.Discard)),
	)
	h.ctl.Initialize()
	t.Cleanup(h.ctl.Dispose)
	return h
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitArtifacts(t *testing.T, n int) []ArtifactUpdate {
	t.Helper()
	waitFor(t, "artifact", func() bool { return len(h.surface.snapshot().artifacts) >= n })
	return h.surface.snapshot().artifacts
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	waitFor(t, "idle state", func() bool { return h.ctl.State() == StateIdle })
}

const scoreURI = "file:///scores/a.ly"

func doc(version int) Document {
	return Document{URI: scoreURI, Path: "/scores/a.ly", Version: version, Text: "{ c'4 }"}
}

func artifact(anchors ...anchor.Anchor) *compiler.Artifact {
	return &compiler.Artifact{
		Title:     "a.ly",
		Pages:     []string{"<svg/>"},
		PageCount: 1,
		Anchors:   anchors,
	}
}

func mkAnchor(id string, line, col, end int) anchor.Anchor {
	t := anchor.Target{Path: "/scores/a.ly", Line: line, Column: col, EndColumn: end, HasEnd: true}
	return anchor.Anchor{Ref: anchor.Format(t), ElementID: id, Target: t}
}

// =============================================================================
// Scheduling
// =============================================================================

func TestStaleResultNotPublished(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(5), Reason: ReasonOpen})
	v5 := h.renderer.next(t)

	h.ctl.Trigger(Request{Doc: doc(6), Reason: ReasonTyping})
	h.clock.Advance(2 * time.Second)
	v6 := h.renderer.next(t)
	if v6.job.Version != 6 {
		t.Fatalf("second render version = %d, want 6", v6.job.Version)
	}
	if v5.ctx.Err() == nil {
		t.Error("starting a newer render should cancel the older one")
	}

	// The older result arrives after the newer one started.
	v5.succeed(artifact())
	v6.succeed(artifact())

	got := h.waitArtifacts(t, 1)
	h.waitIdle(t)
	if len(got) != 1 || got[0].Version != 6 {
		t.Errorf("published versions = %v, want only 6", versions(got))
	}
}

func versions(us []ArtifactUpdate) []int {
	var out []int
	for _, u := range us {
		out = append(out, u.Version)
	}
	return out
}

func TestTypingDebounceCoalesces(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(2), Reason: ReasonTyping})
	if h.ctl.State() != StateScheduled {
		t.Errorf("State() = %s, want scheduled", h.ctl.State())
	}
	h.clock.Advance(300 * time.Millisecond)
	h.ctl.Trigger(Request{Doc: doc(3), Reason: ReasonTyping})

	// The debounce restarts at the second keystroke.
	h.clock.Advance(400 * time.Millisecond)
	h.renderer.expectNone(t)

	h.clock.Advance(100 * time.Millisecond)
	c := h.renderer.next(t)
	if c.job.Version != 3 || c.job.Reason != string(ReasonTyping) {
		t.Errorf("render = v%d %s, want v3 typing", c.job.Version, c.job.Reason)
	}
	c.succeed(artifact())
	h.waitArtifacts(t, 1)
	h.renderer.expectNone(t)
}

func TestSaveCancelsPendingDebounce(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(2), Reason: ReasonTyping})
	h.ctl.Trigger(Request{Doc: doc(2), Reason: ReasonSave})

	c := h.renderer.next(t)
	if c.job.Reason != string(ReasonSave) {
		t.Errorf("render reason = %s, want save", c.job.Reason)
	}
	c.succeed(artifact())
	h.waitArtifacts(t, 1)

	h.clock.Advance(5 * time.Second)
	h.renderer.expectNone(t)
}

func TestSaveKeepsNewerPendingEdit(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(7), Reason: ReasonTyping})
	h.ctl.Trigger(Request{Doc: doc(6), Reason: ReasonSave})

	c := h.renderer.next(t)
	if c.job.Version != 6 || c.job.Reason != string(ReasonSave) {
		t.Fatalf("first render = v%d %s, want v6 save", c.job.Version, c.job.Reason)
	}
	c.succeed(artifact())
	h.waitArtifacts(t, 1)

	h.clock.Advance(5 * time.Second)
	c = h.renderer.next(t)
	if c.job.Version != 7 || c.job.Reason != string(ReasonTyping) {
		t.Errorf("second render = v%d %s, want v7 typing", c.job.Version, c.job.Reason)
	}
	c.succeed(artifact())
	h.waitArtifacts(t, 2)
}

func TestOlderEditDoesNotReplacePending(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(7), Reason: ReasonTyping})
	h.ctl.Trigger(Request{Doc: doc(6), Reason: ReasonTyping})
	h.clock.Advance(5 * time.Second)

	c := h.renderer.next(t)
	if c.job.Version != 7 {
		t.Errorf("rendered version = %d, want 7", c.job.Version)
	}
	c.succeed(artifact())
	h.waitArtifacts(t, 1)
	h.renderer.expectNone(t)
}

func TestThrottleReschedules(t *testing.T) {
	h := newHarness(t)
	h.settings.update(func(s *config.Settings) {
		s.DebounceMS = 100
		s.MinIntervalMS = 1000
	})

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact())
	h.waitArtifacts(t, 1)
	h.waitIdle(t)

	h.ctl.Trigger(Request{Doc: doc(2), Reason: ReasonTyping})
	h.clock.Advance(100 * time.Millisecond)
	h.renderer.expectNone(t)
	if h.ctl.State() != StateScheduled {
		t.Errorf("throttled render should stay scheduled, got %s", h.ctl.State())
	}

	h.clock.Advance(800 * time.Millisecond)
	h.renderer.expectNone(t)

	h.clock.Advance(100 * time.Millisecond)
	if c := h.renderer.next(t); c.job.Version != 2 {
		t.Errorf("rescheduled render version = %d, want 2", c.job.Version)
	} else {
		c.succeed(artifact())
	}
}

func TestForcedTriggerBypassesThrottle(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact())
	h.waitIdle(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonManual})
	h.renderer.next(t).succeed(artifact())
	h.waitArtifacts(t, 2)
}

func TestRefreshModeGates(t *testing.T) {
	tests := []struct {
		mode   config.RefreshMode
		reason Reason
		render bool
	}{
		{config.IdleAndSave, ReasonTyping, true},
		{config.IdleAndSave, ReasonSave, true},
		{config.SaveOnly, ReasonTyping, false},
		{config.SaveOnly, ReasonSave, true},
		{config.SaveOnly, ReasonEditorSwitch, true},
		{config.Manual, ReasonTyping, false},
		{config.Manual, ReasonSave, false},
		{config.Manual, ReasonEditorSwitch, false},
		{config.Manual, ReasonManual, true},
		{config.Manual, ReasonOpen, true},
		{config.Live, ReasonTyping, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+string(tt.reason), func(t *testing.T) {
			h := newHarness(t)
			h.settings.update(func(s *config.Settings) { s.RefreshMode = tt.mode })

			h.ctl.Trigger(Request{Doc: doc(1), Reason: tt.reason})
			h.clock.Advance(5 * time.Second)
			if !tt.render {
				h.renderer.expectNone(t)
				return
			}
			h.renderer.next(t).succeed(artifact())
			h.waitArtifacts(t, 1)
		})
	}
}

func TestModeCheckedWhenDebounceFires(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(2), Reason: ReasonTyping})
	h.settings.update(func(s *config.Settings) { s.RefreshMode = config.SaveOnly })
	h.clock.Advance(time.Second)

	h.renderer.expectNone(t)
	if h.ctl.State() != StateIdle {
		t.Errorf("State() = %s, want idle", h.ctl.State())
	}
}

func TestCompletedVersionDropsUnforcedTriggers(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact())
	h.waitIdle(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonSave})
	h.renderer.expectNone(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonSave, Force: true})
	h.renderer.next(t).succeed(artifact())
	h.waitArtifacts(t, 2)
}

func TestInflightVersionDropsDuplicate(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(4), Reason: ReasonOpen})
	c := h.renderer.next(t)
	h.ctl.Trigger(Request{Doc: doc(4), Reason: ReasonSave})
	h.renderer.expectNone(t)

	c.succeed(artifact())
	h.waitArtifacts(t, 1)
}

func TestEditorSwitch(t *testing.T) {
	h := newHarness(t)

	h.ctl.SetVisible(false)
	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonEditorSwitch})
	h.renderer.expectNone(t)

	h.ctl.SetVisible(true)
	notes := Document{URI: "file:///notes.txt", Path: "/notes.txt", Version: 1}
	h.ctl.Trigger(Request{Doc: notes, Reason: ReasonEditorSwitch})
	h.renderer.expectNone(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonEditorSwitch})
	h.renderer.next(t).succeed(artifact())
	h.waitArtifacts(t, 1)
}

func TestSelectionRender(t *testing.T) {
	h := newHarness(t)
	sel := "{ e'4 }"

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonSelection, Override: &sel})
	c := h.renderer.next(t)
	if !c.job.Partial || c.job.Text != sel {
		t.Errorf("selection job = partial %v text %q", c.job.Partial, c.job.Text)
	}
	c.succeed(artifact())
	got := h.waitArtifacts(t, 1)
	if !got[0].Partial {
		t.Error("selection artifact should be marked partial")
	}
	h.waitIdle(t)

	// The display shows a fragment, so an unforced save of the same version
	// still renders the whole document.
	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonSave})
	if c := h.renderer.next(t); c.job.Partial {
		t.Error("save after a selection render should render the whole document")
	} else {
		c.succeed(artifact())
	}
}

func TestEventsIgnoredBeforeInitializeAndAfterDispose(t *testing.T) {
	clock := newFakeClock()
	r := newFakeRenderer()
	s := &recordingSurface{}
	box := &settingsBox{s: config.Default()}
	ctl := New(r, s, &fakeHost{}, box.get, WithClock(clock), WithLogger(log.New(io.Discard)))

	ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	r.expectNone(t)

	ctl.Initialize()
	ctl.Dispose()
	ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	r.expectNone(t)
}

func TestDisposeCancelsInflight(t *testing.T) {
	h := newHarness(t)
	h.renderer.honorCancel = true

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	c := h.renderer.next(t)
	h.ctl.Dispose()

	if c.ctx.Err() == nil {
		t.Error("Dispose should cancel the in-flight render")
	}
	if n := len(h.surface.snapshot().artifacts); n != 0 {
		t.Errorf("published %d artifacts after dispose", n)
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestFailureSurfacing(t *testing.T) {
	tests := []struct {
		name      string
		reason    Reason
		err       error
		wantPopup bool
		wantHint  bool
	}{
		{"background compiler error", ReasonSave, errors.New(errors.ErrCodeCompilerFailed, "a.ly:1:1: error: boom"), false, false},
		{"manual compiler error", ReasonManual, errors.New(errors.ErrCodeCompilerFailed, "a.ly:1:1: error: boom"), true, false},
		{"open spawn failure", ReasonOpen, errors.New(errors.ErrCodeSpawnFailed, "start lilypond"), true, true},
		{"background spawn failure", ReasonSave, errors.New(errors.ErrCodeSpawnFailed, "start lilypond"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ctl.Trigger(Request{Doc: doc(1), Reason: tt.reason})
			h.renderer.next(t).fail(tt.err)
			waitFor(t, "error status", func() bool {
				ss := h.surface.snapshot().statuses
				return len(ss) > 0 && ss[len(ss)-1] == StatusError
			})
			h.waitIdle(t)

			snap := h.surface.snapshot()
			if got := len(snap.errors) > 0; got != tt.wantPopup {
				t.Fatalf("ShowError called = %v, want %v", got, tt.wantPopup)
			}
			if tt.wantPopup && strings.Contains(snap.errors[0], "compiler_path") != tt.wantHint {
				t.Errorf("ShowError(%q): hint present = %v, want %v", snap.errors[0], !tt.wantHint, tt.wantHint)
			}
			if len(snap.artifacts) != 0 {
				t.Error("a failed render must not publish an artifact")
			}
		})
	}
}

func TestCanceledRenderNotSurfaced(t *testing.T) {
	h := newHarness(t)

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).fail(process.ErrCanceled)
	h.waitIdle(t)

	for _, s := range h.surface.snapshot().statuses {
		if s == StatusError {
			t.Error("a canceled render should not report an error")
		}
	}
}

// =============================================================================
// Cursor and click
// =============================================================================

func TestCursorHighlight(t *testing.T) {
	h := newHarness(t)
	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact(
		mkAnchor("p1-a0", 3, 1, 4),
		mkAnchor("p1-a1", 3, 6, 9),
		mkAnchor("p1-a2", 5, 1, 2),
	))
	h.waitIdle(t)

	h.ctl.Cursor("/scores/a.ly", 3, 7)
	snap := h.surface.snapshot()
	if len(snap.cursors) != 1 {
		t.Fatalf("cursor pushes = %d, want 1", len(snap.cursors))
	}
	got := snap.cursors[0]
	if got.AnchorID != "p1-a1" || got.Line != 3 || got.Column != 7 || !got.AutoScroll {
		t.Errorf("PushCursor(%+v)", got)
	}

	h.settings.update(func(s *config.Settings) { s.CursorHighlight = false })
	h.ctl.Cursor("/scores/a.ly", 5, 1)
	if h.surface.snapshot().clears != 1 {
		t.Error("disabled highlighting should clear the cursor")
	}
}

func TestCursorReappliedAfterRender(t *testing.T) {
	h := newHarness(t)
	h.ctl.Cursor("/scores/a.ly", 2, 2)
	if n := len(h.surface.snapshot().cursors); n != 0 {
		t.Fatalf("no anchors yet, got %d cursor pushes", n)
	}

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact(mkAnchor("p1-a0", 2, 1, 3)))
	waitFor(t, "cursor highlight", func() bool { return len(h.surface.snapshot().cursors) == 1 })
}

func TestClickRevealsSource(t *testing.T) {
	h := newHarness(t)
	h.host.texts["/scores/a.ly"] = "\\version \"2.24.0\"\n{ c'4 d'4 }\n"

	h.ctl.Click("textedit:///scores/a.ly:2:3:6")
	h.ctl.Click("textedit:///scores/a.ly:x:3")
	h.ctl.Click("textedit:///scores/missing.ly:1:1")

	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	if len(h.host.revealed) != 1 {
		t.Fatalf("Reveal called %d times, want 1", len(h.host.revealed))
	}
	got := h.host.revealed[0]
	if got.path != "/scores/a.ly" || got.r != (match.Range{Line: 1, Start: 2, End: 6}) {
		t.Errorf("Reveal(%q, %+v)", got.path, got.r)
	}
}

func TestPreviewReadyRepushes(t *testing.T) {
	h := newHarness(t)
	h.ctl.PreviewReady()
	if n := len(h.surface.snapshot().artifacts); n != 0 {
		t.Fatalf("nothing rendered yet, got %d pushes", n)
	}

	h.ctl.Trigger(Request{Doc: doc(1), Reason: ReasonOpen})
	h.renderer.next(t).succeed(artifact())
	h.waitIdle(t)

	h.ctl.PreviewReady()
	got := h.surface.snapshot().artifacts
	if len(got) != 2 || got[1].Version != 1 {
		t.Errorf("artifacts after PreviewReady = %v", versions(got))
	}
	if last, ok := h.ctl.Last(); !ok || last.Version != 1 {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestMultiSurface(t *testing.T) {
	a, b := &recordingSurface{}, &recordingSurface{}
	m := MultiSurface{a, b}
	m.PushStatus(StatusUpdating, "Rendering…")
	m.PushArtifact(ArtifactUpdate{Version: 3})
	m.PushCursor(CursorUpdate{AnchorID: "p1-a0"})
	m.PushCursorClear()
	m.ShowError("boom")

	for i, s := range []*recordingSurface{a, b} {
		snap := s.snapshot()
		if len(snap.statuses) != 1 || len(snap.artifacts) != 1 || len(snap.cursors) != 1 || snap.clears != 1 || len(snap.errors) != 1 {
			t.Errorf("surface %d missed a push: %+v", i, snap)
		}
	}
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateIdle:            "idle",
		StateScheduled:       "scheduled",
		StateRendering:       "rendering",
		StateUpdatingDisplay: "updating-display",
		State(42):            "unknown",
	}
	for s, want := range names {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
