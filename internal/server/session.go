package server

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/lilyview/pkg/anchor"
	"github.com/matzehuels/lilyview/pkg/diag"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/match"
	"github.com/matzehuels/lilyview/pkg/preview"
)

// SSE event types.
const (
	EventStatus      = "status"
	EventArtifact    = "artifact"
	EventCursor      = "cursor"
	EventCursorClear = "cursor-clear"
	EventError       = "error"
	EventReveal      = "reveal"
)

// Session is one preview panel: a controller bound to a document, whose
// display is streamed to every SSE client of the session.
type Session struct {
	ID      string
	Created time.Time

	hub *hub
	ctl *preview.Controller

	// edits serializes document updates with their triggers so the
	// controller sees versions in the order they were accepted.
	edits sync.Mutex

	mu  sync.Mutex
	doc preview.Document
}

var (
	_ preview.Surface = (*Session)(nil)
	_ preview.Host    = (*Session)(nil)
)

// NewDocument snapshots the file at path as version 1. When text is nil the
// file is read from disk.
func NewDocument(path string, text *string) (preview.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return preview.Document{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", path)
	}
	doc := preview.Document{URI: FileURI(abs), Path: abs, Version: 1}
	if text != nil {
		doc.Text = *text
		return doc, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return preview.Document{}, errors.New(errors.ErrCodeFileNotFound, "no such file: %s", abs)
		}
		return preview.Document{}, errors.Wrap(errors.ErrCodeInvalidPath, err, "read %s", abs)
	}
	doc.Text = string(data)
	return doc, nil
}

// FileURI returns the file:// URI of an absolute path.
func FileURI(abs string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func newSession(doc preview.Document) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Created: time.Now(),
		hub:     newHub(),
		doc:     doc,
	}
}

// Controller returns the session's orchestrator.
func (s *Session) Controller() *preview.Controller { return s.ctl }

// Document returns the latest document snapshot.
func (s *Session) Document() preview.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Open requests the initial render.
func (s *Session) Open() {
	s.ctl.Trigger(preview.Request{Doc: s.Document(), Reason: preview.ReasonOpen})
}

// Edit records an edit and triggers a typing render. A version <= 0 bumps
// the current version. An explicit version must be newer than the current
// one; older edits are rejected with ErrCodeStaleVersion.
func (s *Session) Edit(text string, version int) (preview.Document, error) {
	s.edits.Lock()
	defer s.edits.Unlock()
	doc, err := s.update(&text, version)
	if err != nil {
		return doc, err
	}
	s.ctl.Trigger(preview.Request{Doc: doc, Reason: preview.ReasonTyping})
	return doc, nil
}

// Save triggers a save render, optionally with the saved text.
func (s *Session) Save(text *string) {
	s.edits.Lock()
	defer s.edits.Unlock()
	doc := s.Document()
	if text != nil && *text != doc.Text {
		doc, _ = s.update(text, 0)
	}
	s.ctl.Trigger(preview.Request{Doc: doc, Reason: preview.ReasonSave})
}

// Refresh triggers a save render of the current version even when it was
// already rendered. It serves changes outside the document, such as a saved
// include file.
func (s *Session) Refresh() {
	s.ctl.Trigger(preview.Request{Doc: s.Document(), Reason: preview.ReasonSave, Force: true})
}

// Render forces a render of the current version.
func (s *Session) Render() {
	s.ctl.Trigger(preview.Request{Doc: s.Document(), Reason: preview.ReasonManual})
}

// Select renders only text, a selection of the document.
func (s *Session) Select(text string) {
	s.ctl.Trigger(preview.Request{Doc: s.Document(), Reason: preview.ReasonSelection, Override: &text})
}

// Focus reports that the editor switched to this session's document.
func (s *Session) Focus() {
	s.ctl.Trigger(preview.Request{Doc: s.Document(), Reason: preview.ReasonEditorSwitch})
}

func (s *Session) update(text *string, version int) (preview.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= 0 {
		version = s.doc.Version + 1
	} else if version <= s.doc.Version {
		return s.doc, errors.New(errors.ErrCodeStaleVersion,
			"version %d is not newer than %d", version, s.doc.Version)
	}
	s.doc.Version = version
	if text != nil {
		s.doc.Text = *text
	}
	return s.doc, nil
}

// Close disposes the controller and disconnects every client.
func (s *Session) Close() {
	s.ctl.Dispose()
	s.hub.close()
}

// PushStatus implements preview.Surface.
func (s *Session) PushStatus(status preview.Status, message string) {
	s.hub.Broadcast(Event{EventStatus, map[string]any{"state": status, "message": message}})
}

// artifactPayload is the artifact event. Pages are fetched separately.
type artifactPayload struct {
	URI         string            `json:"uri"`
	Version     int               `json:"version"`
	Partial     bool              `json:"partial"`
	Title       string            `json:"title"`
	PageCount   int               `json:"page_count"`
	Pages       []string          `json:"pages"`
	StatusText  string            `json:"status_text"`
	Invocation  string            `json:"invocation"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// PushArtifact implements preview.Surface.
func (s *Session) PushArtifact(u preview.ArtifactUpdate) {
	pages := make([]string, u.PageCount)
	for i := range pages {
		pages[i] = "/sessions/" + s.ID + "/pages/" + strconv.Itoa(i+1) + "?v=" + strconv.Itoa(u.Version)
	}
	s.hub.Broadcast(Event{EventArtifact, artifactPayload{
		URI:         u.URI,
		Version:     u.Version,
		Partial:     u.Partial,
		Title:       u.Title,
		PageCount:   u.PageCount,
		Pages:       pages,
		StatusText:  u.StatusText,
		Invocation:  u.Invocation,
		Diagnostics: diag.Parse(u.Diagnostics),
	}})
}

// PushCursor implements preview.Surface.
func (s *Session) PushCursor(u preview.CursorUpdate) {
	s.hub.Broadcast(Event{EventCursor, u})
}

// PushCursorClear implements preview.Surface.
func (s *Session) PushCursorClear() {
	s.hub.Broadcast(Event{EventCursorClear, struct{}{}})
}

// ShowError implements preview.Surface.
func (s *Session) ShowError(message string) {
	s.hub.Broadcast(Event{EventError, map[string]string{"message": message}})
}

// Text implements preview.Host. The session's own document is served from
// its buffer, anything else from disk.
func (s *Session) Text(path string) (string, error) {
	doc := s.Document()
	if anchor.SamePath(path, doc.Path) {
		return doc.Text, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", path)
	}
	return string(data), nil
}

// Reveal implements preview.Host by asking editor clients to jump.
func (s *Session) Reveal(path string, r match.Range) {
	s.hub.Broadcast(Event{EventReveal, map[string]any{"path": path, "range": r}})
}
