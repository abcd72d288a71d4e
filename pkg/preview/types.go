package preview

import (
	"context"
	"time"

	"github.com/matzehuels/lilyview/pkg/compiler"
	"github.com/matzehuels/lilyview/pkg/match"
)

// Reason is why a render was requested.
type Reason string

const (
	ReasonOpen         Reason = "open"
	ReasonManual       Reason = "manual"
	ReasonTyping       Reason = "typing"
	ReasonSave         Reason = "save"
	ReasonEditorSwitch Reason = "editor-switch"
	ReasonSelection    Reason = "selection"
)

// Foreground reports whether failures for this reason deserve a blocking
// notification rather than just the status indicator.
func (r Reason) Foreground() bool { return r == ReasonOpen || r == ReasonManual }

// forced reports whether the reason bypasses the completed-version check
// and the throttle.
func (r Reason) forced() bool {
	return r == ReasonOpen || r == ReasonManual || r == ReasonSelection
}

// Document is a snapshot of an editor document.
type Document struct {
	URI     string `json:"uri"`
	Path    string `json:"path"` // empty for untitled documents
	Version int    `json:"version"`
	Text    string `json:"text"`
}

// Request asks for a render of Doc.
type Request struct {
	Doc    Document
	Reason Reason
	Force  bool
	// Override replaces the document text, e.g. with the current selection.
	Override *string
}

// State is the orchestrator's phase.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRendering
	StateUpdatingDisplay
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRendering:
		return "rendering"
	case StateUpdatingDisplay:
		return "updating-display"
	default:
		return "unknown"
	}
}

// Status is the passive indicator shown by a surface.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusUpdating Status = "updating"
	StatusError    Status = "error"
)

// ArtifactUpdate is a published render.
type ArtifactUpdate struct {
	URI         string   `json:"uri"`
	Version     int      `json:"version"`
	Partial     bool     `json:"partial"`
	Title       string   `json:"title"`
	Pages       []string `json:"pages"`
	PageCount   int      `json:"page_count"`
	StatusText  string   `json:"status_text"`
	Invocation  string   `json:"invocation"`
	Diagnostics string   `json:"diagnostics"`
}

// CursorUpdate asks a surface to highlight the anchor matching a cursor.
type CursorUpdate struct {
	Path       string  `json:"path"`
	Line       int     `json:"line"`
	Column     int     `json:"column"`
	AutoScroll bool    `json:"auto_scroll"`
	Hysteresis float64 `json:"hysteresis"`
	AnchorID   string  `json:"anchor_id"`
}

// Surface displays the preview. Pushes are made while the controller holds
// its lock, so implementations must not call back into the controller
// synchronously.
type Surface interface {
	PushStatus(status Status, message string)
	PushArtifact(update ArtifactUpdate)
	PushCursor(update CursorUpdate)
	PushCursorClear()
	// ShowError raises a blocking, user-visible notification.
	ShowError(message string)
}

// Host is the editor side of the preview.
type Host interface {
	// Text returns the current text of the document at path.
	Text(path string) (string, error)
	// Reveal moves the editor to r in path.
	Reveal(path string, r match.Range)
}

// Renderer produces artifacts. It must return process.ErrCanceled when ctx
// is canceled.
type Renderer interface {
	Render(ctx context.Context, job compiler.Job) (*compiler.Artifact, error)
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for debounce and throttle.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
