// Package pkg provides the core libraries of lilyview, a live preview engine
// for engraved scores.
//
// # Overview
//
// lilyview runs the score compiler on a document, collects the SVG pages it
// writes, and keeps a display surface in step with the editor: stale renders
// are dropped, edits are debounced, and position anchors embedded in the
// pages link every notehead back to its source. The pkg directory is
// organized into three areas:
//
//  1. Orchestration: [preview] drives renders from editor events
//  2. Rendering: [compiler], [process] and [anchor] turn text into pages
//  3. Support: [config], [cache], [diag], [includes], [observability], [errors]
//
// # Architecture
//
// The typical data flow of one render:
//
//	editor event (open, typing, save, selection)
//	         ↓
//	    [preview] controller (debounce, throttle, stale dropping)
//	         ↓
//	    [compiler] staging dir + [process] run
//	         ↓
//	    [anchor] rewrite, sanitize, annotate
//	         ↓
//	    display surface (pages, status, cursor highlight)
//
// Cursor moves take the reverse path: [match] scores the anchors of the page
// on display against the cursor and picks the one to highlight.
//
// # Main Packages
//
// [preview] - The render orchestrator. One controller per display: a single
// in-flight render, a single pending debounce timer, and tokens that keep
// superseded results off the screen.
//
// [compiler] - Renders a document snapshot in a per-document staging
// directory and builds the artifact. [compiler.Cached] reuses stored
// artifacts for unchanged documents. Export produces PDF, PNG and MIDI.
//
// [process] - Runs the compiler under a context, capturing output and
// killing the process tree on cancellation.
//
// [anchor] - Parses, formats and rewrites the textedit:// references the
// compiler embeds in SVG, and tags their elements with stable identities.
//
// [match] - Chooses the anchor for a cursor position, with hysteresis so the
// highlight does not flicker between neighbors.
//
// [cache] - Artifact store with file, Redis and MongoDB backends selected by
// URL.
//
// [config] - TOML settings with environment overrides and normalization.
//
// [diag] - Parses located compiler warnings and errors.
//
// [includes] - Follows \include directives and draws the include graph with
// Graphviz.
//
// # Testing
//
//	go test ./pkg/...              # All tests
//	go test ./pkg/preview/...      # Specific package
//	go test -run Example ./pkg/... # Examples only
//
// [preview]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/preview
// [compiler]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/compiler
// [compiler.Cached]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/compiler#Cached
// [process]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/process
// [anchor]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/anchor
// [match]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/match
// [cache]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/cache
// [config]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/config
// [diag]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/diag
// [includes]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/includes
// [observability]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/observability
// [errors]: https://pkg.go.dev/github.com/matzehuels/lilyview/pkg/errors
package pkg
