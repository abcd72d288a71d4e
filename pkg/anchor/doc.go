// Package anchor parses and rewrites the position references a score
// compiler embeds in its SVG output when point-and-click is enabled.
//
// A reference has the wire form
//
//	textedit://<percent-encoded path>:<line>:<column>[:<endColumn>]
//
// All integers are 1-based decimals. The numeric suffix is parsed from the
// end of the reference because paths may themselves contain colons (drive
// letters, odd directory names).
//
// # Parsing
//
// [Parse] decodes a single reference into a [Target]; [Format] is its
// inverse. A [Target] without an end column is a point anchor: its end
// equals its start column.
//
// # Rewriting
//
// The compiler is run against a staging copy of the document, so the
// references it emits point at the staging file. [Rewrite] re-targets every
// reference whose path matches the staging path (case-insensitive,
// separator-normalized, see [SamePath]) to the user-visible source path and
// leaves all other bytes untouched.
//
// # Extraction
//
// [Annotate] assigns every element carrying a reference a stable
// data-anchor identity and returns the [Anchor] set for one page.
// [Sanitize] strips scripts and event handlers from compiler output before
// it is handed to a display surface.
package anchor
