package anchor

import "strings"

// Rewrite replaces every reference in markup whose path matches fromPath
// with an equivalent reference pointing at toPath. Line, column and end
// column are preserved. References to other files, and references that do
// not parse, are copied unchanged byte for byte.
//
// Rewrite is idempotent for a fixed toPath.
func Rewrite(markup, fromPath, toPath string) string {
	if !strings.Contains(markup, Scheme) {
		return markup
	}

	var b strings.Builder
	b.Grow(len(markup))

	rest := markup
	for {
		i := strings.Index(rest, Scheme)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i:]

		end := refEnd(rest)
		ref := rest[:end]
		rest = rest[end:]

		t, ok := Parse(ref)
		if !ok || !SamePath(t.Path, fromPath) {
			b.WriteString(ref)
			continue
		}
		t.Path = toPath
		b.WriteString(Format(t))
	}
	return b.String()
}

// Refs returns every reference in markup in document order, including ones
// that do not parse.
func Refs(markup string) []string {
	var refs []string
	rest := markup
	for {
		i := strings.Index(rest, Scheme)
		if i < 0 {
			return refs
		}
		rest = rest[i:]
		end := refEnd(rest)
		refs = append(refs, rest[:end])
		rest = rest[end:]
	}
}

// refEnd returns the length of the reference at the start of s. A reference
// ends at the first quote, angle bracket, parenthesis or whitespace.
func refEnd(s string) int {
	for i := len(Scheme); i < len(s); i++ {
		switch s[i] {
		case '"', '\'', '<', '>', ')', ' ', '\t', '\n', '\r':
			return i
		}
	}
	return len(s)
}
