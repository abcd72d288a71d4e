package anchor

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Scheme is the prefix of every embedded position reference.
const Scheme = "textedit://"

// Target is a decoded position reference.
type Target struct {
	Path      string // source file path, percent-decoded
	Line      int    // 1-based line
	Column    int    // 1-based start column
	EndColumn int    // 1-based end column; meaningful only when HasEnd is set
	HasEnd    bool
}

// End returns the inclusive end column. Point anchors end at their start.
func (t Target) End() int {
	if t.HasEnd {
		return t.EndColumn
	}
	return t.Column
}

// Anchor is a reference extracted from rendered markup together with the
// identity of the element that carries it.
type Anchor struct {
	Ref       string // raw reference as it appears in the markup
	ElementID string // value of the owning element's data-anchor attribute
	Target
}

// Parse decodes ref. It reports false when the scheme is missing, fewer
// than three colon-separated segments remain, the trailing line/column
// fields are not purely numeric, or the path is empty.
func Parse(ref string) (Target, bool) {
	rest, ok := strings.CutPrefix(ref, Scheme)
	if !ok {
		return Target{}, false
	}
	decoded, err := url.PathUnescape(rest)
	if err != nil {
		return Target{}, false
	}

	segs := strings.Split(decoded, ":")
	n := len(segs)
	if n < 3 || !isDigits(segs[n-1]) || !isDigits(segs[n-2]) {
		return Target{}, false
	}

	var (
		t       Target
		numbers []string
		head    []string
	)
	if n >= 4 && isDigits(segs[n-3]) {
		numbers, head = segs[n-3:], segs[:n-3]
		t.HasEnd = true
	} else {
		numbers, head = segs[n-2:], segs[:n-2]
	}

	ints := make([]int, len(numbers))
	for i, s := range numbers {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Target{}, false
		}
		ints[i] = v
	}
	t.Line, t.Column = ints[0], ints[1]
	if t.HasEnd {
		t.EndColumn = ints[2]
	}

	t.Path = strings.Join(head, ":")
	if t.Path == "" {
		return Target{}, false
	}
	return t, true
}

// Format encodes t as a reference accepted by Parse.
func Format(t Target) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(encodePath(t.Path))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(t.Line))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(t.Column))
	if t.HasEnd {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(t.EndColumn))
	}
	return b.String()
}

// SamePath reports whether a and b name the same file under
// case-insensitive comparison with '\' and '/' treated alike.
func SamePath(a, b string) bool {
	return strings.EqualFold(normalizePath(a), normalizePath(b))
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" {
		return p
	}
	return path.Clean(p)
}

func encodePath(p string) string {
	u := url.URL{Path: p}
	return u.EscapedPath()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
