package anchor

import (
	"fmt"
	"regexp"
	"strings"
)

// ElementAttr is the attribute Annotate adds to every element that owns a
// parsed reference.
const ElementAttr = "data-anchor"

// linkTagRe matches a start tag carrying an href or xlink:href attribute
// whose value is a position reference. The attribute name must follow
// whitespace so names like data-href do not count.
var linkTagRe = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9:_-]*)(\s(?:[^>]*?\s)?(?:xlink:)?href\s*=\s*["'](` +
	regexp.QuoteMeta(Scheme) + `[^"']*)["'][^>]*)>`)

// Annotate tags every element in a page's markup that carries a position
// reference with a data-anchor identity of the form p<page>-a<n> and returns
// the parsed anchors in document order. Elements whose reference does not
// parse are left untouched and excluded from the result.
func Annotate(markup string, page int) (string, []Anchor) {
	var anchors []Anchor
	out := linkTagRe.ReplaceAllStringFunc(markup, func(tag string) string {
		m := linkTagRe.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}
		ref := m[3]
		t, ok := Parse(ref)
		if !ok {
			return tag
		}
		id := fmt.Sprintf("p%d-a%d", page, len(anchors))
		anchors = append(anchors, Anchor{Ref: ref, ElementID: id, Target: t})
		return "<" + m[1] + " " + ElementAttr + `="` + id + `"` + m[2] + ">"
	})
	return out, anchors
}

var (
	scriptRe        = regexp.MustCompile(`(?is)<script\b.*?</script\s*>|<script\b[^>]*/>`)
	foreignObjectRe = regexp.MustCompile(`(?is)<foreignObject\b.*?</foreignObject\s*>|<foreignObject\b[^>]*/>`)
	eventAttrRe     = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsHrefRe        = regexp.MustCompile(`(?i)((?:xlink:)?href\s*=\s*["'])\s*javascript:[^"']*`)
	prologRe        = regexp.MustCompile(`(?s)<\?xml.*?\?>|<!DOCTYPE[^>]*>`)
)

// Sanitize removes content that must not reach a display surface: script
// and foreignObject elements, on* event handler attributes, javascript:
// links, and the XML prolog/doctype so pages can be inlined into HTML.
func Sanitize(markup string) string {
	markup = prologRe.ReplaceAllString(markup, "")
	markup = scriptRe.ReplaceAllString(markup, "")
	markup = foreignObjectRe.ReplaceAllString(markup, "")
	markup = eventAttrRe.ReplaceAllString(markup, "")
	markup = jsHrefRe.ReplaceAllString(markup, "${1}#")
	return strings.TrimSpace(markup)
}
