// Package includes resolves the \include graph of a score.
//
// A score may pull in other files with \include "path". Paths are resolved
// against the including file's directory first, then against the configured
// include paths, mirroring the compiler's -I search. The resulting graph
// tells the watcher which files to observe and can be drawn with Graphviz.
package includes

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Graph is the include graph rooted at one score.
type Graph struct {
	Root string
	// Edges maps an including file to the files it includes, in source order.
	Edges map[string][]string
	// Missing lists include targets that could not be resolved.
	Missing []string
}

var (
	blockCommentRe = regexp.MustCompile(`(?s)%\{.*?%\}`)
	includeRe      = regexp.MustCompile(`\\include\s+"([^"]+)"`)
)

// Scan reads root and follows its includes recursively. Cycles are cut.
// Only an unreadable root is an error.
func Scan(root string, includePaths []string) (*Graph, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(root)
	if err != nil {
		return nil, err
	}
	return ScanSource(root, string(src), includePaths), nil
}

// ScanSource is Scan for a root whose current text is src, which may differ
// from what is on disk (an unsaved editor buffer). root should be absolute;
// it anchors relative includes.
func ScanSource(root, src string, includePaths []string) *Graph {
	g := &Graph{Root: root, Edges: make(map[string][]string)}
	seen := map[string]bool{root: true}
	queue := []pending{{path: root, src: src}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, target := range Directives(cur.src) {
			resolved, ok := resolve(target, filepath.Dir(cur.path), includePaths)
			if !ok {
				if !slices.Contains(g.Missing, target) {
					g.Missing = append(g.Missing, target)
				}
				continue
			}
			g.Edges[cur.path] = append(g.Edges[cur.path], resolved)
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			data, err := os.ReadFile(resolved)
			if err != nil {
				continue
			}
			queue = append(queue, pending{path: resolved, src: string(data)})
		}
	}
	return g
}

type pending struct {
	path string
	src  string
}

// Directives returns the targets of every \include in src, skipping
// commented-out ones.
func Directives(src string) []string {
	src = blockCommentRe.ReplaceAllString(src, "")
	var out []string
	for _, line := range strings.Split(src, "\n") {
		line = stripLineComment(line)
		for _, m := range includeRe.FindAllStringSubmatch(line, -1) {
			out = append(out, m[1])
		}
	}
	return out
}

// stripLineComment cuts line at the first % outside a string literal.
func stripLineComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case '%':
			if !inString {
				return line[:i]
			}
		}
	}
	return line
}

func resolve(target, dir string, includePaths []string) (string, bool) {
	if filepath.IsAbs(target) {
		return target, fileExists(target)
	}
	for _, base := range append([]string{dir}, includePaths...) {
		p := filepath.Join(base, target)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Files returns the root and every resolved include, sorted, without
// duplicates.
func (g *Graph) Files() []string {
	set := map[string]bool{g.Root: true}
	for from, tos := range g.Edges {
		set[from] = true
		for _, to := range tos {
			set[to] = true
		}
	}
	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	slices.Sort(files)
	return files
}
