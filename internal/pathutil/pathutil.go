// Package pathutil provides glob classification, path normalization, and
// ancestor enumeration shared by the Seatbelt and Linux enforcement
// builders. Keeping these pure and table-driven makes the glob-to-regex
// translator and the ancestor-defense logic (§4.4 of the design) testable
// in isolation from either platform's profile format.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IsGlob reports whether a pattern contains glob metacharacters.
// Classification is syntactic only — it never touches the filesystem.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePath expands "~" and relative paths against the current
// working directory. It does not resolve symlinks: user-supplied rules
// are used as written, per the contract in §4.1 ("never for user-supplied
// rules").
func NormalizePath(pattern string) string {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()

	switch {
	case pattern == "~":
		return home
	case strings.HasPrefix(pattern, "~/"):
		return filepath.Join(home, pattern[2:])
	case strings.HasPrefix(pattern, "./"), strings.HasPrefix(pattern, "../"):
		abs, err := filepath.Abs(filepath.Join(cwd, pattern))
		if err != nil {
			return pattern
		}
		return abs
	case !filepath.IsAbs(pattern) && !IsGlob(pattern):
		abs, err := filepath.Abs(filepath.Join(cwd, pattern))
		if err != nil {
			return pattern
		}
		return abs
	default:
		return pattern
	}
}

// ResolveSymlinks resolves symlinks in p if p is below root. It is used
// only for caller-requested resolution of public roots (e.g. the
// implicit system path list), never for user-supplied path-patterns.
func ResolveSymlinks(p, root string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return p
	}
	return resolved
}

// Ancestors returns p and every ancestor directory up to and including
// "/", in order from deepest to shallowest. Stable for both files and
// directories: it operates purely on the string path, never stats the
// filesystem.
func Ancestors(p string) []string {
	p = filepath.Clean(p)
	result := []string{p}
	current := p
	for current != "/" && current != "." {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		result = append(result, parent)
		current = parent
	}
	if result[len(result)-1] != "/" {
		result = append(result, "/")
	}
	return result
}

// GlobAncestors returns the deepest literal directory prefix of a glob
// pattern, followed by its ancestors. For "/a/b/**/*.txt" this yields
// ["/a/b", "/a", "/"]. This feeds write-unlink deny generation: an
// attacker who can't read a file still might rename one of these
// directories to relocate it somewhere readable.
func GlobAncestors(pattern string) []string {
	pattern = filepath.Clean(pattern)
	parts := strings.Split(pattern, string(filepath.Separator))

	var literal []string
	for _, part := range parts {
		if IsGlob(part) {
			break
		}
		literal = append(literal, part)
	}

	prefix := strings.Join(literal, string(filepath.Separator))
	if prefix == "" {
		prefix = "/"
	}
	if !filepath.IsAbs(prefix) {
		prefix = "/" + prefix
	}

	// The result starts with the literal prefix itself (the deepest
	// non-glob directory), followed by each of its ancestors up to "/".
	// A pattern with no literal prefix yields only "/".
	if prefix == "/" {
		return []string{"/"}
	}
	return Ancestors(filepath.Dir(prefix + "/x"))
}

// GlobToRegex translates a glob pattern into an anchored POSIX-extended
// regex suitable for Seatbelt's `(regex ...)` predicate. `**` crosses
// directory boundaries, `*` does not, `?` matches one non-separator rune,
// and every other regex metacharacter is escaped. Order matters: `**/`
// must be substituted before `**`, which must be substituted before `*`.
func GlobToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch {
		case hasPrefixAt(runes, i, "**/"):
			b.WriteString("(.*/)?")
			i += 2 // consume "**/" (loop i++ consumes the final char)
		case hasPrefixAt(runes, i, "**"):
			b.WriteString(".*")
			i++
		case runes[i] == '*':
			b.WriteString("[^/]*")
		case runes[i] == '?':
			b.WriteString("[^/]")
		case strings.ContainsRune(`.+()|^$\{}`, runes[i]):
			b.WriteString("\\")
			b.WriteRune(runes[i])
		case runes[i] == '[':
			// Preserve character classes verbatim; bracket contents are
			// not escaped so ranges like [a-z] keep working.
			j := i
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j < len(runes) {
				b.WriteString(string(runes[i : j+1]))
				i = j
			} else {
				b.WriteString("\\[")
			}
		default:
			b.WriteRune(runes[i])
		}
	}

	b.WriteString("$")
	return b.String()
}

func hasPrefixAt(runes []rune, i int, prefix string) bool {
	p := []rune(prefix)
	if i+len(p) > len(runes) {
		return false
	}
	for k, r := range p {
		if runes[i+k] != r {
			return false
		}
	}
	return true
}

// ExpandGlobPatterns expands a set of path-patterns (literal or glob)
// against the filesystem, scoped to the current working directory for
// relative "**/..." patterns. Patterns that are already literal pass
// through unchanged (normalized). Non-matching globs contribute nothing.
func ExpandGlobPatterns(patterns []string) []string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	seen := make(map[string]bool)
	var expanded []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			expanded = append(expanded, p)
		}
	}

	for _, pattern := range patterns {
		normalized := NormalizePath(pattern)
		if !IsGlob(normalized) {
			add(normalized)
			continue
		}

		// "dir/**" collapses to "dir": the expansion is consumed by
		// callers that treat a directory match as covering its entire
		// subtree (e.g. a recursive bind mount), so walking is wasted work.
		if strings.HasSuffix(normalized, "/**") && !strings.Contains(strings.TrimSuffix(normalized, "/**"), "**") {
			dir := strings.TrimSuffix(normalized, "/**")
			if !strings.HasPrefix(dir, "/") {
				dir = filepath.Join(cwd, dir)
			}
			add(dir)
			continue
		}

		searchBase, searchPattern := splitSearchBase(normalized, cwd)
		fsys := os.DirFS(searchBase)
		matches, err := doublestar.Glob(fsys, searchPattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			add(filepath.Join(searchBase, m))
		}
	}

	return expanded
}

// splitSearchBase separates a normalized glob pattern into the
// non-glob directory to search from and the pattern relative to it.
func splitSearchBase(pattern, cwd string) (base, rel string) {
	if !strings.HasPrefix(pattern, "/") {
		return cwd, pattern
	}

	parts := strings.Split(pattern, "/")
	var literalParts []string
	for _, part := range parts {
		if IsGlob(part) {
			break
		}
		literalParts = append(literalParts, part)
	}

	base = strings.Join(literalParts, "/")
	if base == "" {
		base = "/"
	}
	rel = strings.TrimPrefix(pattern, base+"/")
	return base, rel
}
