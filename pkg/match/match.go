// Package match decides which path patterns apply to a request path.
//
// Patterns are globs with "/" as the separator, so "*" stays inside one path
// segment while "**" crosses segments. Two forms are special:
//   - "*" matches every path, including the empty one.
//   - "!pattern" matches exactly when pattern does not.
package match

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Any is the pattern that matches every path.
const Any = "*"

// IsMatch reports whether path matches pattern.
// A pattern that fails to compile never matches.
func IsMatch(path, pattern string) bool {
	if pattern == Any {
		return true
	}
	if rest, ok := strings.CutPrefix(pattern, "!"); ok {
		return !IsMatch(path, rest)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return false
	}
	return g.Match(path)
}

// FindMatching returns the most specific pattern that matches path, where
// specificity is the pattern length. Ties keep the order of patterns.
// It returns false if no pattern matches.
func FindMatching(path string, patterns []string) (string, bool) {
	sorted := make([]string, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	for _, pattern := range sorted {
		if IsMatch(path, pattern) {
			return pattern, true
		}
	}
	return "", false
}
