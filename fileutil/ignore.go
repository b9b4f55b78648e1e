package fileutil

import (
	"path/filepath"
	"strings"
)

// Patterns is a list of glob patterns identifying ignorable files and
// directories. A nil Patterns ignores nothing, which is how callers express
// an "include everything" comparison. The pattern set is plain data passed
// into every traversal; there is no ambient global.
type Patterns []string

// DefaultIgnores returns the standard ignorable set: VCS metadata, build
// caches, editor swap files, and OS metadata files.
func DefaultIgnores() Patterns {
	return Patterns{
		"*~",
		".git*",
		".env",
		".venv",
		"*.bup",
		"*.swp",
		"*.temp*",
		"*.tmp",
		"venv*",
		"MANIFEST*",
		"__pycache__",
		"Thumbs.db",
		".DS_Store",
	}
}

// Match reports whether any component of path is ignorable: hidden (dot
// prefixed) or matching one of the patterns. Matching is per path segment
// so a pattern like ".git*" excludes an entire subtree.
func (p Patterns) Match(path string) bool {
	if p == nil {
		return false
	}
	path = strings.ReplaceAll(path, "\\", "/")
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if p.MatchName(seg) {
			return true
		}
	}
	return false
}

// MatchName reports whether a single file name is ignorable.
func (p Patterns) MatchName(name string) bool {
	if p == nil {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pat := range p {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
