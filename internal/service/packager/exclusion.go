package packager

import (
	"path"
	"strings"
)

// DefaultExclusions are the patterns removed from every deployable file set:
// version-control metadata, dependency and bytecode caches, editor droppings,
// logs, prior archives and secret material.
func DefaultExclusions() []string {
	return []string{
		".git",
		".svn",
		"__pycache__",
		"node_modules",
		"venv",
		".venv",
		".idea",
		".vscode",
		".DS_Store",
		".env",
		"*.pyc",
		"*.pyo",
		"*.log",
		"*.swp",
		"*.swo",
		"*.pem",
		"*.key",
		"*.tar.gz",
		"*.tgz",
	}
}

// ExclusionSet decides which paths are left out of the archive.
// Patterns are flat name globs matched against every element of a relative
// path, so a directory pattern prunes whole subtrees at any depth.
type ExclusionSet struct {
	// patterns holds the glob patterns evaluated against path elements.
	patterns []string
}

// NewExclusionSet builds a set from the provided patterns.
func NewExclusionSet(patterns ...string) *ExclusionSet {
	cleaned := make([]string, 0, len(patterns))

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern != "" {
			cleaned = append(cleaned, pattern)
		}
	}

	return &ExclusionSet{patterns: cleaned}
}

// Match reports whether the relative path hits any exclusion pattern.
// Both the full relative path and each of its elements are tested, matching
// how shell tar --exclude treats bare names and extension globs.
func (s *ExclusionSet) Match(relPath string) bool {
	relPath = path.Clean(strings.ReplaceAll(relPath, "\\", "/"))
	if relPath == "." {
		return false
	}

	elements := strings.Split(relPath, "/")

	for _, pattern := range s.patterns {
		if matched, err := path.Match(pattern, relPath); err == nil && matched {
			return true
		}

		for _, element := range elements {
			if matched, err := path.Match(pattern, element); err == nil && matched {
				return true
			}
		}
	}

	return false
}

// Patterns returns a copy of the configured patterns, for logging.
func (s *ExclusionSet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}
