package infra

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// noiseExtensions are suffixes never forwarded to the detector.
var noiseExtensions = map[string]bool{
	".log":   true,
	".tmp":   true,
	".cache": true,
}

// NoiseFilter drops paths that would only add noise to the event window.
type NoiseFilter struct {
	excludes []glob.Glob
}

// NewNoiseFilter compiles extra exclude globs on top of the built-in rules.
// Globs use '/' as separator, so "**" crosses directories and "*" does not.
func NewNoiseFilter(excludePatterns []string) (*NoiseFilter, error) {
	excludes := make([]glob.Glob, 0, len(excludePatterns))
	for _, p := range excludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		excludes = append(excludes, g)
	}
	return &NoiseFilter{excludes: excludes}, nil
}

// Allow reports whether path should reach the detector.
// Hidden segments and .log/.tmp/.cache files are always dropped.
func (f *NoiseFilter) Allow(path string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return false
		}
	}

	if noiseExtensions[filepath.Ext(clean)] {
		return false
	}

	if f == nil {
		return true
	}
	base := filepath.Base(clean)
	for _, g := range f.excludes {
		if g.Match(clean) || g.Match(base) {
			return false
		}
	}
	return true
}
