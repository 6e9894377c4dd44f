package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches table names against glob patterns. No patterns
// means everything matches.
type GlobFilter struct {
	tableGlobs []glob.Glob
}

// NewGlobFilter compiles the given patterns
func NewGlobFilter(tablePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		tableGlobs: make([]glob.Glob, 0, len(tablePatterns)),
	}
	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.tableGlobs = append(filter.tableGlobs, g)
	}
	return filter, nil
}

// Match reports whether the table passes the filter
func (f *GlobFilter) Match(table string) bool {
	if len(f.tableGlobs) == 0 {
		return true
	}
	for _, g := range f.tableGlobs {
		if g.Match(table) {
			return true
		}
	}
	return false
}
