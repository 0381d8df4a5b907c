package hooks

import (
	"fmt"

	"github.com/gobwas/glob"
)

// RemoteFunctionMatcher decides whether a called function name is one of
// the configured remote_functions patterns (e.g. "lo_create", "lo_*"),
// which must be executed on every node rather than replicated as data.
type RemoteFunctionMatcher struct {
	globs []glob.Glob
}

// NewRemoteFunctionMatcher compiles the configured patterns.
func NewRemoteFunctionMatcher(patterns []string) (*RemoteFunctionMatcher, error) {
	m := &RemoteFunctionMatcher{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("hooks: compile remote function pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Matches reports whether name matches any configured pattern.
func (m *RemoteFunctionMatcher) Matches(name string) bool {
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
