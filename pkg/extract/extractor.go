// Package extract turns bundle artifacts into facts. Extractors are total: a
// malformed artifact yields whatever facts could be read plus an error, which
// the caller records as an ExtractionWarning fact instead of aborting.
package extract

import (
	"context"

	"github.com/gobwas/glob"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
)

// Extractor parses one family of artifacts. Implementations keep no mutable
// state, so one instance may run on many artifacts concurrently.
type Extractor interface {
	Name() string
	Subsystem() facts.Subsystem
	Matches(a *bundle.Artifact) bool
	Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error)
}

// Default returns every built-in extractor.
func Default(p *policy.Policy) []Extractor {
	return []Extractor{
		&ClusterVersionExtractor{policy: p},
		&ClusterOperatorsExtractor{policy: p},
		&NodesExtractor{policy: p},
		&PodsExtractor{policy: p},
		&EventsExtractor{},
		&StorageExtractor{policy: p},
		&NetworkExtractor{},
		&EtcdExtractor{},
		&OLMExtractor{policy: p},
	}
}

// pathMatcher matches slash separated relative paths; "*" stays within one segment.
type pathMatcher []glob.Glob

func newPathMatcher(patterns ...string) pathMatcher {
	m := pathMatcher{}
	for _, p := range patterns {
		m = append(m, glob.MustCompile(p, '/'))
	}
	return m
}

func (m pathMatcher) match(a *bundle.Artifact) bool {
	if a.InArchive() {
		return false
	}
	for _, g := range m {
		if g.Match(a.RelPath) {
			return true
		}
	}
	return false
}
