package analyzer

import (
	"context"

	"github.com/replicatedhq/bundlecheck/internal/traces"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/dbquery"
	"github.com/replicatedhq/bundlecheck/pkg/extract"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/logs"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
)

// unit is one schedulable piece of extraction work. run never fails: problems
// with the input become facts. It reports excluded when it had nothing to do.
type unit struct {
	name     string
	spanType string
	run      func(ctx context.Context) (result []facts.Fact, excluded bool)
}

// planUnits builds the work list: one unit per extractor and matching artifact,
// one per log file and one per database or database archive.
func planUnits(ctx context.Context, idx *bundle.Index, p *policy.Policy, opts Options) []unit {
	units := []unit{}
	extractors := extract.Default(p)

	for _, a := range idx.Artifacts {
		for _, e := range extractors {
			if e.Matches(a) {
				units = append(units, extractUnit(e, a))
			}
		}
	}

	logAnalyzer := logs.NewAnalyzer(logs.Options{
		MaxExamples:  opts.MaxExamples,
		MaxTemplates: opts.MaxTemplates,
	})
	for _, a := range idx.ByKind(bundle.KindLog) {
		if logs.Matches(a) {
			units = append(units, logUnit(logAnalyzer, a))
		}
	}

	databases := []*bundle.Artifact{}
	for _, a := range idx.ByKind(bundle.KindDatabase) {
		if !a.InArchive() {
			databases = append(databases, a)
		}
	}
	archives := []*bundle.Artifact{}
	for _, a := range idx.ByKind(bundle.KindArchive) {
		if dbquery.IsDatabaseArchive(a) {
			archives = append(archives, a)
		}
	}
	if len(databases) == 0 && len(archives) == 0 {
		return units
	}

	adapter := dbquery.NewAdapter(ctx, idx)
	for _, a := range databases {
		units = append(units, databaseUnit(adapter, a))
	}
	for _, a := range archives {
		units = append(units, databaseArchiveUnit(adapter, idx, a))
	}
	return units
}

func extractUnit(e extract.Extractor, a *bundle.Artifact) unit {
	return unit{
		name:     a.RelPath,
		spanType: traces.TypeExtract + "/" + e.Name(),
		run: func(ctx context.Context) ([]facts.Fact, bool) {
			result, err := e.Extract(ctx, a)
			if err != nil {
				result = append(result, facts.NewExtractionWarning(a.RelPath, e.Name(), err))
			}
			return result, false
		},
	}
}

func logUnit(analyzer *logs.Analyzer, a *bundle.Artifact) unit {
	return unit{
		name:     a.RelPath,
		spanType: traces.TypeLogs,
		run: func(ctx context.Context) ([]facts.Fact, bool) {
			return analyzer.Facts(ctx, a), false
		},
	}
}

func databaseUnit(adapter *dbquery.Adapter, a *bundle.Artifact) unit {
	return unit{
		name:     a.RelPath,
		spanType: traces.TypeDatabase,
		run: func(ctx context.Context) ([]facts.Fact, bool) {
			return adapter.Project(ctx, a), false
		},
	}
}

func databaseArchiveUnit(adapter *dbquery.Adapter, idx *bundle.Index, a *bundle.Artifact) unit {
	return unit{
		name:     a.RelPath,
		spanType: traces.TypeDatabase,
		run: func(ctx context.Context) ([]facts.Fact, bool) {
			members, unavailable := adapter.ExpandArchive(ctx, idx, a)
			if len(unavailable) > 0 {
				return unavailable, false
			}
			if len(members) == 0 {
				return nil, true
			}
			result := []facts.Fact{}
			for _, m := range members {
				result = append(result, adapter.Project(ctx, m)...)
			}
			return result, false
		},
	}
}
