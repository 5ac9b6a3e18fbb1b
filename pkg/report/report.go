// Package report projects a correlation result into the document handed to the
// presentation layer. It makes no formatting decisions.
package report

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/correlate"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
)

// PartialRun is set when the run deadline expired before every work unit finished.
type PartialRun struct {
	Reason    string `json:"reason"`
	Completed int    `json:"completed"`
	Abandoned int    `json:"abandoned"`
}

// Findings groups findings by severity.
type Findings struct {
	Critical []correlate.Finding `json:"critical"`
	Warning  []correlate.Finding `json:"warning"`
	Info     []correlate.Finding `json:"info"`
}

type SubsystemSummary struct {
	Subsystem      facts.Subsystem `json:"subsystem"`
	Facts          int             `json:"facts"`
	UnhealthyFacts int             `json:"unhealthyFacts"`
	Critical       int             `json:"critical"`
	Warning        int             `json:"warning"`
	Info           int             `json:"info"`
	Resolved       int             `json:"resolved"`
}

type Report struct {
	SchemaVersion string `json:"schemaVersion"`
	LayoutVersion string `json:"layoutVersion"`
	Bundle        string `json:"bundle"`
	// Scope lists the subsystems included. Empty means all.
	Scope        []facts.Subsystem `json:"scope,omitempty"`
	ProblemsOnly bool              `json:"problemsOnly,omitempty"`
	PartialRun   *PartialRun       `json:"partialRun,omitempty"`
	// MissingDirectories lists optional bundle directories that were absent.
	MissingDirectories []string           `json:"missingDirectories,omitempty"`
	Summary            []SubsystemSummary `json:"summary"`
	Findings           Findings           `json:"findings"`
	Facts              []facts.Fact       `json:"facts,omitempty"`
}

type SynthesizeOptions struct {
	Bundle             string
	LayoutVersion      string
	Scope              []facts.Subsystem
	ProblemsOnly       bool
	IncludeFacts       bool
	PartialRun         *PartialRun
	MissingDirectories []string
}

// Synthesize builds a report. It never modifies result or all, so several
// reports with different scopes can be built from one correlation result.
func Synthesize(result *correlate.Result, all []facts.Fact, opts SynthesizeOptions) *Report {
	scope := facts.NewScope(opts.Scope)

	r := &Report{
		SchemaVersion:      constants.REPORT_SCHEMA_VERSION,
		LayoutVersion:      opts.LayoutVersion,
		Bundle:             opts.Bundle,
		Scope:              opts.Scope,
		ProblemsOnly:       opts.ProblemsOnly,
		PartialRun:         opts.PartialRun,
		MissingDirectories: opts.MissingDirectories,
		Findings: Findings{
			Critical: []correlate.Finding{},
			Warning:  []correlate.Finding{},
			Info:     []correlate.Finding{},
		},
	}
	if r.LayoutVersion == "" {
		r.LayoutVersion = constants.LAYOUT_VERSION
	}

	summaries := map[facts.Subsystem]*SubsystemSummary{}
	for _, sub := range facts.AllSubsystems {
		if scope.Includes(sub) {
			summaries[sub] = &SubsystemSummary{Subsystem: sub}
		}
	}

	for _, f := range all {
		summary, ok := summaries[f.Subsystem]
		if !ok {
			continue
		}
		summary.Facts++
		if f.IsProblem() {
			summary.UnhealthyFacts++
		}
		if !opts.IncludeFacts || (opts.ProblemsOnly && !f.IsProblem()) {
			continue
		}
		r.Facts = append(r.Facts, f)
	}
	if r.Facts != nil {
		facts.SortFacts(r.Facts)
	}

	var findings []correlate.Finding
	if result != nil {
		findings = result.Findings
	}
	for _, f := range findings {
		summary, ok := summaries[f.Subsystem]
		if !ok {
			continue
		}
		switch f.Severity {
		case policy.SeverityCritical:
			summary.Critical++
		case policy.SeverityWarning:
			summary.Warning++
		default:
			summary.Info++
		}
		if f.Resolved {
			summary.Resolved++
		}

		if opts.ProblemsOnly && (f.Resolved || f.Severity == policy.SeverityInfo) {
			continue
		}
		f = copyFinding(f)
		switch f.Severity {
		case policy.SeverityCritical:
			r.Findings.Critical = append(r.Findings.Critical, f)
		case policy.SeverityWarning:
			r.Findings.Warning = append(r.Findings.Warning, f)
		default:
			r.Findings.Info = append(r.Findings.Info, f)
		}
	}

	for _, sub := range facts.AllSubsystems {
		if summary, ok := summaries[sub]; ok {
			r.Summary = append(r.Summary, *summary)
		}
	}
	return r
}

// copyFinding detaches a finding's slices from the correlation result.
func copyFinding(f correlate.Finding) correlate.Finding {
	f.FactRefs = append([]facts.Key{}, f.FactRefs...)
	if f.Related != nil {
		f.Related = append([]string{}, f.Related...)
	}
	return f
}

// AllFindings returns the findings of every severity, most severe first.
func (r *Report) AllFindings() []correlate.Finding {
	all := make([]correlate.Finding, 0, len(r.Findings.Critical)+len(r.Findings.Warning)+len(r.Findings.Info))
	all = append(all, r.Findings.Critical...)
	all = append(all, r.Findings.Warning...)
	all = append(all, r.Findings.Info...)
	return all
}

// JSON serializes the report. The output is stable for a given report.
func (r *Report) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal report")
	}
	return b, nil
}
