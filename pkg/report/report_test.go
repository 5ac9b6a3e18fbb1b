package report

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/replicatedhq/bundlecheck/pkg/correlate"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFacts() []facts.Fact {
	return []facts.Fact{
		{
			Subsystem:  facts.SubsystemNodes,
			Kind:       facts.KindNodeInfo,
			Entity:     facts.Entity{Name: "master-0", Node: "master-0"},
			Fields:     map[string]string{"controlPlane": "true", "unschedulable": "true"},
			Provenance: facts.Provenance{Path: "cluster-scoped-resources/core/nodes/master-0.yaml"},
		},
		{
			Subsystem:  facts.SubsystemNodes,
			Kind:       facts.KindNodeCondition,
			Entity:     facts.Entity{Name: "master-0", Node: "master-0", Qualifier: "Ready"},
			Fields:     map[string]string{"type": "Ready", "status": "False", "controlPlane": "true"},
			Healthy:    facts.HealthFlag(false),
			Provenance: facts.Provenance{Path: "cluster-scoped-resources/core/nodes/master-0.yaml"},
		},
		{
			Subsystem:  facts.SubsystemPods,
			Kind:       facts.KindPodState,
			Entity:     facts.Entity{Namespace: "app", Name: "web-0", Node: "master-0"},
			Fields:     map[string]string{"phase": "Running", "reason": "NotReady", "ready": "0/1", "node": "master-0"},
			Healthy:    facts.HealthFlag(false),
			Provenance: facts.Provenance{Path: "namespaces/app/core/pods.yaml"},
		},
		{
			Subsystem:  facts.SubsystemPods,
			Kind:       facts.KindPodState,
			Entity:     facts.Entity{Namespace: "app", Name: "web-1", Node: "worker-0"},
			Fields:     map[string]string{"phase": "Running", "reason": "Running", "ready": "1/1", "node": "worker-0"},
			Healthy:    facts.HealthFlag(true),
			Provenance: facts.Provenance{Path: "namespaces/app/core/pods.yaml"},
		},
		facts.NewExtractionWarning("namespaces/app/core/events.yaml", "events", assert.AnError),
	}
}

func correlated(t *testing.T) (*correlate.Result, []facts.Fact) {
	all := testFacts()
	result := correlate.NewEngine(policy.Default()).Run(all)
	require.NotEmpty(t, result.Findings)
	return result, all
}

func TestSynthesizeGroupsBySeverity(t *testing.T) {
	result, all := correlated(t)
	r := Synthesize(result, all, SynthesizeOptions{Bundle: "must-gather"})

	assert.Equal(t, "bundlecheck.report/v1", r.SchemaVersion)
	assert.Equal(t, "must-gather/v1", r.LayoutVersion)
	require.Len(t, r.Findings.Critical, 1)
	assert.Equal(t, "Node master-0 is not ready", r.Findings.Critical[0].Title)
	require.Len(t, r.Findings.Warning, 1)
	assert.Equal(t, "Pod app/web-0 is NotReady", r.Findings.Warning[0].Title)
	assert.Len(t, r.Findings.Info, 2)
	assert.Len(t, r.AllFindings(), len(result.Findings))
	assert.Nil(t, r.Facts)

	summaries := map[facts.Subsystem]SubsystemSummary{}
	for _, s := range r.Summary {
		summaries[s.Subsystem] = s
	}
	assert.Len(t, r.Summary, len(facts.AllSubsystems))
	assert.Equal(t, SubsystemSummary{Subsystem: facts.SubsystemNodes, Facts: 2, UnhealthyFacts: 1, Critical: 1, Info: 1}, summaries[facts.SubsystemNodes])
	assert.Equal(t, SubsystemSummary{Subsystem: facts.SubsystemPods, Facts: 2, UnhealthyFacts: 1, Warning: 1}, summaries[facts.SubsystemPods])
	assert.Equal(t, SubsystemSummary{Subsystem: facts.SubsystemBundle, Facts: 1, UnhealthyFacts: 1, Info: 1}, summaries[facts.SubsystemBundle])
}

func TestScopedReportIsSubsetOfUnscoped(t *testing.T) {
	result, all := correlated(t)
	before, err := json.Marshal(result)
	require.NoError(t, err)

	unscoped := Synthesize(result, all, SynthesizeOptions{})
	scoped := Synthesize(result, all, SynthesizeOptions{Scope: []facts.Subsystem{facts.SubsystemPods}})

	after, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	byID := map[string]correlate.Finding{}
	for _, f := range unscoped.AllFindings() {
		byID[f.ID] = f
	}
	require.NotEmpty(t, scoped.AllFindings())
	for _, f := range scoped.AllFindings() {
		assert.Equal(t, facts.SubsystemPods, f.Subsystem)
		want, ok := byID[f.ID]
		require.True(t, ok, "scoped finding %s missing from unscoped report", f.ID)
		assert.Empty(t, cmp.Diff(want, f))
	}

	require.Len(t, scoped.Summary, 1)
	for _, s := range unscoped.Summary {
		if s.Subsystem == facts.SubsystemPods {
			assert.Equal(t, s, scoped.Summary[0])
		}
	}

	again := Synthesize(result, all, SynthesizeOptions{})
	assert.Empty(t, cmp.Diff(unscoped, again))
}

func TestProblemsOnly(t *testing.T) {
	result, all := correlated(t)
	full := Synthesize(result, all, SynthesizeOptions{IncludeFacts: true})
	problems := Synthesize(result, all, SynthesizeOptions{IncludeFacts: true, ProblemsOnly: true})

	assert.Len(t, full.Facts, len(all))
	require.Len(t, problems.Facts, 3)
	for _, f := range problems.Facts {
		assert.True(t, f.IsProblem())
	}
	assert.Empty(t, problems.Findings.Info)
	assert.Len(t, problems.Findings.Critical, 1)
	assert.Len(t, problems.Findings.Warning, 1)
	assert.Equal(t, full.Summary, problems.Summary)
}

func TestJSONIsStable(t *testing.T) {
	result, all := correlated(t)
	first, err := Synthesize(result, all, SynthesizeOptions{IncludeFacts: true}).JSON()
	require.NoError(t, err)
	second, err := Synthesize(result, all, SynthesizeOptions{IncludeFacts: true}).JSON()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first, &decoded))
	for _, field := range []string{"schemaVersion", "layoutVersion", "bundle", "summary", "findings", "facts"} {
		assert.Contains(t, decoded, field)
	}
	assert.NotContains(t, decoded, "partialRun")
}
