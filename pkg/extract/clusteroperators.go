package extract

import (
	"context"
	"strconv"

	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var clusterOperatorPaths = newPathMatcher(
	"cluster-scoped-resources/config.openshift.io/clusteroperators/*.{yaml,yml,json}",
	"cluster-scoped-resources/config.openshift.io/clusteroperators.{yaml,yml,json}",
)

type ClusterOperatorsExtractor struct {
	policy *policy.Policy
}

func (e *ClusterOperatorsExtractor) Name() string               { return "clusteroperators" }
func (e *ClusterOperatorsExtractor) Subsystem() facts.Subsystem { return facts.SubsystemOperators }

func (e *ClusterOperatorsExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && clusterOperatorPaths.match(a)
}

func (e *ClusterOperatorsExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "ClusterOperator") {
			continue
		}
		entity := facts.Entity{Name: obj.GetName()}
		conditions := statusConditions(obj)

		f := facts.Fact{
			Subsystem: facts.SubsystemOperators,
			Kind:      facts.KindOperatorStatus,
			Entity:    entity,
			Fields: map[string]string{
				"controlPlane": strconv.FormatBool(e.policy.IsControlPlaneOperator(obj.GetName())),
			},
			Healthy:    conditionsHealthy(e.policy, facts.KindOperatorCondition, conditions),
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		for _, c := range conditions {
			switch c.Type {
			case "Available", "Degraded", "Progressing", "Upgradeable":
				f.Fields[lowerFirst(c.Type)] = c.Status
			}
		}
		setIf(f.Fields, "version", operatorVersion(obj))
		result = append(result, f)

		for _, c := range conditions {
			result = append(result, conditionFact(e.policy, facts.SubsystemOperators, facts.KindOperatorCondition, entity, c, a.RelPath))
		}
	}

	return result, err
}

// operatorVersion returns the "operator" entry of status.versions, which
// tracks the release payload the operator reports having reached.
func operatorVersion(obj *unstructured.Unstructured) string {
	versions, _, _ := unstructured.NestedSlice(obj.Object, "status", "versions")
	for _, item := range versions {
		v, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if stringValue(v["name"]) == "operator" {
			return stringValue(v["version"])
		}
	}
	return ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
