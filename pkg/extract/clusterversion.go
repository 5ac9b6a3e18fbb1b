package extract

import (
	"context"
	"strconv"

	"github.com/blang/semver/v4"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var clusterVersionPaths = newPathMatcher(
	"cluster-scoped-resources/config.openshift.io/clusterversions/*.{yaml,yml,json}",
	"cluster-scoped-resources/config.openshift.io/clusterversions.{yaml,yml,json}",
)

// ClusterVersionExtractor reads the ClusterVersion resource: the desired
// release, the update history and the version conditions.
type ClusterVersionExtractor struct {
	policy *policy.Policy
}

func (e *ClusterVersionExtractor) Name() string               { return "clusterversion" }
func (e *ClusterVersionExtractor) Subsystem() facts.Subsystem { return facts.SubsystemVersion }

func (e *ClusterVersionExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && clusterVersionPaths.match(a)
}

func (e *ClusterVersionExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "ClusterVersion") {
			continue
		}
		entity := facts.Entity{Name: obj.GetName()}
		conditions := statusConditions(obj)

		f := facts.Fact{
			Subsystem:  facts.SubsystemVersion,
			Kind:       facts.KindClusterVersion,
			Entity:     entity,
			Fields:     map[string]string{},
			Healthy:    conditionsHealthy(e.policy, facts.KindVersionCondition, conditions),
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		setIf(f.Fields, "desired", nestedString(obj, "status", "desired", "version"))
		setIf(f.Fields, "channel", nestedString(obj, "spec", "channel"))
		setIf(f.Fields, "clusterID", nestedString(obj, "spec", "clusterID"))
		addHistoryFields(f.Fields, obj)
		if v, err := semver.ParseTolerant(f.Fields["desired"]); err == nil {
			f.Fields["desiredMinor"] = strconv.FormatUint(v.Major, 10) + "." + strconv.FormatUint(v.Minor, 10)
		}
		result = append(result, f)

		for _, c := range conditions {
			result = append(result, conditionFact(e.policy, facts.SubsystemVersion, facts.KindVersionCondition, entity, c, a.RelPath))
		}
	}

	return result, err
}

// addHistoryFields records the newest history entry and the last completed
// version. History is ordered newest first.
func addHistoryFields(fields map[string]string, obj *unstructured.Unstructured) {
	history, _, _ := unstructured.NestedSlice(obj.Object, "status", "history")
	fields["historyCount"] = strconv.Itoa(len(history))
	for i, item := range history {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if i == 0 {
			setIf(fields, "updateState", stringValue(entry["state"]))
			setIf(fields, "updateVersion", stringValue(entry["version"]))
			setIf(fields, "updateStarted", stringValue(entry["startedTime"]))
			setIf(fields, "updateCompleted", stringValue(entry["completionTime"]))
		}
		if stringValue(entry["state"]) == "Completed" && fields["current"] == "" {
			setIf(fields, "current", stringValue(entry["version"]))
		}
	}
}
