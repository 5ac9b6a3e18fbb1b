package extract

import (
	"context"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var olmPaths = newPathMatcher(
	"namespaces/*/operators.coreos.com/clusterserviceversions/*.{yaml,yml,json}",
	"namespaces/*/operators.coreos.com/subscriptions/*.{yaml,yml,json}",
	"namespaces/*/operators.coreos.com/installplans/*.{yaml,yml,json}",
)

// OLMExtractor reads Operator Lifecycle Manager resources.
type OLMExtractor struct {
	policy *policy.Policy
}

func (e *OLMExtractor) Name() string               { return "olm" }
func (e *OLMExtractor) Subsystem() facts.Subsystem { return facts.SubsystemOLM }

func (e *OLMExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && olmPaths.match(a)
}

func (e *OLMExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)

	result := []facts.Fact{}
	for _, obj := range objects {
		switch obj.GetKind() {
		case "ClusterServiceVersion":
			result = append(result, e.csvFact(obj, a.RelPath))
		case "Subscription":
			result = append(result, e.subscriptionFact(obj, a.RelPath))
		case "InstallPlan":
			result = append(result, e.installPlanFact(obj, a.RelPath))
		}
	}

	return result, err
}

func (e *OLMExtractor) csvFact(obj *unstructured.Unstructured, path string) facts.Fact {
	phase := nestedString(obj, "status", "phase")
	f := facts.Fact{
		Subsystem: facts.SubsystemOLM,
		Kind:      facts.KindCSVStatus,
		Entity:    facts.Entity{Namespace: obj.GetNamespace(), Name: obj.GetName()},
		Fields: map[string]string{
			"phase": phase,
		},
		Healthy:    facts.HealthFlag(e.policy.PhaseHealthy(facts.KindCSVStatus, phase)),
		Provenance: facts.Provenance{Path: path},
	}
	setIf(f.Fields, "version", nestedString(obj, "spec", "version"))
	setIf(f.Fields, "reason", nestedString(obj, "status", "reason"))
	setIf(f.Fields, "message", truncate(nestedString(obj, "status", "message")))
	return f
}

func (e *OLMExtractor) subscriptionFact(obj *unstructured.Unstructured, path string) facts.Fact {
	conditions := statusConditions(obj)
	f := facts.Fact{
		Subsystem:  facts.SubsystemOLM,
		Kind:       facts.KindSubscriptionStatus,
		Entity:     facts.Entity{Namespace: obj.GetNamespace(), Name: obj.GetName()},
		Fields:     map[string]string{},
		Healthy:    conditionsHealthy(e.policy, facts.KindSubscriptionStatus, conditions),
		Provenance: facts.Provenance{Path: path},
	}
	setIf(f.Fields, "package", nestedString(obj, "spec", "name"))
	setIf(f.Fields, "channel", nestedString(obj, "spec", "channel"))
	setIf(f.Fields, "state", nestedString(obj, "status", "state"))
	setIf(f.Fields, "currentCSV", nestedString(obj, "status", "currentCSV"))
	setIf(f.Fields, "installedCSV", nestedString(obj, "status", "installedCSV"))

	failing := []string{}
	for _, c := range conditions {
		if healthy, known := e.policy.ConditionHealthy(facts.KindSubscriptionStatus, c.Type, c.Status); known && !healthy {
			failing = append(failing, c.Type)
			if f.Fields["message"] == "" {
				setIf(f.Fields, "message", c.Message)
			}
		}
	}
	setIf(f.Fields, "failingConditions", joinSorted(failing))
	return f
}

func (e *OLMExtractor) installPlanFact(obj *unstructured.Unstructured, path string) facts.Fact {
	phase := nestedString(obj, "status", "phase")
	csvNames, _, _ := unstructured.NestedStringSlice(obj.Object, "spec", "clusterServiceVersionNames")
	f := facts.Fact{
		Subsystem: facts.SubsystemOLM,
		Kind:      facts.KindInstallPlanStatus,
		Entity:    facts.Entity{Namespace: obj.GetNamespace(), Name: obj.GetName()},
		Fields: map[string]string{
			"phase": phase,
		},
		Provenance: facts.Provenance{Path: path},
	}
	// Plans still installing or waiting on approval carry no verdict.
	switch {
	case e.policy.PhaseHealthy(facts.KindInstallPlanStatus, phase):
		f.Healthy = facts.HealthFlag(true)
	case phase == "Failed":
		f.Healthy = facts.HealthFlag(false)
	}
	setIf(f.Fields, "csvNames", strings.Join(csvNames, ","))
	for _, c := range statusConditions(obj) {
		if c.Type == "Installed" && c.Status == "False" {
			setIf(f.Fields, "reason", c.Reason)
			setIf(f.Fields, "message", c.Message)
		}
	}
	return f
}
