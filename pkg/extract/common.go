package extract

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const maxMessageLength = 512

// condition is the shape shared by Kubernetes and OpenShift status conditions.
type condition struct {
	Type               string
	Status             string
	Reason             string
	Message            string
	LastTransitionTime string
}

// decodeArtifact decodes every object in a manifest artifact. Objects decoded
// before a malformed document are returned together with the error.
func decodeArtifact(ctx context.Context, a *bundle.Artifact) ([]*unstructured.Unstructured, error) {
	return manifest.DecodeFile(ctx, a.Path)
}

func statusConditions(u *unstructured.Unstructured) []condition {
	raw, found, err := unstructured.NestedSlice(u.Object, "status", "conditions")
	if !found || err != nil {
		return nil
	}

	conditions := []condition{}
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := condition{
			Type:               stringValue(m["type"]),
			Status:             stringValue(m["status"]),
			Reason:             stringValue(m["reason"]),
			Message:            truncate(stringValue(m["message"])),
			LastTransitionTime: stringValue(m["lastTransitionTime"]),
		}
		if c.Type == "" {
			continue
		}
		conditions = append(conditions, c)
	}
	return conditions
}

// conditionFact builds a fact for one status condition. The policy vocabulary
// of kind decides whether it carries a health verdict.
func conditionFact(p *policy.Policy, subsystem facts.Subsystem, kind string, entity facts.Entity, c condition, path string) facts.Fact {
	entity.Qualifier = c.Type
	f := facts.Fact{
		Subsystem: subsystem,
		Kind:      kind,
		Entity:    entity,
		Fields: map[string]string{
			"type":   c.Type,
			"status": c.Status,
		},
		Provenance: facts.Provenance{Path: path},
	}
	setIf(f.Fields, "reason", c.Reason)
	setIf(f.Fields, "message", c.Message)
	setIf(f.Fields, "lastTransitionTime", c.LastTransitionTime)
	if healthy, known := p.ConditionHealthy(kind, c.Type, c.Status); known {
		f.Healthy = facts.HealthFlag(healthy)
	}
	return f
}

// conditionsHealthy folds the known condition verdicts: nil when none are known.
func conditionsHealthy(p *policy.Policy, kind string, conditions []condition) *bool {
	var verdict *bool
	for _, c := range conditions {
		healthy, known := p.ConditionHealthy(kind, c.Type, c.Status)
		if !known {
			continue
		}
		if verdict == nil || !healthy {
			verdict = facts.HealthFlag(healthy)
		}
	}
	return verdict
}

func nestedString(u *unstructured.Unstructured, fields ...string) string {
	s, _, _ := unstructured.NestedFieldNoCopy(u.Object, fields...)
	return stringValue(s)
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageLength {
		return s
	}
	return s[:maxMessageLength] + "..."
}

func setIf(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func joinSorted(values []string) string {
	sorted := append([]string{}, values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// isKind accepts objects of the expected kind, or objects with no kind at all,
// which happens for list items in some collectors' output.
func isKind(u *unstructured.Unstructured, kind string) bool {
	k := u.GetKind()
	return k == "" || k == kind
}
