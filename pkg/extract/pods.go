package extract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/k8sutil"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	corev1 "k8s.io/api/core/v1"
)

var podPaths = newPathMatcher(
	"namespaces/*/core/pods.{yaml,yml,json}",
	"namespaces/*/pods/*/*.{yaml,yml,json}",
)

// PodsExtractor reads pod manifests, both the namespace-wide pod list and the
// per-pod manifests stored next to the container logs.
type PodsExtractor struct {
	policy *policy.Policy
}

func (e *PodsExtractor) Name() string               { return "pods" }
func (e *PodsExtractor) Subsystem() facts.Subsystem { return facts.SubsystemPods }

func (e *PodsExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && podPaths.match(a)
}

func (e *PodsExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)
	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "Pod") {
			continue
		}
		var pod corev1.Pod
		if err := manifest.Convert(obj, &pod); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result = append(result, e.podFacts(&pod, a.RelPath)...)
	}

	return result, errs.ErrorOrNil()
}

func (e *PodsExtractor) podFacts(pod *corev1.Pod, path string) []facts.Fact {
	restarts := int32(0)
	ready := 0
	for _, c := range pod.Status.ContainerStatuses {
		restarts += c.RestartCount
		if c.Ready {
			ready++
		}
	}

	healthy := e.policy.PhaseHealthy(facts.KindPodState, string(pod.Status.Phase)) && !k8sutil.IsPodUnhealthy(pod)
	state := facts.Fact{
		Subsystem: facts.SubsystemPods,
		Kind:      facts.KindPodState,
		Entity:    facts.Entity{Namespace: pod.Namespace, Name: pod.Name, Node: pod.Spec.NodeName},
		Fields: map[string]string{
			"phase":    string(pod.Status.Phase),
			"reason":   k8sutil.GetPodStatusReason(pod),
			"restarts": strconv.Itoa(int(restarts)),
			"ready":    fmt.Sprintf("%d/%d", ready, len(pod.Spec.Containers)),
		},
		Healthy:    facts.HealthFlag(healthy),
		Provenance: facts.Provenance{Path: path},
	}
	setIf(state.Fields, "node", pod.Spec.NodeName)
	if len(pod.OwnerReferences) > 0 {
		owner := pod.OwnerReferences[0]
		state.Fields["owner"] = owner.Kind + "/" + owner.Name
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodScheduled && c.Status == corev1.ConditionFalse {
			state.Fields["unschedulableReason"] = c.Reason
		}
	}

	result := []facts.Fact{state}
	for _, issue := range k8sutil.GetContainerIssues(pod) {
		f := facts.Fact{
			Subsystem: facts.SubsystemPods,
			Kind:      facts.KindContainerState,
			Entity:    facts.Entity{Namespace: pod.Namespace, Name: pod.Name, Node: pod.Spec.NodeName, Qualifier: issue.Name},
			Fields: map[string]string{
				"container": issue.Name,
				"state":     issue.State,
				"restarts":  strconv.Itoa(int(issue.RestartCount)),
				"init":      strconv.FormatBool(issue.Init),
			},
			// A running container that has only restarted is healthy now; the
			// restart count is judged by the correlation rules.
			Healthy:    facts.HealthFlag(issue.State == "running" && issue.Reason == ""),
			Provenance: facts.Provenance{Path: path},
		}
		setIf(f.Fields, "reason", issue.Reason)
		setIf(f.Fields, "lastTerminationReason", issue.LastTerminationReason)
		if issue.ExitCode != 0 {
			f.Fields["exitCode"] = strconv.Itoa(int(issue.ExitCode))
		}
		result = append(result, f)
	}
	return result
}
