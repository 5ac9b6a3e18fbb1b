package correlate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const (
	rulePodScheduling     = "pod-scheduling"
	rulePodHealth         = "pod-health"
	ruleContainerRestarts = "container-restarts"
)

var containerFieldPath = regexp.MustCompile(`^spec\.(?:initContainers|containers|ephemeralContainers)\{(.+)\}$`)

// podEvents groups the pod events with a given reason by pod and container.
type podEvents struct {
	namespace string
	pod       string
	container string
	events    []facts.Fact
	count     int
	latest    facts.Fact
}

func groupPodEvents(s *Snapshot, reason string, byContainer bool) []*podEvents {
	groups := map[string]*podEvents{}
	keys := []string{}
	for _, e := range s.Facts(facts.KindEvent) {
		if e.Field("reason") != reason || e.Field("involvedKind") != "Pod" {
			continue
		}
		namespace := valueOr(e.Field("involvedNamespace"), e.Entity.Namespace)
		pod := e.Field("involvedName")
		container := ""
		if byContainer {
			if m := containerFieldPath.FindStringSubmatch(e.Field("fieldPath")); m != nil {
				container = m[1]
			}
		}

		key := podKey(namespace, pod) + "/" + container
		g, ok := groups[key]
		if !ok {
			g = &podEvents{namespace: namespace, pod: pod, container: container, latest: e}
			groups[key] = g
			keys = append(keys, key)
		}
		g.events = append(g.events, e)
		g.count += e.Int("count")
		if e.Field("lastTimestamp") > g.latest.Field("lastTimestamp") {
			g.latest = e
		}
	}

	sort.Strings(keys)
	out := make([]*podEvents, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

// PodSchedulingRule reports FailedScheduling events for pods that are still
// waiting for a node.
type PodSchedulingRule struct{}

func (r *PodSchedulingRule) Name() string { return rulePodScheduling }
func (r *PodSchedulingRule) Tier() Tier   { return TierWorkload }

func (r *PodSchedulingRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}
	for _, g := range groupPodEvents(s, "FailedScheduling", false) {
		entity := facts.Entity{Namespace: g.namespace, Name: g.pod}
		f := newFinding(r.Name(), s.severity(facts.SubsystemPods, "failed-scheduling"), facts.SubsystemPods, entity, g.events...)
		f.Title = fmt.Sprintf("Pod %s/%s could not be scheduled", g.namespace, g.pod)
		f.Message = fmt.Sprintf("%d FailedScheduling events, latest: %s", g.count, valueOr(g.latest.Field("message"), "no message"))

		pod, ok := s.Pod(g.namespace, g.pod)
		switch {
		case !ok && s.PodsCollected(g.namespace):
			f.resolve("pod no longer exists")
		case !ok:
			f.Message += "; current pod state was not collected"
		case pod.Field("node") != "" || pod.Field("phase") != "Pending":
			f.addRefs(pod)
			f.resolve(fmt.Sprintf("pod is %s on node %s", pod.Field("phase"), valueOr(pod.Field("node"), "unknown")))
		default:
			f.addRefs(pod)
		}
		findings = append(findings, f)
	}
	return findings
}

// PodHealthRule reports pods that are not running cleanly. Pods already
// reported as unschedulable are left to that finding.
type PodHealthRule struct{}

func (r *PodHealthRule) Name() string { return rulePodHealth }
func (r *PodHealthRule) Tier() Tier   { return TierWorkload }

func (r *PodHealthRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}
	for _, pod := range s.Facts(facts.KindPodState) {
		if !pod.IsProblem() {
			continue
		}
		namespace, name := pod.Entity.Namespace, pod.Entity.Name
		scheduling := s.relatedIDs(func(f Finding) bool {
			return !f.Resolved && f.Entity.Namespace == namespace && f.Entity.Name == name
		}, rulePodScheduling)
		if len(scheduling) > 0 {
			continue
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemPods, "unhealthy"), facts.SubsystemPods, pod.Entity, pod)
		for _, c := range s.Containers(namespace, name) {
			if c.IsProblem() {
				f.addRefs(c)
			}
		}
		f.Title = fmt.Sprintf("Pod %s/%s is %s", namespace, name, valueOr(pod.Field("reason"), pod.Field("phase")))
		f.Message = fmt.Sprintf("phase %s, %s containers ready", pod.Field("phase"), pod.Field("ready"))
		if reason := pod.Field("unschedulableReason"); reason != "" {
			f.Message += ", not scheduled: " + reason
		}
		if node := pod.Field("node"); node != "" {
			f.Message += ", on node " + node
			f.relate(notReadyNodeFinding(s, node)...)
		}
		findings = append(findings, f)
	}
	return findings
}

// ContainerRestartsRule reports containers that were OOM killed, backed off or
// restarted often. These are all past events, so each finding is checked
// against the container's current state.
type ContainerRestartsRule struct{}

func (r *ContainerRestartsRule) Name() string { return ruleContainerRestarts }
func (r *ContainerRestartsRule) Tier() Tier   { return TierWorkload }

type restartSignals struct {
	namespace string
	pod       string
	container string
	backOff   *podEvents
	state     *facts.Fact
}

func (r *ContainerRestartsRule) Evaluate(s *Snapshot) []Finding {
	signals := map[string]*restartSignals{}
	keys := []string{}
	get := func(namespace, pod, container string) *restartSignals {
		key := podKey(namespace, pod) + "/" + container
		if sig, ok := signals[key]; ok {
			return sig
		}
		sig := &restartSignals{namespace: namespace, pod: pod, container: container}
		signals[key] = sig
		keys = append(keys, key)
		return sig
	}

	for _, g := range groupPodEvents(s, "BackOff", true) {
		get(g.namespace, g.pod, g.container).backOff = g
	}
	threshold := s.policy.Thresholds.RestartWarning
	for _, c := range s.Facts(facts.KindContainerState) {
		if c.Field("lastTerminationReason") != "OOMKilled" && c.Int("restarts") < threshold {
			continue
		}
		state := c
		get(c.Entity.Namespace, c.Entity.Name, c.Entity.Qualifier).state = &state
	}

	sort.Strings(keys)
	findings := []Finding{}
	for _, key := range keys {
		findings = append(findings, r.finding(s, signals[key]))
	}
	return findings
}

func (r *ContainerRestartsRule) finding(s *Snapshot, sig *restartSignals) Finding {
	condition := "restarting"
	switch {
	case sig.state != nil && sig.state.Field("lastTerminationReason") == "OOMKilled":
		condition = "oom-killed"
	case sig.backOff != nil:
		condition = "back-off"
	}

	pod, hasPod := s.Pod(sig.namespace, sig.pod)
	entity := facts.Entity{Namespace: sig.namespace, Name: sig.pod, Qualifier: sig.container}
	if hasPod {
		entity.Node = pod.Entity.Node
	}

	f := newFinding(r.Name(), s.severity(facts.SubsystemPods, condition), facts.SubsystemPods, entity)
	details := []string{}
	if sig.state != nil {
		f.addRefs(*sig.state)
		if restarts := sig.state.Int("restarts"); restarts > 0 {
			details = append(details, fmt.Sprintf("restarted %d times", restarts))
		}
		if last := sig.state.Field("lastTerminationReason"); last != "" {
			details = append(details, "last terminated: "+last)
		}
	}
	if sig.backOff != nil {
		f.addRefs(sig.backOff.events...)
		details = append(details, fmt.Sprintf("%d BackOff events", sig.backOff.count))
	}

	target := fmt.Sprintf("%s/%s", sig.namespace, sig.pod)
	if sig.container != "" {
		target += " container " + sig.container
	}
	switch condition {
	case "oom-killed":
		f.Title = fmt.Sprintf("Pod %s was OOM killed", target)
	case "back-off":
		f.Title = fmt.Sprintf("Pod %s is backing off after failures", target)
	default:
		f.Title = fmt.Sprintf("Pod %s restarts repeatedly", target)
	}
	f.Message = strings.Join(details, ", ")

	container, hasContainer := s.Container(sig.namespace, sig.pod, sig.container)
	switch {
	case !hasPod && s.PodsCollected(sig.namespace):
		f.resolve("pod no longer exists")
	case !hasPod:
		f.Message += "; current pod state was not collected"
	case hasContainer && sig.container != "":
		f.addRefs(pod, container)
		if !container.IsProblem() {
			f.resolve("container is running")
		}
	default:
		f.addRefs(pod)
		if !pod.IsProblem() {
			f.resolve("pod is running")
		}
	}

	f.relate(s.relatedIDs(func(other Finding) bool {
		return other.Entity.Namespace == sig.namespace && other.Entity.Name == sig.pod
	}, rulePodHealth)...)
	f.relate(notReadyNodeFinding(s, entity.Node)...)
	return f
}
