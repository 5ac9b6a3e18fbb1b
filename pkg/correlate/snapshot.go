package correlate

import (
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
)

// Snapshot is what a rule sees: every fact, indexed, and the findings emitted
// by the rules that ran before it. Rules must not modify it.
type Snapshot struct {
	policy *policy.Policy

	byKey          map[facts.Key]facts.Fact
	byKind         map[string][]facts.Fact
	pods           map[string]facts.Fact
	containers     map[string]facts.Fact
	podContainers  map[string][]facts.Fact
	podNamespaces  map[string]bool
	nodes          map[string]facts.Fact
	nodeConditions map[string]facts.Fact

	findings []Finding
	ids      map[string]bool
}

func newSnapshot(p *policy.Policy, all []facts.Fact) *Snapshot {
	s := &Snapshot{
		policy:         p,
		byKey:          map[facts.Key]facts.Fact{},
		byKind:         map[string][]facts.Fact{},
		pods:           map[string]facts.Fact{},
		containers:     map[string]facts.Fact{},
		podContainers:  map[string][]facts.Fact{},
		podNamespaces:  map[string]bool{},
		nodes:          map[string]facts.Fact{},
		nodeConditions: map[string]facts.Fact{},
		ids:            map[string]bool{},
	}

	sorted := make([]facts.Fact, len(all))
	copy(sorted, all)
	facts.SortFacts(sorted)

	for _, f := range sorted {
		if _, ok := s.byKey[f.Key()]; !ok {
			s.byKey[f.Key()] = f
		}
		s.byKind[f.Kind] = append(s.byKind[f.Kind], f)
		switch f.Kind {
		case facts.KindPodState:
			putFirst(s.pods, podKey(f.Entity.Namespace, f.Entity.Name), f)
			s.podNamespaces[f.Entity.Namespace] = true
		case facts.KindContainerState:
			key := podKey(f.Entity.Namespace, f.Entity.Name)
			if _, ok := s.containers[key+"/"+f.Entity.Qualifier]; !ok {
				s.containers[key+"/"+f.Entity.Qualifier] = f
				s.podContainers[key] = append(s.podContainers[key], f)
			}
		case facts.KindNodeInfo:
			putFirst(s.nodes, f.Entity.Name, f)
		case facts.KindNodeCondition:
			putFirst(s.nodeConditions, f.Entity.Name+"/"+f.Entity.Qualifier, f)
		}
	}
	return s
}

func putFirst(m map[string]facts.Fact, key string, f facts.Fact) {
	if _, ok := m[key]; !ok {
		m[key] = f
	}
}

func podKey(namespace, name string) string {
	return namespace + "/" + name
}

func (s *Snapshot) Policy() *policy.Policy {
	return s.policy
}

// Facts returns the facts of one kind in key order.
func (s *Snapshot) Facts(kind string) []facts.Fact {
	return s.byKind[kind]
}

// Lookup returns the fact with the given identity.
func (s *Snapshot) Lookup(subsystem facts.Subsystem, kind string, entity facts.Entity) (facts.Fact, bool) {
	f, ok := s.byKey[facts.Fact{Subsystem: subsystem, Kind: kind, Entity: entity}.Key()]
	return f, ok
}

// Pod returns the current state of a pod.
func (s *Snapshot) Pod(namespace, name string) (facts.Fact, bool) {
	f, ok := s.pods[podKey(namespace, name)]
	return f, ok
}

// Container returns the state of a container. Containers that are running
// cleanly and never restarted have no fact.
func (s *Snapshot) Container(namespace, pod, container string) (facts.Fact, bool) {
	f, ok := s.containers[podKey(namespace, pod)+"/"+container]
	return f, ok
}

// Containers returns the container facts of a pod.
func (s *Snapshot) Containers(namespace, pod string) []facts.Fact {
	return s.podContainers[podKey(namespace, pod)]
}

// PodsCollected reports whether any pod of namespace is in the bundle. A pod
// missing from a collected namespace no longer exists.
func (s *Snapshot) PodsCollected(namespace string) bool {
	return s.podNamespaces[namespace]
}

func (s *Snapshot) Node(name string) (facts.Fact, bool) {
	f, ok := s.nodes[name]
	return f, ok
}

func (s *Snapshot) NodeCondition(node, conditionType string) (facts.Fact, bool) {
	f, ok := s.nodeConditions[node+"/"+conditionType]
	return f, ok
}

// Findings returns the findings emitted so far.
func (s *Snapshot) Findings() []Finding {
	return s.findings
}

// relatedIDs returns the IDs of earlier findings from any of rules that match.
func (s *Snapshot) relatedIDs(match func(Finding) bool, rules ...string) []string {
	ids := []string{}
	for _, f := range s.findings {
		if !containsString(rules, f.Rule) || !match(f) {
			continue
		}
		ids = append(ids, f.ID)
	}
	return ids
}

// add records findings, dropping any whose ID was already emitted.
func (s *Snapshot) add(findings []Finding) int {
	added := 0
	for _, f := range findings {
		if s.ids[f.ID] {
			continue
		}
		s.ids[f.ID] = true
		s.findings = append(s.findings, f)
		added++
	}
	return added
}

func (s *Snapshot) severity(subsystem facts.Subsystem, condition string) policy.Severity {
	return s.policy.Severity(string(subsystem), condition)
}
