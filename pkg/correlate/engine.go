// Package correlate turns facts into findings. Rules run one at a time in tier
// order over a shared snapshot, so a rule can link its findings to the causes
// found by the rules before it.
package correlate

import (
	"sort"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"k8s.io/klog/v2"
)

type Tier int

const (
	TierControlPlane Tier = iota
	TierWorkload
	TierLogs
	TierMeta
)

func (t Tier) String() string {
	switch t {
	case TierControlPlane:
		return "control-plane"
	case TierWorkload:
		return "workload"
	case TierLogs:
		return "logs"
	case TierMeta:
		return "meta"
	}
	return "unknown"
}

// Rule derives findings from a snapshot. Evaluate must be deterministic and
// must not modify the snapshot.
type Rule interface {
	Name() string
	Tier() Tier
	Evaluate(s *Snapshot) []Finding
}

type Result struct {
	Findings []Finding `json:"findings"`
}

type Engine struct {
	policy *policy.Policy
	rules  []Rule
}

// NewEngine returns an engine running rules, or the default rule set when none
// are given.
func NewEngine(p *policy.Policy, rules ...Rule) *Engine {
	if p == nil {
		p = policy.Default()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier() < ordered[j].Tier()
	})
	return &Engine{policy: p, rules: ordered}
}

// DefaultRules returns every rule in registration order.
func DefaultRules() []Rule {
	return []Rule{
		&EtcdQuorumRule{},
		&ClusterVersionRule{},
		&ClusterOperatorsRule{},
		&OperatorVersionSkewRule{},
		&NodeConditionsRule{},
		&NetworkConfigRule{},
		&PodSchedulingRule{},
		&PodHealthRule{},
		&ContainerRestartsRule{},
		&StorageRule{},
		&OLMRule{},
		&OVNPortsRule{},
		&LogErrorsRule{},
		&BlindSpotsRule{},
	}
}

func (e *Engine) Rules() []Rule {
	return e.rules
}

// Run evaluates every rule over all and returns the deduplicated, sorted findings.
func (e *Engine) Run(all []facts.Fact) *Result {
	s := newSnapshot(e.policy, all)
	for _, rule := range e.rules {
		added := s.add(rule.Evaluate(s))
		klog.V(2).Infof("rule %s (%s) emitted %d findings", rule.Name(), rule.Tier(), added)
	}

	findings := make([]Finding, len(s.findings))
	copy(findings, s.findings)
	SortFindings(findings)
	return &Result{Findings: findings}
}
