package correlate

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const (
	ruleEtcdQuorum       = "etcd-quorum"
	ruleClusterVersion   = "cluster-version"
	ruleClusterOperators = "cluster-operators"
	ruleVersionSkew      = "operator-version-skew"
	ruleNodeConditions   = "node-conditions"
)

// EtcdQuorumRule compares healthy endpoints with the number of voting members.
type EtcdQuorumRule struct{}

func (r *EtcdQuorumRule) Name() string { return ruleEtcdQuorum }
func (r *EtcdQuorumRule) Tier() Tier   { return TierControlPlane }

func (r *EtcdQuorumRule) Evaluate(s *Snapshot) []Finding {
	members := s.Facts(facts.KindEtcdMember)
	endpoints := s.Facts(facts.KindEtcdEndpointHealth)
	findings := []Finding{}

	memberFindings := []string{}
	unhealthy := []facts.Fact{}
	for _, ep := range endpoints {
		if !ep.IsProblem() {
			continue
		}
		unhealthy = append(unhealthy, ep)
		f := newFinding(r.Name(), s.severity(facts.SubsystemEtcd, "member-unhealthy"), facts.SubsystemEtcd, ep.Entity, ep)
		f.Title = fmt.Sprintf("etcd endpoint %s is unhealthy", ep.Entity.Name)
		f.Message = "endpoint health check failed"
		if e := ep.Field("error"); e != "" {
			f.Message += ": " + e
		}
		findings = append(findings, f)
		memberFindings = append(memberFindings, f.ID)
	}
	for _, m := range members {
		if m.Bool("started") {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemEtcd, "member-unhealthy"), facts.SubsystemEtcd, m.Entity, m)
		f.Title = fmt.Sprintf("etcd member %s has not started", m.Entity.Name)
		f.Message = fmt.Sprintf("member %s is listed but has never joined the cluster", m.Field("id"))
		findings = append(findings, f)
		memberFindings = append(memberFindings, f.ID)
	}

	voting := 0
	for _, m := range members {
		if !m.Bool("learner") {
			voting++
		}
	}
	if voting < len(endpoints) {
		voting = len(endpoints)
	}
	if len(endpoints) == 0 || voting == 0 {
		return findings
	}

	healthy := len(endpoints) - len(unhealthy)
	quorum := voting/2 + 1
	if healthy >= quorum {
		return findings
	}

	f := newFinding(r.Name(), s.severity(facts.SubsystemEtcd, "quorum-lost"), facts.SubsystemEtcd, facts.Entity{Name: "etcd"}, endpoints...)
	f.addRefs(members...)
	f.Title = "etcd has lost quorum"
	f.Message = fmt.Sprintf("%d of %d voting members are healthy; %d are needed for quorum", healthy, voting, quorum)
	f.relate(memberFindings...)
	return append(findings, f)
}

// ClusterVersionRule reports failing cluster version conditions and updates in flight.
type ClusterVersionRule struct{}

func (r *ClusterVersionRule) Name() string { return ruleClusterVersion }
func (r *ClusterVersionRule) Tier() Tier   { return TierControlPlane }

func (r *ClusterVersionRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}

	failing := map[string]string{}
	for _, c := range s.Facts(facts.KindVersionCondition) {
		if !c.IsProblem() {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemVersion, "failing"), facts.SubsystemVersion, c.Entity, c)
		f.Title = fmt.Sprintf("ClusterVersion %s is %s", c.Field("type"), c.Field("status"))
		f.Message = reasonMessage(c)
		findings = append(findings, f)
		failing[c.Entity.Name] = f.ID
	}

	for _, cv := range s.Facts(facts.KindClusterVersion) {
		if cv.Field("updateState") != "Partial" {
			continue
		}
		target := cv.Field("updateVersion")
		condition := "update-progressing"
		title := fmt.Sprintf("Cluster update to %s is in progress", target)
		if _, stalled := failing[cv.Entity.Name]; stalled {
			condition = "update-stalled"
			title = fmt.Sprintf("Cluster update to %s is stalled", target)
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemVersion, condition), facts.SubsystemVersion, cv.Entity, cv)
		f.Title = title
		f.Message = fmt.Sprintf("update started %s", valueOr(cv.Field("updateStarted"), "at an unknown time"))
		if current := cv.Field("current"); current != "" {
			f.Message += fmt.Sprintf("; last completed version is %s", current)
		}
		f.relate(failing[cv.Entity.Name])
		findings = append(findings, f)
	}
	return findings
}

// ClusterOperatorsRule reports operators that are unavailable or degraded.
// Operators the control plane depends on are Critical.
type ClusterOperatorsRule struct{}

func (r *ClusterOperatorsRule) Name() string { return ruleClusterOperators }
func (r *ClusterOperatorsRule) Tier() Tier   { return TierControlPlane }

func (r *ClusterOperatorsRule) Evaluate(s *Snapshot) []Finding {
	quorum := s.relatedIDs(func(f Finding) bool { return f.Entity.Name == "etcd" }, ruleEtcdQuorum)

	findings := []Finding{}
	for _, c := range s.Facts(facts.KindOperatorCondition) {
		if !c.IsProblem() {
			continue
		}
		var condition, state string
		switch c.Field("type") {
		case "Available":
			condition, state = "unavailable", "not available"
		case "Degraded":
			condition, state = "degraded", "degraded"
		default:
			continue
		}

		name := c.Entity.Name
		controlPlane := s.policy.IsControlPlaneOperator(name)
		if controlPlane {
			condition = "control-plane-" + condition
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemOperators, condition), facts.SubsystemOperators, c.Entity, c)
		if status, ok := s.Lookup(facts.SubsystemOperators, facts.KindOperatorStatus, facts.Entity{Name: name}); ok {
			f.addRefs(status)
		}
		f.Title = fmt.Sprintf("Operator %s is %s", name, state)
		f.Message = reasonMessage(c)
		if controlPlane {
			f.relate(quorum...)
		}
		findings = append(findings, f)
	}
	return findings
}

// OperatorVersionSkewRule reports operators whose version differs from the
// version the cluster is converging on.
type OperatorVersionSkewRule struct{}

func (r *OperatorVersionSkewRule) Name() string { return ruleVersionSkew }
func (r *OperatorVersionSkewRule) Tier() Tier   { return TierControlPlane }

func (r *OperatorVersionSkewRule) Evaluate(s *Snapshot) []Finding {
	versions := s.Facts(facts.KindClusterVersion)
	if len(versions) == 0 {
		return nil
	}
	cv := versions[0]
	desired, err := semver.ParseTolerant(cv.Field("desired"))
	if err != nil {
		return nil
	}
	updating := s.relatedIDs(func(f Finding) bool { return f.Entity == cv.Entity }, ruleClusterVersion)

	findings := []Finding{}
	for _, op := range s.Facts(facts.KindOperatorStatus) {
		raw := op.Field("version")
		if raw == "" {
			continue
		}
		v, err := semver.ParseTolerant(raw)
		if err != nil || v.EQ(desired) {
			continue
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemOperators, "version-skew"), facts.SubsystemOperators, op.Entity, op, cv)
		direction := "behind"
		if v.GT(desired) {
			direction = "ahead of"
		}
		f.Title = fmt.Sprintf("Operator %s is %s the cluster version", op.Entity.Name, direction)
		f.Message = fmt.Sprintf("operator reports %s; cluster desired version is %s", raw, cv.Field("desired"))
		if len(updating) > 0 {
			f.Message += "; a cluster update is in progress"
			f.relate(updating...)
		}
		findings = append(findings, f)
	}
	return findings
}

// NodeConditionsRule reports nodes that are not ready or under resource pressure.
type NodeConditionsRule struct{}

func (r *NodeConditionsRule) Name() string { return ruleNodeConditions }
func (r *NodeConditionsRule) Tier() Tier   { return TierControlPlane }

func (r *NodeConditionsRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}
	for _, c := range s.Facts(facts.KindNodeCondition) {
		if !c.IsProblem() {
			continue
		}
		node := c.Entity.Name
		conditionType := c.Field("type")

		var condition, title string
		switch conditionType {
		case "Ready":
			condition = "not-ready"
			if c.Bool("controlPlane") {
				condition = "control-plane-not-ready"
			}
			title = fmt.Sprintf("Node %s is not ready", node)
		case "MemoryPressure", "DiskPressure", "PIDPressure", "NetworkUnavailable":
			condition = "pressure"
			title = fmt.Sprintf("Node %s reports %s", node, conditionType)
		default:
			continue
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemNodes, condition), facts.SubsystemNodes, c.Entity, c)
		if info, ok := s.Node(node); ok {
			f.addRefs(info)
		}
		f.Title = title
		f.Message = reasonMessage(c)
		findings = append(findings, f)
	}

	for _, n := range s.Facts(facts.KindNodeInfo) {
		if !n.Bool("unschedulable") {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemNodes, "unschedulable"), facts.SubsystemNodes, n.Entity, n)
		f.Title = fmt.Sprintf("Node %s is cordoned", n.Entity.Name)
		f.Message = "node is marked unschedulable"
		findings = append(findings, f)
	}
	return findings
}

// notReadyNodeFinding returns the ID of the not-ready finding for node, if any.
func notReadyNodeFinding(s *Snapshot, node string) []string {
	if node == "" {
		return nil
	}
	return s.relatedIDs(func(f Finding) bool {
		return f.Entity.Name == node && f.Entity.Qualifier == "Ready"
	}, ruleNodeConditions)
}

func reasonMessage(f facts.Fact) string {
	parts := []string{}
	if reason := f.Field("reason"); reason != "" {
		parts = append(parts, reason)
	}
	if message := f.Field("message"); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 && f.Field("type") != "" {
		return fmt.Sprintf("%s=%s", f.Field("type"), f.Field("status"))
	}
	return strings.Join(parts, ": ")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
