package correlate

import (
	"fmt"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const ruleOVNPorts = "ovn-ports"

// OVNPortsRule checks the OVN databases against the manifests: running pods
// must have their logical port up, and every ready node must be registered
// as a chassis.
type OVNPortsRule struct{}

func (r *OVNPortsRule) Name() string { return ruleOVNPorts }
func (r *OVNPortsRule) Tier() Tier   { return TierWorkload }

func (r *OVNPortsRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}

	for _, port := range s.Facts(facts.KindLogicalSwitchPort) {
		pod, ok := s.Pod(port.Entity.Namespace, port.Entity.Name)
		if !ok || pod.Field("phase") != "Running" {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemNetwork, "port-down"), facts.SubsystemNetwork, port.Entity, port, pod)
		f.Title = fmt.Sprintf("Logical port of running pod %s/%s is down", port.Entity.Namespace, port.Entity.Name)
		f.Message = fmt.Sprintf("port %s is not up in the northbound database", port.Field("port"))
		if node := pod.Field("node"); node != "" {
			f.Message += ", pod runs on " + node
			f.relate(notReadyNodeFinding(s, node)...)
		}
		findings = append(findings, f)
	}

	chassis := s.Facts(facts.KindChassis)
	if len(chassis) == 0 {
		// no southbound database was readable
		return findings
	}
	registered := map[string]bool{}
	for _, c := range chassis {
		for _, name := range []string{c.Entity.Name, c.Field("hostname")} {
			if name != "" {
				registered[shortHostname(name)] = true
			}
		}
	}

	for _, node := range s.Facts(facts.KindNodeInfo) {
		ready, ok := s.NodeCondition(node.Entity.Name, "Ready")
		if !ok || ready.Field("status") != "True" {
			continue
		}
		if registered[shortHostname(node.Entity.Name)] {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemNetwork, "chassis-missing"), facts.SubsystemNetwork, node.Entity, node, ready)
		f.Title = fmt.Sprintf("Node %s has no OVN chassis", node.Entity.Name)
		f.Message = fmt.Sprintf("node is Ready but none of %d chassis in the southbound database belongs to it", len(chassis))
		findings = append(findings, f)
	}
	return findings
}

func shortHostname(name string) string {
	if i := strings.Index(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
