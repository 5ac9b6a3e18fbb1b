package correlate

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const ruleNetworkConfig = "network-config"

// NetworkConfigRule checks the cluster network configuration: pod and service
// ranges must not overlap, and the pod range must hold a subnet per node.
type NetworkConfigRule struct{}

func (r *NetworkConfigRule) Name() string { return ruleNetworkConfig }
func (r *NetworkConfigRule) Tier() Tier   { return TierControlPlane }

func (r *NetworkConfigRule) Evaluate(s *Snapshot) []Finding {
	nodes := s.Facts(facts.KindNodeInfo)
	findings := []Finding{}

	for _, n := range s.Facts(facts.KindNetworkConfig) {
		clusterNetworks := parseCIDRs(n.Field("clusterNetwork"))
		serviceNetworks := parseCIDRs(n.Field("serviceNetwork"))

		overlaps := []string{}
		all := append(append([]*net.IPNet{}, clusterNetworks...), serviceNetworks...)
		for i := range all {
			for j := i + 1; j < len(all); j++ {
				if overlap(all[i], all[j]) {
					overlaps = append(overlaps, fmt.Sprintf("%s overlaps %s", all[i], all[j]))
				}
			}
		}
		if len(overlaps) > 0 {
			entity := n.Entity
			entity.Qualifier = "cidr-overlap"
			f := newFinding(r.Name(), s.severity(facts.SubsystemNetwork, "cidr-overlap"), facts.SubsystemNetwork, entity, n)
			f.Title = "Cluster network ranges overlap"
			f.Message = strings.Join(overlaps, "; ")
			findings = append(findings, f)
		}

		capacity, known := nodeSubnetCapacity(clusterNetworks, strings.Split(n.Field("hostPrefix"), ","))
		if known && uint64(len(nodes)) > capacity {
			entity := n.Entity
			entity.Qualifier = "host-prefix"
			f := newFinding(r.Name(), s.severity(facts.SubsystemNetwork, "host-prefix-exhausted"), facts.SubsystemNetwork, entity, n)
			f.addRefs(nodes...)
			f.Title = "Cluster network cannot allocate a subnet to every node"
			f.Message = fmt.Sprintf("%d nodes but the cluster network %s with host prefix %s holds %d node subnets",
				len(nodes), n.Field("clusterNetwork"), n.Field("hostPrefix"), capacity)
			findings = append(findings, f)
		}
	}
	return findings
}

func parseCIDRs(joined string) []*net.IPNet {
	nets := []*net.IPNet{}
	for _, raw := range strings.Split(joined, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(raw); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func overlap(a, b *net.IPNet) bool {
	firstA, lastA := cidr.AddressRange(a)
	firstB, lastB := cidr.AddressRange(b)
	return a.Contains(firstB) || a.Contains(lastB) || b.Contains(firstA) || b.Contains(lastA)
}

// nodeSubnetCapacity counts the node subnets the cluster networks can be split
// into. known is false when no network carries a usable host prefix.
func nodeSubnetCapacity(networks []*net.IPNet, hostPrefixes []string) (uint64, bool) {
	var capacity uint64
	known := false
	for i, n := range networks {
		if i >= len(hostPrefixes) {
			break
		}
		hostPrefix, err := strconv.Atoi(strings.TrimSpace(hostPrefixes[i]))
		if err != nil || hostPrefix <= 0 {
			continue
		}
		ones, _ := n.Mask.Size()
		newBits := hostPrefix - ones
		if newBits < 0 {
			continue
		}
		if _, err := cidr.Subnet(n, newBits, 0); err != nil {
			continue
		}
		known = true
		if newBits >= 32 {
			// more node subnets than any cluster has nodes
			return ^uint64(0), true
		}
		capacity += 1 << uint(newBits)
	}
	return capacity, known
}
