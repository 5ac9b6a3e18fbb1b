package extract

import (
	"context"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var networkPaths = newPathMatcher(
	"cluster-scoped-resources/config.openshift.io/networks/*.{yaml,yml,json}",
	"cluster-scoped-resources/config.openshift.io/networks.{yaml,yml,json}",
)

// NetworkExtractor reads the cluster Network config. Observed status wins over
// the requested spec when both are present.
type NetworkExtractor struct{}

func (e *NetworkExtractor) Name() string               { return "network" }
func (e *NetworkExtractor) Subsystem() facts.Subsystem { return facts.SubsystemNetwork }

func (e *NetworkExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && networkPaths.match(a)
}

func (e *NetworkExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "Network") {
			continue
		}
		section := "status"
		if _, found, _ := unstructured.NestedSlice(obj.Object, "status", "clusterNetwork"); !found {
			section = "spec"
		}

		cidrs, prefixes := clusterNetworks(obj, section)
		services, _, _ := unstructured.NestedStringSlice(obj.Object, section, "serviceNetwork")

		f := facts.Fact{
			Subsystem:  facts.SubsystemNetwork,
			Kind:       facts.KindNetworkConfig,
			Entity:     facts.Entity{Name: obj.GetName()},
			Fields:     map[string]string{},
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		networkType := nestedString(obj, "status", "networkType")
		if networkType == "" {
			networkType = nestedString(obj, "spec", "networkType")
		}
		setIf(f.Fields, "networkType", networkType)
		setIf(f.Fields, "clusterNetwork", strings.Join(cidrs, ","))
		setIf(f.Fields, "hostPrefix", strings.Join(prefixes, ","))
		setIf(f.Fields, "serviceNetwork", strings.Join(services, ","))
		setIf(f.Fields, "mtu", nestedString(obj, "status", "clusterNetworkMTU"))
		result = append(result, f)
	}

	return result, err
}

// clusterNetworks returns the pod CIDRs and their host prefixes, index aligned.
func clusterNetworks(obj *unstructured.Unstructured, section string) ([]string, []string) {
	entries, _, _ := unstructured.NestedSlice(obj.Object, section, "clusterNetwork")
	cidrs := []string{}
	prefixes := []string{}
	for _, item := range entries {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		cidr := stringValue(m["cidr"])
		if cidr == "" {
			continue
		}
		prefix := stringValue(m["hostPrefix"])
		if prefix == "" {
			prefix = "0"
		}
		cidrs = append(cidrs, cidr)
		prefixes = append(prefixes, prefix)
	}
	return cidrs, prefixes
}
