package extract

import (
	"context"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/k8sutil"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	corev1 "k8s.io/api/core/v1"
)

var nodePaths = newPathMatcher(
	"cluster-scoped-resources/core/nodes/*.{yaml,yml,json}",
	"cluster-scoped-resources/core/nodes.{yaml,yml,json}",
)

type NodesExtractor struct {
	policy *policy.Policy
}

func (e *NodesExtractor) Name() string               { return "nodes" }
func (e *NodesExtractor) Subsystem() facts.Subsystem { return facts.SubsystemNodes }

func (e *NodesExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && nodePaths.match(a)
}

func (e *NodesExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)
	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "Node") {
			continue
		}
		var node corev1.Node
		if err := manifest.Convert(obj, &node); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result = append(result, e.nodeFacts(&node, a.RelPath)...)
	}

	return result, errs.ErrorOrNil()
}

func (e *NodesExtractor) nodeFacts(node *corev1.Node, path string) []facts.Fact {
	controlPlane := strconv.FormatBool(k8sutil.IsControlPlaneNode(node))
	entity := facts.Entity{Name: node.Name, Node: node.Name}

	info := facts.Fact{
		Subsystem: facts.SubsystemNodes,
		Kind:      facts.KindNodeInfo,
		Entity:    entity,
		Fields: map[string]string{
			"roles":         strings.Join(k8sutil.NodeRoles(node), ","),
			"controlPlane":  controlPlane,
			"unschedulable": strconv.FormatBool(node.Spec.Unschedulable),
		},
		Provenance: facts.Provenance{Path: path},
	}
	setIf(info.Fields, "kubeletVersion", node.Status.NodeInfo.KubeletVersion)
	setIf(info.Fields, "osImage", node.Status.NodeInfo.OSImage)
	setIf(info.Fields, "taints", strings.Join(k8sutil.NodeTaintKeys(node), ","))
	for _, addr := range node.Status.Addresses {
		if addr.Type == corev1.NodeInternalIP {
			info.Fields["internalIP"] = addr.Address
			break
		}
	}

	result := []facts.Fact{info}
	for _, nc := range node.Status.Conditions {
		c := condition{
			Type:    string(nc.Type),
			Status:  string(nc.Status),
			Reason:  nc.Reason,
			Message: truncate(nc.Message),
		}
		if !nc.LastTransitionTime.IsZero() {
			c.LastTransitionTime = nc.LastTransitionTime.UTC().Format("2006-01-02T15:04:05Z")
		}
		f := conditionFact(e.policy, facts.SubsystemNodes, facts.KindNodeCondition, entity, c, path)
		f.Fields["controlPlane"] = controlPlane
		result = append(result, f)
	}
	return result
}
