package k8sutil

import (
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

const (
	UnreachableTaint   = "node.kubernetes.io/unreachable"
	NotReadyTaint      = "node.kubernetes.io/not-ready"
	UnschedulableTaint = "node.kubernetes.io/unschedulable"

	nodeRoleLabelPrefix = "node-role.kubernetes.io/"
)

// NodeRoles returns the roles encoded in node-role.kubernetes.io/<role> labels, sorted.
func NodeRoles(node *corev1.Node) []string {
	roles := []string{}
	for label := range node.Labels {
		if strings.HasPrefix(label, nodeRoleLabelPrefix) {
			if role := strings.TrimPrefix(label, nodeRoleLabelPrefix); role != "" {
				roles = append(roles, role)
			}
		}
	}
	sort.Strings(roles)
	return roles
}

// IsControlPlaneNode reports nodes labelled as master or control-plane.
func IsControlPlaneNode(node *corev1.Node) bool {
	for _, role := range NodeRoles(node) {
		if role == "master" || role == "control-plane" {
			return true
		}
	}
	return false
}

// NodeTaintKeys lists the keys of the lifecycle taints the node controller places
// on unhealthy nodes.
func NodeTaintKeys(node *corev1.Node) []string {
	keys := []string{}
	for _, taint := range node.Spec.Taints {
		switch taint.Key {
		case NotReadyTaint, UnreachableTaint, UnschedulableTaint:
			keys = append(keys, taint.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
