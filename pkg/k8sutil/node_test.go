package k8sutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestNodeRoles(t *testing.T) {
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: "master-0",
			Labels: map[string]string{
				"node-role.kubernetes.io/master":        "",
				"node-role.kubernetes.io/control-plane": "",
				"kubernetes.io/hostname":                "master-0",
			},
		},
		Spec: corev1.NodeSpec{
			Taints: []corev1.Taint{
				{Key: NotReadyTaint, Effect: corev1.TaintEffectNoSchedule},
				{Key: "node-role.kubernetes.io/master", Effect: corev1.TaintEffectNoSchedule},
			},
		},
	}

	assert.Equal(t, []string{"control-plane", "master"}, NodeRoles(node))
	assert.True(t, IsControlPlaneNode(node))
	assert.Equal(t, []string{NotReadyTaint}, NodeTaintKeys(node))

	worker := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"node-role.kubernetes.io/worker": ""}}}
	assert.False(t, IsControlPlaneNode(worker))
}
