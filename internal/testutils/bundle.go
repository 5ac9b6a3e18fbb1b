package testutils

import (
	"path/filepath"
	"strings"
	"testing"
)

// SyntheticBundle writes a small must-gather bundle into a temp dir and returns
// its root. The cluster it describes has:
//   - a NotReady worker running an unhealthy pod
//   - a pod whose FailedScheduling events were followed by it running
//   - a pod that is still Pending after FailedScheduling events
//   - a degraded etcd operator and one unhealthy etcd endpoint
//   - a pod log with a burst of identical errors
//
// There is no network_logs directory.
func SyntheticBundle(t *testing.T) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), "must-gather.local.123")
	WriteBundle(t, root, SyntheticBundleFiles())
	CreateGzipTestFile(t, filepath.Join(root, "host_service_logs", "masters", "kubelet_service.log.gz"),
		strings.Repeat("Jun 01 10:00:00 master-0 kubenswrapper[2211]: I0601 10:00:00.000000 2211 kubelet.go:2400] SyncLoop (PLEG): event for pod\n", 20))
	return root
}

// SyntheticBundleFiles returns the manifest and log files of SyntheticBundle.
func SyntheticBundleFiles() map[string]string {
	errorLines := strings.Repeat(`2024-06-01T10:00:01.000Z ERROR failed to connect to db at 10.0.0.12:5432: connection refused
`, 60)

	return map[string]string{
		"cluster-scoped-resources/core/nodes/master-0.yaml": `apiVersion: v1
kind: Node
metadata:
  name: master-0
  labels:
    node-role.kubernetes.io/master: ""
status:
  conditions:
  - type: Ready
    status: "True"
`,
		"cluster-scoped-resources/core/nodes/worker-0.yaml": `apiVersion: v1
kind: Node
metadata:
  name: worker-0
  labels:
    node-role.kubernetes.io/worker: ""
status:
  conditions:
  - type: Ready
    status: Unknown
    reason: NodeStatusUnknown
    message: Kubelet stopped posting node status.
`,
		"cluster-scoped-resources/config.openshift.io/clusterversions/version.yaml": `apiVersion: config.openshift.io/v1
kind: ClusterVersion
metadata:
  name: version
status:
  desired:
    version: 4.16.3
  history:
  - state: Completed
    version: 4.16.3
  conditions:
  - type: Available
    status: "True"
  - type: Failing
    status: "False"
`,
		"cluster-scoped-resources/config.openshift.io/clusteroperators/etcd.yaml": `apiVersion: config.openshift.io/v1
kind: ClusterOperator
metadata:
  name: etcd
status:
  conditions:
  - type: Available
    status: "True"
  - type: Degraded
    status: "True"
    reason: EtcdMembersDegraded
    message: 2 of 3 members are available
  versions:
  - name: operator
    version: 4.16.3
`,
		"etcd_info/member_list.json": `{"members":[
{"ID":11,"name":"master-0"},{"ID":12,"name":"master-1"},{"ID":13,"name":"master-2"}]}`,
		"etcd_info/endpoint_health.json": `[
{"endpoint":"https://10.0.0.1:2379","health":true},
{"endpoint":"https://10.0.0.2:2379","health":true},
{"endpoint":"https://10.0.0.3:2379","health":false,"error":"context deadline exceeded"}]`,
		"namespaces/app/core/pods.yaml": `apiVersion: v1
kind: PodList
items:
- apiVersion: v1
  kind: Pod
  metadata:
    name: web-0
    namespace: app
  spec:
    nodeName: worker-0
    containers:
    - name: web
  status:
    phase: Running
    containerStatuses:
    - name: web
      ready: false
      restartCount: 0
      state:
        running: {}
- apiVersion: v1
  kind: Pod
  metadata:
    name: web-1
    namespace: app
  spec:
    nodeName: master-0
    containers:
    - name: web
  status:
    phase: Running
    containerStatuses:
    - name: web
      ready: true
      restartCount: 0
      state:
        running: {}
- apiVersion: v1
  kind: Pod
  metadata:
    name: web-2
    namespace: app
  spec:
    containers:
    - name: web
  status:
    phase: Pending
    conditions:
    - type: PodScheduled
      status: "False"
      reason: Unschedulable
`,
		"namespaces/app/core/events.yaml": `apiVersion: v1
kind: EventList
items:
- apiVersion: v1
  kind: Event
  metadata:
    name: web-1.17d
    namespace: app
  involvedObject:
    kind: Pod
    name: web-1
    namespace: app
  reason: FailedScheduling
  type: Warning
  count: 4
  message: 0/2 nodes are available
  lastTimestamp: "2024-06-01T09:00:00Z"
- apiVersion: v1
  kind: Event
  metadata:
    name: web-2.17e
    namespace: app
  involvedObject:
    kind: Pod
    name: web-2
    namespace: app
  reason: FailedScheduling
  type: Warning
  count: 9
  message: 0/2 nodes are available
  lastTimestamp: "2024-06-01T09:30:00Z"
`,
		"namespaces/app/pods/web-0/web/web/logs/current.log": errorLines,
	}
}
