package k8sutil

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

type PodStatusReason string

const (
	PodStatusReasonRunning              PodStatusReason = "Running"
	PodStatusReasonError                PodStatusReason = "Error"
	PodStatusReasonNotReady             PodStatusReason = "NotReady"
	PodStatusReasonUnknown              PodStatusReason = "Unknown"
	PodStatusReasonShutdown             PodStatusReason = "Shutdown"
	PodStatusReasonTerminating          PodStatusReason = "Terminating"
	PodStatusReasonCrashLoopBackOff     PodStatusReason = "CrashLoopBackOff"
	PodStatusReasonImagePullBackOff     PodStatusReason = "ImagePullBackOff"
	PodStatusReasonContainerCreating    PodStatusReason = "ContainerCreating"
	PodStatusReasonPending              PodStatusReason = "Pending"
	PodStatusReasonCompleted            PodStatusReason = "Completed"
	PodStatusReasonSucceeded            PodStatusReason = "Succeeded"
	PodStatusReasonEvicted              PodStatusReason = "Evicted"
	PodStatusReasonOOMKilled            PodStatusReason = "OOMKilled"
	PodStatusReasonInitError            PodStatusReason = "Init:Error"
	PodStatusReasonInitCrashLoopBackOff PodStatusReason = "Init:CrashLoopBackOff"
)

// GetPodStatusReason computes the STATUS column `kubectl get pods` would print.
// reference: https://github.com/kubernetes/kubernetes/blob/e8fcd0de98d50f4019561a6b7a0287f5c059267a/pkg/printers/internalversion/printers.go#L741
func GetPodStatusReason(pod *corev1.Pod) string {
	reason := string(pod.Status.Phase)
	if pod.Status.Reason != "" {
		reason = pod.Status.Reason
	}

	initializing := false
	for i := range pod.Status.InitContainerStatuses {
		container := pod.Status.InitContainerStatuses[i]
		switch {
		case container.State.Terminated != nil && container.State.Terminated.ExitCode == 0:
			continue
		case container.State.Terminated != nil:
			if len(container.State.Terminated.Reason) == 0 {
				if container.State.Terminated.Signal != 0 {
					reason = fmt.Sprintf("Init:Signal:%d", container.State.Terminated.Signal)
				} else {
					reason = fmt.Sprintf("Init:ExitCode:%d", container.State.Terminated.ExitCode)
				}
			} else {
				reason = "Init:" + container.State.Terminated.Reason
			}
			initializing = true
		case container.State.Waiting != nil && len(container.State.Waiting.Reason) > 0 && container.State.Waiting.Reason != "PodInitializing":
			reason = "Init:" + container.State.Waiting.Reason
			initializing = true
		default:
			reason = fmt.Sprintf("Init:%d/%d", i, len(pod.Spec.InitContainers))
			initializing = true
		}
		break
	}
	if !initializing {
		hasRunning := false
		for i := len(pod.Status.ContainerStatuses) - 1; i >= 0; i-- {
			container := pod.Status.ContainerStatuses[i]

			if container.State.Waiting != nil && container.State.Waiting.Reason != "" {
				reason = container.State.Waiting.Reason
			} else if container.State.Terminated != nil && container.State.Terminated.Reason != "" {
				reason = container.State.Terminated.Reason
			} else if container.State.Terminated != nil && container.State.Terminated.Reason == "" {
				if container.State.Terminated.Signal != 0 {
					reason = fmt.Sprintf("Signal:%d", container.State.Terminated.Signal)
				} else {
					reason = fmt.Sprintf("ExitCode:%d", container.State.Terminated.ExitCode)
				}
			} else if container.Ready && container.State.Running != nil {
				hasRunning = true
			}
		}

		// a pod with at least one container still running is not "Completed"
		if reason == "Completed" && hasRunning {
			if hasPodReadyCondition(pod.Status.Conditions) {
				reason = "Running"
			} else {
				reason = "NotReady"
			}
		}
	}

	// "NodeLost" is k8s.io/kubernetes/pkg/util/node.NodeUnreachablePodReason
	if pod.DeletionTimestamp != nil && pod.Status.Reason == "NodeLost" {
		reason = "Unknown"
	} else if pod.DeletionTimestamp != nil {
		reason = "Terminating"
	}

	return reason
}

func hasPodReadyCondition(conditions []corev1.PodCondition) bool {
	for _, condition := range conditions {
		if condition.Type == corev1.PodReady && condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// IsPodUnhealthy reports pods that are not running cleanly: failed, pending or
// unknown phases, any container in a waiting or error state, or a running pod
// with a container that is not ready. Completed pods are healthy.
func IsPodUnhealthy(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodFailed, corev1.PodPending, corev1.PodUnknown:
		return true
	case corev1.PodSucceeded:
		return false
	}

	switch PodStatusReason(GetPodStatusReason(pod)) {
	case PodStatusReasonCompleted, PodStatusReasonSucceeded:
		return false
	case PodStatusReasonRunning:
		for _, c := range pod.Status.ContainerStatuses {
			if !c.Ready {
				return true
			}
		}
		return false
	}

	return true
}

// ContainerIssue describes a container that is not running cleanly.
type ContainerIssue struct {
	Name         string
	Init         bool
	State        string
	Reason       string
	ExitCode     int32
	RestartCount int32
	// LastTerminationReason is why the previous instance of the container exited, e.g. OOMKilled.
	LastTerminationReason string
}

// GetContainerIssues lists containers that are waiting, terminated with an
// error, not ready, or have restarted.
func GetContainerIssues(pod *corev1.Pod) []ContainerIssue {
	issues := []ContainerIssue{}
	collect := func(statuses []corev1.ContainerStatus, init bool) {
		for _, c := range statuses {
			issue := ContainerIssue{Name: c.Name, Init: init, RestartCount: c.RestartCount}
			if c.LastTerminationState.Terminated != nil {
				issue.LastTerminationReason = c.LastTerminationState.Terminated.Reason
			}
			switch {
			case c.State.Waiting != nil:
				issue.State = "waiting"
				issue.Reason = c.State.Waiting.Reason
			case c.State.Terminated != nil && c.State.Terminated.ExitCode != 0:
				issue.State = "terminated"
				issue.Reason = c.State.Terminated.Reason
				issue.ExitCode = c.State.Terminated.ExitCode
			case c.State.Terminated != nil:
				continue
			case !init && !c.Ready:
				issue.State = "running"
				issue.Reason = string(PodStatusReasonNotReady)
			case c.RestartCount > 0:
				issue.State = "running"
			default:
				continue
			}
			issues = append(issues, issue)
		}
	}
	collect(pod.Status.InitContainerStatuses, true)
	collect(pod.Status.ContainerStatuses, false)
	return issues
}
