package constants

import "time"

const (
	// LIB_TRACER_NAME is the name of the OpenTelemetry tracer used by the engine.
	LIB_TRACER_NAME = "github.com/replicatedhq/bundlecheck"
	// BUNDLECHECK_ROOT_SPAN_NAME is the name of the span covering a whole run.
	BUNDLECHECK_ROOT_SPAN_NAME = "bundlecheck"

	// LAYOUT_VERSION identifies the directory-layout contract the indexer understands.
	LAYOUT_VERSION = "must-gather/v1"
	// REPORT_SCHEMA_VERSION is the version of the serialized report document.
	REPORT_SCHEMA_VERSION = "bundlecheck.report/v1"

	// Top-level markers. A bundle root contains at least one of these.
	CLUSTER_SCOPED_RESOURCES_DIR = "cluster-scoped-resources"
	NAMESPACES_DIR               = "namespaces"

	// Optional top-level directories.
	HOST_SERVICE_LOGS_DIR = "host_service_logs"
	NETWORK_LOGS_DIR      = "network_logs"
	ETCD_INFO_DIR         = "etcd_info"

	// OVN_KUBERNETES_NAMESPACE holds the pods whose databases are shipped in network_logs.
	OVN_KUBERNETES_NAMESPACE = "openshift-ovn-kubernetes"

	// ARCHIVE_MEMBER_SEPARATOR separates an archive path from a member path in RelPath.
	ARCHIVE_MEMBER_SEPARATOR = "!"

	DEFAULT_MAX_EXAMPLES  = 3
	DEFAULT_MAX_TEMPLATES = 25
	// DEFAULT_RUN_TIMEOUT bounds a whole analysis run when the caller gives no deadline.
	DEFAULT_RUN_TIMEOUT = 10 * time.Minute

	// EXCLUDED is the span attribute set on units skipped by scope.
	EXCLUDED = "excluded"
)

// BundleMarkers are the subdirectories that identify a bundle root.
var BundleMarkers = []string{CLUSTER_SCOPED_RESOURCES_DIR, NAMESPACES_DIR}

// OptionalDirs are subdirectories whose absence is recorded but not fatal.
var OptionalDirs = []string{HOST_SERVICE_LOGS_DIR, NETWORK_LOGS_DIR, ETCD_INFO_DIR}
