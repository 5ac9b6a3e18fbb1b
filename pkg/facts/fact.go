package facts

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/ptr"
)

// Fact kinds produced by the extractors, the database adapter and the log analyzer.
const (
	KindClusterVersion     = "ClusterVersion"
	KindVersionCondition   = "VersionCondition"
	KindOperatorStatus     = "OperatorStatus"
	KindOperatorCondition  = "OperatorCondition"
	KindNodeInfo           = "NodeInfo"
	KindNodeCondition      = "NodeCondition"
	KindPodState           = "PodState"
	KindContainerState     = "ContainerState"
	KindEvent              = "Event"
	KindPersistentVolume   = "PersistentVolume"
	KindPVC                = "PersistentVolumeClaim"
	KindStorageClass       = "StorageClass"
	KindNetworkConfig      = "NetworkConfig"
	KindEtcdMember         = "EtcdMember"
	KindEtcdEndpointHealth = "EtcdEndpointHealth"
	KindCSVStatus          = "CSVStatus"
	KindSubscriptionStatus = "SubscriptionStatus"
	KindInstallPlanStatus  = "InstallPlanStatus"
	KindOVNDatabase        = "OVNDatabase"
	KindLogicalSwitchPort  = "LogicalSwitchPort"
	KindChassis            = "Chassis"
	KindLogTemplate        = "LogTemplate"

	// Blind spots. The report documents what it could not see through these.
	KindExtractionWarning  = "ExtractionWarning"
	KindAdapterUnavailable = "AdapterUnavailable"
	KindLogUnavailable     = "LogUnavailable"
)

// Entity identifies what a fact is about. Qualifier distinguishes several facts
// of one kind about the same object, e.g. the condition type of a NodeCondition.
type Entity struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Node      string `json:"node,omitempty"`
	Qualifier string `json:"qualifier,omitempty"`
}

func (e Entity) String() string {
	var b strings.Builder
	if e.Node != "" {
		b.WriteString(e.Node)
		b.WriteString(":")
	}
	if e.Namespace != "" {
		b.WriteString(e.Namespace)
		b.WriteString("/")
	}
	b.WriteString(e.Name)
	if e.Qualifier != "" {
		b.WriteString("#")
		b.WriteString(e.Qualifier)
	}
	return b.String()
}

// Provenance points back at the artifact a fact was read from.
type Provenance struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// Fact is a normalized observation. Facts are never mutated after they are stored.
type Fact struct {
	Subsystem  Subsystem         `json:"subsystem"`
	Kind       string            `json:"kind"`
	Entity     Entity            `json:"entity"`
	Fields     map[string]string `json:"fields,omitempty"`
	Healthy    *bool             `json:"healthy,omitempty"`
	Provenance Provenance        `json:"provenance"`
}

// Key is the identity of a fact.
type Key string

func (f Fact) Key() Key {
	return Key(fmt.Sprintf("%s/%s/%s", f.Subsystem, f.Kind, f.Entity))
}

func (f Fact) Field(name string) string {
	return f.Fields[name]
}

func (f Fact) Bool(name string) bool {
	b, _ := strconv.ParseBool(f.Fields[name])
	return b
}

func (f Fact) Int(name string) int {
	i, _ := strconv.Atoi(f.Fields[name])
	return i
}

// IsProblem reports whether the fact describes something unhealthy. Blind-spot
// facts always count as problems.
func (f Fact) IsProblem() bool {
	switch f.Kind {
	case KindExtractionWarning, KindAdapterUnavailable, KindLogUnavailable:
		return true
	}
	return f.Healthy != nil && !*f.Healthy
}

// HealthFlag returns a pointer usable as Fact.Healthy.
func HealthFlag(healthy bool) *bool {
	return ptr.To(healthy)
}

// NewExtractionWarning records that an artifact could only be partially parsed.
func NewExtractionWarning(path, extractor string, err error) Fact {
	return Fact{
		Subsystem: SubsystemBundle,
		Kind:      KindExtractionWarning,
		Entity:    Entity{Name: path, Qualifier: extractor},
		Fields: map[string]string{
			"extractor": extractor,
			"error":     err.Error(),
		},
		Healthy:    HealthFlag(false),
		Provenance: Provenance{Path: path},
	}
}

// NewAdapterUnavailable records a database that could not be opened.
func NewAdapterUnavailable(path, node string, err error) Fact {
	return Fact{
		Subsystem: SubsystemNetwork,
		Kind:      KindAdapterUnavailable,
		Entity:    Entity{Name: path, Node: node},
		Fields: map[string]string{
			"error": err.Error(),
		},
		Healthy:    HealthFlag(false),
		Provenance: Provenance{Path: path},
	}
}

// NewLogUnavailable records a log source that could not be fully read.
// linesRead lines were processed before the failure and are kept.
func NewLogUnavailable(path string, linesRead int, err error) Fact {
	return Fact{
		Subsystem: SubsystemLogs,
		Kind:      KindLogUnavailable,
		Entity:    Entity{Name: path},
		Fields: map[string]string{
			"error":     err.Error(),
			"linesRead": strconv.Itoa(linesRead),
		},
		Healthy:    HealthFlag(false),
		Provenance: Provenance{Path: path, Line: linesRead},
	}
}
