package dbquery

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
)

const (
	northboundDB = "OVN_Northbound"
	southboundDB = "OVN_Southbound"

	logicalSwitchPortTable = "Logical_Switch_Port"
	chassisTable           = "Chassis"
)

var databaseSuffixes = []string{"_nbdb", "_sbdb"}

// Adapter projects the databases of a bundle into facts and attributes each
// database to the node that ran the pod it was copied from.
type Adapter struct {
	podNodes map[string]string
}

// NewAdapter builds the pod to node map from the OVN namespace pod manifests.
// Pods that cannot be decoded are skipped; their databases stay unattributed.
func NewAdapter(ctx context.Context, idx *bundle.Index) *Adapter {
	a := &Adapter{podNodes: map[string]string{}}
	prefix := constants.NAMESPACES_DIR + "/" + constants.OVN_KUBERNETES_NAMESPACE + "/"

	for _, artifact := range idx.ByKind(bundle.KindManifest) {
		if ctx.Err() != nil {
			break
		}
		if !strings.HasPrefix(artifact.RelPath, prefix) || artifact.InArchive() {
			continue
		}
		segments := artifact.Segments()
		isPodList := len(segments) == 4 && segments[2] == "core" && strings.HasPrefix(segments[3], "pods.")
		isPodManifest := len(segments) == 5 && segments[2] == "pods"
		if !isPodList && !isPodManifest {
			continue
		}

		objects, err := manifest.DecodeFile(ctx, artifact.Path)
		if err != nil {
			klog.V(1).Infof("partially decoded %s: %v", artifact.RelPath, err)
		}
		for _, obj := range objects {
			if obj.GetKind() != "" && obj.GetKind() != "Pod" {
				continue
			}
			var pod corev1.Pod
			if err := manifest.Convert(obj, &pod); err != nil {
				continue
			}
			if pod.Spec.NodeName != "" {
				a.podNodes[pod.Name] = pod.Spec.NodeName
			}
		}
	}

	klog.V(1).Infof("resolved %d OVN pods to nodes", len(a.podNodes))
	return a
}

// NodeFor attributes a database file to a node. Files named <pod>_nbdb or
// <pod>_sbdb, or any file below a directory named after a pod, resolve through
// the pod's spec.nodeName.
func (a *Adapter) NodeFor(db *bundle.Artifact) (string, bool) {
	segments := strings.FieldsFunc(db.RelPath, func(r rune) bool {
		return r == '/' || r == rune(constants.ARCHIVE_MEMBER_SEPARATOR[0])
	})
	for i := len(segments) - 1; i >= 0; i-- {
		name := segments[i]
		for _, suffix := range databaseSuffixes {
			name = strings.TrimSuffix(name, suffix)
		}
		if node, ok := a.podNodes[name]; ok {
			return node, true
		}
	}
	return "", false
}

// IsDatabaseArchive reports archives under network_logs, which hold the OVN
// database copies.
func IsDatabaseArchive(artifact *bundle.Artifact) bool {
	return artifact.Kind == bundle.KindArchive && !artifact.InArchive() &&
		strings.HasPrefix(artifact.RelPath, constants.NETWORK_LOGS_DIR+"/")
}

// ExpandArchive unpacks a database archive and returns its database members.
// A failed extraction is reported as an AdapterUnavailable fact.
func (a *Adapter) ExpandArchive(ctx context.Context, idx *bundle.Index, archive *bundle.Artifact) ([]*bundle.Artifact, []facts.Fact) {
	members, err := idx.ExtractArchive(ctx, archive)
	if err != nil {
		return nil, []facts.Fact{facts.NewAdapterUnavailable(archive.RelPath, "", errors.Wrap(err, "failed to extract archive"))}
	}

	databases := []*bundle.Artifact{}
	for _, m := range members {
		if m.Kind == bundle.KindDatabase {
			databases = append(databases, m)
		}
	}
	return databases, nil
}

// Project opens one database and turns it into facts. A database that cannot
// be opened or read yields a single AdapterUnavailable fact, never an error.
func (a *Adapter) Project(ctx context.Context, artifact *bundle.Artifact) []facts.Fact {
	node, resolved := a.NodeFor(artifact)

	result, err := a.project(ctx, artifact, node, resolved)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return []facts.Fact{facts.NewAdapterUnavailable(artifact.RelPath, node, err)}
	}
	return result
}

// Query runs an ad hoc query against one database artifact. No facts are
// produced and no node attribution is attempted.
func (a *Adapter) Query(ctx context.Context, artifact *bundle.Artifact, q Query) ([]Row, error) {
	if artifact.Kind != bundle.KindDatabase {
		return nil, errors.Errorf("%s is not a database", artifact.RelPath)
	}
	if artifact.ReadStatus == bundle.ReadStatusUnreadable {
		return nil, errors.Errorf("%s is not readable", artifact.RelPath)
	}
	return QueryFile(ctx, artifact.Path, q)
}

func (a *Adapter) project(ctx context.Context, artifact *bundle.Artifact, node string, resolved bool) ([]facts.Fact, error) {
	if artifact.ReadStatus == bundle.ReadStatusUnreadable {
		return nil, errors.New("database file is not readable")
	}
	db, err := Open(ctx, artifact.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := db.Tables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tables")
	}
	counts := []string{}
	rows := 0
	for _, table := range tables {
		n, err := db.Count(ctx, table)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", table)
		}
		rows += n
		if n > 0 {
			counts = append(counts, table+"="+strconv.Itoa(n))
		}
	}

	summary := facts.Fact{
		Subsystem: facts.SubsystemNetwork,
		Kind:      facts.KindOVNDatabase,
		Entity:    facts.Entity{Name: db.Name(), Node: node, Qualifier: artifact.RelPath},
		Fields: map[string]string{
			"database":     db.Name(),
			"format":       string(db.Format()),
			"tables":       strconv.Itoa(len(tables)),
			"rows":         strconv.Itoa(rows),
			"nodeResolved": strconv.FormatBool(resolved),
		},
		Provenance: facts.Provenance{Path: artifact.RelPath},
	}
	setField(summary.Fields, "rowCounts", strings.Join(counts, ","))
	result := []facts.Fact{summary}

	switch db.Name() {
	case northboundDB:
		ports, err := downPorts(ctx, db, node, artifact.RelPath)
		if err != nil {
			return nil, err
		}
		result = append(result, ports...)
	case southboundDB:
		chassis, err := chassisFacts(ctx, db, node, artifact.RelPath)
		if err != nil {
			return nil, err
		}
		result = append(result, chassis...)
	}
	return result, nil
}

// downPorts reports pod ports whose up column is false. Ports that never
// reported (up unset) and non-VIF ports such as router ports are skipped.
func downPorts(ctx context.Context, db Database, node, path string) ([]facts.Fact, error) {
	rows, err := db.Query(ctx, Query{
		Table:   logicalSwitchPortTable,
		Columns: []string{"name", "up", "enabled", "type", "addresses", "external_ids"},
		Where:   []Predicate{{Column: "type", Op: OpEq, Value: ""}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query logical switch ports")
	}

	result := []facts.Fact{}
	for _, row := range rows {
		if FormatValue(row["up"]) != "false" {
			continue
		}
		name := FormatValue(row["name"])
		namespace, pod := portOwner(name, row["external_ids"])
		f := facts.Fact{
			Subsystem: facts.SubsystemNetwork,
			Kind:      facts.KindLogicalSwitchPort,
			Entity:    facts.Entity{Namespace: namespace, Name: pod, Node: node, Qualifier: name},
			Fields: map[string]string{
				"port": name,
				"up":   "false",
			},
			Healthy:    facts.HealthFlag(false),
			Provenance: facts.Provenance{Path: path},
		}
		setField(f.Fields, "enabled", FormatValue(row["enabled"]))
		setField(f.Fields, "addresses", FormatValue(row["addresses"]))
		result = append(result, f)
	}
	return result, nil
}

// portOwner finds the pod behind a logical switch port: external_ids
// namespace/pod when present, else the "<namespace>_<pod>" port name.
func portOwner(name string, externalIDs any) (string, string) {
	if ids, ok := externalIDs.(map[string]any); ok {
		namespace := FormatValue(ids["namespace"])
		pod := FormatValue(ids["pod"])
		if namespace != "" && pod != "" && pod != "true" {
			return namespace, pod
		}
	}
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func chassisFacts(ctx context.Context, db Database, node, path string) ([]facts.Fact, error) {
	rows, err := db.Query(ctx, Query{
		Table:   chassisTable,
		Columns: []string{"name", "hostname"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query chassis")
	}

	result := []facts.Fact{}
	for _, row := range rows {
		hostname := FormatValue(row["hostname"])
		if hostname == "" {
			continue
		}
		result = append(result, facts.Fact{
			Subsystem: facts.SubsystemNetwork,
			Kind:      facts.KindChassis,
			Entity:    facts.Entity{Name: hostname, Node: node},
			Fields: map[string]string{
				"chassis":  FormatValue(row["name"]),
				"hostname": hostname,
			},
			Provenance: facts.Provenance{Path: path},
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Entity.Name < result[j].Entity.Name })
	return result, nil
}

func setField(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
