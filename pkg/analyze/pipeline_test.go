package analyzer

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/internal/testutils"
	"github.com/replicatedhq/bundlecheck/internal/traces"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/correlate"
	"github.com/replicatedhq/bundlecheck/pkg/dbquery"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findingFor(findings []correlate.Finding, rule, namespace, name string) (correlate.Finding, bool) {
	for _, f := range findings {
		if f.Rule == rule && f.Entity.Namespace == namespace && f.Entity.Name == name {
			return f, true
		}
	}
	return correlate.Finding{}, false
}

func TestAnalyzeSyntheticBundle(t *testing.T) {
	root := testutils.SyntheticBundle(t)

	r, err := Analyze(context.Background(), root, Options{Workers: 4})
	require.NoError(t, err)

	assert.Equal(t, "must-gather.local.123", r.Bundle)
	assert.Equal(t, []string{"network_logs"}, r.MissingDirectories)
	assert.Nil(t, r.PartialRun)

	require.Len(t, r.Findings.Critical, 1, "critical findings")
	assert.Equal(t, "Operator etcd is degraded", r.Findings.Critical[0].Title)

	// the pending pod is reported once, by the scheduling rule
	pending := 0
	for _, f := range r.AllFindings() {
		if f.Entity.Namespace == "app" && f.Entity.Name == "web-2" && f.Severity != policy.SeverityInfo {
			pending++
			assert.Equal(t, policy.SeverityWarning, f.Severity)
			assert.Equal(t, "pod-scheduling", f.Rule)
		}
	}
	assert.Equal(t, 1, pending)

	scheduled, ok := findingFor(r.Findings.Info, "pod-scheduling", "app", "web-1")
	require.True(t, ok)
	assert.True(t, scheduled.Resolved)
	assert.Contains(t, scheduled.Message, "(resolved: pod is Running on node master-0)")

	node, ok := findingFor(r.Findings.Warning, "node-conditions", "", "worker-0")
	require.True(t, ok)
	pod, ok := findingFor(r.Findings.Warning, "pod-health", "app", "web-0")
	require.True(t, ok)
	assert.Contains(t, pod.Related, node.ID)

	logErrors, ok := findingFor(r.Findings.Warning, "log-errors", "app", "web-0")
	require.True(t, ok)
	assert.Equal(t, "60 error lines from app/web-0 container web", logErrors.Title)
	assert.Contains(t, logErrors.Related, pod.ID)

	_, ok = findingFor(r.Findings.Warning, "etcd-quorum", "", "https://10.0.0.3:2379")
	assert.True(t, ok)
	for _, f := range r.AllFindings() {
		assert.NotEqual(t, "etcd has lost quorum", f.Title)
	}

	if t.Failed() {
		testutils.LogJSON(t, r)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	root := testutils.SyntheticBundle(t)
	opts := Options{IncludeFacts: true}

	first, err := Analyze(context.Background(), root, opts)
	require.NoError(t, err)
	second, err := Analyze(context.Background(), root, Options{IncludeFacts: true, Workers: 1})
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))

	a, err := first.JSON()
	require.NoError(t, err)
	b, err := second.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAnalyzeArchiveIsIdempotent(t *testing.T) {
	root := testutils.SyntheticBundle(t)
	untimed := "namespaces/app/pods/web-1/web/web/logs/current.log"
	testutils.CreateTestFileWithData(t, filepath.Join(root, untimed), "ERROR cache miss\n")

	archivedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chtimes(path, archivedAt, archivedAt)
	})
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "must-gather.tar.gz")
	tgz := archiver.TarGz{Tar: &archiver.Tar{}}
	require.NoError(t, tgz.Archive([]string{root}, archivePath))

	first, err := Analyze(context.Background(), archivePath, Options{IncludeFacts: true})
	require.NoError(t, err)
	second, err := Analyze(context.Background(), archivePath, Options{IncludeFacts: true})
	require.NoError(t, err)

	a, err := first.JSON()
	require.NoError(t, err)
	b, err := second.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	var template *facts.Fact
	for i, f := range first.Facts {
		if f.Kind == facts.KindLogTemplate && f.Provenance.Path == untimed {
			template = &first.Facts[i]
		}
	}
	require.NotNil(t, template)
	assert.Equal(t, "2024-06-01T12:00:00Z", template.Field("lastSeen"))
	assert.Equal(t, "2024-06-01T12:00:00Z", template.Field("firstSeen"))
}

// healthyClusterFiles lays out pods, nodes, events and storage for three
// namespaces, all of it healthy.
func healthyClusterFiles() map[string]string {
	files := map[string]string{
		"cluster-scoped-resources/core/nodes/worker-0.yaml": `apiVersion: v1
kind: Node
metadata:
  name: worker-0
status:
  nodeInfo:
    kubeletVersion: v1.29.5
  conditions:
  - type: Ready
    status: "True"
  - type: MemoryPressure
    status: "False"
`,
		"cluster-scoped-resources/storage.k8s.io/storageclasses/gp3.yaml": `apiVersion: storage.k8s.io/v1
kind: StorageClass
metadata:
  name: gp3
  annotations:
    storageclass.kubernetes.io/is-default-class: "true"
provisioner: ebs.csi.aws.com
`,
	}
	for i := 0; i < 3; i++ {
		ns := fmt.Sprintf("ns-%d", i)
		files["namespaces/"+ns+"/core/pods.yaml"] = fmt.Sprintf(`apiVersion: v1
kind: PodList
items:
- apiVersion: v1
  kind: Pod
  metadata:
    name: app
    namespace: %s
  spec:
    nodeName: worker-0
    containers:
    - name: app
  status:
    phase: Running
    containerStatuses:
    - name: app
      ready: true
      state:
        running: {}
`, ns)
		files["namespaces/"+ns+"/core/events.yaml"] = fmt.Sprintf(`apiVersion: v1
kind: EventList
items:
- apiVersion: v1
  kind: Event
  metadata:
    name: app.17c0
    namespace: %s
  type: Normal
  reason: Pulled
  count: 1
  involvedObject:
    kind: Pod
    name: app
    namespace: %s
`, ns, ns)
		files["namespaces/"+ns+"/core/persistentvolumeclaims.yaml"] = fmt.Sprintf(`apiVersion: v1
kind: PersistentVolumeClaimList
items:
- apiVersion: v1
  kind: PersistentVolumeClaim
  metadata:
    name: data
    namespace: %s
  spec:
    storageClassName: gp3
    volumeName: pv-%d
  status:
    phase: Bound
`, ns, i)
		files[fmt.Sprintf("cluster-scoped-resources/core/persistentvolumes/pv-%d.yaml", i)] = fmt.Sprintf(`apiVersion: v1
kind: PersistentVolume
metadata:
  name: pv-%d
spec:
  storageClassName: gp3
  claimRef:
    name: data
    namespace: %s
status:
  phase: Bound
`, i, ns)
	}
	return files
}

func TestCorruptManifestIsContained(t *testing.T) {
	const corrupted = "namespaces/ns-1/core/pods.yaml"

	cleanRoot := t.TempDir()
	testutils.WriteBundle(t, cleanRoot, healthyClusterFiles())
	clean, err := Run(context.Background(), cleanRoot, Options{})
	require.NoError(t, err)

	files := healthyClusterFiles()
	files[corrupted] = "apiVersion: v1\nkind: PodList\nitems: [\n  {kind: Pod\n"
	root := t.TempDir()
	testutils.WriteBundle(t, root, files)
	result, err := Run(context.Background(), root, Options{})
	require.NoError(t, err)

	covered := map[facts.Subsystem]bool{}
	for _, f := range clean.Facts {
		require.NotEqual(t, facts.KindExtractionWarning, f.Kind)
		covered[f.Subsystem] = true
	}
	for _, s := range []facts.Subsystem{facts.SubsystemPods, facts.SubsystemNodes, facts.SubsystemEvents, facts.SubsystemStorage} {
		assert.True(t, covered[s], "no %s facts in the healthy bundle", s)
	}

	got := map[facts.Key]facts.Fact{}
	warnings := []facts.Fact{}
	for _, f := range result.Facts {
		if f.Kind == facts.KindExtractionWarning {
			warnings = append(warnings, f)
			continue
		}
		got[f.Key()] = f
	}
	require.Len(t, warnings, 1)
	assert.Equal(t, corrupted, warnings[0].Provenance.Path)
	assert.Equal(t, "pods", warnings[0].Entity.Qualifier)

	want := map[facts.Key]facts.Fact{}
	for _, f := range clean.Facts {
		if f.Provenance.Path != corrupted {
			want[f.Key()] = f
		}
	}
	assert.Less(t, len(want), len(clean.Facts))
	assert.Empty(t, cmp.Diff(want, got))

	r := result.Report(Options{})
	blindSpots := 0
	for _, f := range r.Findings.Info {
		if f.Rule == "blind-spots" {
			blindSpots++
		}
	}
	assert.Equal(t, 1, blindSpots)
	assert.Empty(t, r.Findings.Warning)
	assert.Empty(t, r.Findings.Critical)
}

func TestScopedReportsShareOneRun(t *testing.T) {
	root := testutils.SyntheticBundle(t)
	result, err := Run(context.Background(), root, Options{})
	require.NoError(t, err)

	full := result.Report(Options{})
	scoped := result.Report(Options{Scope: []facts.Subsystem{facts.SubsystemPods, facts.SubsystemLogs}})

	byID := map[string]correlate.Finding{}
	for _, f := range full.AllFindings() {
		byID[f.ID] = f
	}
	require.NotEmpty(t, scoped.AllFindings())
	for _, f := range scoped.AllFindings() {
		assert.Contains(t, []facts.Subsystem{facts.SubsystemPods, facts.SubsystemLogs}, f.Subsystem)
		assert.Empty(t, cmp.Diff(byID[f.ID], f))
	}
	assert.Empty(t, cmp.Diff(full, result.Report(Options{})))
}

func TestPodsScopeCoversUnschedulablePods(t *testing.T) {
	root := testutils.SyntheticBundle(t)
	r, err := Analyze(context.Background(), root, Options{Scope: []facts.Subsystem{facts.SubsystemPods}, ProblemsOnly: true})
	require.NoError(t, err)

	pending, ok := findingFor(r.AllFindings(), "pod-scheduling", "app", "web-2")
	require.True(t, ok, "no finding for the pending pod in a pods scoped report")
	assert.Equal(t, facts.SubsystemPods, pending.Subsystem)
	assert.Equal(t, policy.SeverityWarning, pending.Severity)
	assert.False(t, pending.Resolved)
}

func TestRunDeadlineMarksPartialRun(t *testing.T) {
	root := testutils.SyntheticBundle(t)

	r, err := Analyze(context.Background(), root, Options{Timeout: time.Nanosecond, Workers: 1})
	require.NoError(t, err)

	require.NotNil(t, r.PartialRun)
	assert.Equal(t, "run deadline exceeded", r.PartialRun.Reason)
	assert.Greater(t, r.PartialRun.Abandoned, 0)
	assert.Less(t, r.PartialRun.Completed, r.PartialRun.Completed+r.PartialRun.Abandoned)
}

func TestDeadlineDoesNotWaitForBlockedUnits(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	podFact := func(name string) facts.Fact {
		return facts.Fact{
			Subsystem:  facts.SubsystemPods,
			Kind:       facts.KindPodState,
			Entity:     facts.Entity{Namespace: "app", Name: name},
			Provenance: facts.Provenance{Path: "namespaces/app/core/pods.yaml"},
		}
	}
	units := []unit{
		{
			name:     "namespaces/app/core/pods.yaml",
			spanType: traces.TypeExtract + "/pods",
			run: func(context.Context) ([]facts.Fact, bool) {
				return []facts.Fact{podFact("web-0")}, false
			},
		},
		{
			name:     "namespaces/app/pods/web-1/web/web/logs/current.log",
			spanType: traces.TypeLogs,
			run: func(context.Context) ([]facts.Fact, bool) {
				<-release
				return []facts.Fact{podFact("web-1")}, false
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	store, partial := runUnits(ctx, units, 2)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NotNil(t, partial)
	assert.Equal(t, "run deadline exceeded", partial.Reason)
	assert.Equal(t, 1, partial.Completed)
	assert.Equal(t, 1, partial.Abandoned)

	got := store.Facts()
	require.Len(t, got, 1)
	assert.Equal(t, "web-0", got[0].Entity.Name)
}

func TestAnalyzeRejectsNonBundle(t *testing.T) {
	root := t.TempDir()
	testutils.CreateTestFileWithData(t, filepath.Join(root, "notes.txt"), "not a bundle")

	_, err := Analyze(context.Background(), root, Options{})
	var layoutErr *bundle.BundleLayoutError
	require.True(t, errors.As(err, &layoutErr), "got %v", err)
	assert.Equal(t, bundle.LayoutReasonAbsent, layoutErr.Reason)
}

func TestOptionsValidate(t *testing.T) {
	err := Options{
		Scope:       []facts.Subsystem{facts.SubsystemPods, "bogus"},
		Workers:     -1,
		MaxExamples: -2,
		ScratchDir:  filepath.Join(t.TempDir(), "missing"),
	}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4 errors occurred")
	assert.Contains(t, err.Error(), `unknown subsystem "bogus" in scope`)
	assert.Contains(t, err.Error(), "workers must not be negative")
	assert.Contains(t, err.Error(), "max examples must not be negative")
	assert.Contains(t, err.Error(), "invalid scratch dir")

	assert.NoError(t, Options{}.Validate())
}

func writeSQLite(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE ports (name TEXT, up INTEGER)`,
		`INSERT INTO ports VALUES ('app_web-0', 0), ('app_web-1', 1)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestQueryDatabase(t *testing.T) {
	root := testutils.SyntheticBundle(t)
	writeSQLite(t, filepath.Join(root, "network_logs", "state.db"))

	staging := t.TempDir()
	member := filepath.Join(staging, "archived.db")
	writeSQLite(t, member)
	tgz := archiver.TarGz{Tar: &archiver.Tar{}}
	require.NoError(t, tgz.Archive([]string{member}, filepath.Join(root, "network_logs", "dbs.tar.gz")))

	q := dbquery.Query{
		Table:   "ports",
		Columns: []string{"name"},
		Where:   []dbquery.Predicate{{Column: "up", Op: dbquery.OpEq, Value: "0"}},
	}

	tests := []struct {
		name    string
		db      string
		wantErr string
	}{
		{name: "plain file", db: "network_logs/state.db"},
		{name: "archive member", db: "network_logs/dbs.tar.gz!archived.db"},
		{name: "missing file", db: "network_logs/other.db", wantErr: "network_logs/other.db not found in bundle"},
		{name: "missing member", db: "network_logs/dbs.tar.gz!other.db", wantErr: "other.db not found in archive network_logs/dbs.tar.gz"},
		{name: "not a database", db: "namespaces/app/core/pods.yaml", wantErr: "namespaces/app/core/pods.yaml is not a database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := QueryDatabase(context.Background(), root, tt.db, q, Options{})
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "app_web-0", rows[0]["name"])
		})
	}
}
