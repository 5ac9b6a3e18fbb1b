package logs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{
			line: "2024-06-01T10:00:00.123456789Z failed to connect to 10.0.0.5:6443 after 3 attempts",
			want: "<TS> failed to connect to <IP> after <NUM> attempts",
		},
		{
			line: `E0601 10:00:00.123456 1 controller.go:114] sync "app/web-7d9f8b6c5d-x2x4z" failed`,
			want: `E<TS> <NUM> controller.go:<NUM>] sync "app/web-<ID>" failed`,
		},
		{
			line: "Jun  1 10:00:00 master-0 kubelet[2342]: pod ovnkube-node-b5kq7 uid 3f2b6a7e-1c2d-4e5f-8a9b-0c1d2e3f4a5b",
			want: "<TS> master-<NUM> kubelet[<NUM>]: pod ovnkube-node-<ID> uid <UUID>",
		},
		{
			line: "request took 1.5s, backoff 2m30s, deadline 250ms",
			want: "request took <DUR>, backoff <DUR>, deadline <DUR>",
		},
		{
			line: "commit 0x7f3a9c and hash a3f9c2e81b4d",
			want: "commit <HEX> and hash <HEX>",
		},
		{
			line: "lost connection to node1 from master0 over ipv4",
			want: "lost connection to node<NUM> from master<NUM> over ipv<NUM>",
		},
		{
			line: "container id 12345678 replaced 1234abcd",
			want: "container id <HEX> replaced <HEX>",
		},
		{
			line: "evicted web-bcdf1, web-x2x4z and web-30b1c",
			want: "evicted web-<ID>, web-<ID> and web-<ID>",
		},
		{
			line: "dial-https stays, as does openshift-dns",
			want: "dial-https stays, as does openshift-dns",
		},
		{
			line: "  trailing spaces are trimmed  ",
			want: "trailing spaces are trimmed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.line))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	corpus := []string{
		"2024-06-01T10:00:00Z I0601 10:00:00.000001 1 leaderelection.go:250] attempting to acquire leader lease openshift-etcd/etcd-operator-lock...",
		"level=error msg=\"etcdserver: request timed out\" took=5.0001s member=8e9e05c52164694d",
		"v1.29.5+4a87b53 listening on [::]:9443 and 192.168.1.10:22623/24",
		"W0601 23:59:59.999999 123 reflector.go:547] k8s.io/client-go@v0.30.0/tools/cache/reflector.go:232: watch of *v1.Pod ended",
		"pods \"etcd-guard-master-2\" is forbidden: 0/6 nodes are available: 3 node(s) had untolerated taint",
		"x-2b4c9 y-22222 abc-12345 1.2.3 v1.5 deadbeef12 12345678",
		"x1deadbeef k8s.io node07 ipv6 sha256:0a1b2c3d4e5f",
		"",
	}
	for _, line := range corpus {
		once := Normalize(line)
		assert.Equal(t, once, Normalize(once), "line %q", line)
	}
}

// volatileLine holds the tokens of a log line that vary between repeats.
type volatileLine struct {
	Seconds uint32
	Nanos   uint32
	IP      [4]byte
	Port    uint16
	Took    uint32
	Request [16]byte
	Attempt uint16
	Node    uint16
	ID      uint32
	PodHash uint16
}

func (v volatileLine) String() string {
	ts := time.Unix(int64(v.Seconds), int64(v.Nanos%1e9)).UTC().Format(time.RFC3339Nano)
	return fmt.Sprintf("%s connection to %d.%d.%d.%d:%d refused after %dms (request %s, attempt %d) on node%d container %08x pod web-b%04d",
		ts, v.IP[0], v.IP[1], v.IP[2], v.IP[3], v.Port, v.Took, uuid.UUID(v.Request), v.Attempt, v.Node, v.ID, v.PodHash%10000)
}

func TestNormalizeCollapsesVolatileTokens(t *testing.T) {
	want := "<TS> connection to <IP> refused after <DUR> (request <UUID>, attempt <NUM>) on node<NUM> container <HEX> pod web-<ID>"
	f := fuzz.NewWithSeed(42).NilChance(0)
	for i := 0; i < 200; i++ {
		var v volatileLine
		f.Fuzz(&v)
		line := v.String()
		got := Normalize(line)
		require.Equal(t, want, got, "line %q", line)
		assert.Equal(t, got, Normalize(got))
	}
}

func TestDeduplication(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&buf, "2024-06-01T10:00:0%dZ connection to 10.0.0.%d:2379 refused after %dms\n", i, i+1, 100*i+7)
	}
	buf.WriteString("2024-06-01T10:01:00Z starting controller\n")
	buf.WriteString("2024-06-01T10:02:00Z watch closed\n")
	buf.WriteString("2024-06-01T10:03:00Z leader elected\n")

	a := NewAnalyzer(Options{MaxExamples: 3})
	templates, lines, err := a.AnalyzeReader(context.Background(), &buf, modTime)
	require.NoError(t, err)
	assert.Equal(t, 8, lines)
	require.Len(t, templates, 4)

	top := templates[0]
	assert.Equal(t, "<TS> connection to <IP> refused after <DUR>", top.Template)
	assert.Equal(t, 5, top.Count)
	assert.Len(t, top.Examples, 3)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), top.FirstSeen)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 4, 0, time.UTC), top.LastSeen)
	assert.Equal(t, 1, top.FirstLine)

	// ties on count are broken by recency
	assert.Equal(t, "<TS> leader elected", templates[1].Template)
	assert.Equal(t, "<TS> watch closed", templates[2].Template)
	assert.Equal(t, "<TS> starting controller", templates[3].Template)
	for _, tmpl := range templates[1:] {
		assert.Equal(t, 1, tmpl.Count)
	}
}

func TestTemplatesAreDeterministic(t *testing.T) {
	lines := []string{"alpha 1", "beta 2", "alpha 3", "gamma", "beta 4", "delta"}
	run := func(order []string) []Template {
		templates, _, err := NewAnalyzer(Options{}).AnalyzeReader(context.Background(), strings.NewReader(strings.Join(order, "\n")), modTime)
		require.NoError(t, err)
		for i := range templates {
			templates[i].Examples = nil
			templates[i].FirstLine = 0
		}
		return templates
	}

	reversed := make([]string, len(lines))
	for i, l := range lines {
		reversed[len(lines)-1-i] = l
	}
	first := run(lines)
	assert.Equal(t, first, run(reversed))
	assert.Equal(t, []string{"alpha <NUM>", "beta <NUM>", "delta", "gamma"}, templateNames(first))
}

func TestMaxTemplates(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&buf, "distinct message %c\n", 'a'+i)
	}
	templates, _, err := NewAnalyzer(Options{MaxTemplates: 4}).AnalyzeReader(context.Background(), &buf, modTime)
	require.NoError(t, err)
	assert.Len(t, templates, 4)
}

func TestLongLinesAreTruncatedForTemplating(t *testing.T) {
	long := strings.Repeat("x", maxTemplateLineLength*2)
	templates, lines, err := NewAnalyzer(Options{}).AnalyzeReader(context.Background(), strings.NewReader(long+"\nshort\n"), modTime)
	require.NoError(t, err)
	assert.Equal(t, 2, lines)
	require.Len(t, templates, 2)
	for _, tmpl := range templates {
		assert.LessOrEqual(t, len(tmpl.Template), maxTemplateLineLength)
		for _, ex := range tmpl.Examples {
			assert.LessOrEqual(t, len(ex), maxExampleLength)
		}
	}
}

func TestDetectLevel(t *testing.T) {
	tests := []struct {
		line string
		want Level
	}{
		{"E0601 10:00:00.000000 1 foo.go:1] boom", LevelError},
		{"2024-06-01T10:00:00Z W0601 10:00:00.000000 1 foo.go:1] careful", LevelWarning},
		{"I0601 10:00:00.000000 1 foo.go:1] request failed but retrying", LevelInfo},
		{`{"level":"error","msg":"x"}`, LevelError},
		{"time=now level=warn msg=slow", LevelWarning},
		{"level=debug msg=\"error in name only\"", LevelInfo},
		{"panic: runtime error", LevelError},
		{"this API is deprecated", LevelWarning},
		{"all good", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLevel(tt.line))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ref := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		line string
		want time.Time
		ok   bool
	}{
		{"2024-06-01T10:00:00.5Z msg", time.Date(2024, 6, 1, 10, 0, 0, 500000000, time.UTC), true},
		{"2024-06-01T12:00:00+02:00 msg", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), true},
		{"E0101 10:00:00.000001 1 x.go:1] msg", time.Date(2024, 1, 1, 10, 0, 0, 1000, time.UTC), true},
		{"Dec 31 23:00:00 host unit: msg", time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), true},
		{"no timestamp", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseTimestamp(tt.line, ref)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestSourceFor(t *testing.T) {
	tests := []struct {
		relPath string
		want    Source
	}{
		{
			relPath: "namespaces/openshift-etcd/pods/etcd-master-0/etcd/etcd/logs/current.log",
			want:    Source{Namespace: "openshift-etcd", Pod: "etcd-master-0", Container: "etcd", Stream: "current.log"},
		},
		{
			relPath: "namespaces/openshift-etcd/pods/etcd-master-0/etcd/etcd/logs/previous.log.gz",
			want:    Source{Namespace: "openshift-etcd", Pod: "etcd-master-0", Container: "etcd", Stream: "previous.log.gz"},
		},
		{
			relPath: "host_service_logs/masters/kubelet_service.log",
			want:    Source{Unit: "kubelet", Role: "masters", Stream: "kubelet_service.log"},
		},
		{
			relPath: "misc/audit.log",
			want:    Source{Unit: "misc/audit.log", Stream: "audit.log"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.relPath, func(t *testing.T) {
			assert.Equal(t, tt.want, SourceFor(&bundle.Artifact{RelPath: tt.relPath, Kind: bundle.KindLog}))
		})
	}
}

func TestRotatedSiblingsKeepSeparateFacts(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "current.log")
	require.NoError(t, os.WriteFile(plain, []byte("ERROR disk full\n"), 0644))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for i := 0; i < 80; i++ {
		fmt.Fprintln(gz, "ERROR database unreachable")
	}
	fmt.Fprintln(gz, "INFO ok")
	require.NoError(t, gz.Close())
	compressed := filepath.Join(dir, "current.log.gz")
	require.NoError(t, os.WriteFile(compressed, buf.Bytes(), 0644))

	logDir := "namespaces/app/pods/web-0/web/web/logs/"
	artifacts := []*bundle.Artifact{
		{Path: plain, RelPath: logDir + "current.log", Kind: bundle.KindLog, ModTime: modTime, ReadStatus: bundle.ReadStatusOK},
		{Path: compressed, RelPath: logDir + "current.log.gz", Kind: bundle.KindLog, Compression: bundle.CompressionGzip, ModTime: modTime, ReadStatus: bundle.ReadStatusOK},
	}

	store := facts.NewStore()
	produced := 0
	for _, a := range artifacts {
		result := NewAnalyzer(Options{}).Facts(context.Background(), a)
		produced += len(result)
		store.Add(result)
	}
	require.Equal(t, 3, produced)

	all := store.Facts()
	require.Len(t, all, produced)
	counts := map[string]int{}
	for _, f := range all {
		counts[f.Provenance.Path+" "+f.Field("template")] = f.Int("count")
	}
	assert.Equal(t, map[string]int{
		logDir + "current.log ERROR disk full":               1,
		logDir + "current.log.gz ERROR database unreachable": 80,
		logDir + "current.log.gz INFO ok":                    1,
	}, counts)
}

func TestFactsFromGzipLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.log.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for i := 0; i < 4000; i++ {
		fmt.Fprintf(gz, "2024-06-01T10:%02d:%02dZ E0601 10:%02d:%02d.%06d 1 etcd.go:12] lost leader %d term %d\n", i/60%60, i%60, i/60%60, i%60, i*7919%1000000, i*104729, i*31)
	}
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	artifact := &bundle.Artifact{
		Path:        path,
		RelPath:     "namespaces/openshift-etcd/pods/etcd-master-0/etcd/etcd/logs/current.log.gz",
		Kind:        bundle.KindLog,
		Compression: bundle.CompressionGzip,
		ModTime:     modTime,
		ReadStatus:  bundle.ReadStatusOK,
	}
	result := NewAnalyzer(Options{}).Facts(context.Background(), artifact)
	require.Len(t, result, 1)

	f := result[0]
	assert.Equal(t, facts.KindLogTemplate, f.Kind)
	assert.Equal(t, facts.Entity{Namespace: "openshift-etcd", Name: "etcd-master-0", Qualifier: "etcd/current.log.gz#00"}, f.Entity)
	assert.Equal(t, 4000, f.Int("count"))
	assert.Equal(t, "error", f.Field("level"))
	assert.Equal(t, "etcd", f.Field("container"))
	assert.True(t, f.IsProblem())

	// cut the stream in half: templates of the lines read survive
	require.NoError(t, os.WriteFile(path, buf.Bytes()[:buf.Len()/2], 0644))
	result = NewAnalyzer(Options{}).Facts(context.Background(), artifact)
	byKind := map[string][]facts.Fact{}
	for _, f := range result {
		byKind[f.Kind] = append(byKind[f.Kind], f)
	}
	require.Len(t, byKind[facts.KindLogUnavailable], 1)
	unavailable := byKind[facts.KindLogUnavailable][0]
	assert.Equal(t, facts.SubsystemLogs, unavailable.Subsystem)
	assert.Equal(t, artifact.RelPath, unavailable.Provenance.Path)
	require.Len(t, byKind[facts.KindLogTemplate], 1)
	assert.Equal(t, unavailable.Int("linesRead"), byKind[facts.KindLogTemplate][0].Int("count"))
}

func TestUnreadableLog(t *testing.T) {
	result := NewAnalyzer(Options{}).Facts(context.Background(), &bundle.Artifact{
		RelPath:    "host_service_logs/masters/crio_service.log",
		Kind:       bundle.KindLog,
		ReadStatus: bundle.ReadStatusUnreadable,
	})
	require.Len(t, result, 1)
	assert.Equal(t, facts.KindLogUnavailable, result[0].Kind)
}

func templateNames(templates []Template) []string {
	names := []string{}
	for _, t := range templates {
		names = append(names, t.Template)
	}
	return names
}
