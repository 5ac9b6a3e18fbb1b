package traces

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func span(name, spanType string, d time.Duration, attrs ...attribute.KeyValue) tracetest.SpanStub {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return tracetest.SpanStub{
		Name:       name,
		StartTime:  start,
		EndTime:    start.Add(d),
		Attributes: append([]attribute.KeyValue{attribute.String("type", spanType)}, attrs...),
	}
}

func TestExporter_GetSummary(t *testing.T) {
	failed := span("namespaces/app/core/events.yaml", "extract/events", time.Millisecond)
	failed.Status = trace.Status{Code: codes.Error, Description: "bad yaml"}

	manyLogs := tracetest.SpanStubs{}
	for i := 0; i < 12; i++ {
		manyLogs = append(manyLogs, span(fmt.Sprintf("pod-%02d.log", i), TypeLogs, time.Duration(i+1)*time.Millisecond))
	}

	tests := []struct {
		name  string
		spans tracetest.SpanStubs
		want  []string
	}{
		{
			name:  "with no spans",
			spans: tracetest.SpanStubs{},
			want:  []string{""},
		},
		{
			name: "with root span only",
			spans: tracetest.SpanStubs{
				span(constants.BUNDLECHECK_ROOT_SPAN_NAME, "", time.Second),
			},
			want: []string{"Duration: 1,000ms", "No extractors executed", "No databases executed", "No logs executed"},
		},
		{
			name: "with extractors summed per extractor",
			spans: tracetest.SpanStubs{
				span("namespaces/app/core/pods.yaml", "extract/pods", 2*time.Second),
				span("namespaces/db/core/pods.yaml", "extract/pods", time.Second),
				span("namespaces/app/core/events.yaml", "extract/events", 5*time.Millisecond),
				failed,
				span("cluster-scoped-resources/core/nodes", "extract/nodes", 2*time.Millisecond,
					attribute.Bool(constants.EXCLUDED, true)),
			},
			want: []string{
				"Succeeded (S), eXcluded (X), Failed (F)",
				"pods x2 (S)   : 3,000ms",
				"events x2 (F) : 6ms",
				"nodes (X)     : 2ms",
			},
		},
		{
			name: "with databases and correlation",
			spans: tracetest.SpanStubs{
				span("network_logs/ovnk_database_store.tar.gz!leader_nbdb", TypeDatabase, 40*time.Millisecond),
				span("correlate", TypeCorrelate, 7*time.Millisecond),
			},
			want: []string{
				"network_logs/ovnk_database_store.tar.gz!leader_nbdb (S) : 40ms",
				"Correlation: 7ms",
			},
		},
		{
			name:  "with more log files than listed",
			spans: manyLogs,
			want: []string{
				"pod-11.log (S) : 12ms",
				"pod-02.log (S) : 3ms",
				"... and 2 more",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Exporter{}

			ctx := context.Background()
			err := e.ExportSpans(ctx, tt.spans.Snapshots())
			require.NoError(t, err)

			summary := e.GetSummary()
			for _, want := range tt.want {
				assert.Contains(t, summary, strings.TrimSpace(want))
			}
		})
	}
}

func TestExporter_GetSummaryOmitsHiddenLogs(t *testing.T) {
	spans := tracetest.SpanStubs{}
	for i := 0; i < 12; i++ {
		spans = append(spans, span(fmt.Sprintf("pod-%02d.log", i), TypeLogs, time.Duration(i+1)*time.Millisecond))
	}
	e := &Exporter{}
	require.NoError(t, e.ExportSpans(context.Background(), spans.Snapshots()))

	summary := e.GetSummary()
	assert.NotContains(t, summary, "pod-00.log")
	assert.NotContains(t, summary, "pod-01.log")
}

func TestExporter_ExportSpansWithDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Exporter{}
	spans := tracetest.SpanStubs{}

	assert.EqualError(t, e.ExportSpans(ctx, spans.Snapshots()), context.Canceled.Error())
}

func TestExporter_Shutdown(t *testing.T) {
	e := &Exporter{}

	ctx := context.Background()
	spans := tracetest.SpanStubs{}
	for i := 0; i < 5; i++ {
		spans = append(spans, tracetest.SpanStub{Name: fmt.Sprintf("span-%d", i)})
	}

	err := e.ExportSpans(ctx, spans.Snapshots())
	require.NoError(t, err)

	assert.Len(t, e.allSpans, 5)

	require.NoError(t, e.Shutdown(ctx))
	assert.Len(t, e.allSpans, 0)

	err = e.ExportSpans(ctx, spans.Snapshots())
	require.NoError(t, err)

	assert.Len(t, e.allSpans, 0)
}
