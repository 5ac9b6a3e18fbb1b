package traces

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Span "type" attribute values set by the analysis pipeline.
const (
	TypeExtract   = "extract"
	TypeDatabase  = "database"
	TypeLogs      = "logs"
	TypeCorrelate = "correlate"
)

// maxListed bounds the per-unit lines printed for sections with one span per file.
const maxListed = 10

var (
	_        trace.SpanExporter = (*Exporter)(nil)
	once     sync.Once
	exporter *Exporter
	printer  = message.NewPrinter(language.English)
)

// The span cache grows for the lifetime of the process, which suits one-shot
// CLI invocations. Long running callers should Reset between runs.

// GetExporterInstance creates a singleton exporter instance
func GetExporterInstance() *Exporter {
	once.Do(func() {
		exporter = &Exporter{
			allSpans: make([]trace.ReadOnlySpan, 0, 1024),
		}
	})
	return exporter
}

// Exporter is an implementation of trace.SpanExporter that keeps spans in memory.
type Exporter struct {
	spansMu  sync.Mutex
	allSpans []trace.ReadOnlySpan

	stoppedMu sync.RWMutex
	stopped   bool
}

// ExportSpans writes spans to an in-memory cache
// This function can/will be called on every span.End() at worst.
func (e *Exporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	// This is a no-op if the context is canceled.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	e.stoppedMu.RLock()
	stopped := e.stopped
	e.stoppedMu.RUnlock()
	if stopped {
		return nil
	}

	if len(spans) == 0 {
		return nil
	}

	e.spansMu.Lock()
	defer e.spansMu.Unlock()

	e.allSpans = append(e.allSpans, spans...)

	return nil
}

func spanType(stub *tracetest.SpanStub) string {
	for _, attr := range stub.Attributes {
		if string(attr.Key) == "type" {
			return attr.Value.AsString()
		}
	}
	return ""
}

func isExcluded(stub *tracetest.SpanStub) bool {
	for _, attr := range stub.Attributes {
		if string(attr.Key) == constants.EXCLUDED && attr.Value.AsBool() {
			return true
		}
	}
	return false
}

type unitSummary struct {
	name     string
	duration time.Duration
	count    int
	status   string
}

func newUnit(stub *tracetest.SpanStub, name string) *unitSummary {
	u := &unitSummary{name: name, status: "S"}
	switch {
	case isExcluded(stub):
		u.status = "X"
	case stub.Status.Code == codes.Error:
		u.status = "F"
	}
	return u
}

// GetSummary returns the runtime summary of the execution
// so far. Call this function after your "root" span has ended
// and the program operations needing tracing have completed.
func (e *Exporter) GetSummary() string {
	e.spansMu.Lock()
	stubs := tracetest.SpanStubsFromReadOnlySpans(e.allSpans)
	e.spansMu.Unlock()

	// No spans to log
	if len(stubs) == 0 {
		return ""
	}

	extractors := map[string]*unitSummary{}
	databases := []*unitSummary{}
	logs := []*unitSummary{}
	correlation := time.Duration(0)
	totalDuration := time.Duration(0)

	for i := range stubs {
		stub := &stubs[i]

		duration := stub.EndTime.Sub(stub.StartTime)
		t := spanType(stub)
		switch {
		case stub.Name == constants.BUNDLECHECK_ROOT_SPAN_NAME:
			totalDuration = duration
		case strings.HasPrefix(t, TypeExtract+"/"):
			// one span per artifact; summarize per extractor
			name := strings.TrimPrefix(t, TypeExtract+"/")
			u, ok := extractors[name]
			if !ok {
				u = newUnit(stub, name)
				extractors[name] = u
			} else if f := newUnit(stub, name); f.status == "F" {
				u.status = "F"
			}
			u.duration += duration
			u.count++
		case t == TypeDatabase:
			u := newUnit(stub, stub.Name)
			u.duration, u.count = duration, 1
			databases = append(databases, u)
		case t == TypeLogs:
			u := newUnit(stub, stub.Name)
			u.duration, u.count = duration, 1
			logs = append(logs, u)
		case t == TypeCorrelate:
			correlation += duration
		default:
			continue
		}
	}

	extracted := make([]*unitSummary, 0, len(extractors))
	for _, u := range extractors {
		extracted = append(extracted, u)
	}

	sb := strings.Builder{}
	writeSection(&sb, "Extractors", extracted, 0)
	writeSection(&sb, "Databases", databases, 0)
	writeSection(&sb, "Logs", logs, maxListed)
	sb.WriteString(printer.Sprintf("\nCorrelation: %dms\n", correlation/time.Millisecond))
	sb.WriteString(printer.Sprintf("Duration: %dms\n", totalDuration/time.Millisecond))

	return sb.String()
}

// writeSection prints units slowest first. limit 0 prints all of them.
func writeSection(sb *strings.Builder, title string, units []*unitSummary, limit int) {
	header := printer.Sprintf("========= %s summary ==========", title)
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(header + "\n")
	if len(units) == 0 {
		sb.WriteString(printer.Sprintf("No %s executed\n", strings.ToLower(title)))
		return
	}
	sb.WriteString("Succeeded (S), eXcluded (X), Failed (F)\n")
	sb.WriteString(strings.Repeat("=", len(header)) + "\n")

	sort.SliceStable(units, func(l, r int) bool {
		if units[l].duration != units[r].duration {
			return units[l].duration > units[r].duration
		}
		return units[l].name < units[r].name
	})

	labels := make([]string, len(units))
	padding := 0
	for i, u := range units {
		labels[i] = printer.Sprintf("%s (%s)", u.name, u.status)
		if u.count > 1 {
			labels[i] = printer.Sprintf("%s x%d (%s)", u.name, u.count, u.status)
		}
		if limit == 0 || i < limit {
			padding = maxInt(padding, len(labels[i]))
		}
	}

	for i, u := range units {
		if limit > 0 && i == limit {
			sb.WriteString(printer.Sprintf("... and %d more\n", len(units)-limit))
			break
		}
		sb.WriteString(printer.Sprintf("%-*s : %dms\n", padding, labels[i], u.duration/time.Millisecond))
	}
}

// maxInt returns the larger of x or y.
func maxInt(x, y int) int {
	if x < y {
		return y
	}
	return x
}

// Shutdown stops the exporter and drops the cached spans.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.stoppedMu.Lock()
	e.stopped = true
	e.stoppedMu.Unlock()

	e.Reset()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (e *Exporter) Reset() {
	e.spansMu.Lock()
	e.allSpans = e.allSpans[:0] // clear the slice
	e.spansMu.Unlock()
}

// MarshalLog is the marshaling function used by the logging system to represent this exporter.
func (e *Exporter) MarshalLog() interface{} {
	return struct {
		Type string
	}{
		Type: "bundlecheck",
	}
}
