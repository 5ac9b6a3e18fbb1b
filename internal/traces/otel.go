package traces

import (
	"context"

	"github.com/replicatedhq/bundlecheck/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"k8s.io/klog/v2"
)

// ConfigureTracing configures the OpenTelemetry trace provider for CLI
// commands. Programs embedding the analyzer register the exporter on their
// own trace provider instead:
//
//	var tp *trace.TracerProvider	// client application's trace provider
//	tp.RegisterSpanProcessor(
//		trace.NewSimpleSpanProcessor(
//			traces.GetExporterInstance(),
//		),
//	)
func ConfigureTracing(processName string) (func(), error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			resource.Default().SchemaURL(),
			semconv.ProcessCommandKey.String(processName),
			semconv.ProcessRuntimeVersionKey.String(version.Version()),
			attribute.String("environment", "cli"),
		),
	)

	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithSyncer(
			GetExporterInstance(),
		),
		trace.WithResource(r),
	)

	otel.SetTracerProvider(tp)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			klog.Errorf("Failed to shutdown trace provider: %v", err)
		}
	}, nil
}
