// Package analyzer runs the whole pipeline over one bundle: index, extract
// facts concurrently, correlate, and synthesize the report.
package analyzer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/internal/traces"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/correlate"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	"github.com/replicatedhq/bundlecheck/pkg/report"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Result is the outcome of one run before synthesis. Several reports with
// different scopes can be built from it without correlating again.
type Result struct {
	Bundle             string
	LayoutVersion      string
	MissingDirectories []string
	Facts              []facts.Fact
	Correlation        *correlate.Result
	PartialRun         *report.PartialRun
}

// Report synthesizes the report for the scope and views selected in opts.
func (r *Result) Report(opts Options) *report.Report {
	return report.Synthesize(r.Correlation, r.Facts, report.SynthesizeOptions{
		Bundle:             r.Bundle,
		LayoutVersion:      r.LayoutVersion,
		Scope:              opts.Scope,
		ProblemsOnly:       opts.ProblemsOnly,
		IncludeFacts:       opts.IncludeFacts,
		PartialRun:         r.PartialRun,
		MissingDirectories: r.MissingDirectories,
	})
}

// Analyze runs the pipeline over the bundle at path and returns its report.
// path may be a bundle directory, a directory holding one, or a bundle archive.
func Analyze(ctx context.Context, path string, opts Options) (*report.Report, error) {
	result, err := Run(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return result.Report(opts), nil
}

// Run indexes and correlates the bundle at path. The only errors returned are
// invalid options, an unusable policy file and a bundle layout that cannot be
// recognized; everything wrong inside the bundle is reported as facts.
func Run(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}

	p, err := policy.Load(opts.PolicyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load policy")
	}

	scratch, cleanup, err := opts.makeScratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, err := bundle.Load(ctx, path, scratch)
	if err != nil {
		return nil, err
	}
	for _, missing := range idx.Missing {
		klog.Warningf("bundle has no %s directory, its checks are skipped", missing)
	}

	store, partial := extractFacts(ctx, idx, p, opts)
	all := store.Facts()

	_, span := otel.Tracer(constants.LIB_TRACER_NAME).Start(ctx, "correlate",
		trace.WithAttributes(attribute.String("type", traces.TypeCorrelate)))
	correlation := correlate.NewEngine(p).Run(all)
	span.End()

	return &Result{
		Bundle:             filepath.Base(idx.Root),
		LayoutVersion:      idx.LayoutVersion,
		MissingDirectories: idx.Missing,
		Facts:              all,
		Correlation:        correlation,
		PartialRun:         partial,
	}, nil
}

// extractFacts runs every unit on a bounded pool under the run deadline. When
// the deadline expires it returns without waiting for units still running;
// the store is sealed so their results are dropped, and the returned
// PartialRun says how many units were lost.
func extractFacts(ctx context.Context, idx *bundle.Index, p *policy.Policy, opts Options) (*facts.Store, *report.PartialRun) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	units := planUnits(ctx, idx, p, opts)
	klog.V(1).Infof("scheduling %d work units on %d workers", len(units), opts.workers())
	return runUnits(ctx, units, opts.workers())
}

func runUnits(ctx context.Context, units []unit, workers int) (*facts.Store, *report.PartialRun) {
	store := facts.NewStore()
	var started atomic.Int64

	g := errgroup.Group{}
	g.SetLimit(workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, u := range units {
			if ctx.Err() != nil {
				break
			}
			u := u
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				started.Add(1)
				runUnit(ctx, store, u)
				return nil
			})
		}
		_ = g.Wait()
	}()

	// Units only observe ctx between steps, so the join does not wait for
	// them past the deadline. Late results hit the sealed store.
	select {
	case <-done:
	case <-ctx.Done():
	}

	completed := store.Seal()
	if ctx.Err() == nil || completed == len(units) {
		return store, nil
	}

	reason := ctx.Err().Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "run deadline exceeded"
	}
	klog.Warningf("%s: %d of %d work units completed (%d started)", reason, completed, len(units), started.Load())
	return store, &report.PartialRun{
		Reason:    reason,
		Completed: completed,
		Abandoned: len(units) - completed,
	}
}

// runUnit runs u inside a span and merges its facts unless the deadline
// expired while it ran.
func runUnit(ctx context.Context, store *facts.Store, u unit) {
	_, span := otel.Tracer(constants.LIB_TRACER_NAME).Start(ctx, u.name)
	span.SetAttributes(attribute.String("type", u.spanType))
	defer span.End()

	start := time.Now()
	result, excluded := u.run(ctx)
	if excluded {
		span.SetAttributes(attribute.Bool(constants.EXCLUDED, true))
	}
	for _, f := range result {
		if f.Kind == facts.KindExtractionWarning || f.Kind == facts.KindAdapterUnavailable || f.Kind == facts.KindLogUnavailable {
			span.SetStatus(codes.Error, f.Field("error"))
			break
		}
	}

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "abandoned at run deadline")
		return
	}
	if !store.Add(result) {
		return
	}
	klog.V(2).Infof("%s produced %d facts in %s", u.name, len(result), time.Since(start))
}
