package extract

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	corev1 "k8s.io/api/core/v1"
)

var eventPaths = newPathMatcher(
	"namespaces/*/core/events.{yaml,yml,json}",
)

// EventsExtractor records events. Events are history, so the facts carry no
// health verdict of their own.
type EventsExtractor struct{}

func (e *EventsExtractor) Name() string               { return "events" }
func (e *EventsExtractor) Subsystem() facts.Subsystem { return facts.SubsystemEvents }

func (e *EventsExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && eventPaths.match(a)
}

func (e *EventsExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)
	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, "Event") {
			continue
		}
		var event corev1.Event
		if err := manifest.Convert(obj, &event); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		count := event.Count
		if count == 0 {
			count = 1
		}
		f := facts.Fact{
			Subsystem: facts.SubsystemEvents,
			Kind:      facts.KindEvent,
			Entity:    facts.Entity{Namespace: event.Namespace, Name: event.Name},
			Fields: map[string]string{
				"reason":       event.Reason,
				"type":         event.Type,
				"count":        strconv.Itoa(int(count)),
				"involvedKind": event.InvolvedObject.Kind,
				"involvedName": event.InvolvedObject.Name,
			},
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		setIf(f.Fields, "involvedNamespace", event.InvolvedObject.Namespace)
		setIf(f.Fields, "fieldPath", event.InvolvedObject.FieldPath)
		setIf(f.Fields, "message", truncate(event.Message))
		setIf(f.Fields, "source", event.Source.Host)
		setIf(f.Fields, "lastTimestamp", eventTime(&event))
		result = append(result, f)
	}

	return result, errs.ErrorOrNil()
}

func eventTime(event *corev1.Event) string {
	var t time.Time
	switch {
	case !event.LastTimestamp.IsZero():
		t = event.LastTimestamp.Time
	case !event.EventTime.IsZero():
		t = event.EventTime.Time
	case !event.FirstTimestamp.IsZero():
		t = event.FirstTimestamp.Time
	default:
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
