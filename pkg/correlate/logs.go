package correlate

import (
	"fmt"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const (
	ruleLogErrors  = "log-errors"
	ruleBlindSpots = "blind-spots"
)

// LogErrorsRule reports error-level log templates. Frequent ones are Warnings
// unless the pod that logged them is healthy now.
type LogErrorsRule struct{}

func (r *LogErrorsRule) Name() string { return ruleLogErrors }
func (r *LogErrorsRule) Tier() Tier   { return TierLogs }

func (r *LogErrorsRule) Evaluate(s *Snapshot) []Finding {
	threshold := s.policy.Thresholds.LogErrorBurst
	findings := []Finding{}

	for _, t := range s.Facts(facts.KindLogTemplate) {
		if t.Field("level") != "error" {
			continue
		}
		count := t.Int("count")
		condition := "errors"
		if count >= threshold {
			condition = "error-burst"
		}

		f := newFinding(r.Name(), s.severity(facts.SubsystemLogs, condition), facts.SubsystemLogs, t.Entity, t)
		f.Title = fmt.Sprintf("%d error lines from %s", count, logSource(t))
		f.Message = t.Field("template")
		if first, last := t.Field("firstSeen"), t.Field("lastSeen"); first != "" {
			f.Message += fmt.Sprintf(" (first %s, last %s)", first, last)
		}

		namespace, name := t.Entity.Namespace, t.Entity.Name
		if namespace != "" {
			if pod, ok := s.Pod(namespace, name); ok {
				f.addRefs(pod)
				f.relate(s.relatedIDs(func(other Finding) bool {
					return other.Entity.Namespace == namespace && other.Entity.Name == name
				}, rulePodHealth, ruleContainerRestarts, rulePodScheduling)...)
				if !pod.IsProblem() {
					f.resolve("pod is running")
				}
			}
		}
		findings = append(findings, f)
	}
	return findings
}

func logSource(t facts.Fact) string {
	switch {
	case t.Field("container") != "":
		return fmt.Sprintf("%s/%s container %s", t.Entity.Namespace, t.Entity.Name, t.Field("container"))
	case t.Field("unit") != "":
		return t.Field("unit")
	}
	return t.Provenance.Path
}

// BlindSpotsRule turns every artifact that could not be fully read into an Info
// finding, so the report states what it could not see.
type BlindSpotsRule struct{}

func (r *BlindSpotsRule) Name() string { return ruleBlindSpots }
func (r *BlindSpotsRule) Tier() Tier   { return TierMeta }

func (r *BlindSpotsRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}
	for _, kind := range []string{facts.KindExtractionWarning, facts.KindAdapterUnavailable, facts.KindLogUnavailable} {
		for _, b := range s.Facts(kind) {
			f := newFinding(r.Name(), s.severity(facts.SubsystemBundle, "blind-spot"), b.Subsystem, b.Entity, b)
			switch kind {
			case facts.KindExtractionWarning:
				f.Title = fmt.Sprintf("%s could not be fully parsed", b.Provenance.Path)
			case facts.KindAdapterUnavailable:
				f.Title = fmt.Sprintf("Database %s could not be opened", b.Provenance.Path)
			case facts.KindLogUnavailable:
				f.Title = fmt.Sprintf("Log %s could not be fully read", b.Provenance.Path)
			}
			f.Message = b.Field("error")
			findings = append(findings, f)
		}
	}
	return findings
}
