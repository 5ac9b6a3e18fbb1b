package correlate

import (
	"fmt"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const ruleOLM = "olm"

// OLMRule reports failed operator installs. A failed InstallPlan is history:
// when every CSV it installs has since succeeded it is reported as resolved.
type OLMRule struct{}

func (r *OLMRule) Name() string { return ruleOLM }
func (r *OLMRule) Tier() Tier   { return TierWorkload }

func (r *OLMRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}

	failedCSVs := map[facts.Entity]string{}
	for _, csv := range s.Facts(facts.KindCSVStatus) {
		if csv.Field("phase") != "Failed" {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemOLM, "csv-failed"), facts.SubsystemOLM, csv.Entity, csv)
		f.Title = fmt.Sprintf("ClusterServiceVersion %s/%s failed", csv.Entity.Namespace, csv.Entity.Name)
		f.Message = valueOr(reasonMessage(csv), "no reason recorded")
		findings = append(findings, f)
		failedCSVs[csv.Entity] = f.ID
	}

	for _, sub := range s.Facts(facts.KindSubscriptionStatus) {
		if !sub.IsProblem() {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemOLM, "subscription-unhealthy"), facts.SubsystemOLM, sub.Entity, sub)
		f.Title = fmt.Sprintf("Subscription %s/%s is unhealthy", sub.Entity.Namespace, sub.Entity.Name)
		f.Message = fmt.Sprintf("failing conditions: %s", valueOr(sub.Field("failingConditions"), "none"))
		if message := sub.Field("message"); message != "" {
			f.Message += ": " + message
		}
		if installed := sub.Field("installedCSV"); installed != "" {
			f.relate(failedCSVs[facts.Entity{Namespace: sub.Entity.Namespace, Name: installed}])
		}
		findings = append(findings, f)
	}

	for _, ip := range s.Facts(facts.KindInstallPlanStatus) {
		if ip.Field("phase") != "Failed" {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemOLM, "installplan-failed"), facts.SubsystemOLM, ip.Entity, ip)
		f.Title = fmt.Sprintf("InstallPlan %s/%s failed", ip.Entity.Namespace, ip.Entity.Name)
		f.Message = valueOr(reasonMessage(ip), "no reason recorded")

		names := splitList(ip.Field("csvNames"))
		succeeded := 0
		for _, name := range names {
			entity := facts.Entity{Namespace: ip.Entity.Namespace, Name: name}
			csv, ok := s.Lookup(facts.SubsystemOLM, facts.KindCSVStatus, entity)
			if !ok {
				continue
			}
			f.addRefs(csv)
			f.relate(failedCSVs[entity])
			if csv.Field("phase") == "Succeeded" {
				succeeded++
			}
		}
		if len(names) > 0 && succeeded == len(names) {
			f.resolve(fmt.Sprintf("%s succeeded later", strings.Join(names, ", ")))
		}
		findings = append(findings, f)
	}
	return findings
}

func splitList(joined string) []string {
	out := []string{}
	for _, item := range strings.Split(joined, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
