package correlate

import (
	"fmt"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

const ruleStorage = "storage"

// StorageRule reports claims and volumes stuck outside their bound phases and
// checks that exactly one storage class is the default.
type StorageRule struct{}

func (r *StorageRule) Name() string { return ruleStorage }
func (r *StorageRule) Tier() Tier   { return TierWorkload }

func (r *StorageRule) Evaluate(s *Snapshot) []Finding {
	findings := []Finding{}

	for _, pvc := range s.Facts(facts.KindPVC) {
		var condition string
		switch pvc.Field("phase") {
		case "Pending":
			condition = "claim-pending"
		case "Lost":
			condition = "claim-lost"
		default:
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemStorage, condition), facts.SubsystemStorage, pvc.Entity, pvc)
		f.Title = fmt.Sprintf("PersistentVolumeClaim %s/%s is %s", pvc.Entity.Namespace, pvc.Entity.Name, pvc.Field("phase"))
		f.Message = fmt.Sprintf("storage class %s", valueOr(pvc.Field("storageClass"), "(default)"))
		if volume := pvc.Field("volume"); volume != "" {
			f.Message += ", volume " + volume
			if pv, ok := s.Lookup(facts.SubsystemStorage, facts.KindPersistentVolume, facts.Entity{Name: volume}); ok {
				f.addRefs(pv)
			}
		}
		findings = append(findings, f)
	}

	for _, pv := range s.Facts(facts.KindPersistentVolume) {
		if pv.Field("phase") != "Failed" {
			continue
		}
		f := newFinding(r.Name(), s.severity(facts.SubsystemStorage, "volume-failed"), facts.SubsystemStorage, pv.Entity, pv)
		f.Title = fmt.Sprintf("PersistentVolume %s has failed", pv.Entity.Name)
		f.Message = valueOr(reasonMessage(pv), "no reason recorded")
		if claim := pv.Field("claim"); claim != "" {
			f.Message += ", claimed by " + claim
		}
		findings = append(findings, f)
	}

	classes := s.Facts(facts.KindStorageClass)
	if len(classes) == 0 {
		return findings
	}
	defaults := []facts.Fact{}
	names := []string{}
	for _, sc := range classes {
		if sc.Bool("default") {
			defaults = append(defaults, sc)
			names = append(names, sc.Entity.Name)
		}
	}
	entity := facts.Entity{Name: "storageclasses"}
	switch {
	case len(defaults) == 0:
		f := newFinding(r.Name(), s.severity(facts.SubsystemStorage, "no-default-class"), facts.SubsystemStorage, entity, classes...)
		f.Title = "No default StorageClass"
		f.Message = fmt.Sprintf("none of %d storage classes is marked default; claims without a class stay pending", len(classes))
		findings = append(findings, f)
	case len(defaults) > 1:
		f := newFinding(r.Name(), s.severity(facts.SubsystemStorage, "multiple-default-classes"), facts.SubsystemStorage, entity, defaults...)
		f.Title = "More than one default StorageClass"
		f.Message = "default classes: " + strings.Join(names, ", ")
		findings = append(findings, f)
	}
	return findings
}
