package correlate

import (
	"sort"

	"github.com/google/uuid"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
)

// findingNamespace seeds the name-based finding IDs. Changing it changes every ID.
var findingNamespace = uuid.MustParse("2f0b7c4e-9a51-4d3e-8c6f-5b1e0d7a3c92")

// Finding is an issue derived from one or more facts.
type Finding struct {
	ID        string          `json:"id"`
	Rule      string          `json:"rule"`
	Severity  policy.Severity `json:"severity"`
	Subsystem facts.Subsystem `json:"subsystem"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Entity    facts.Entity    `json:"entity"`
	FactRefs  []facts.Key     `json:"factRefs"`
	// Related holds the IDs of findings that explain this one.
	Related []string `json:"related,omitempty"`
	// Resolved is set when the signal is historical and the current state shows
	// it has cleared. Resolved findings are always Info.
	Resolved bool `json:"resolved,omitempty"`
}

// FindingID is the UUIDv5 of the rule name and the entity.
func FindingID(rule string, entity facts.Entity) string {
	return uuid.NewSHA1(findingNamespace, []byte(rule+"\x00"+entity.String())).String()
}

func newFinding(rule string, severity policy.Severity, subsystem facts.Subsystem, entity facts.Entity, refs ...facts.Fact) Finding {
	f := Finding{
		ID:        FindingID(rule, entity),
		Rule:      rule,
		Severity:  severity,
		Subsystem: subsystem,
		Entity:    entity,
		FactRefs:  []facts.Key{},
	}
	f.addRefs(refs...)
	return f
}

func (f *Finding) addRefs(refs ...facts.Fact) {
	for _, r := range refs {
		f.FactRefs = append(f.FactRefs, r.Key())
	}
	sort.Slice(f.FactRefs, func(i, j int) bool { return f.FactRefs[i] < f.FactRefs[j] })
	f.FactRefs = compactKeys(f.FactRefs)
}

func (f *Finding) relate(ids ...string) {
	for _, id := range ids {
		if id == "" || id == f.ID || containsString(f.Related, id) {
			continue
		}
		f.Related = append(f.Related, id)
	}
	sort.Strings(f.Related)
}

// resolve downgrades a finding whose historical signal has cleared.
func (f *Finding) resolve(how string) {
	f.Severity = policy.SeverityInfo
	f.Resolved = true
	if how != "" {
		f.Message += " (resolved: " + how + ")"
	}
}

// SortFindings orders findings by severity, subsystem, entity and rule.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Subsystem != b.Subsystem {
			return a.Subsystem < b.Subsystem
		}
		if ea, eb := a.Entity.String(), b.Entity.String(); ea != eb {
			return ea < eb
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.ID < b.ID
	})
}

func compactKeys(keys []facts.Key) []facts.Key {
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
