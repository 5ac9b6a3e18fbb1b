package facts

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Subsystem tags facts and findings and is the unit of report scoping.
type Subsystem string

const (
	SubsystemVersion   Subsystem = "version"
	SubsystemOperators Subsystem = "operators"
	SubsystemNodes     Subsystem = "nodes"
	SubsystemPods      Subsystem = "pods"
	SubsystemEvents    Subsystem = "events"
	SubsystemStorage   Subsystem = "storage"
	SubsystemNetwork   Subsystem = "network"
	SubsystemEtcd      Subsystem = "etcd"
	SubsystemOLM       Subsystem = "olm"
	SubsystemLogs      Subsystem = "logs"
	// SubsystemBundle holds facts about the bundle itself, such as extraction warnings.
	SubsystemBundle Subsystem = "bundle"
)

// AllSubsystems lists every subsystem in report order.
var AllSubsystems = []Subsystem{
	SubsystemVersion,
	SubsystemOperators,
	SubsystemNodes,
	SubsystemEtcd,
	SubsystemNetwork,
	SubsystemPods,
	SubsystemEvents,
	SubsystemStorage,
	SubsystemOLM,
	SubsystemLogs,
	SubsystemBundle,
}

func (s Subsystem) Valid() bool {
	for _, known := range AllSubsystems {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSubsystems parses a comma separated scope such as "nodes,pods".
// An empty string yields an empty scope, which means every subsystem.
// Every unknown name is reported, not just the first.
func ParseSubsystems(s string) ([]Subsystem, error) {
	var scope []Subsystem
	var errs *multierror.Error
	seen := map[Subsystem]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		sub := Subsystem(part)
		if !sub.Valid() {
			errs = multierror.Append(errs, errors.Errorf("unknown subsystem %q", part))
			continue
		}
		if !seen[sub] {
			seen[sub] = true
			scope = append(scope, sub)
		}
	}
	if errs != nil {
		errs.ErrorFormat = joinErrors
		return nil, errs
	}
	sort.Slice(scope, func(i, j int) bool { return scope[i] < scope[j] })
	return scope, nil
}

func joinErrors(errs []error) string {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Scope is a set of subsystems. The zero value matches everything.
type Scope map[Subsystem]bool

func NewScope(subsystems []Subsystem) Scope {
	if len(subsystems) == 0 {
		return nil
	}
	s := Scope{}
	for _, sub := range subsystems {
		s[sub] = true
	}
	return s
}

func (s Scope) Includes(sub Subsystem) bool {
	return len(s) == 0 || s[sub]
}
