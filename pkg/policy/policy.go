// Package policy holds the data tables that decide what "healthy" means for each
// subsystem and how severe each correlated condition is. Keeping them as data lets
// new subsystems be described without touching the engine.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityWarning  Severity = "Warning"
	SeverityInfo     Severity = "Info"
)

// Rank orders severities, most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	}
	return 3
}

func (s Severity) Valid() bool {
	return s.Rank() < 3
}

type Thresholds struct {
	LogErrorBurst  int `yaml:"logErrorBurst"`
	RestartWarning int `yaml:"restartWarning"`
}

type Policy struct {
	Conditions            map[string]map[string]string `yaml:"conditions"`
	HealthyPhases         map[string][]string          `yaml:"healthyPhases"`
	ControlPlaneOperators []string                     `yaml:"controlPlaneOperators"`
	Severities            map[string]Severity          `yaml:"severities"`
	Thresholds            Thresholds                   `yaml:"thresholds"`
}

// Default returns the embedded policy.
func Default() *Policy {
	p, err := decode(defaultDocument)
	if err == nil {
		err = p.validate()
	}
	if err != nil {
		panic(fmt.Sprintf("embedded policy is invalid: %v", err))
	}
	return p
}

// Load returns the embedded policy with the document at path merged over it.
// An empty path returns the default.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read policy file")
	}
	override, err := decode(b)
	if err != nil {
		return nil, err
	}

	p := Default()
	p.merge(override)
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decode(doc []byte) (*Policy, error) {
	p := &Policy{}
	if err := yaml.Unmarshal(doc, p); err != nil {
		return nil, errors.Wrap(err, "failed to parse policy")
	}
	return p, nil
}

// merge overlays o entry by entry. Phase lists and the operator list are replaced whole.
func (p *Policy) merge(o *Policy) {
	if p.Conditions == nil {
		p.Conditions = map[string]map[string]string{}
	}
	for kind, conditions := range o.Conditions {
		if p.Conditions[kind] == nil {
			p.Conditions[kind] = map[string]string{}
		}
		for conditionType, status := range conditions {
			p.Conditions[kind][conditionType] = status
		}
	}
	if p.HealthyPhases == nil {
		p.HealthyPhases = map[string][]string{}
	}
	for kind, phases := range o.HealthyPhases {
		p.HealthyPhases[kind] = phases
	}
	if len(o.ControlPlaneOperators) > 0 {
		p.ControlPlaneOperators = o.ControlPlaneOperators
	}
	if p.Severities == nil {
		p.Severities = map[string]Severity{}
	}
	for k, v := range o.Severities {
		p.Severities[k] = v
	}
	if o.Thresholds.LogErrorBurst != 0 {
		p.Thresholds.LogErrorBurst = o.Thresholds.LogErrorBurst
	}
	if o.Thresholds.RestartWarning != 0 {
		p.Thresholds.RestartWarning = o.Thresholds.RestartWarning
	}
}

func (p *Policy) validate() error {
	var errs *multierror.Error
	keys := make([]string, 0, len(p.Severities))
	for k := range p.Severities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !p.Severities[k].Valid() {
			errs = multierror.Append(errs, errors.Errorf("severity %q for %s is not one of Critical, Warning, Info", p.Severities[k], k))
		}
	}
	if p.Thresholds.LogErrorBurst < 1 {
		errs = multierror.Append(errs, errors.New("thresholds.logErrorBurst must be positive"))
	}
	if p.Thresholds.RestartWarning < 1 {
		errs = multierror.Append(errs, errors.New("thresholds.restartWarning must be positive"))
	}
	return errs.ErrorOrNil()
}

// ConditionHealthy evaluates a condition against the vocabulary of kind.
// known is false when the vocabulary says nothing about the condition type.
func (p *Policy) ConditionHealthy(kind, conditionType, status string) (healthy bool, known bool) {
	expected, ok := p.Conditions[kind][conditionType]
	if !ok {
		return false, false
	}
	return expected == status, true
}

// PhaseHealthy reports whether phase is a healthy terminal state for kind.
func (p *Policy) PhaseHealthy(kind, phase string) bool {
	for _, healthy := range p.HealthyPhases[kind] {
		if healthy == phase {
			return true
		}
	}
	return false
}

func (p *Policy) IsControlPlaneOperator(name string) bool {
	for _, op := range p.ControlPlaneOperators {
		if op == name {
			return true
		}
	}
	return false
}

// Severity looks up the table entry for a condition. Conditions missing from
// the table are Warnings.
func (p *Policy) Severity(subsystem, condition string) Severity {
	if s, ok := p.Severities[subsystem+"/"+condition]; ok {
		return s
	}
	return SeverityWarning
}
