package analyzer

import (
	"os"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

// Options controls one analysis run. The zero value analyzes every subsystem
// with the defaults.
type Options struct {
	// Scope restricts the report to these subsystems. Empty means all.
	// Correlation always runs over every fact.
	Scope        []facts.Subsystem
	ProblemsOnly bool
	IncludeFacts bool
	// MaxExamples and MaxTemplates bound the log analyzer output per source.
	MaxExamples  int
	MaxTemplates int
	// Timeout bounds the extraction phase. Units still running when it expires
	// are abandoned and the report is marked partial. Zero uses the default.
	Timeout time.Duration
	// Workers bounds concurrent work units. Zero uses the number of CPUs.
	Workers int
	// ScratchDir is where archives are unpacked. A run directory is created
	// inside it and removed when the run ends. Empty uses the system temp dir.
	ScratchDir string
	// PolicyFile is merged over the embedded health and severity policy.
	PolicyFile string
}

// Validate reports every invalid option at once.
func (o Options) Validate() error {
	var errs *multierror.Error

	for _, s := range o.Scope {
		if !s.Valid() {
			errs = multierror.Append(errs, errors.Errorf("unknown subsystem %q in scope", s))
		}
	}
	if o.MaxExamples < 0 {
		errs = multierror.Append(errs, errors.New("max examples must not be negative"))
	}
	if o.MaxTemplates < 0 {
		errs = multierror.Append(errs, errors.New("max templates must not be negative"))
	}
	if o.Timeout < 0 {
		errs = multierror.Append(errs, errors.New("timeout must not be negative"))
	}
	if o.Workers < 0 {
		errs = multierror.Append(errs, errors.New("workers must not be negative"))
	}
	if o.ScratchDir != "" {
		info, err := os.Stat(o.ScratchDir)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "invalid scratch dir"))
		} else if !info.IsDir() {
			errs = multierror.Append(errs, errors.Errorf("scratch dir %s is not a directory", o.ScratchDir))
		}
	}
	if o.PolicyFile != "" {
		if _, err := os.Stat(o.PolicyFile); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "invalid policy file"))
		}
	}

	return errs.ErrorOrNil()
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return constants.DEFAULT_RUN_TIMEOUT
}

// makeScratchDir creates the run's scratch directory and returns a func that
// removes it.
func (o Options) makeScratchDir() (string, func(), error) {
	dir, err := os.MkdirTemp(o.ScratchDir, "bundlecheck-")
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create scratch dir")
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}, nil
}
