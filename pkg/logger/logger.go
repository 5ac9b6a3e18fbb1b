/*
Logging library for bundlecheck.

Logging levels

0: progress of a whole run (bundle located, stages finished). Components should not log at this level.

1: high level logs within a component, e.g. "opened OVSDB database for node worker-0".

2: everything else, including per-artifact details. If unsure, use this level.

Do not log errors in functions that return an error. Return the error and let the caller log it.
Conditions the engine records as facts (unreadable logs, corrupt manifests) are data, not log lines.
*/
package logger

import (
	"flag"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var lock sync.Mutex

// InitKlogFlags registers the klog verbosity flag on a cobra command's flag set.
func InitKlogFlags(flags *pflag.FlagSet) {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	klogFlags.VisitAll(func(f *flag.Flag) {
		if f.Name == "v" {
			flags.AddGoFlag(f)
		}
	})
}

// InitKlog sets the klog verbosity directly. Tests use it to see instrumented logs.
func InitKlog(verbosity int) {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	klogFlags.VisitAll(func(f *flag.Flag) {
		if f.Name == "v" {
			f.Value.Set(fmt.Sprintf("%d", verbosity))
		}
	})
}

// SetupLogger enables klog output only when debug or an explicit verbosity was requested.
func SetupLogger(v *viper.Viper) {
	verbose := v.GetBool("debug") || v.IsSet("v")
	SetQuiet(!verbose)
}

// SetQuiet enables or disables the klog logger.
func SetQuiet(quiet bool) {
	lock.Lock()
	defer lock.Unlock()

	if quiet {
		klog.SetLogger(logr.Discard())
	} else {
		klog.ClearLogger()
	}
}
