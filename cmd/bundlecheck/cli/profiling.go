package cli

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cpuProfileFile *os.File

// startProfiling starts a CPU profile when --cpuprofile is set.
func startProfiling(v *viper.Viper) error {
	path := v.GetString("cpuprofile")
	if path == "" {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create CPU profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return errors.Wrap(err, "could not start CPU profile")
	}
	cpuProfileFile = f
	return nil
}

// stopProfiling writes the heap profile requested with --memprofile and stops
// the CPU profile, if one was started.
func stopProfiling(v *viper.Viper) error {
	if path := v.GetString("memprofile"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "could not create memory profile")
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			return errors.Wrap(err, "could not write memory profile")
		}
	}

	if cpuProfileFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := cpuProfileFile.Close()
	cpuProfileFile = nil
	return err
}

func addProfilingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("cpuprofile", "", "File path to write cpu profiling data")
	cmd.PersistentFlags().String("memprofile", "", "File path to write memory profiling data")
}
