package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/replicatedhq/bundlecheck/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundlecheck",
		Short: "Correlate the state captured in a cluster diagnostic bundle",
		Long: `bundlecheck reads a must-gather style bundle (resource manifests, exported
OVN databases and logs) and produces a ranked, cross-referenced health report.
It never talks to a live cluster.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			v := viper.GetViper()
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.BindPFlags(cmd.Flags())

			logger.SetupLogger(v)

			if err := startProfiling(v); err != nil {
				klog.Errorf("Failed to start profiling: %v", err)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := stopProfiling(viper.GetViper()); err != nil {
				klog.Errorf("Failed to stop profiling: %v", err)
			}
		},
	}

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(AnalyzeCmd())
	cmd.AddCommand(QueryCmd())
	cmd.AddCommand(VersionCmd())

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging and print a timing summary")
	logger.InitKlogFlags(cmd.PersistentFlags())
	addProfilingFlags(cmd)

	return cmd
}

func InitAndExecute() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUNDLECHECK")
	viper.AutomaticEnv()
}
