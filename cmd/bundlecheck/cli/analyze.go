package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/internal/traces"
	analyzer "github.com/replicatedhq/bundlecheck/pkg/analyze"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"k8s.io/klog/v2"
)

func AnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [bundle]",
		Args:  cobra.ExactArgs(1),
		Short: "Analyze a diagnostic bundle",
		Long: `Index a bundle, extract facts from its manifests, databases and logs,
correlate them and print the health report. The bundle may be a directory, a
directory containing exactly one bundle, or a bundle archive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()

			opts, err := analyzeOptions(v)
			if err != nil {
				return err
			}
			format := v.GetString("output")
			if format != outputJSON && format != outputYAML {
				return errors.Errorf("unsupported output format %q, use json or yaml", format)
			}

			closer, err := traces.ConfigureTracing("bundlecheck")
			if err != nil {
				// Do not fail the analysis if tracing fails
				klog.Errorf("Failed to initialize open tracing provider: %v", err)
			} else {
				defer closer()
			}

			ctx, root := otel.Tracer(constants.LIB_TRACER_NAME).Start(cmd.Context(), constants.BUNDLECHECK_ROOT_SPAN_NAME)
			r, err := analyzer.Analyze(ctx, args[0], opts)
			if err != nil {
				root.SetStatus(codes.Error, err.Error())
			}
			root.End()

			if v.GetBool("debug") || v.IsSet("v") {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%s", traces.GetExporterInstance().GetSummary())
			}
			if err != nil {
				return errors.Wrap(err, "failed to analyze bundle")
			}

			doc, err := r.JSON()
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, doc)
		},
	}

	flags := cmd.Flags()
	flags.String("scope", "", "comma separated subsystems to report on (version,operators,nodes,pods,events,storage,network,etcd,olm,logs,bundle)")
	flags.Bool("problems-only", false, "only report unhealthy facts and unresolved findings above Info")
	flags.Bool("include-facts", false, "include the extracted facts in the report")
	flags.Int("max-examples", constants.DEFAULT_MAX_EXAMPLES, "literal example lines kept per log template")
	flags.Int("max-templates", constants.DEFAULT_MAX_TEMPLATES, "log templates kept per log source")
	flags.Duration("timeout", constants.DEFAULT_RUN_TIMEOUT, "deadline for extraction; unfinished work is reported as a partial run")
	flags.Int("workers", 0, "concurrent work units (default: number of CPUs)")
	flags.String("scratch-dir", "", "directory to unpack archives in (default: system temp dir)")
	flags.String("policy", "", "policy document merged over the built-in health and severity tables")
	flags.StringP("output", "o", outputJSON, "output format, json or yaml")

	return cmd
}

func analyzeOptions(v *viper.Viper) (analyzer.Options, error) {
	scope, err := facts.ParseSubsystems(v.GetString("scope"))
	if err != nil {
		return analyzer.Options{}, errors.Wrap(err, "invalid scope")
	}

	return analyzer.Options{
		Scope:        scope,
		ProblemsOnly: v.GetBool("problems-only"),
		IncludeFacts: v.GetBool("include-facts"),
		MaxExamples:  v.GetInt("max-examples"),
		MaxTemplates: v.GetInt("max-templates"),
		Timeout:      v.GetDuration("timeout"),
		Workers:      v.GetInt("workers"),
		ScratchDir:   v.GetString("scratch-dir"),
		PolicyFile:   v.GetString("policy"),
	}, nil
}
