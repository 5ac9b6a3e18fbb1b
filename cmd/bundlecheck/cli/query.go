package cli

import (
	"strings"

	"github.com/pkg/errors"
	analyzer "github.com/replicatedhq/bundlecheck/pkg/analyze"
	"github.com/replicatedhq/bundlecheck/pkg/dbquery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [bundle] [database]",
		Args:  cobra.ExactArgs(2),
		Short: "Query a database shipped in a bundle",
		Long: `Run a declarative query against one SQLite or OVSDB database of a bundle.
The database path is relative to the bundle root; members of archives are
addressed as "network_logs/ovnk_database_store.tar.gz!leader_nbdb".`,
		Example: `  bundlecheck query ./must-gather network_logs/ovnkube-node-abc_nbdb \
    --table Logical_Switch_Port --columns name,up --where up=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()

			q, err := databaseQuery(v)
			if err != nil {
				return err
			}
			format := v.GetString("output")
			if format != outputJSON && format != outputYAML {
				return errors.Errorf("unsupported output format %q, use json or yaml", format)
			}

			rows, err := analyzer.QueryDatabase(cmd.Context(), args[0], args[1], q, analyzer.Options{
				Timeout:    v.GetDuration("timeout"),
				ScratchDir: v.GetString("scratch-dir"),
			})
			if err != nil {
				return errors.Wrap(err, "failed to query database")
			}

			doc, err := marshalIndent(rows)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), format, doc)
		},
	}

	flags := cmd.Flags()
	flags.String("table", "", "table to read")
	flags.String("columns", "", "comma separated columns to return (default: all)")
	flags.StringArray("where", nil, "predicate col=val, col!=val, col~val (contains) or col=a|b (in); repeat to AND")
	flags.Int("limit", 0, "maximum rows to return (default: all)")
	flags.Duration("timeout", 0, "deadline for the query (default: 10m)")
	flags.String("scratch-dir", "", "directory to unpack archives in (default: system temp dir)")
	flags.StringP("output", "o", outputJSON, "output format, json or yaml")

	return cmd
}

func databaseQuery(v *viper.Viper) (dbquery.Query, error) {
	q := dbquery.Query{
		Table: v.GetString("table"),
		Limit: v.GetInt("limit"),
	}
	for _, c := range strings.Split(v.GetString("columns"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			q.Columns = append(q.Columns, c)
		}
	}
	for _, w := range v.GetStringSlice("where") {
		p, err := dbquery.ParsePredicate(w)
		if err != nil {
			return dbquery.Query{}, err
		}
		q.Where = append(q.Where, p)
	}
	return q, q.Validate()
}
