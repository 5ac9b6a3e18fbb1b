package dbquery

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(rows []Row) []string {
	out := []string{}
	for _, r := range rows {
		out = append(out, FormatValue(r["name"]))
	}
	return out
}

func TestOVSDBStandaloneReplay(t *testing.T) {
	ctx := context.Background()
	path := writeOVSDB(t, t.TempDir(), "ovnkube-node-abc_nbdb", northboundLog()...)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "OVN_Northbound", db.Name())
	assert.Equal(t, bundle.MagicOVSDB, db.Format())

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Logical_Switch", "Logical_Switch_Port"}, tables)

	n, err := db.Count(ctx, "Logical_Switch_Port")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "router port was deleted")

	rows, err := db.Query(ctx, Query{Table: "Logical_Switch_Port", Where: []Predicate{{Column: "name", Op: OpEq, Value: "app_web-2"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "false", FormatValue(rows[0]["up"]))
	assert.Equal(t, map[string]any{"namespace": "app", "pod": "true", "owner": "ovnkube"}, rows[0]["external_ids"])
	assert.Equal(t, []any{}, rows[0]["addresses"], "unset set columns default to empty")

	rows, err = db.Query(ctx, Query{Table: "Logical_Switch_Port", Columns: []string{"name", "enabled"}, Where: []Predicate{{Column: "name", Op: OpEq, Value: "app_web-1"}}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"name": "app_web-1", "enabled": []any{true}}, rows[0])

	// the diff toggled u-b out of the switch's port set
	rows, err = db.Query(ctx, Query{Table: "Logical_Switch", Columns: []string{"ports"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"u-a"}, rows[0]["ports"])
}

func TestOVSDBClusteredReplay(t *testing.T) {
	ctx := context.Background()
	path := writeOVSDB(t, t.TempDir(), "ovnkube-master-0_sbdb", southboundClusterLog()...)

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "OVN_Southbound", db.Name())
	assert.Equal(t, bundle.MagicOVSDBCluster, db.Format())

	rows, err := db.Query(ctx, Query{Table: "Chassis", Columns: []string{"hostname"}})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"hostname": "worker-0"}, {"hostname": "worker-1"}}, rows)
}

func TestOVSDBTornTailIsIgnored(t *testing.T) {
	records := northboundLog()
	records = append(records, "OVSDB JSON 400 0000000000000000000000000000000000000000\n{\"Logical_Switch_Port\":")
	path := writeOVSDB(t, t.TempDir(), "torn_nbdb", records...)

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	n, err := db.Count(context.Background(), "Logical_Switch_Port")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOVSDBCorruptHeader(t *testing.T) {
	path := writeOVSDB(t, t.TempDir(), "bad_nbdb", "OVSDB JSON notanumber abc\n{}\n")
	_, err := Open(context.Background(), path)
	require.Error(t, err)

	path = writeOVSDB(t, t.TempDir(), "garbage_nbdb", "this is not a database\n")
	_, err = Open(context.Background(), path)
	require.Error(t, err)
}

func TestSQLiteQuery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ports.db")
	writeSQLite(t, path)

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{
			name:  "all rows ordered",
			query: Query{Table: "ports", Columns: []string{"name"}},
			want:  []string{"dns-1", "web-1", "web-2"},
		},
		{
			name:  "eq",
			query: Query{Table: "ports", Where: []Predicate{{Column: "up", Op: OpEq, Value: "0"}}},
			want:  []string{"dns-1", "web-2"},
		},
		{
			name:  "ne",
			query: Query{Table: "ports", Where: []Predicate{{Column: "namespace", Op: OpNe, Value: "app"}}},
			want:  []string{"dns-1"},
		},
		{
			name:  "contains",
			query: Query{Table: "ports", Where: []Predicate{{Column: "name", Op: OpContains, Value: "web"}}},
			want:  []string{"web-1", "web-2"},
		},
		{
			name:  "in",
			query: Query{Table: "ports", Where: []Predicate{{Column: "name", Op: OpIn, Values: []string{"web-2", "dns-1"}}}},
			want:  []string{"dns-1", "web-2"},
		},
		{
			name:  "limit",
			query: Query{Table: "ports", Limit: 1},
			want:  []string{"dns-1"},
		},
		{
			name:  "unknown table",
			query: Query{Table: "nope"},
			want:  []string{},
		},
		{
			name:  "predicate on unknown column never matches",
			query: Query{Table: "ports", Where: []Predicate{{Column: "bogus", Op: OpEq, Value: "x"}}},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := QueryFile(ctx, path, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestSQLiteNullMatchesLikeEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chassis.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE chassis (name TEXT, hostname TEXT);
INSERT INTO chassis VALUES ('ch-1', 'worker-1'), ('ch-2', NULL), ('ch-3', '');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	hostnames := map[string]any{"ch-1": "worker-1", "ch-2": nil, "ch-3": ""}
	predicates := []Predicate{
		{Column: "hostname", Op: OpNe, Value: "worker-1"},
		{Column: "hostname", Op: OpNe, Value: ""},
		{Column: "hostname", Op: OpEq, Value: ""},
		{Column: "hostname", Op: OpEq, Value: "worker-1"},
		{Column: "hostname", Op: OpContains, Value: "worker"},
		{Column: "hostname", Op: OpIn, Values: []string{"", "worker-1"}},
		{Column: "hostname", Op: OpIn, Values: []string{"worker-1"}},
	}
	for _, p := range predicates {
		t.Run(string(p.Op)+" "+p.Value+strings.Join(p.Values, ","), func(t *testing.T) {
			want := []string{}
			for _, name := range []string{"ch-1", "ch-2", "ch-3"} {
				if p.matchValue(hostnames[name]) {
					want = append(want, name)
				}
			}
			rows, err := QueryFile(ctx, path, Query{Table: "chassis", Columns: []string{"name"}, Where: []Predicate{p}})
			require.NoError(t, err)
			assert.Equal(t, want, names(rows))
		})
	}

	rows, err := QueryFile(ctx, path, Query{Table: "chassis", Columns: []string{"name"}, Where: []Predicate{{Column: "hostname", Op: OpNe, Value: "worker-1"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ch-2", "ch-3"}, names(rows))
}

func TestSQLiteProjectionDropsUnknownColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ports.db")
	writeSQLite(t, path)

	rows, err := QueryFile(ctx, path, Query{Table: "ports", Columns: []string{"name", "bogus"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"name": "dns-1"}, rows[0])

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "ports"}, tables)
	n, err := db.Count(ctx, "ports")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpenUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))
	_, err := Open(context.Background(), path)
	require.Error(t, err)
}

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		in      string
		want    Predicate
		wantErr bool
	}{
		{in: "name=web", want: Predicate{Column: "name", Op: OpEq, Value: "web"}},
		{in: "up!=true", want: Predicate{Column: "up", Op: OpNe, Value: "true"}},
		{in: "name~web", want: Predicate{Column: "name", Op: OpContains, Value: "web"}},
		{in: "name=a|b", want: Predicate{Column: "name", Op: OpIn, Values: []string{"a", "b"}}},
		{in: "novalue", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePredicate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryValidate(t *testing.T) {
	require.NoError(t, Query{Table: "t"}.Validate())
	err := Query{Limit: -1, Where: []Predicate{{Op: "like"}, {Column: "c", Op: OpIn}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table is required")
	assert.Contains(t, err.Error(), "unknown operator")
	assert.Contains(t, err.Error(), "in requires values")
}
