package dbquery

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"k8s.io/klog/v2"
)

const (
	ovsdbUUIDColumn   = "_uuid"
	maxOVSDBRecordLen = 1 << 30
)

// ovsdbDatabase is an OVSDB transaction log replayed into memory.
type ovsdbDatabase struct {
	name    string
	format  bundle.Magic
	columns map[string]map[string]columnType
	tables  map[string]map[string]Row
}

type columnType struct {
	isMap bool
	isSet bool
	base  string
}

type ovsdbSchema struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Tables  map[string]struct {
		Columns map[string]struct {
			Type json.RawMessage `json:"type"`
		} `json:"columns"`
	} `json:"tables"`
}

// clusterRecord covers the header and log entries of a clustered (raft) database.
type clusterRecord struct {
	Name     string            `json:"name"`
	PrevData []json.RawMessage `json:"prev_data"`
	Data     []json.RawMessage `json:"data"`
}

func openOVSDB(ctx context.Context, path string) (*ovsdbDatabase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ovsdb file")
	}
	defer f.Close()

	db, err := replayOVSDB(ctx, bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("replayed %s database %s from %s", db.format, db.name, path)
	return db, nil
}

func replayOVSDB(ctx context.Context, r *bufio.Reader) (*ovsdbDatabase, error) {
	db := &ovsdbDatabase{
		columns: map[string]map[string]columnType{},
		tables:  map[string]map[string]Row{},
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		magic, body, err := readOVSDBRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			if n == 0 {
				return nil, errors.Wrap(err, "failed to read ovsdb header record")
			}
			// ovsdb-server truncates a torn tail on its next start; do the same.
			klog.V(1).Infof("stopped replay at record %d: %v", n, err)
			break
		}
		if n == 0 {
			db.format = magic
		}

		if err := db.applyRecord(n, body); err != nil {
			return nil, errors.Wrapf(err, "failed to apply ovsdb record %d", n)
		}
	}

	if db.format == bundle.MagicUnknown {
		return nil, errors.New("empty ovsdb file")
	}
	if db.name == "" {
		return nil, errors.New("ovsdb file has no schema")
	}
	return db, nil
}

// readOVSDBRecord reads one "OVSDB JSON|CLUSTER <length> <sha1>\n<body>" record.
func readOVSDBRecord(r *bufio.Reader) (bundle.Magic, []byte, error) {
	var header string
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF && strings.TrimSpace(line) == "" {
			return bundle.MagicUnknown, nil, io.EOF
		}
		if err != nil {
			return bundle.MagicUnknown, nil, errors.Wrap(io.ErrUnexpectedEOF, "truncated record header")
		}
		if header = strings.TrimSpace(line); header != "" {
			break
		}
	}

	fields := strings.Fields(header)
	if len(fields) != 4 || fields[0] != "OVSDB" {
		return bundle.MagicUnknown, nil, errors.Errorf("invalid record header %q", header)
	}
	var magic bundle.Magic
	switch fields[1] {
	case "JSON":
		magic = bundle.MagicOVSDB
	case "CLUSTER":
		magic = bundle.MagicOVSDBCluster
	default:
		return bundle.MagicUnknown, nil, errors.Errorf("unknown record magic %q", fields[1])
	}
	length, err := strconv.Atoi(fields[2])
	if err != nil || length < 0 || length > maxOVSDBRecordLen {
		return bundle.MagicUnknown, nil, errors.Errorf("invalid record length %q", fields[2])
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return bundle.MagicUnknown, nil, errors.Wrap(err, "truncated record body")
	}
	sum := sha1.Sum(body)
	if hex.EncodeToString(sum[:]) != strings.ToLower(fields[3]) {
		return bundle.MagicUnknown, nil, errors.New("record checksum mismatch")
	}
	return magic, body, nil
}

func (db *ovsdbDatabase) applyRecord(n int, body []byte) error {
	if db.format == bundle.MagicOVSDB {
		if n == 0 {
			return db.setSchema(body)
		}
		return db.applyTransaction(body)
	}

	var record clusterRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return errors.Wrap(err, "failed to parse cluster record")
	}
	if n == 0 {
		db.name = record.Name
	}
	// Snapshots and entries are [schema, data]; a non-null schema replaces the database.
	for _, entry := range [][]json.RawMessage{record.PrevData, record.Data} {
		if len(entry) != 2 {
			continue
		}
		if !isJSONNull(entry[0]) {
			if err := db.setSchema(entry[0]); err != nil {
				return err
			}
		}
		if !isJSONNull(entry[1]) {
			if err := db.applyTransaction(entry[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *ovsdbDatabase) setSchema(raw []byte) error {
	var schema ovsdbSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return errors.Wrap(err, "failed to parse schema")
	}
	if schema.Name == "" || len(schema.Tables) == 0 {
		return errors.New("schema has no name or tables")
	}

	db.name = schema.Name
	db.columns = map[string]map[string]columnType{}
	db.tables = map[string]map[string]Row{}
	for table, def := range schema.Tables {
		columns := map[string]columnType{ovsdbUUIDColumn: {base: "uuid"}}
		for column, c := range def.Columns {
			columns[column] = parseColumnType(c.Type)
		}
		db.columns[table] = columns
		db.tables[table] = map[string]Row{}
	}
	return nil
}

// applyTransaction applies {"<table>": {"<uuid>": <row> | null}}. New rows
// carry all non-default columns, modified rows only the changed ones, and a
// null row is a delete. With "_is_diff" set, modified set and map columns hold
// the difference to apply instead of the new value.
func (db *ovsdbDatabase) applyTransaction(raw []byte) error {
	var txn map[string]any
	if err := json.Unmarshal(raw, &txn); err != nil {
		return errors.Wrap(err, "failed to parse transaction")
	}
	isDiff, _ := txn["_is_diff"].(bool)

	for table, rawRows := range txn {
		if strings.HasPrefix(table, "_") {
			continue
		}
		rows, ok := rawRows.(map[string]any)
		if !ok {
			return errors.Errorf("table %s: rows are not an object", table)
		}
		stored, ok := db.tables[table]
		if !ok {
			// tables missing from the schema are kept so they can still be queried
			stored = map[string]Row{}
			db.tables[table] = stored
			db.columns[table] = map[string]columnType{ovsdbUUIDColumn: {base: "uuid"}}
		}
		types := db.columns[table]

		for uuid, rawRow := range rows {
			if rawRow == nil {
				delete(stored, uuid)
				continue
			}
			columns, ok := rawRow.(map[string]any)
			if !ok {
				return errors.Errorf("table %s row %s is not an object", table, uuid)
			}

			row, exists := stored[uuid]
			if !exists {
				row = Row{ovsdbUUIDColumn: uuid}
				stored[uuid] = row
			}
			for column, value := range columns {
				if strings.HasPrefix(column, "_") {
					continue
				}
				ct, known := types[column]
				if !known {
					ct = columnType{}
					types[column] = ct
				}
				decoded := ct.normalize(decodeDatum(value))
				if exists && isDiff {
					row[column] = ct.applyDiff(row[column], decoded)
				} else {
					row[column] = decoded
				}
			}
		}
	}
	return nil
}

// parseColumnType reads an OVSDB column type: either a bare atomic type name
// or {"key", "value", "min", "max"}.
func parseColumnType(raw json.RawMessage) columnType {
	var base string
	if err := json.Unmarshal(raw, &base); err == nil {
		return columnType{base: base}
	}

	var t struct {
		Key   json.RawMessage `json:"key"`
		Value json.RawMessage `json:"value"`
		Min   *int            `json:"min"`
		Max   json.RawMessage `json:"max"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return columnType{}
	}

	ct := columnType{isMap: len(t.Value) > 0, base: atomicType(t.Key)}
	maxN := 1
	if len(t.Max) > 0 {
		var s string
		if json.Unmarshal(t.Max, &s) == nil && s == "unlimited" {
			maxN = -1
		} else {
			_ = json.Unmarshal(t.Max, &maxN)
		}
	}
	minN := 1
	if t.Min != nil {
		minN = *t.Min
	}
	ct.isSet = !ct.isMap && (maxN != 1 || minN == 0)
	return ct
}

func atomicType(raw json.RawMessage) string {
	var base string
	if json.Unmarshal(raw, &base) == nil {
		return base
	}
	var t struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &t)
	return t.Type
}

// decodeDatum converts the OVSDB JSON encoding of a datum: ["uuid", id],
// ["set", [...]] and ["map", [[k, v], ...]].
func decodeDatum(v any) any {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return v
	}
	tag, _ := pair[0].(string)
	switch tag {
	case "uuid", "named-uuid":
		return pair[1]
	case "set":
		elems, _ := pair[1].([]any)
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			out = append(out, decodeDatum(e))
		}
		return out
	case "map":
		entries, _ := pair[1].([]any)
		out := map[string]any{}
		for _, e := range entries {
			kv, ok := e.([]any)
			if !ok || len(kv) != 2 {
				continue
			}
			out[FormatValue(decodeDatum(kv[0]))] = decodeDatum(kv[1])
		}
		return out
	}
	return v
}

// normalize stores set columns as slices even when the log holds a bare atom.
func (ct columnType) normalize(v any) any {
	switch {
	case ct.isSet:
		if s, ok := v.([]any); ok {
			return s
		}
		return []any{v}
	case ct.isMap:
		if m, ok := v.(map[string]any); ok {
			return m
		}
		return map[string]any{}
	}
	return v
}

func (ct columnType) applyDiff(old, diff any) any {
	switch {
	case ct.isMap:
		result := map[string]any{}
		if m, ok := old.(map[string]any); ok {
			for k, v := range m {
				result[k] = v
			}
		}
		for k, v := range diff.(map[string]any) {
			if existing, ok := result[k]; ok && FormatValue(existing) == FormatValue(v) {
				delete(result, k)
			} else {
				result[k] = v
			}
		}
		return result
	case ct.isSet:
		present := map[string]bool{}
		result := []any{}
		if s, ok := old.([]any); ok {
			result = append(result, s...)
		}
		for _, e := range result {
			present[FormatValue(e)] = true
		}
		for _, e := range diff.([]any) {
			key := FormatValue(e)
			if !present[key] {
				result = append(result, e)
				present[key] = true
				continue
			}
			for i, existing := range result {
				if FormatValue(existing) == key {
					result = append(result[:i], result[i+1:]...)
					break
				}
			}
			delete(present, key)
		}
		return result
	}
	return diff
}

// defaultValue is the value of a column the log never set.
func (ct columnType) defaultValue() any {
	switch {
	case ct.isMap:
		return map[string]any{}
	case ct.isSet:
		return []any{}
	}
	switch ct.base {
	case "integer", "real":
		return float64(0)
	case "boolean":
		return false
	}
	return ""
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

func (db *ovsdbDatabase) Name() string         { return db.name }
func (db *ovsdbDatabase) Format() bundle.Magic { return db.format }
func (db *ovsdbDatabase) Close() error         { return nil }

func (db *ovsdbDatabase) Tables(ctx context.Context) ([]string, error) {
	tables := make([]string, 0, len(db.tables))
	for t := range db.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

func (db *ovsdbDatabase) Count(ctx context.Context, table string) (int, error) {
	return len(db.tables[table]), nil
}

func (db *ovsdbDatabase) Query(ctx context.Context, q Query) ([]Row, error) {
	stored, ok := db.tables[q.Table]
	if !ok {
		return []Row{}, nil
	}
	types := db.columns[q.Table]
	known := make([]string, 0, len(types))
	for c := range types {
		known = append(known, c)
	}
	columns, ok := q.projection(known)
	if !ok || len(columns) == 0 {
		return []Row{}, nil
	}

	uuids := make([]string, 0, len(stored))
	for uuid := range stored {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	result := []Row{}
	for _, uuid := range uuids {
		row := stored[uuid]
		value := func(column string) any {
			if v, ok := row[column]; ok {
				return v
			}
			return types[column].defaultValue()
		}

		matched := true
		for _, p := range q.Where {
			if !p.matchValue(value(p.Column)) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		projected := Row{}
		for _, c := range columns {
			projected[c] = value(c)
		}
		result = append(result, projected)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}
