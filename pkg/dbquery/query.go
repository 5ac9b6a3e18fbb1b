// Package dbquery reads the embedded databases shipped in a bundle: SQLite
// files and OVSDB (standalone or clustered) transaction logs. Both backends
// answer the same declarative Query.
package dbquery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpContains Op = "contains"
	OpIn       Op = "in"
)

// Predicate filters rows on one column. Values is used by OpIn, Value by the rest.
type Predicate struct {
	Column string   `json:"column"`
	Op     Op       `json:"op"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Query selects Columns from Table. An empty Columns selects every column.
// Predicates are ANDed; a Limit of 0 returns all rows.
type Query struct {
	Table   string      `json:"table"`
	Columns []string    `json:"columns,omitempty"`
	Where   []Predicate `json:"where,omitempty"`
	Limit   int         `json:"limit,omitempty"`
}

// Row maps column name to value. Columns unknown to the table are absent.
type Row map[string]any

func (q Query) Validate() error {
	var errs *multierror.Error
	if q.Table == "" {
		errs = multierror.Append(errs, errors.New("table is required"))
	}
	if q.Limit < 0 {
		errs = multierror.Append(errs, errors.New("limit must not be negative"))
	}
	for i, p := range q.Where {
		if p.Column == "" {
			errs = multierror.Append(errs, errors.Errorf("predicate %d: column is required", i))
		}
		switch p.Op {
		case OpEq, OpNe, OpContains:
		case OpIn:
			if len(p.Values) == 0 {
				errs = multierror.Append(errs, errors.Errorf("predicate %d: in requires values", i))
			}
		default:
			errs = multierror.Append(errs, errors.Errorf("predicate %d: unknown operator %q", i, p.Op))
		}
	}
	return errs.ErrorOrNil()
}

// ParsePredicate parses the command line form of a predicate:
// col=val, col!=val, col~val (contains) or col=a|b|c (in).
func ParsePredicate(s string) (Predicate, error) {
	if i := strings.Index(s, "!="); i > 0 {
		return Predicate{Column: s[:i], Op: OpNe, Value: s[i+2:]}, nil
	}
	if i := strings.Index(s, "~"); i > 0 {
		return Predicate{Column: s[:i], Op: OpContains, Value: s[i+1:]}, nil
	}
	if i := strings.Index(s, "="); i > 0 {
		value := s[i+1:]
		if strings.Contains(value, "|") {
			return Predicate{Column: s[:i], Op: OpIn, Values: strings.Split(value, "|")}, nil
		}
		return Predicate{Column: s[:i], Op: OpEq, Value: value}, nil
	}
	return Predicate{}, errors.Errorf("invalid predicate %q, expected col=val, col!=val or col~val", s)
}

// projection resolves the requested columns against the known ones. Unknown
// requested columns are dropped. ok is false when a predicate names an
// unknown column, in which case no row can match.
func (q Query) projection(known []string) (columns []string, ok bool) {
	knownSet := map[string]bool{}
	for _, c := range known {
		knownSet[c] = true
	}
	for _, p := range q.Where {
		if !knownSet[p.Column] {
			return nil, false
		}
	}

	if len(q.Columns) == 0 {
		columns = append([]string{}, known...)
		sort.Strings(columns)
		return columns, true
	}
	seen := map[string]bool{}
	for _, c := range q.Columns {
		if knownSet[c] && !seen[c] {
			columns = append(columns, c)
			seen[c] = true
		}
	}
	return columns, true
}

// matchValue evaluates a predicate against a decoded value. Sets match
// contains by membership, maps by key; everything else compares as text.
func (p Predicate) matchValue(v any) bool {
	switch p.Op {
	case OpEq:
		return FormatValue(v) == p.Value
	case OpNe:
		return FormatValue(v) != p.Value
	case OpIn:
		s := FormatValue(v)
		for _, candidate := range p.Values {
			if s == candidate {
				return true
			}
		}
		return false
	case OpContains:
		switch t := v.(type) {
		case []any:
			for _, elem := range t {
				if FormatValue(elem) == p.Value {
					return true
				}
			}
			return false
		case map[string]any:
			_, ok := t[p.Value]
			return ok
		}
		return strings.Contains(FormatValue(v), p.Value)
	}
	return false
}

// FormatValue renders a value as text for comparisons and for fact fields.
// Single element sets compare equal to their element.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case []any:
		if len(t) == 1 {
			return FormatValue(t[0])
		}
		parts := make([]string, 0, len(t))
		for _, elem := range t {
			parts = append(parts, FormatValue(elem))
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+FormatValue(t[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	}
	return fmt.Sprint(v)
}
