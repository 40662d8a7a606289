// Package columns holds the static mapping from inventory fields to
// spreadsheet columns, plus the list of stores offered at step 2.
package columns

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"invbot/internal/entry"
)

//go:embed default.yaml
var defaultYAML []byte

var columnPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)

// Table is read-only once loaded.
type Table struct {
	columns map[entry.Field]string
	order   []entry.Field
	stores  []string
}

type fileFormat struct {
	Columns map[string]string `yaml:"columns"`
	Stores  []string          `yaml:"stores"`
}

// Default returns the built-in inventory layout.
func Default() (*Table, error) {
	return Parse(defaultYAML)
}

// Load reads a layout file. An empty path yields the built-in layout.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column mapping: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML layout.
func Parse(data []byte) (*Table, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("failed to parse column mapping: %w", err)
	}

	var errs []error
	t := &Table{columns: make(map[entry.Field]string, len(ff.Columns))}
	usedBy := make(map[string]entry.Field)

	for name, col := range ff.Columns {
		f := entry.Field(name)
		col = strings.ToUpper(strings.TrimSpace(col))
		if !entry.Known(f) {
			errs = append(errs, fmt.Errorf("unknown field %q", name))
			continue
		}
		if !columnPattern.MatchString(col) {
			errs = append(errs, fmt.Errorf("field %q: invalid column %q", name, col))
			continue
		}
		if other, dup := usedBy[col]; dup {
			errs = append(errs, fmt.Errorf("column %s mapped to both %q and %q", col, other, name))
			continue
		}
		usedBy[col] = f
		t.columns[f] = col
		t.order = append(t.order, f)
	}

	for _, step := range []int{1, 2, 3} {
		for _, f := range entry.StepFields(step) {
			if _, ok := t.columns[f]; !ok && entry.Required(f) {
				errs = append(errs, fmt.Errorf("required field %q has no column", f))
			}
		}
	}

	seen := make(map[string]bool)
	for _, s := range ff.Stores {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		t.stores = append(t.stores, s)
	}
	if len(t.stores) == 0 {
		errs = append(errs, errors.New("no stores configured"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(t.order, func(i, j int) bool {
		return ColumnIndex(t.columns[t.order[i]]) < ColumnIndex(t.columns[t.order[j]])
	})
	return t, nil
}

// Column returns the column letter for f.
func (t *Table) Column(f entry.Field) (string, bool) {
	c, ok := t.columns[f]
	return c, ok
}

// Fields returns mapped fields ordered left to right by column.
func (t *Table) Fields() []entry.Field {
	return append([]entry.Field(nil), t.order...)
}

// Stores returns the allowed store choices in configured order.
func (t *Table) Stores() []string {
	return append([]string(nil), t.stores...)
}

// IsStore reports whether s is one of the configured stores.
func (t *Table) IsStore(s string) bool {
	for _, x := range t.stores {
		if x == s {
			return true
		}
	}
	return false
}

// ColumnIndex converts a column letter to its 1-based index (A=1, AA=27).
func ColumnIndex(col string) int {
	n := 0
	for _, r := range col {
		n = n*26 + int(r-'A'+1)
	}
	return n
}
