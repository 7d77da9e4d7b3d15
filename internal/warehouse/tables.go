package warehouse

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column is one field of an explicit external-table schema.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Table describes how one entity of the partition is exposed downstream.
type Table struct {
	Entity        string   `yaml:"entity"`
	ExternalTable string   `yaml:"external_table"` // "<database>.<table>"
	SilverSQL     string   `yaml:"silver_sql"`     // file name under the SQL directory
	Schema        []Column `yaml:"schema"`         // empty means infer from the file

	// CSVOptions are ClickHouse format settings applied to the external table,
	// e.g. input_format_csv_allow_variable_number_of_columns: "1".
	CSVOptions map[string]string `yaml:"csv_options"`
}

// ExternalRef splits ExternalTable into database and table.
func (t Table) ExternalRef() (string, string) {
	db, table, _ := strings.Cut(t.ExternalTable, ".")
	return db, table
}

type tablesFile struct {
	Tables []Table `yaml:"tables"`
}

// LoadTables reads the table list from a YAML file.
func LoadTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables config: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates a table list.
func ParseTables(data []byte) ([]Table, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tables config: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("tables config lists no tables")
	}

	seen := make(map[string]bool, len(f.Tables))
	for i, t := range f.Tables {
		if !validIdent(t.Entity) {
			return nil, fmt.Errorf("table %d: invalid entity %q", i, t.Entity)
		}
		if seen[t.Entity] {
			return nil, fmt.Errorf("table %d: duplicate entity %q", i, t.Entity)
		}
		seen[t.Entity] = true

		db, table := t.ExternalRef()
		if !validIdent(db) || !validIdent(table) {
			return nil, fmt.Errorf("entity %s: external_table %q must be <database>.<table>", t.Entity, t.ExternalTable)
		}
		if t.SilverSQL == "" {
			return nil, fmt.Errorf("entity %s: silver_sql is required", t.Entity)
		}
		for _, c := range t.Schema {
			if !validIdent(c.Name) || !validType(c.Type) {
				return nil, fmt.Errorf("entity %s: invalid column %q %q", t.Entity, c.Name, c.Type)
			}
		}
		for k, v := range t.CSVOptions {
			if !validIdent(k) || !validType(v) {
				return nil, fmt.Errorf("entity %s: invalid csv option %q = %q", t.Entity, k, v)
			}
		}
	}
	return f.Tables, nil
}

// Entities returns the entity names in configuration order.
func Entities(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Entity
	}
	return names
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func validType(s string) bool {
	return s != "" && !strings.ContainsAny(s, ";`'\n")
}
