package storage

import (
	"fmt"
	"strings"
)

// ColumnKind is the portable type of a managed column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindBool
)

// Column describes one managed column.
type Column struct {
	Name       string
	Kind       ColumnKind
	PrimaryKey bool
}

// Table describes one managed table and the version of its layout.
// Bump Version whenever Columns change; EnsureSchema rebuilds mismatched tables.
type Table struct {
	Name    string
	Version int
	Columns []Column
}

// VersionTable records the installed version of each managed table.
const VersionTable = "schema_versions"

// PastesTable is the layout of the pastes table.
var PastesTable = Table{
	Name:    "pastes",
	Version: 1,
	Columns: []Column{
		{Name: "id", Kind: KindText, PrimaryKey: true},
		{Name: "content", Kind: KindText},
		{Name: "author", Kind: KindText},
		{Name: "language", Kind: KindText},
		{Name: "password", Kind: KindText},
		{Name: "temporary", Kind: KindBool},
		{Name: "created", Kind: KindText},
	},
}

// Tables is the allow-list of every identifier SQL text may be built from.
var Tables = []Table{PastesTable}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SameColumns reports whether installed holds exactly the table's columns, in any order.
func (t Table) SameColumns(installed []string) bool {
	if len(installed) != len(t.Columns) {
		return false
	}
	want := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		want[c.Name] = struct{}{}
	}
	for _, name := range installed {
		if _, ok := want[strings.ToLower(name)]; !ok {
			return false
		}
	}
	return true
}

// CreateSQL renders a CREATE TABLE statement using types for each column kind.
func (t Table) CreateSQL(types map[ColumnKind]string) (string, error) {
	if err := checkIdent(t.Name); err != nil {
		return "", err
	}
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if err := checkIdent(c.Name); err != nil {
			return "", err
		}
		typ, ok := types[c.Kind]
		if !ok {
			return "", fmt.Errorf("no type for column %s", c.Name)
		}
		def := Quote(c.Name) + " " + typ
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		} else {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", Quote(t.Name), strings.Join(defs, ", ")), nil
}

// QuotedColumns returns the quoted column list, e.g. `"id", "content"`.
func (t Table) QuotedColumns() string {
	quoted := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		quoted[i] = Quote(c.Name)
	}
	return strings.Join(quoted, ", ")
}

// Quote wraps a catalog identifier in double quotes. It panics on names that are
// not part of the catalog so that caller-controlled text never reaches identifier
// positions.
func Quote(name string) string {
	if err := checkIdent(name); err != nil {
		panic(err)
	}
	return `"` + name + `"`
}

func checkIdent(name string) error {
	if name == VersionTable || name == "name" || name == "version" {
		return nil
	}
	for _, t := range Tables {
		if t.Name == name {
			return nil
		}
		for _, c := range t.Columns {
			if c.Name == name {
				return nil
			}
		}
	}
	return fmt.Errorf("identifier %q is not in the schema catalog", name)
}

// Statements holds the fixed SQL text for one table in one dialect.
type Statements struct {
	Insert string
	Update string
	Get    string
	All    string
	Exists string
	Delete string
}

// Statements renders the CRUD statements for the table. placeholder maps a
// 1-based bind position to the dialect's marker ("?" or "$n"). Insert ignores
// an existing primary key so that callers detect conflicts by rows affected.
func (t Table) Statements(placeholder func(n int) string) Statements {
	var key Column
	rest := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.PrimaryKey {
			key = c
			continue
		}
		rest = append(rest, c)
	}

	marks := make([]string, len(t.Columns))
	for i := range t.Columns {
		marks[i] = placeholder(i + 1)
	}
	sets := make([]string, len(rest))
	for i, c := range rest {
		sets[i] = Quote(c.Name) + " = " + placeholder(i+1)
	}

	table := Quote(t.Name)
	pk := Quote(key.Name)
	cols := t.QuotedColumns()
	return Statements{
		Insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", table, cols, strings.Join(marks, ", "), pk),
		Update: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", table, strings.Join(sets, ", "), pk, placeholder(len(rest)+1)),
		Get:    fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", cols, table, pk, placeholder(1)),
		All:    fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", cols, table, Quote("created")),
		Exists: fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s LIMIT 1", table, pk, placeholder(1)),
		Delete: fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, pk, placeholder(1)),
	}
}
