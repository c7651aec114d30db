// Package schema models database structure, builds it from a live database
// or from canonical definitions, and compares two models into typed
// differences that can be rendered as fix statements.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// PrimaryKeyName is the reserved name of a table's primary key.
const PrimaryKeyName = "PRIMARY"

// KeyType classifies a table key.
type KeyType int

const (
	KeyPlain KeyType = iota
	KeyPrimary
	KeyUnique
	KeyForeign
)

func (t KeyType) String() string {
	switch t {
	case KeyPrimary:
		return "primary"
	case KeyUnique:
		return "unique"
	case KeyForeign:
		return "foreign"
	default:
		return "key"
	}
}

// ParseKeyType accepts the names produced by String.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "key", "plain", "index":
		return KeyPlain, nil
	case "primary":
		return KeyPrimary, nil
	case "unique":
		return KeyUnique, nil
	case "foreign":
		return KeyForeign, nil
	default:
		return KeyPlain, fmt.Errorf("invalid key type %q", s)
	}
}

// Charset is a character set and collation pair. The zero value means the
// object has none (numeric columns, engines without charsets).
type Charset struct {
	Charset string `json:"charset,omitempty" yaml:"charset,omitempty"`
	Collate string `json:"collate,omitempty" yaml:"collate,omitempty"`
}

// Equal compares both charset and collation.
func (c Charset) Equal(o Charset) bool {
	return strings.EqualFold(c.Charset, o.Charset) && strings.EqualFold(c.Collate, o.Collate)
}

// IsZero reports whether no charset is set.
func (c Charset) IsZero() bool {
	return c.Charset == "" && c.Collate == ""
}

func (c Charset) String() string {
	if c.IsZero() {
		return "NONE"
	}
	return c.Charset + "/" + c.Collate
}

var defaultCollations = map[string]string{
	"utf8mb4": "utf8mb4_general_ci",
	"utf8mb3": "utf8mb3_general_ci",
	"utf8":    "utf8_general_ci",
	"latin1":  "latin1_swedish_ci",
	"ascii":   "ascii_general_ci",
	"binary":  "binary",
}

// DefaultCollate reports whether the collation is the server default for
// the charset, in which case DDL omits it.
func (c Charset) DefaultCollate() bool {
	return c.Collate == "" || strings.EqualFold(defaultCollations[strings.ToLower(c.Charset)], c.Collate)
}

// DefaultKind distinguishes a column without default from one defaulting
// to NULL.
type DefaultKind int

const (
	NoDefault DefaultKind = iota
	DefaultNull
	DefaultValue
)

// Default is a column default value.
type Default struct {
	Kind  DefaultKind `json:"kind"`
	Value string      `json:"value,omitempty"`
}

// None is the absent default.
func None() Default { return Default{} }

// Null is DEFAULT NULL.
func Null() Default { return Default{Kind: DefaultNull} }

// Value is DEFAULT v.
func Value(v string) Default { return Default{Kind: DefaultValue, Value: v} }

// Equal compares the presence and the value of both defaults.
func (d Default) Equal(o Default) bool {
	if d.Kind != o.Kind {
		return false
	}
	return d.Kind != DefaultValue || d.Value == o.Value
}

func (d Default) String() string {
	switch d.Kind {
	case DefaultNull:
		return "NULL"
	case DefaultValue:
		return d.Value
	default:
		return "none"
	}
}

var rawDefaults = []string{"CURRENT_TIMESTAMP", "CURRENT_TIMESTAMP()", "NOW()", "CURRENT_DATE", "CURRENT_TIME"}

// literal renders the default for DDL.
func (d Default) literal() string {
	switch d.Kind {
	case DefaultNull:
		return "NULL"
	case DefaultValue:
		if slices.Contains(rawDefaults, strings.ToUpper(d.Value)) {
			return d.Value
		}
		return "'" + strings.ReplaceAll(d.Value, "'", "''") + "'"
	default:
		return ""
	}
}

// Column is one table column.
type Column struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Nullable      bool    `json:"nullable"`
	Default       Default `json:"default"`
	AutoIncrement bool    `json:"auto_increment,omitempty"`
	Charset       Charset `json:"charset,omitzero"`
}

// Key is an index or constraint over ordered columns. SubParts holds the
// prefix length per column, 0 for the whole column.
type Key struct {
	Type     KeyType  `json:"type"`
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	SubParts []int    `json:"sub_parts"`
}

// NewKey creates an empty key. Primary keys are always named PRIMARY.
func NewKey(t KeyType, name string) *Key {
	if t == KeyPrimary {
		name = PrimaryKeyName
	}
	return &Key{Type: t, Name: name}
}

// AddColumn appends a column with an optional prefix length.
func (k *Key) AddColumn(name string, subPart int) {
	k.Columns = append(k.Columns, name)
	k.SubParts = append(k.SubParts, max(subPart, 0))
}

// Equal compares type, columns and prefix lengths.
func (k *Key) Equal(o *Key) bool {
	return k.Type == o.Type && slices.Equal(k.Columns, o.Columns) && slices.Equal(k.SubParts, o.SubParts)
}

// Describe names the key for humans.
func (k *Key) Describe() string {
	switch k.Type {
	case KeyPrimary:
		return "primary key"
	case KeyUnique:
		return fmt.Sprintf("unique key `%s`", k.Name)
	case KeyForeign:
		return fmt.Sprintf("foreign key `%s`", k.Name)
	default:
		return fmt.Sprintf("key `%s`", k.Name)
	}
}

// Table is a table with ordered columns and named keys.
type Table struct {
	Name    string
	Engine  string
	Charset Charset

	columns []Column
	keys    map[string]*Key
}

// NewTable creates an empty table.
func NewTable(name string) *Table {
	return &Table{Name: name, keys: make(map[string]*Key)}
}

// AddColumn appends a column. A column whose name already exists is ignored.
func (t *Table) AddColumn(c Column) {
	if t.HasColumn(c.Name) {
		return
	}
	t.columns = append(t.columns, c)
}

// Columns returns the columns in table order.
func (t *Table) Columns() []Column {
	return slices.Clone(t.columns)
}

// ColumnNames returns the column names in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ReorderColumns puts the named columns first, in the given order. Columns
// not named keep their relative order after them.
func (t *Table) ReorderColumns(names []string) {
	ordered := make([]Column, 0, len(t.columns))
	for _, n := range names {
		if c, ok := t.Column(n); ok {
			ordered = append(ordered, c)
		}
	}
	for _, c := range t.columns {
		if !slices.Contains(names, c.Name) {
			ordered = append(ordered, c)
		}
	}
	t.columns = ordered
}

// AddKey adds or replaces a key.
func (t *Table) AddKey(k *Key) {
	if t.keys == nil {
		t.keys = make(map[string]*Key)
	}
	t.keys[k.Name] = k
}

// Key looks up a key by name.
func (t *Table) Key(name string) (*Key, bool) {
	k, ok := t.keys[name]
	return k, ok
}

// Keys returns the keys, primary key first then by name.
func (t *Table) Keys() []*Key {
	keys := make([]*Key, 0, len(t.keys))
	for _, k := range t.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i].Type == KeyPrimary) != (keys[j].Type == KeyPrimary) {
			return keys[i].Type == KeyPrimary
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// previous returns the name of the column before name, or "" when it is
// the first one.
func (t *Table) previous(name string) string {
	for i, c := range t.columns {
		if c.Name == name && i > 0 {
			return t.columns[i-1].Name
		}
	}
	return ""
}

// Database is a set of tables.
type Database struct {
	tables map[string]*Table
}

// NewDatabase creates an empty model.
func NewDatabase() *Database {
	return &Database{tables: make(map[string]*Table)}
}

// AddTable adds or replaces a table.
func (d *Database) AddTable(t *Table) {
	d.tables[t.Name] = t
}

// Table looks up a table by name.
func (d *Database) Table(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// TableNames returns all table names sorted.
func (d *Database) TableNames() []string {
	names := make([]string, 0, len(d.tables))
	for n := range d.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DDL renders the statements creating every table.
func (d *Database) DDL(dialect Dialect) []string {
	var out []string
	for _, name := range d.TableNames() {
		out = append(out, dialect.CreateTable(d.tables[name])...)
	}
	return out
}
