package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for fixes a dialect cannot express.
var ErrUnsupported = errors.New("not supported by this database")

// Dialect selects the SQL flavour used to render statements.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return d.String()
}

// ParseDialect maps a configured driver name to a dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return MySQL, fmt.Errorf("unsupported database driver %q", s)
	}
}

func (d Dialect) quote(name string) string {
	if d == SQLite {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnDDL renders a column definition. The table charset is omitted
// from the column when they match.
func (d Dialect) ColumnDDL(t *Table, c Column) string {
	var b strings.Builder
	b.WriteString(d.quote(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)

	if d == MySQL && !c.Charset.IsZero() && !c.Charset.Equal(t.Charset) {
		b.WriteString(" CHARACTER SET " + c.Charset.Charset)
		if c.Charset.Collate != "" {
			b.WriteString(" COLLATE " + c.Charset.Collate)
		}
	}
	if c.Nullable {
		if d == MySQL {
			b.WriteString(" NULL")
		}
	} else {
		b.WriteString(" NOT NULL")
	}
	if c.Default.Kind != NoDefault {
		b.WriteString(" DEFAULT " + c.Default.literal())
	}
	if c.AutoIncrement && d == MySQL {
		b.WriteString(" AUTO_INCREMENT")
	}
	return b.String()
}

func (d Dialect) keyColumns(k *Key) string {
	parts := make([]string, len(k.Columns))
	for i, c := range k.Columns {
		parts[i] = d.quote(c)
		if i < len(k.SubParts) && k.SubParts[i] > 0 && d == MySQL {
			parts[i] += "(" + strconv.Itoa(k.SubParts[i]) + ")"
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// KeyDDL renders a key as a table element. Foreign keys are rendered as
// their backing index; the reference itself is not modelled.
func (d Dialect) KeyDDL(k *Key) string {
	switch k.Type {
	case KeyPrimary:
		return "PRIMARY KEY " + d.keyColumns(k)
	case KeyUnique:
		return "UNIQUE KEY " + d.quote(k.Name) + " " + d.keyColumns(k)
	default:
		return "KEY " + d.quote(k.Name) + " " + d.keyColumns(k)
	}
}

func (d Dialect) createIndex(t *Table, k *Key) string {
	unique := ""
	if k.Type == KeyUnique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s %s", unique, d.quote(k.Name), d.quote(t.Name), d.keyColumns(k))
}

// CreateTable renders the statements creating t. MySQL needs one
// statement; SQLite creates secondary indexes separately.
func (d Dialect) CreateTable(t *Table) []string {
	var lines []string
	for _, c := range t.columns {
		lines = append(lines, "  "+d.ColumnDDL(t, c))
	}

	var indexes []string
	for _, k := range t.Keys() {
		if d == SQLite && k.Type != KeyPrimary {
			indexes = append(indexes, d.createIndex(t, k))
			continue
		}
		if d == SQLite && len(k.Columns) == 1 && autoIncrementColumn(t, k.Columns[0]) {
			lines[columnIndex(t, k.Columns[0])] += " PRIMARY KEY AUTOINCREMENT"
			continue
		}
		lines = append(lines, "  "+d.KeyDDL(k))
	}

	stmt := "CREATE TABLE " + d.quote(t.Name) + " (\n" + strings.Join(lines, ",\n") + "\n)"
	if d == MySQL {
		if t.Engine != "" {
			stmt += " ENGINE=" + t.Engine
		}
		if t.Charset.Charset != "" {
			stmt += " DEFAULT CHARSET=" + t.Charset.Charset
			if !t.Charset.DefaultCollate() {
				stmt += " COLLATE=" + t.Charset.Collate
			}
		}
	}
	return append([]string{stmt}, indexes...)
}

func autoIncrementColumn(t *Table, name string) bool {
	c, ok := t.Column(name)
	return ok && c.AutoIncrement
}

func columnIndex(t *Table, name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (d Dialect) alter(t string, clauses ...string) string {
	return "ALTER TABLE " + d.quote(t) + " " + strings.Join(clauses, ", ")
}

func (d Dialect) dropKey(t *Table, k *Key) string {
	if d == SQLite {
		return "DROP INDEX " + d.quote(k.Name)
	}
	if k.Type == KeyPrimary {
		return d.alter(t.Name, "DROP PRIMARY KEY")
	}
	return d.alter(t.Name, "DROP KEY "+d.quote(k.Name))
}

func (d Dialect) addKey(t *Table, k *Key) (string, error) {
	if d == SQLite {
		if k.Type == KeyPrimary {
			return "", fmt.Errorf("adding a primary key: %w", ErrUnsupported)
		}
		return d.createIndex(t, k), nil
	}
	return d.alter(t.Name, "ADD "+d.KeyDDL(k)), nil
}

// position is the MySQL placement clause for column name of t.
func (d Dialect) position(t *Table, name string) string {
	if prev := t.previous(name); prev != "" {
		return " AFTER " + d.quote(prev)
	}
	return " FIRST"
}
