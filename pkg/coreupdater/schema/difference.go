package schema

import (
	"fmt"
	"strings"
)

// Kind enumerates the structural differences between two schemas.
type Kind int

const (
	MissingTable Kind = iota + 1
	ExtraTable
	MissingColumn
	ExtraColumn
	DifferentColumnsOrder
	DifferentDataType
	DifferentDefaultValue
	DifferentAutoIncrement
	DifferentColumnCharset
	MissingKey
	ExtraKey
	DifferentKey
	DifferentTableCharset
	DifferentEngine
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	MissingTable, ExtraTable, MissingColumn, ExtraColumn, DifferentColumnsOrder,
	DifferentDataType, DifferentDefaultValue, DifferentAutoIncrement,
	DifferentColumnCharset, MissingKey, ExtraKey, DifferentKey,
	DifferentTableCharset, DifferentEngine,
}

func (k Kind) String() string {
	switch k {
	case MissingTable:
		return "MissingTable"
	case ExtraTable:
		return "ExtraTable"
	case MissingColumn:
		return "MissingColumn"
	case ExtraColumn:
		return "ExtraColumn"
	case DifferentColumnsOrder:
		return "DifferentColumnsOrder"
	case DifferentDataType:
		return "DifferentDataType"
	case DifferentDefaultValue:
		return "DifferentDefaultValue"
	case DifferentAutoIncrement:
		return "DifferentAutoIncrement"
	case DifferentColumnCharset:
		return "DifferentColumnCharset"
	case MissingKey:
		return "MissingKey"
	case ExtraKey:
		return "ExtraKey"
	case DifferentKey:
		return "DifferentKey"
	case DifferentTableCharset:
		return "DifferentTableCharset"
	case DifferentEngine:
		return "DifferentEngine"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Severity ranks how much a difference matters.
type Severity int

const (
	Notice Severity = iota
	Normal
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case Normal:
		return "normal"
	default:
		return "notice"
	}
}

// Severity is fixed per kind.
func (k Kind) Severity() Severity {
	switch k {
	case DifferentDataType, DifferentAutoIncrement, DifferentEngine:
		return Critical
	case MissingTable, MissingColumn, DifferentDefaultValue, DifferentColumnCharset,
		MissingKey, DifferentKey, DifferentTableCharset:
		return Normal
	case ExtraTable, ExtraColumn, DifferentColumnsOrder, ExtraKey:
		return Notice
	default:
		return Notice
	}
}

// Destructive reports whether fixing the difference can lose data.
func (k Kind) Destructive() bool {
	switch k {
	case ExtraTable, ExtraColumn, DifferentDataType:
		return true
	case MissingTable, MissingColumn, DifferentColumnsOrder, DifferentDefaultValue,
		DifferentAutoIncrement, DifferentColumnCharset, MissingKey, ExtraKey,
		DifferentKey, DifferentTableCharset, DifferentEngine:
		return false
	default:
		return true
	}
}

// AutoFix reports whether the difference is applied without confirmation.
// Only additive changes qualify.
func (k Kind) AutoFix() bool {
	switch k {
	case MissingTable, MissingColumn:
		return true
	default:
		return false
	}
}

// Difference is one structural mismatch. Target* fields describe what the
// schema should look like, Current* what it does.
type Difference struct {
	Kind  Kind
	Table string

	TargetTable   *Table
	CurrentTable  *Table
	TargetColumn  Column
	CurrentColumn Column
	TargetKey     *Key
	CurrentKey    *Key
}

// ID is stable across runs: kind, table and the column or key involved.
func (d Difference) ID() string {
	id := d.Kind.String() + ":" + d.Table
	switch d.Kind {
	case MissingColumn, DifferentDataType, DifferentDefaultValue,
		DifferentAutoIncrement, DifferentColumnCharset:
		return id + "." + d.TargetColumn.Name
	case ExtraColumn:
		return id + "." + d.CurrentColumn.Name
	case MissingKey, DifferentKey:
		return id + "." + d.TargetKey.Name
	case ExtraKey:
		return id + "." + d.CurrentKey.Name
	case MissingTable, ExtraTable, DifferentColumnsOrder, DifferentTableCharset, DifferentEngine:
		return id
	default:
		return id
	}
}

// Severity of the difference's kind.
func (d Difference) Severity() Severity { return d.Kind.Severity() }

// Destructive reports whether the fix may lose data.
func (d Difference) Destructive() bool { return d.Kind.Destructive() }

// Describe renders the difference for humans.
func (d Difference) Describe() string {
	switch d.Kind {
	case MissingTable:
		return fmt.Sprintf("Table `%s` does not exist", d.Table)
	case ExtraTable:
		return fmt.Sprintf("Extra table `%s`", d.Table)
	case MissingColumn:
		return fmt.Sprintf("Column `%s` is missing in table `%s`", d.TargetColumn.Name, d.Table)
	case ExtraColumn:
		return fmt.Sprintf("Extra column `%s` in table `%s`", d.CurrentColumn.Name, d.Table)
	case DifferentColumnsOrder:
		return fmt.Sprintf("Columns in table `%s` are in wrong order.\n      expected: [%s]\n      current:  [%s]",
			d.Table,
			strings.Join(d.TargetTable.ColumnNames(), ", "),
			strings.Join(d.CurrentTable.ColumnNames(), ", "))
	case DifferentDataType:
		return fmt.Sprintf("Column `%s`.`%s` has data type `%s` instead of `%s`",
			d.Table, d.TargetColumn.Name, d.CurrentColumn.Type, d.TargetColumn.Type)
	case DifferentDefaultValue:
		if d.TargetColumn.Default.Kind == NoDefault {
			return fmt.Sprintf("Column `%s`.`%s` should NOT have default value `%s`",
				d.Table, d.TargetColumn.Name, d.CurrentColumn.Default)
		}
		return fmt.Sprintf("Column `%s`.`%s` should have DEFAULT value `%s` instead of `%s`",
			d.Table, d.TargetColumn.Name, d.TargetColumn.Default, d.CurrentColumn.Default)
	case DifferentAutoIncrement:
		if d.TargetColumn.AutoIncrement {
			return fmt.Sprintf("Column `%s`.`%s` should be marked as AUTO_INCREMENT", d.Table, d.TargetColumn.Name)
		}
		return fmt.Sprintf("Column `%s`.`%s` should NOT be marked as AUTO_INCREMENT", d.Table, d.TargetColumn.Name)
	case DifferentColumnCharset:
		return fmt.Sprintf("Column `%s`.`%s` should use character set %s instead of %s",
			d.Table, d.TargetColumn.Name, d.TargetColumn.Charset, d.CurrentColumn.Charset)
	case MissingKey:
		return fmt.Sprintf("Missing %s in table `%s`", d.TargetKey.Describe(), d.Table)
	case ExtraKey:
		return fmt.Sprintf("Extra %s in table `%s`", d.CurrentKey.Describe(), d.Table)
	case DifferentKey:
		return fmt.Sprintf("Different %s in table `%s`", d.TargetKey.Describe(), d.Table)
	case DifferentTableCharset:
		return fmt.Sprintf("Table `%s` should use character set %s instead of %s",
			d.Table, d.TargetTable.Charset, d.CurrentTable.Charset)
	case DifferentEngine:
		return fmt.Sprintf("Table `%s` use `%s` database engine instead of `%s`",
			d.Table, d.CurrentTable.Engine, d.TargetTable.Engine)
	default:
		return d.Kind.String()
	}
}

// Statements renders the SQL fixing the difference.
func (d Difference) Statements(dialect Dialect) ([]string, error) {
	q := dialect.quote
	switch d.Kind {
	case MissingTable:
		return dialect.CreateTable(d.TargetTable), nil
	case ExtraTable:
		return []string{"DROP TABLE " + q(d.Table)}, nil
	case MissingColumn:
		stmt := dialect.alter(d.Table, "ADD COLUMN "+dialect.ColumnDDL(d.TargetTable, d.TargetColumn))
		if dialect == MySQL {
			stmt += dialect.position(d.TargetTable, d.TargetColumn.Name)
		}
		return []string{stmt}, nil
	case ExtraColumn:
		return []string{dialect.alter(d.Table, "DROP COLUMN "+q(d.CurrentColumn.Name))}, nil
	case DifferentColumnsOrder:
		if dialect != MySQL {
			return nil, fmt.Errorf("reordering columns: %w", ErrUnsupported)
		}
		var clauses []string
		for _, c := range d.TargetTable.columns {
			clauses = append(clauses, "MODIFY COLUMN "+dialect.ColumnDDL(d.TargetTable, c)+dialect.position(d.TargetTable, c.Name))
		}
		return []string{dialect.alter(d.Table, clauses...)}, nil
	case DifferentDataType, DifferentDefaultValue, DifferentAutoIncrement, DifferentColumnCharset:
		if dialect != MySQL {
			return nil, fmt.Errorf("modifying column %s: %w", d.TargetColumn.Name, ErrUnsupported)
		}
		return []string{dialect.alter(d.Table, "MODIFY COLUMN "+dialect.ColumnDDL(d.TargetTable, d.TargetColumn))}, nil
	case MissingKey:
		stmt, err := dialect.addKey(d.TargetTable, d.TargetKey)
		if err != nil {
			return nil, err
		}
		return []string{stmt}, nil
	case ExtraKey:
		return []string{dialect.dropKey(d.CurrentTable, d.CurrentKey)}, nil
	case DifferentKey:
		if dialect == MySQL {
			drop := "DROP KEY " + q(d.CurrentKey.Name)
			if d.CurrentKey.Type == KeyPrimary {
				drop = "DROP PRIMARY KEY"
			}
			return []string{dialect.alter(d.Table, drop, "ADD "+dialect.KeyDDL(d.TargetKey))}, nil
		}
		add, err := dialect.addKey(d.TargetTable, d.TargetKey)
		if err != nil {
			return nil, err
		}
		return []string{dialect.dropKey(d.CurrentTable, d.CurrentKey), add}, nil
	case DifferentTableCharset:
		if dialect != MySQL {
			return nil, fmt.Errorf("converting charset: %w", ErrUnsupported)
		}
		cs := d.TargetTable.Charset
		clause := "CONVERT TO CHARACTER SET " + cs.Charset
		if cs.Collate != "" {
			clause += " COLLATE " + cs.Collate
		}
		return []string{dialect.alter(d.Table, clause)}, nil
	case DifferentEngine:
		if dialect != MySQL {
			return nil, fmt.Errorf("changing engine: %w", ErrUnsupported)
		}
		return []string{dialect.alter(d.Table, "ENGINE="+d.TargetTable.Engine)}, nil
	default:
		return nil, fmt.Errorf("unknown difference kind %s", d.Kind)
	}
}
