package schema

import (
	"slices"
	"strings"
)

// Comparator computes the differences between a current and a target
// schema.
type Comparator struct {
	// IgnoreTables are table names without prefix that are never reported
	// as extra. A target table on this list is still compared.
	IgnoreTables []string
	// Prefix is prepended to IgnoreTables.
	Prefix string

	CheckAutoIncrement bool
	CheckCharset       bool
}

func (c Comparator) ignored(name string) bool {
	for _, t := range c.IgnoreTables {
		if name == c.Prefix+t {
			return true
		}
	}
	return false
}

// Differences lists what current needs to change to match target, ordered
// by table name. Comparing a schema with itself yields nothing.
func (c Comparator) Differences(current, target *Database) []Difference {
	var out []Difference

	for _, name := range target.TableNames() {
		t, _ := target.Table(name)
		cur, ok := current.Table(name)
		if !ok {
			out = append(out, Difference{Kind: MissingTable, Table: name, TargetTable: t})
			continue
		}
		out = append(out, c.tableDifferences(cur, t)...)
	}

	for _, name := range current.TableNames() {
		if c.ignored(name) {
			continue
		}
		if _, ok := target.Table(name); !ok {
			cur, _ := current.Table(name)
			out = append(out, Difference{Kind: ExtraTable, Table: name, CurrentTable: cur})
		}
	}

	slices.SortStableFunc(out, func(a, b Difference) int {
		return strings.Compare(a.Table, b.Table)
	})
	return out
}

func (c Comparator) tableDifferences(current, target *Table) []Difference {
	var out []Difference
	diff := func(k Kind) Difference {
		return Difference{Kind: k, Table: target.Name, TargetTable: target, CurrentTable: current}
	}

	for _, col := range target.columns {
		cur, ok := current.Column(col.Name)
		if !ok {
			d := diff(MissingColumn)
			d.TargetColumn = col
			out = append(out, d)
			continue
		}
		for _, k := range c.columnDifferences(cur, col) {
			d := diff(k)
			d.TargetColumn, d.CurrentColumn = col, cur
			out = append(out, d)
		}
	}
	for _, cur := range current.columns {
		if !target.HasColumn(cur.Name) {
			d := diff(ExtraColumn)
			d.CurrentColumn = cur
			out = append(out, d)
		}
	}

	targetNames, currentNames := target.ColumnNames(), current.ColumnNames()
	if sameSet(targetNames, currentNames) && !slices.Equal(targetNames, currentNames) {
		out = append(out, diff(DifferentColumnsOrder))
	}

	for _, key := range target.Keys() {
		cur, ok := current.Key(key.Name)
		switch {
		case !ok:
			d := diff(MissingKey)
			d.TargetKey = key
			out = append(out, d)
		case !key.Equal(cur):
			d := diff(DifferentKey)
			d.TargetKey, d.CurrentKey = key, cur
			out = append(out, d)
		}
	}
	for _, cur := range current.Keys() {
		if _, ok := target.Key(cur.Name); !ok {
			d := diff(ExtraKey)
			d.CurrentKey = cur
			out = append(out, d)
		}
	}

	// an unset charset or engine in the target does not constrain current
	if !target.Charset.IsZero() && !target.Charset.Equal(current.Charset) {
		out = append(out, diff(DifferentTableCharset))
	}
	if target.Engine != "" && !strings.EqualFold(target.Engine, current.Engine) {
		out = append(out, diff(DifferentEngine))
	}
	return out
}

func (c Comparator) columnDifferences(current, target Column) []Kind {
	var kinds []Kind
	if !strings.EqualFold(current.Type, target.Type) {
		kinds = append(kinds, DifferentDataType)
	}
	if !current.Default.Equal(target.Default) {
		kinds = append(kinds, DifferentDefaultValue)
	}
	if c.CheckAutoIncrement && current.AutoIncrement != target.AutoIncrement {
		kinds = append(kinds, DifferentAutoIncrement)
	}
	if c.CheckCharset && !current.Charset.Equal(target.Charset) {
		kinds = append(kinds, DifferentColumnCharset)
	}
	return kinds
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, n := range a {
		if !slices.Contains(b, n) {
			return false
		}
	}
	return true
}
