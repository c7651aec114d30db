package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func column(name, typ string) Column {
	return Column{Name: name, Type: typ, Default: None()}
}

func table(name string, cols ...Column) *Table {
	t := NewTable(name)
	t.Engine = "InnoDB"
	t.Charset = Charset{Charset: "utf8mb4", Collate: "utf8mb4_unicode_ci"}
	for _, c := range cols {
		t.AddColumn(c)
	}
	pk := NewKey(KeyPrimary, "")
	pk.AddColumn(cols[0].Name, 0)
	t.AddKey(pk)
	return t
}

func database(tables ...*Table) *Database {
	db := NewDatabase()
	for _, t := range tables {
		db.AddTable(t)
	}
	return db
}

func ids(diffs []Difference) []string {
	out := make([]string, len(diffs))
	for i, d := range diffs {
		out[i] = d.ID()
	}
	return out
}

func customerSchema() *Database {
	return database(
		table("tb_customer", column("id", "int(10) unsigned"), column("email", "varchar(255)"), column("name", "varchar(64)")),
		table("tb_orders", column("id_order", "int(10) unsigned"), column("reference", "varchar(9)")),
	)
}

func TestDifferences_SameSchemaIsEmpty(t *testing.T) {
	s := customerSchema()
	cmp := Comparator{CheckAutoIncrement: true, CheckCharset: true}
	assert.Empty(t, cmp.Differences(s, s))
	assert.Empty(t, cmp.Differences(customerSchema(), customerSchema()))
}

func TestDifferences_MissingColumnDoesNotReportOrder(t *testing.T) {
	current := database(table("tb_customer", column("id", "int(10) unsigned"), column("name", "varchar(64)")))
	target := database(table("tb_customer", column("id", "int(10) unsigned"), column("email", "varchar(255)"), column("name", "varchar(64)")))

	diffs := Comparator{}.Differences(current, target)
	require.Len(t, diffs, 1)

	d := diffs[0]
	assert.Equal(t, MissingColumn, d.Kind)
	assert.Equal(t, "email", d.TargetColumn.Name)
	assert.Equal(t, "MissingColumn:tb_customer.email", d.ID())
	assert.Equal(t, Normal, d.Severity())
	assert.False(t, d.Destructive())
	assert.True(t, d.Kind.AutoFix())
	assert.Equal(t, "Column `email` is missing in table `tb_customer`", d.Describe())
}

func TestDifferences_ColumnOrder(t *testing.T) {
	current := database(table("t", column("id", "int"), column("b", "int"), column("a", "int")))
	target := database(table("t", column("id", "int"), column("a", "int"), column("b", "int")))

	diffs := Comparator{}.Differences(current, target)
	require.Len(t, diffs, 1)
	assert.Equal(t, DifferentColumnsOrder, diffs[0].Kind)
	assert.Equal(t, "DifferentColumnsOrder:t", diffs[0].ID())
	assert.Contains(t, diffs[0].Describe(), "expected: [id, a, b]")
	assert.Contains(t, diffs[0].Describe(), "current:  [id, b, a]")
}

func TestDifferences_Tables(t *testing.T) {
	current := database(
		table("tb_customer", column("id", "int")),
		table("tb_old", column("id", "int")),
		table("tb_connections", column("id", "int")),
	)
	target := database(
		table("tb_customer", column("id", "int")),
		table("tb_new", column("id", "int")),
	)

	cmp := Comparator{Prefix: "tb_", IgnoreTables: []string{"connections"}}
	diffs := cmp.Differences(current, target)
	assert.Equal(t, []string{"MissingTable:tb_new", "ExtraTable:tb_old"}, ids(diffs))
	assert.True(t, diffs[1].Destructive())
	assert.Equal(t, Notice, diffs[1].Severity())
	assert.Equal(t, "Extra table `tb_old`", diffs[1].Describe())

	// unprefixed ignore entries do not match prefixed tables
	diffs = Comparator{IgnoreTables: []string{"connections"}}.Differences(current, target)
	assert.Contains(t, ids(diffs), "ExtraTable:tb_connections")
}

func TestDifferences_IgnoredTableStillRequired(t *testing.T) {
	cmp := Comparator{Prefix: "tb_", IgnoreTables: []string{"connections"}}
	target := database(
		table("tb_customer", column("id", "int")),
		table("tb_connections", column("id", "int"), column("ip", "int")),
	)

	diffs := cmp.Differences(database(table("tb_customer", column("id", "int"))), target)
	assert.Equal(t, []string{"MissingTable:tb_connections"}, ids(diffs))

	current := database(
		table("tb_customer", column("id", "int")),
		table("tb_connections", column("id", "int")),
	)
	diffs = cmp.Differences(current, target)
	assert.Equal(t, []string{"MissingColumn:tb_connections.ip"}, ids(diffs))
}

func TestDifferences_ColumnAttributes(t *testing.T) {
	cur := table("t",
		column("id", "int"),
		Column{Name: "price", Type: "decimal(20,6)", Default: Value("0.000000")},
		Column{Name: "note", Type: "text", Nullable: true, Default: Null(), Charset: Charset{"latin1", "latin1_swedish_ci"}},
		Column{Name: "counter", Type: "int", Default: None()},
	)
	tgt := table("t",
		column("id", "int"),
		Column{Name: "price", Type: "DECIMAL(20,6)", Default: Value("1")},
		Column{Name: "note", Type: "mediumtext", Nullable: true, Default: None(), Charset: Charset{"utf8mb4", "utf8mb4_unicode_ci"}},
		Column{Name: "counter", Type: "int", Default: None(), AutoIncrement: true},
	)

	diffs := Comparator{}.Differences(database(cur), database(tgt))
	assert.Equal(t, []string{
		"DifferentDefaultValue:t.price",
		"DifferentDataType:t.note",
		"DifferentDefaultValue:t.note",
	}, ids(diffs))
	assert.Equal(t, "Column `t`.`note` has data type `text` instead of `mediumtext`", diffs[1].Describe())
	assert.Equal(t, "Column `t`.`note` should NOT have default value `NULL`", diffs[2].Describe())
	assert.Equal(t, "Column `t`.`price` should have DEFAULT value `1` instead of `0.000000`", diffs[0].Describe())

	diffs = Comparator{CheckAutoIncrement: true, CheckCharset: true}.Differences(database(cur), database(tgt))
	assert.Equal(t, []string{
		"DifferentDefaultValue:t.price",
		"DifferentDataType:t.note",
		"DifferentDefaultValue:t.note",
		"DifferentColumnCharset:t.note",
		"DifferentAutoIncrement:t.counter",
	}, ids(diffs))
	assert.Equal(t, Critical, diffs[4].Severity())
	assert.Equal(t, "Column `t`.`note` should use character set utf8mb4/utf8mb4_unicode_ci instead of latin1/latin1_swedish_ci", diffs[3].Describe())
}

func TestDifferences_Keys(t *testing.T) {
	cur := table("t", column("id", "int"), column("name", "varchar(64)"), column("code", "varchar(8)"))
	idx := NewKey(KeyPlain, "name")
	idx.AddColumn("name", 0)
	cur.AddKey(idx)
	old := NewKey(KeyPlain, "legacy")
	old.AddColumn("code", 0)
	cur.AddKey(old)

	tgt := table("t", column("id", "int"), column("name", "varchar(64)"), column("code", "varchar(8)"))
	idx = NewKey(KeyPlain, "name")
	idx.AddColumn("name", 32)
	tgt.AddKey(idx)
	uniq := NewKey(KeyUnique, "code")
	uniq.AddColumn("code", 0)
	tgt.AddKey(uniq)

	diffs := Comparator{}.Differences(database(cur), database(tgt))
	assert.Equal(t, []string{"MissingKey:t.code", "DifferentKey:t.name", "ExtraKey:t.legacy"}, ids(diffs))
	assert.Equal(t, "Missing unique key `code` in table `t`", diffs[0].Describe())
	assert.Equal(t, "Different key `name` in table `t`", diffs[1].Describe())
	assert.Equal(t, "Extra key `legacy` in table `t`", diffs[2].Describe())
}

func TestDifferences_TableOptions(t *testing.T) {
	cur := table("t", column("id", "int"))
	cur.Engine = "MyISAM"
	cur.Charset = Charset{"utf8", "utf8_general_ci"}
	tgt := table("t", column("id", "int"))

	diffs := Comparator{}.Differences(database(cur), database(tgt))
	assert.Equal(t, []string{"DifferentTableCharset:t", "DifferentEngine:t"}, ids(diffs))
	assert.Equal(t, "Table `t` use `MyISAM` database engine instead of `InnoDB`", diffs[1].Describe())

	// unset target options are not compared
	tgt.Engine = ""
	tgt.Charset = Charset{}
	assert.Empty(t, Comparator{}.Differences(database(cur), database(tgt)))
}

func TestKinds_Exhaustive(t *testing.T) {
	require.Len(t, Kinds, 14)
	for _, k := range Kinds {
		assert.False(t, strings.HasPrefix(k.String(), "Kind("), k)
	}
	for _, k := range Kinds {
		assert.Equal(t, k == MissingTable || k == MissingColumn, k.AutoFix(), k.String())
		if k.AutoFix() {
			assert.False(t, k.Destructive(), k.String())
		}
	}
}
