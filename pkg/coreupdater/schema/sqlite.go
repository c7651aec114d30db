package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBuilder introspects an SQLite database through its PRAGMA
// functions. SQLite has no engines or charsets; those stay empty.
type SQLiteBuilder struct {
	DB *sql.DB
}

// Build reads every user table.
func (b SQLiteBuilder) Build(ctx context.Context) (*Database, error) {
	tables, err := b.tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tables: %w", err)
	}

	db := NewDatabase()
	for name, ddl := range tables {
		t := NewTable(name)
		if err := b.loadColumns(ctx, t, strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT")); err != nil {
			return nil, fmt.Errorf("loading columns of %s: %w", name, err)
		}
		if err := b.loadIndexes(ctx, t); err != nil {
			return nil, fmt.Errorf("loading indexes of %s: %w", name, err)
		}
		db.AddTable(t)
	}
	return db, nil
}

func (b SQLiteBuilder) tables(ctx context.Context) (map[string]string, error) {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT name, COALESCE(sql, '') FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]string)
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, err
		}
		tables[name] = ddl
	}
	return tables, rows.Err()
}

type sqliteColumn struct {
	col Column
	pk  int
}

func (b SQLiteBuilder) loadColumns(ctx context.Context, t *Table, autoIncrement bool) error {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var cols []sqliteColumn
	for rows.Next() {
		var (
			c       sqliteColumn
			notNull bool
			def     sql.NullString
		)
		if err := rows.Scan(&c.col.Name, &c.col.Type, &notNull, &def, &c.pk); err != nil {
			return err
		}
		c.col.Nullable = !notNull
		c.col.Default = sqliteDefault(def, c.col.Nullable)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var primary []sqliteColumn
	for _, c := range cols {
		if c.pk > 0 {
			primary = append(primary, c)
		}
	}
	if len(primary) == 1 && autoIncrement {
		for i := range cols {
			if cols[i].pk > 0 {
				cols[i].col.AutoIncrement = true
			}
		}
	}
	for _, c := range cols {
		t.AddColumn(c.col)
	}

	if len(primary) > 0 {
		k := NewKey(KeyPrimary, "")
		for pos := 1; pos <= len(primary); pos++ {
			for _, c := range primary {
				if c.pk == pos {
					k.AddColumn(c.col.Name, 0)
				}
			}
		}
		t.AddKey(k)
	}
	return nil
}

func sqliteDefault(def sql.NullString, nullable bool) Default {
	switch {
	case !def.Valid:
		if nullable {
			return Null()
		}
		return None()
	case strings.EqualFold(def.String, "NULL"):
		return Null()
	case len(def.String) >= 2 && strings.HasPrefix(def.String, "'") && strings.HasSuffix(def.String, "'"):
		return Value(strings.ReplaceAll(def.String[1:len(def.String)-1], "''", "'"))
	default:
		return Value(def.String)
	}
}

func (b SQLiteBuilder) loadIndexes(ctx context.Context, t *Table) error {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT name, "unique", origin FROM pragma_index_list(?)`, t.Name)
	if err != nil {
		return err
	}
	var keys []*Key
	for rows.Next() {
		var (
			name, origin string
			unique       bool
		)
		if err := rows.Scan(&name, &unique, &origin); err != nil {
			rows.Close()
			return err
		}
		// the primary key is taken from table_info
		if origin == "pk" {
			continue
		}
		typ := KeyPlain
		if unique {
			typ = KeyUnique
		}
		keys = append(keys, NewKey(typ, name))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range keys {
		if err := b.loadIndexColumns(ctx, k); err != nil {
			return err
		}
		t.AddKey(k)
	}
	return nil
}

func (b SQLiteBuilder) loadIndexColumns(ctx context.Context, k *Key) error {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT COALESCE(name, '') FROM pragma_index_info(?) ORDER BY seqno`, k.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		k.AddColumn(col, 0)
	}
	return rows.Err()
}
