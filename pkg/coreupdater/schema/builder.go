package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// Builder produces a schema model.
type Builder interface {
	Build(ctx context.Context) (*Database, error)
}

// InformationSchemaBuilder introspects a MySQL or MariaDB database through
// information_schema.
type InformationSchemaBuilder struct {
	DB *sql.DB
	// Database defaults to the connection's current database.
	Database string
	// Tables restricts introspection when not empty.
	Tables []string
}

// Build loads tables, then columns, then keys.
func (b InformationSchemaBuilder) Build(ctx context.Context) (*Database, error) {
	db := NewDatabase()
	if err := b.loadTables(ctx, db); err != nil {
		return nil, fmt.Errorf("loading tables: %w", err)
	}
	if err := b.loadColumns(ctx, db); err != nil {
		return nil, fmt.Errorf("loading columns: %w", err)
	}
	if err := b.loadKeys(ctx, db); err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}
	return db, nil
}

// where restricts alias to the schema and table list.
func (b InformationSchemaBuilder) where(alias string) (string, []any) {
	clause := alias + ".TABLE_SCHEMA = DATABASE()"
	var args []any
	if b.Database != "" {
		clause = alias + ".TABLE_SCHEMA = ?"
		args = append(args, b.Database)
	}
	if len(b.Tables) > 0 {
		clause += " AND " + alias + ".TABLE_NAME IN (?" + strings.Repeat(", ?", len(b.Tables)-1) + ")"
		for _, t := range b.Tables {
			args = append(args, t)
		}
	}
	return clause, args
}

func (b InformationSchemaBuilder) loadTables(ctx context.Context, db *Database) error {
	where, args := b.where("t")
	rows, err := b.DB.QueryContext(ctx, `
		SELECT t.TABLE_NAME, COALESCE(t.ENGINE, ''), COALESCE(c.CHARACTER_SET_NAME, ''), COALESCE(t.TABLE_COLLATION, '')
		FROM information_schema.TABLES t
		LEFT JOIN information_schema.COLLATION_CHARACTER_SET_APPLICABILITY c ON c.COLLATION_NAME = t.TABLE_COLLATION
		WHERE `+where, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, engine, charset, collate string
		if err := rows.Scan(&name, &engine, &charset, &collate); err != nil {
			return err
		}
		t := NewTable(name)
		t.Engine = engine
		t.Charset = Charset{Charset: charset, Collate: collate}
		db.AddTable(t)
	}
	return rows.Err()
}

func (b InformationSchemaBuilder) loadColumns(ctx context.Context, db *Database) error {
	where, args := b.where("c")
	rows, err := b.DB.QueryContext(ctx, `
		SELECT c.TABLE_NAME, c.COLUMN_NAME, c.COLUMN_TYPE, c.IS_NULLABLE, c.COLUMN_DEFAULT, c.EXTRA,
		       COALESCE(c.CHARACTER_SET_NAME, ''), COALESCE(c.COLLATION_NAME, '')
		FROM information_schema.COLUMNS c
		WHERE `+where+`
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, typ, nullable, extra, charset, collate string
			def                                                 sql.NullString
		)
		if err := rows.Scan(&table, &name, &typ, &nullable, &def, &extra, &charset, &collate); err != nil {
			return err
		}
		t, ok := db.Table(table)
		if !ok {
			continue
		}
		col := Column{
			Name:          name,
			Type:          typ,
			Nullable:      strings.EqualFold(nullable, "YES"),
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
			Charset:       Charset{Charset: charset, Collate: collate},
		}
		col.Default = mysqlDefault(def, col.Nullable)
		t.AddColumn(col)
	}
	return rows.Err()
}

// mysqlDefault normalizes COLUMN_DEFAULT. MariaDB reports literals quoted
// and NULL as a string; MySQL reports them raw.
func mysqlDefault(def sql.NullString, nullable bool) Default {
	switch {
	case !def.Valid:
		if nullable {
			return Null()
		}
		return None()
	case def.String == "NULL":
		return Null()
	case len(def.String) >= 2 && strings.HasPrefix(def.String, "'") && strings.HasSuffix(def.String, "'"):
		return Value(strings.ReplaceAll(def.String[1:len(def.String)-1], "''", "'"))
	default:
		return Value(def.String)
	}
}

func (b InformationSchemaBuilder) loadKeys(ctx context.Context, db *Database) error {
	where, args := b.where("s")
	rows, err := b.DB.QueryContext(ctx, `
		SELECT s.TABLE_NAME, s.INDEX_NAME, COALESCE(t.CONSTRAINT_TYPE, ''), s.COLUMN_NAME, s.SUB_PART
		FROM information_schema.STATISTICS s
		LEFT JOIN information_schema.TABLE_CONSTRAINTS t
		  ON t.TABLE_SCHEMA = s.TABLE_SCHEMA AND t.TABLE_NAME = s.TABLE_NAME AND t.CONSTRAINT_NAME = s.INDEX_NAME
		WHERE `+where+`
		ORDER BY s.TABLE_NAME, s.INDEX_NAME, s.SEQ_IN_INDEX`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, index, constraint, column string
			subPart                          sql.NullInt64
		)
		if err := rows.Scan(&table, &index, &constraint, &column, &subPart); err != nil {
			return err
		}
		t, ok := db.Table(table)
		if !ok {
			continue
		}
		k, ok := t.Key(index)
		if !ok {
			k = NewKey(constraintKeyType(constraint), index)
			t.AddKey(k)
		}
		k.AddColumn(column, int(subPart.Int64))
	}
	return rows.Err()
}

func constraintKeyType(constraint string) KeyType {
	switch constraint {
	case "PRIMARY KEY":
		return KeyPrimary
	case "UNIQUE":
		return KeyUnique
	case "FOREIGN KEY":
		return KeyForeign
	default:
		return KeyPlain
	}
}

// Open connects to a database with the dialect's driver and checks the
// connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", dialect, err)
	}
	return db, nil
}

// LiveBuilder returns the introspecting builder for the dialect.
func LiveBuilder(dialect Dialect, db *sql.DB) Builder {
	if dialect == SQLite {
		return SQLiteBuilder{DB: db}
	}
	return InformationSchemaBuilder{DB: db}
}
