package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Definitions is the canonical schema as written in YAML:
//
//	engine: InnoDB
//	charset: utf8mb4
//	collate: utf8mb4_unicode_ci
//	tables:
//	  - name: product
//	    columns:
//	      - {name: id_product, type: int(10) unsigned, auto_increment: true}
//	      - {name: reference, type: varchar(64), nullable: true, default: null}
//	    keys:
//	      - {type: primary, columns: [id_product]}
//	      - {name: reference, columns: ["reference(32)"]}
//
// A column without a default key has no default, unless it is nullable,
// in which case it defaults to NULL like a live column would.
type Definitions struct {
	Engine  string            `yaml:"engine"`
	Charset string            `yaml:"charset"`
	Collate string            `yaml:"collate"`
	Tables  []TableDefinition `yaml:"tables"`
}

// TableDefinition describes one table. Empty engine and charset inherit
// the file's.
type TableDefinition struct {
	Name    string             `yaml:"name"`
	Engine  string             `yaml:"engine"`
	Charset string             `yaml:"charset"`
	Collate string             `yaml:"collate"`
	Columns []ColumnDefinition `yaml:"columns"`
	Keys    []KeyDefinition    `yaml:"keys"`
}

// ColumnDefinition describes one column.
type ColumnDefinition struct {
	Name          string    `yaml:"name"`
	Type          string    `yaml:"type"`
	Nullable      bool      `yaml:"nullable"`
	Default       yaml.Node `yaml:"default"`
	AutoIncrement bool      `yaml:"auto_increment"`
	Charset       string    `yaml:"charset"`
	Collate       string    `yaml:"collate"`
}

// KeyDefinition describes one key. Columns may carry a prefix length as
// "name(length)".
type KeyDefinition struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Columns []string `yaml:"columns"`
}

// DefinitionBuilder builds the target schema from YAML definition files.
type DefinitionBuilder struct {
	// Paths are files or directories; directories contribute their
	// *.yaml and *.yml files in name order.
	Paths []string
	// Prefix is prepended to every table name.
	Prefix string
	// TextCharset is applied to character columns without an explicit
	// charset when CheckCharset comparisons are wanted.
	TextCharset Charset
}

// Build reads every definition file. A table defined twice is an error.
func (b DefinitionBuilder) Build(_ context.Context) (*Database, error) {
	files, err := b.files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no schema definition files found")
	}

	db := NewDatabase()
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defs, err := ParseDefinitions(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := b.add(db, defs); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return db, nil
}

func (b DefinitionBuilder) files() ([]string, error) {
	var files []string
	for _, p := range b.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var matches []string
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			m, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			matches = append(matches, m...)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// ParseDefinitions decodes one definition document.
func ParseDefinitions(r io.Reader) (Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return defs, err
	}
	return defs, nil
}

// add merges decoded definitions into db.
func (b DefinitionBuilder) add(db *Database, defs Definitions) error {
	for _, td := range defs.Tables {
		if td.Name == "" {
			return errors.New("table without name")
		}
		name := b.Prefix + td.Name
		if _, exists := db.Table(name); exists {
			return fmt.Errorf("table %s defined twice", name)
		}

		t := NewTable(name)
		t.Engine = first(td.Engine, defs.Engine)
		t.Charset = Charset{Charset: first(td.Charset, defs.Charset), Collate: first(td.Collate, defs.Collate)}

		for _, cd := range td.Columns {
			col, err := b.column(cd)
			if err != nil {
				return fmt.Errorf("table %s: %w", td.Name, err)
			}
			t.AddColumn(col)
		}
		for _, kd := range td.Keys {
			k, err := key(kd)
			if err != nil {
				return fmt.Errorf("table %s: %w", td.Name, err)
			}
			for _, c := range k.Columns {
				if !t.HasColumn(c) {
					return fmt.Errorf("table %s: key %s references unknown column %s", td.Name, k.Name, c)
				}
			}
			t.AddKey(k)
		}
		db.AddTable(t)
	}
	return nil
}

func (b DefinitionBuilder) column(cd ColumnDefinition) (Column, error) {
	if cd.Name == "" || cd.Type == "" {
		return Column{}, errors.New("column needs a name and a type")
	}
	col := Column{
		Name:          cd.Name,
		Type:          cd.Type,
		Nullable:      cd.Nullable,
		AutoIncrement: cd.AutoIncrement,
		Charset:       Charset{Charset: cd.Charset, Collate: cd.Collate},
	}
	if col.Charset.IsZero() && textType.MatchString(cd.Type) {
		col.Charset = b.TextCharset
	}

	switch {
	case cd.Default.Kind == 0 && cd.Nullable:
		col.Default = Null()
	case cd.Default.Kind == 0:
		col.Default = None()
	case cd.Default.Tag == "!!null":
		col.Default = Null()
	case cd.Default.Kind == yaml.ScalarNode:
		col.Default = Value(cd.Default.Value)
	default:
		return Column{}, fmt.Errorf("column %s: default must be a scalar", cd.Name)
	}
	return col, nil
}

var (
	textType  = regexp.MustCompile(`(?i)^((var)?char|(tiny|medium|long)?text|enum|set)\b`)
	keyColumn = regexp.MustCompile(`^([^()]+)(?:\((\d+)\))?$`)
)

func key(kd KeyDefinition) (*Key, error) {
	typ, err := ParseKeyType(kd.Type)
	if err != nil {
		return nil, err
	}
	if typ != KeyPrimary && kd.Name == "" {
		return nil, errors.New("key without name")
	}
	if len(kd.Columns) == 0 {
		return nil, fmt.Errorf("key %s has no columns", kd.Name)
	}
	k := NewKey(typ, kd.Name)
	for _, c := range kd.Columns {
		m := keyColumn.FindStringSubmatch(c)
		if m == nil {
			return nil, fmt.Errorf("key %s: invalid column %q", k.Name, c)
		}
		length := 0
		if m[2] != "" {
			length, _ = strconv.Atoi(m[2])
		}
		k.AddColumn(m[1], length)
	}
	return k, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
