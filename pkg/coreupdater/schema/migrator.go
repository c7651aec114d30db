package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
)

// ErrNoSuchDifference is reported for a requested fix whose difference is
// no longer present.
var ErrNoSuchDifference = errors.New("no such difference found")

// Server is one database connection fixes are applied to.
type Server struct {
	Name string
	DB   *sql.DB
}

// Migrator compares the live schema of the master with the target and
// applies fixes on every server so replicas do not drift.
type Migrator struct {
	// Servers lists the master first, then replicas.
	Servers    []Server
	Dialect    Dialect
	Current    Builder
	Target     Builder
	Comparator Comparator

	logger *logging.Logger
}

// NewMigrator creates a migrator. current introspects the master.
func NewMigrator(dialect Dialect, current, target Builder, cmp Comparator, servers ...Server) *Migrator {
	return &Migrator{
		Servers:    servers,
		Dialect:    dialect,
		Current:    current,
		Target:     target,
		Comparator: cmp,
		logger:     logging.Get("schema"),
	}
}

// Differences builds both schemas and compares them.
func (m *Migrator) Differences(ctx context.Context) ([]Difference, error) {
	current, err := m.Current.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading database schema: %w", err)
	}
	target, err := m.Target.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("building target schema: %w", err)
	}
	return m.Comparator.Differences(current, target), nil
}

// Fix is the outcome of applying one difference.
type Fix struct {
	ID  string
	Err error
}

// AutoFix applies every additive difference and returns the outcomes.
// The first failing fix stops the run.
func (m *Migrator) AutoFix(ctx context.Context) ([]Fix, error) {
	diffs, err := m.Differences(ctx)
	if err != nil {
		return nil, err
	}
	var fixes []Fix
	for _, d := range diffs {
		if !d.Kind.AutoFix() {
			continue
		}
		err := m.Apply(ctx, d)
		fixes = append(fixes, Fix{ID: d.ID(), Err: err})
		if err != nil {
			return fixes, fmt.Errorf("%s: %w", d.Describe(), err)
		}
	}
	return fixes, nil
}

// Migrate implements the update pipeline's migration hook.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	fixes, err := m.AutoFix(ctx)
	applied := 0
	for _, f := range fixes {
		if f.Err == nil {
			applied++
		}
	}
	return applied, err
}

// ApplyIDs applies explicitly confirmed differences. An id that no longer
// matches a difference yields ErrNoSuchDifference for that id only.
func (m *Migrator) ApplyIDs(ctx context.Context, ids []string) ([]Fix, error) {
	diffs, err := m.Differences(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Difference, len(diffs))
	for _, d := range diffs {
		byID[d.ID()] = d
	}

	fixes := make([]Fix, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			fixes = append(fixes, Fix{ID: id, Err: ErrNoSuchDifference})
			continue
		}
		fixes = append(fixes, Fix{ID: id, Err: m.Apply(ctx, d)})
	}
	return fixes, nil
}

// Apply runs the statements of d on every server.
func (m *Migrator) Apply(ctx context.Context, d Difference) error {
	stmts, err := d.Statements(m.Dialect)
	if err != nil {
		return err
	}
	for _, srv := range m.Servers {
		for _, stmt := range stmts {
			if _, err := srv.DB.ExecContext(ctx, stmt); err != nil {
				m.log().Error("schema fix failed", "server", srv.Name, "id", d.ID(), "error", err)
				return fmt.Errorf("server %s: %w", srv.Name, err)
			}
		}
		m.log().Info("schema fix applied", "server", srv.Name, "id", d.ID())
	}
	return nil
}

func (m *Migrator) log() *logging.Logger {
	if m.logger == nil {
		m.logger = logging.Get("schema")
	}
	return m.logger
}
