package main

import (
	"fmt"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/schema"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Compare and fix the database schema",
	Long: `Compare the live database schema with the schema definitions of the
installed code, and fix differences.

Requires database.dsn and database.definitions in the configuration.`,
}

var schemaDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "List differences between the database and the definitions",
	Args:  cobra.NoArgs,
	RunE:  runSchemaDiff,
}

var schemaFixCmd = &cobra.Command{
	Use:   "fix [id...]",
	Short: "Fix schema differences",
	Long: `Fix schema differences on the master and every replica.

Without arguments every difference that is safe to fix automatically is
fixed. Pass difference ids, as listed by 'schema diff', to fix exactly
those, including destructive ones.`,
	RunE: runSchemaFix,
}

var schemaDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the schema as SQL statements",
	Args:  cobra.NoArgs,
	RunE:  runSchemaDump,
}

var schemaDumpTarget bool

func init() {
	schemaDumpCmd.Flags().BoolVar(&schemaDumpTarget, "target", false, "dump the definitions instead of the live database")

	schemaCmd.AddCommand(schemaDiffCmd)
	schemaCmd.AddCommand(schemaFixCmd)
	schemaCmd.AddCommand(schemaDumpCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaDiff(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	m, err := a.migrator(ctx)
	if err != nil {
		return err
	}
	diffs, err := m.Differences(ctx)
	if err != nil {
		return err
	}
	return render(&output.Report{
		Command:     "schema diff",
		Root:        a.cfg.Root,
		Installed:   installedRelease(a.cfg.Root),
		Differences: output.Differences(diffs),
		Duration:    time.Since(start),
	})
}

func runSchemaFix(cmd *cobra.Command, ids []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	entry := &history.Entry{Operation: history.OpMigrate}
	m, err := a.migrator(ctx)
	if err != nil {
		return err
	}

	var fixes []schema.Fix
	if len(ids) > 0 {
		fixes, err = m.ApplyIDs(ctx, ids)
	} else {
		fixes, err = m.AutoFix(ctx)
	}
	report := &output.Report{Command: "schema fix", Root: a.cfg.Root}
	failed := 0
	for _, f := range fixes {
		if f.Err != nil {
			failed++
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", f.ID, f.Err))
			continue
		}
		entry.Fixes = append(entry.Fixes, f.ID)
		printVerbose("Fixed %s", f.ID)
	}
	entry.Duration = time.Since(start)
	if err != nil {
		entry.Error = err.Error()
		record(a, entry)
		return err
	}
	entry.Success = failed == 0
	if failed > 0 {
		entry.Error = fmt.Sprintf("%d of %d fixes failed", failed, len(fixes))
	}
	record(a, entry)

	// report what remains
	diffs, err := m.Differences(ctx)
	if err != nil {
		return err
	}
	report.Differences = output.Differences(diffs)
	report.Duration = time.Since(start)
	if len(fixes) == 0 {
		report.Warnings = append(report.Warnings, "nothing to fix")
	} else {
		printInfo("Applied %d of %d fixes", len(fixes)-failed, len(fixes))
	}
	if err := render(report); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d fixes failed", failed)
	}
	return nil
}

func runSchemaDump(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	m, err := a.migrator(ctx)
	if err != nil {
		return err
	}
	builder := m.Current
	if schemaDumpTarget {
		builder = m.Target
	}
	db, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range db.DDL(m.Dialect) {
		fmt.Fprintf(stdout, "%s;\n\n", stmt)
	}
	return nil
}
