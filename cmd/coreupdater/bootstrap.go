package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/config"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/filter"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/history"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/schema"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/tuner"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/updater"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"
)

// app holds everything a command needs to drive processes.
type app struct {
	cfg     *config.Config
	store   storage.Backend
	client  *api.Client
	profile tuner.Profile
	filters filter.Set
	history *history.History

	compare *process.Processor[manifest.Settings]
	update  *process.Processor[updater.Settings]

	closers []func() error
}

// newApp initializes logging, opens the state store and builds the
// processors. The database is only opened when withDatabase is set and a
// DSN is configured.
func newApp(ctx context.Context, withDatabase bool) (*app, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	if err := initLogging(cfg); err != nil {
		return nil, err
	}

	tier, err := tuner.ParseTier(cfg.ServerPerformance)
	if err != nil {
		return nil, err
	}

	filters, err := filter.NewSet(filter.Options{
		Release:    cfg.Filters.Release,
		Keep:       cfg.Filters.Keep,
		SyncThemes: cfg.SyncThemes,
	})
	if err != nil {
		return nil, fmt.Errorf("building filters: %w", err)
	}

	store, err := storage.OpenBadger(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		profile: tuner.ForTier(tier),
		filters: filters,
		closers: []func() error{store.Close},
	}

	a.client = api.New(api.Options{
		Server:        cfg.API.Server,
		Token:         cfg.API.Token,
		Timeout:       cfg.API.Timeout,
		AdminDir:      cfg.AdminDir,
		ClientVersion: version,
		Cache:         store,
	})

	if cfg.History.Enabled {
		if a.history, err = history.New(cfg.History.Path); err != nil {
			a.close()
			return nil, err
		}
	}

	opts := updater.Options{
		Downloader: a.client,
		ChunkSize:  a.profile.ChunkSize,
		CacheFiles: cfg.Cache.Files,
		CacheDirs:  cfg.Cache.Dirs,
	}
	if len(cfg.InitCommand) > 0 {
		opts.Initializer = updater.CommandInitializer{Command: cfg.InitCommand}
	}
	if withDatabase && cfg.Database.Enabled() {
		m, err := a.migrator(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		opts.Migrator = m
	}

	if a.compare, err = process.New[manifest.Settings](store,
		manifest.NewComparator(a.client, filters, a.profile.HashWorkers)); err != nil {
		a.close()
		return nil, err
	}
	if a.update, err = process.New[updater.Settings](store, updater.New(opts)); err != nil {
		a.close()
		return nil, err
	}

	logging.Get("process").Debug("application ready",
		"root", cfg.Root, "tier", a.profile.Tier, "workers", a.profile.HashWorkers)
	return a, nil
}

// migrator opens the configured master and replicas.
func (a *app) migrator(ctx context.Context) (*schema.Migrator, error) {
	db := a.cfg.Database
	if !db.Enabled() {
		return nil, errors.New("no database configured (set database.dsn)")
	}
	if len(db.Definitions) == 0 {
		return nil, errors.New("no schema definitions configured (set database.definitions)")
	}
	dialect, err := schema.ParseDialect(db.Driver)
	if err != nil {
		return nil, err
	}

	master, err := schema.Open(ctx, dialect, db.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, master.Close)
	servers := []schema.Server{{Name: "master", DB: master}}

	for i, dsn := range db.Replicas {
		replica, err := schema.Open(ctx, dialect, dsn)
		if err != nil {
			return nil, fmt.Errorf("replica %d: %w", i+1, err)
		}
		a.closers = append(a.closers, replica.Close)
		servers = append(servers, schema.Server{Name: fmt.Sprintf("replica%d", i+1), DB: replica})
	}

	var textCharset schema.Charset
	if db.CheckCharset {
		textCharset = schema.Charset{Charset: "utf8mb4", Collate: "utf8mb4_unicode_ci"}
	}

	return schema.NewMigrator(dialect,
		schema.LiveBuilder(dialect, master),
		schema.DefinitionBuilder{Paths: db.Definitions, Prefix: db.Prefix, TextCharset: textCharset},
		schema.Comparator{
			IgnoreTables:       db.IgnoreTables,
			Prefix:             db.Prefix,
			CheckAutoIncrement: db.CheckAutoIncrement,
			CheckCharset:       db.CheckCharset,
		},
		servers...), nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Get("process").Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// initLogging configures file logging; verbose mirrors debug output to the
// console unless the progress view owns the terminal.
func initLogging(cfg *config.Config) error {
	lc, err := cfg.LoggingSettings()
	if err != nil {
		return err
	}
	if getVerbose() {
		lc.Level = "debug"
		if !interactive() {
			lc.ConsoleLevel = "debug"
		}
	}
	lc.Quiet = getQuiet()
	return logging.Init(lc)
}

// interactive reports whether the progress view should be used.
func interactive() bool {
	if viper.GetBool("no_interactive") || getQuiet() {
		return false
	}
	format := viper.GetString("output")
	return (format == "" || format == "pretty") && isTerminal()
}

func isTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stderr.Fd())
}
