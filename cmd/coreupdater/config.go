package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage coreupdater configuration settings.

Configuration is loaded from:
  1. the file given with --config
  2. $XDG_CONFIG_HOME/coreupdater/config.yaml (if set)
  3. ~/.config/coreupdater/config.yaml

Environment variables override config file settings using the COREUPDATER_
prefix:
  COREUPDATER_API_TOKEN=...
  COREUPDATER_SERVER_PERFORMANCE=HIGH
  COREUPDATER_DATABASE_DSN=user:pass@tcp(localhost:3306)/shop`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}

	if file := viper.ConfigFileUsed(); file != "" {
		fmt.Fprintf(stdout, "Config file: %s\n\n", file)
	} else {
		fmt.Fprintln(stdout, "Config file: (using defaults, no file found)")
		fmt.Fprintln(stdout)
	}

	fmt.Fprintln(stdout, "Current Configuration:")
	fmt.Fprintln(stdout, "----------------------")
	for _, row := range configRows(c) {
		fmt.Fprintf(stdout, "%-28s %s\n", row[0]+":", row[1])
	}

	fmt.Fprintln(stdout, "\nEnvironment Overrides:")
	fmt.Fprintln(stdout, "----------------------")
	overrides := environmentOverrides(os.Environ())
	if len(overrides) == 0 {
		fmt.Fprintln(stdout, "(none)")
	}
	for _, o := range overrides {
		fmt.Fprintln(stdout, o)
	}
	return nil
}

// configRows lists the effective settings. Secrets are masked.
func configRows(c *config.Config) [][2]string {
	return [][2]string{
		{"root", c.Root},
		{"admin_dir", c.AdminDir},
		{"update_mode", c.UpdateMode},
		{"server_performance", c.ServerPerformance},
		{"sync_themes", fmt.Sprint(c.SyncThemes)},
		{"api.server", c.API.Server},
		{"api.token", mask(c.API.Token)},
		{"api.timeout", c.API.Timeout.String()},
		{"filters.release", fmt.Sprint(c.Filters.Release)},
		{"filters.keep", fmt.Sprint(c.Filters.Keep)},
		{"cache.files", fmt.Sprint(c.Cache.Files)},
		{"cache.dirs", fmt.Sprint(c.Cache.Dirs)},
		{"database.driver", c.Database.Driver},
		{"database.dsn", mask(c.Database.DSN)},
		{"database.replicas", fmt.Sprint(len(c.Database.Replicas))},
		{"database.prefix", c.Database.Prefix},
		{"database.definitions", fmt.Sprint(c.Database.Definitions)},
		{"init_command", strings.Join(c.InitCommand, " ")},
		{"requirements.min_free_space", c.Requirements.MinFreeSpace},
		{"storage.path", c.Storage.Path},
		{"history.enabled", fmt.Sprint(c.History.Enabled)},
		{"history.path", c.History.Path},
		{"history.retention_days", fmt.Sprint(c.History.RetentionDays)},
		{"logging.level", c.Logging.Level},
		{"logging.path", c.Logging.Path},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// environmentOverrides returns the COREUPDATER_ variables in env, sorted,
// with values of secrets masked.
func environmentOverrides(env []string) []string {
	var out []string
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, config.EnvPrefix+"_") || value == "" {
			continue
		}
		if strings.Contains(name, "TOKEN") || strings.Contains(name, "DSN") {
			value = mask(value)
		}
		out = append(out, name+"="+value)
	}
	sort.Strings(out)
	return out
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	printInfo("Configuration file: %s", path)
	return nil
}

func runConfigPath(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		fmt.Fprintln(stdout, cfgFile)
		return nil
	}
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, path)
	return nil
}
