package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// stdout receives reports; main routes it through the fatal guard.
	stdout io.Writer = os.Stdout

	rootCmd = &cobra.Command{
		Use:   "coreupdater",
		Short: "Update a shop installation to another core release",
		Long: `coreupdater compares an installation with a core release and converges
the installation to it: changed files are downloaded and verified, locally
edited files are backed up, and the database schema is migrated.

Every operation is a resumable process. Interrupted runs continue where
they stopped when the same command is run with --resume.

Examples:
  coreupdater versions                 # List available releases
  coreupdater compare                  # Show what an update would change
  coreupdater update                   # Update to the newest stable release
  coreupdater update --version 1.6.0   # Update to a specific release
  coreupdater schema diff              # Compare the database schema
  coreupdater status                   # Show stored processes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/coreupdater/config.yaml)")
	rootCmd.PersistentFlags().StringP("root", "r", "", "installation root (default: current directory)")
	rootCmd.PersistentFlags().String("admin-dir", "", "local name of the admin directory")
	rootCmd.PersistentFlags().String("performance", "", "server performance: LOW, NORMAL or HIGH")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format: pretty, plain, json, yaml")
	rootCmd.PersistentFlags().BoolP("no-interactive", "n", false, "disable the progress view")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("admin_dir", rootCmd.PersistentFlags().Lookup("admin-dir"))
	_ = viper.BindPFlag("server_performance", rootCmd.PersistentFlags().Lookup("performance"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("no_interactive", rootCmd.PersistentFlags().Lookup("no-interactive"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

var (
	cfg    *config.Config
	cfgErr error
)

// initConfig loads the configuration into the global viper instance, which
// already carries the bound flags. Errors surface when a command needs the
// configuration.
func initConfig() {
	cfg, cfgErr = config.LoadWith(viper.GetViper(), cfgFile)
}

// loadedConfig returns the configuration read by initConfig.
func loadedConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if cfg == nil {
		initConfig()
	}
	return cfg, cfgErr
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...any) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a progress message to stderr unless quiet.
func printInfo(format string, args ...any) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
