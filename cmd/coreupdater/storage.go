package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage the state store",
	Long: `Commands for managing the state store.

The store keeps process state, so interrupted comparisons and updates can
resume, and caches release file lists fetched from the API.`,
}

var storageClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached release data and finished processes",
	Long: `Remove cached release data and finished processes.

With --all, unfinished processes are removed as well and can no longer be
resumed.`,
	Args: cobra.NoArgs,
	RunE: runStorageClear,
}

var storagePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the state store location",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, c.Storage.Path)
		return nil
	},
}

var storageClearAll bool

func init() {
	storageClearCmd.Flags().BoolVar(&storageClearAll, "all", false, "also remove unfinished processes")

	storageCmd.AddCommand(storageClearCmd)
	storageCmd.AddCommand(storagePathCmd)
	rootCmd.AddCommand(storageCmd)
}

func runStorageClear(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.client.ClearCache(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	n, err := clearProcesses(a.processors(), storageClearAll)
	if err != nil {
		return err
	}
	printInfo("Cache cleared, %d %s removed.", n, plural(n, "process", "processes"))
	return nil
}

// clearProcesses deletes terminal processes, or all of them with all set,
// and returns how many were deleted.
func clearProcesses(ps []tracked, all bool) (int, error) {
	n := 0
	for _, p := range ps {
		ids, err := p.List()
		if err != nil {
			return n, err
		}
		for _, id := range ids {
			if !all {
				st, err := p.Load(id)
				if err != nil || !st.Status.Terminal() {
					continue
				}
			}
			if err := p.Delete(id); err != nil {
				return n, fmt.Errorf("deleting %s: %w", id, err)
			}
			n++
		}
	}
	return n, nil
}
