package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/output"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show stored comparisons and updates",
	Long: `Show the comparisons and updates kept in the state store.

Unfinished processes can be continued with 'compare --resume <id>' or
'update --resume <id>'. Stored processes expire after a day.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusDelete bool

func init() {
	statusCmd.Flags().BoolVar(&statusDelete, "delete", false, "delete the given process")
	rootCmd.AddCommand(statusCmd)
}

// tracked is a processor as seen by status and storage commands.
type tracked interface {
	Name() string
	List() ([]string, error)
	Load(id string) (*process.State, error)
	Describe(id string) (string, error)
	Delete(id string) error
}

func (a *app) processors() []tracked {
	return []tracked{a.compare, a.update}
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	if statusDelete {
		if len(args) == 0 {
			return errors.New("--delete needs a process id")
		}
		p, _, err := findProcess(a.processors(), args[0])
		if err != nil {
			return err
		}
		if err := p.Delete(args[0]); err != nil {
			return err
		}
		printInfo("Deleted %s %s.", p.Name(), args[0])
		return nil
	}

	report := &output.Report{Command: "status", Root: a.cfg.Root, Installed: installedRelease(a.cfg.Root)}
	if len(args) == 1 {
		p, st, err := findProcess(a.processors(), args[0])
		if err != nil {
			return err
		}
		report.Processes = []output.Process{summarize(p, st)}
	} else {
		report.Processes, err = listProcesses(a.processors())
		if err != nil {
			return err
		}
		if len(report.Processes) == 0 {
			report.Warnings = append(report.Warnings, "no stored processes")
		}
	}
	return render(report)
}

// findProcess returns the processor owning id and its state.
func findProcess(ps []tracked, id string) (tracked, *process.State, error) {
	for _, p := range ps {
		st, err := p.Load(id)
		if errors.Is(err, process.ErrUnknownProcess) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return p, st, nil
	}
	return nil, nil, fmt.Errorf("process %s not found", id)
}

// listProcesses summarizes every stored process, most recently updated
// first.
func listProcesses(ps []tracked) ([]output.Process, error) {
	var out []output.Process
	for _, p := range ps {
		ids, err := p.List()
		if err != nil {
			return nil, fmt.Errorf("listing %s processes: %w", p.Name(), err)
		}
		for _, id := range ids {
			st, err := p.Load(id)
			if err != nil {
				// expired between List and Load
				continue
			}
			out = append(out, summarize(p, st))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func summarize(p tracked, st *process.State) output.Process {
	current := ""
	if !st.Status.Terminal() {
		current, _ = p.Describe(st.ID)
	}
	return output.FromState(st, current)
}
