package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rtk/internal/admission"
	"github.com/me/rtk/internal/kernel"
	"github.com/me/rtk/internal/scenario"
)

func newCheckCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check <scenario.yaml>",
		Short: "Validate a scenario and test its task set for schedulability",
		Long: `Loads the scenario, then runs the rate-monotonic admission test over
every task it declares (spawned tasks included, at their worst case).
Exits non-zero when the set is not schedulable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}
			tasks := make([]admission.Task, len(s.Tasks))
			for i, t := range s.Tasks {
				tasks[i] = admission.Task{Priority: t.Priority, C: t.C, T: t.T}
			}
			res := admission.Check(tasks)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printCheck(out, s, res)
			}
			if !res.Schedulable {
				return fmt.Errorf("task set not schedulable (%s)", res.Method)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the admission result as JSON")
	return cmd
}

func printCheck(w io.Writer, s *scenario.Scenario, res admission.Result) {
	kcfg := s.MachineConfig().Kernel
	winLog2 := kernel.StackWindowLog2(kcfg.StackWords)

	fmt.Fprintf(w, "Scenario: %s\n", s.Name)
	fmt.Fprintf(w, "  Protection: %s  Stack window: %s\n\n", kcfg.Protection, humanize.IBytes(1<<winLog2))

	fmt.Fprintf(w, "%-12s  %4s  %6s  %6s  %7s  %8s  %s\n", "TASK", "PRIO", "C", "T", "U", "RESPONSE", "STACK")
	for i, t := range s.Tasks {
		resp := "-"
		if len(res.ResponseTimes) > i {
			resp = humanize.Comma(int64(res.ResponseTimes[i]))
		}
		stack := "invalid slot"
		if t.Priority < kcfg.MaxTasks {
			stack = fmt.Sprintf("%#x", kcfg.Layout.StackArena.Base+t.Priority<<winLog2)
		}
		name := t.Name
		if t.Spawn {
			name += "*"
		}
		fmt.Fprintf(w, "%-12s  %4d  %6s  %6s  %7.4f  %8s  %s\n", name, t.Priority,
			humanize.Comma(int64(t.C)), humanize.Comma(int64(t.T)), float64(t.C)/float64(max(t.T, 1)), resp, stack)
	}

	fmt.Fprintf(w, "\nUtilization: %.4f  Bound: %.4f  Method: %s\n", res.Utilization, res.Bound, res.Method)
	if res.Schedulable {
		fmt.Fprintln(w, "Schedulable: yes")
		return
	}
	fmt.Fprintln(w, "Schedulable: no")
	if res.Failing >= 0 && res.Failing < len(s.Tasks) {
		fmt.Fprintf(w, "  first failing task: %s\n", s.Tasks[res.Failing].Name)
	}
}
