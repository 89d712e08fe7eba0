package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rtk/internal/report"
	"github.com/me/rtk/internal/scenario"
	"github.com/me/rtk/pkg/model"
)

type runResult struct {
	Name     string         `json:"name"`
	State    model.RunState `json:"state"`
	Error    string         `json:"error,omitempty"`
	Ticks    uint64         `json:"ticks"`
	Switches uint64         `json:"switches"`
	Console  string         `json:"console"`
	Report   *report.Report `json:"report"`
	Events   []model.Event  `json:"events,omitempty"`
}

func newRunCmd() *cobra.Command {
	var (
		maxTicks uint64
		realtime bool
		timeout  time.Duration
		trace    bool
		quiet    bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario on the local host platform",
		Long: `Runs the scenario on a simulated machine, streaming task console output,
then prints an execution report. Exits non-zero when the kernel halts or
the run fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}
			if maxTicks > 0 {
				s.Run.MaxTicks = maxTicks
			}
			if realtime {
				s.Run.Realtime = true
			}

			in, err := scenario.Build(s, logger)
			if err != nil {
				return fmt.Errorf("build scenario: %w", err)
			}
			out := cmd.OutOrStdout()
			if !quiet && !asJSON {
				in.Tee(out)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			res := in.Run(ctx)
			rep := report.Build(res.Events, report.Options{Names: res.Names, EndTick: res.Ticks})

			if asJSON {
				r := runResult{
					Name:     s.Name,
					State:    res.State,
					Ticks:    res.Ticks,
					Switches: res.Switches,
					Console:  res.Console,
					Report:   rep,
				}
				if res.Err != nil {
					r.Error = res.Err.Error()
				}
				if trace {
					r.Events = res.Events
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(r); err != nil {
					return err
				}
			} else {
				if trace {
					fmt.Fprintln(out)
					printEvents(out, res.Events, res.Names)
				}
				fmt.Fprintln(out)
				rep.Format(out)
				fmt.Fprintf(out, "\nState: %s  Ticks: %s  Switches: %s  Events: %s\n", res.State,
					humanize.Comma(int64(res.Ticks)), humanize.Comma(int64(res.Switches)), humanize.Comma(int64(len(res.Events))))
			}

			switch res.State {
			case model.RunStateHalted, model.RunStateFailed:
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&maxTicks, "max-ticks", 0, "Override the scenario's tick budget")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace ticks against the wall clock")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wall-clock limit for the run (0 = none)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print the execution trace")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not stream task console output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

// printEvents writes one line per trace event.
func printEvents(w io.Writer, events []model.Event, names map[int]string) {
	fmt.Fprintf(w, "%6s  %8s  %-8s  %-12s  %5s  %s\n", "SEQ", "TICK", "KIND", "TASK", "MUTEX", "DETAIL")
	for _, ev := range events {
		task := "-"
		if ev.Task >= 0 {
			task = fmt.Sprintf("%d", ev.Task)
			if n := names[ev.Task]; n != "" {
				task += " " + n
			}
		}
		mutex := "-"
		if ev.Mutex >= 0 {
			mutex = fmt.Sprintf("%d", ev.Mutex)
		}
		fmt.Fprintf(w, "%6d  %8d  %-8s  %-12s  %5s  %s\n", ev.Seq, ev.Tick, ev.Kind, task, mutex, ev.Detail)
	}
}
