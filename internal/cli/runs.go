package cli

import (
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/rtk/pkg/model"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs recorded by the rtk server",
	}
	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsEventsCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var state string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			page, err := client.ListRuns(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-10s  %-24s  %10s  %s\n", "ID", "STATE", "NAME", "TICKS", "CREATED")
			for _, r := range page.Items {
				fmt.Fprintf(out, "%-40s  %-10s  %-24s  %10s  %s\n", r.ID, r.State, r.Name,
					humanize.Comma(int64(r.Ticks)), humanize.Time(r.CreatedAt))
			}
			if footer := page.Footer(); footer != "" {
				fmt.Fprintf(out, "\n%s\n", footer)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (RUNNING, COMPLETED, HALTED, TICK_LIMIT, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var console bool

	cmd := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show a run and its execution report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			run, err := client.GetRun(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			rep, err := client.RunReport(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get report: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run: %s\n", run.ID)
			printRun(out, run)
			if console && run.Console != "" {
				fmt.Fprintf(out, "\n%s", run.Console)
			}
			fmt.Fprintln(out)
			rep.Format(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&console, "console", false, "Print the task console output")
	return cmd
}

func newRunsEventsCmd() *cobra.Command {
	var kind string
	var task, limit, offset int

	cmd := &cobra.Command{
		Use:   "events <run_id>",
		Short: "Page through a run's execution trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			q := url.Values{}
			if kind != "" {
				q.Set("kind", kind)
			}
			if cmd.Flags().Changed("task") {
				q.Set("task", strconv.Itoa(task))
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			page, err := client.ListEvents(cmd.Context(), id, q)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			out := cmd.OutOrStdout()
			printEvents(out, page.Items, nil)
			if footer := page.Footer(); footer != "" {
				fmt.Fprintf(out, "\n%s\n", footer)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by event kind (switch, release, acquire, ...)")
	cmd.Flags().IntVar(&task, "task", 0, "Filter by task slot")
	cmd.Flags().IntVar(&limit, "limit", 100, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id>",
		Short: "Delete a run and its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run deleted: %s\n", args[0])
			return nil
		},
	}
}

func printRun(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "  Name:     %s\n", run.Name)
	fmt.Fprintf(w, "  State:    %s\n", run.State)
	fmt.Fprintf(w, "  Ticks:    %s\n", humanize.Comma(int64(run.Ticks)))
	fmt.Fprintf(w, "  Switches: %s\n", humanize.Comma(int64(run.Switches)))
	fmt.Fprintf(w, "  Events:   %s\n", humanize.Comma(int64(run.EventCount)))
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", run.Error)
	}
	if len(run.Names) > 0 {
		var names []string
		for _, id := range slices.Sorted(maps.Keys(run.Names)) {
			names = append(names, fmt.Sprintf("%d=%s", id, run.Names[id]))
		}
		fmt.Fprintf(w, "  Tasks:    %s\n", strings.Join(names, " "))
	}
	fmt.Fprintf(w, "  Created:  %s (%s)\n", run.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.CreatedAt))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Duration: %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
}
