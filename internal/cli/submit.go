package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/rtk/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "submit <scenario.yaml>",
		Short: "Execute a scenario on the rtk server and record the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read scenario: %w", err)
			}

			run, err := client.CreateRun(cmd.Context(), model.CreateRunRequest{Name: name, Scenario: string(data)})
			if err != nil {
				return fmt.Errorf("create run: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run created: %s\n", run.ID)
			printRun(out, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Run name (default: the scenario's name)")
	return cmd
}
