// Package cli implements the rtk command line: local scenario checks and
// runs, MPU region arithmetic, and a client for the rtk server.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/rtk/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking RTK_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("RTK_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the rtk CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtk",
		Short: "rtk: rate-monotonic real-time kernel on a host platform",
		Long: `rtk runs kernel scenarios on a simulated single-core machine, checks
task sets for schedulability and computes MPU region encodings. The runs
commands talk to an rtk server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "rtk server URL (or RTK_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newCheckCmd(),
		newRunCmd(),
		newSubmitCmd(),
		newRunsCmd(),
		newRegionCmd(),
	)

	return root
}
