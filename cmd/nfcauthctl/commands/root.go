package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// socketPath is the daemon's Unix socket, set by the --socket persistent flag.
var socketPath string

// rootCmd is the top-level cobra command for nfcauthctl.
var rootCmd = &cobra.Command{
	Use:   "nfcauthctl",
	Short: "CLI client for the nfcauthd authentication daemon",
	Long:  "nfcauthctl speaks nfcauthd's Unix-socket line protocol to authenticate, provision, and watch tag presence.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/nfcauthd/nfcauthd.sock",
		"nfcauthd client socket path")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
