// Command fleetctl is the operator CLI for the fleetd control plane. It
// speaks plain HTTPS against pkg/httpapi's routes rather than gRPC, since
// the only gRPC surface a running cluster exposes is the pod-facing bridge
// stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "fleetctl - operate a fleetd control plane",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:8080", "fleetd HTTP API address")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(workspaceCmd)
}

// clientFor builds an apiClient from the --addr persistent flag, read from
// the command itself so subcommands nested under server/workspace inherit
// it the same way cobra resolves any other persistent flag.
func clientFor(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	return newAPIClient(addr)
}
