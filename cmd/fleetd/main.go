// Command fleetd is the control-plane binary: a Raft-backed Fleet Manager
// replica that schedules workspaces onto registered servers, watches their
// health, proxies client traffic into them, and serves both the public HTTP
// API and the pod-facing bridge gRPC stream.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetd/pkg/log"
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
	Use:     "fleetd",
	Short:   "fleetd - workspace orchestration and fleet control plane",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to fleetd config file (defaults: ./fleetd.yaml, /etc/fleetd/fleetd.yaml)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(joinCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// waitForShutdown blocks until SIGINT/SIGTERM or errCh fires, whichever
// comes first.
func waitForShutdown(errCh <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
		return nil
	case err := <-errCh:
		return err
	}
}

// startDebugServer exposes /metrics, /health, /ready alongside pprof on a
// loopback-only port, mirroring the teacher's always-on local diagnostics
// server.
func startDebugServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	go func() {
		srv := &http.Server{Addr: addr, Handler: mux}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "debug server error: %v\n", err)
		}
	}()
	fmt.Printf("debug endpoints: http://%s/debug/pprof/\n", addr)
}
