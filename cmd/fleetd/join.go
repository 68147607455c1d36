package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetd/pkg/config"
	"github.com/cuemby/fleetd/pkg/manager"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing fleetd control-plane cluster",
	Long: `join adds this node as a new Raft voter in an already-bootstrapped
control-plane cluster, then serves the bridge gRPC listener and the public
HTTP API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		bridgeAddr, _ := cmd.Flags().GetString("bridge-addr")
		debugAddr, _ := cmd.Flags().GetString("debug-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		containerdSock, _ := cmd.Flags().GetString("containerd-socket")
		leader, _ := cmd.Flags().GetString("leader")
		token, _ := cmd.Flags().GetString("token")
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Printf("joining fleetd cluster via leader %s...\n", leader)

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("create manager: %w", err)
		}

		if err := mgr.Join(leader, token); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		fmt.Println("joined cluster, waiting for leader to add this replica as a voter")

		// The CA's signing state lives in this replica's local store, which
		// only catches up once the leader replicates CA-bearing FSM entries
		// to it; a certificate request issued too soon after Join can fail.
		// That only disables the bridge listener, not the HTTP API, so it's
		// logged rather than fatal here.
		if err := persistNodeCertificate(mgr, nodeID); err != nil {
			fmt.Printf("warning: manager certificate not yet available: %v\n", err)
			fmt.Println("warning: bridge gRPC listener will be unavailable until this is resolved; retry with `fleetd join` later")
		}

		return serve(mgr, cfg, serveOptions{
			dataDir:        dataDir,
			httpAddr:       httpAddr,
			bridgeAddr:     bridgeAddr,
			debugAddr:      debugAddr,
			containerdSock: containerdSock,
		})
	},
}

func init() {
	joinCmd.Flags().String("node-id", "fleetd-2", "Unique node ID for this replica")
	joinCmd.Flags().String("bind-addr", "127.0.0.1:7947", "Address for Raft communication")
	joinCmd.Flags().String("http-addr", "127.0.0.1:8081", "Address for the public HTTP API")
	joinCmd.Flags().String("bridge-addr", "127.0.0.1:7444", "Address for the pod bridge gRPC listener")
	joinCmd.Flags().String("debug-addr", "", "Address for pprof/debug endpoints (disabled if empty)")
	joinCmd.Flags().String("data-dir", "./fleetd-data-2", "Data directory for cluster state")
	joinCmd.Flags().String("containerd-socket", "", "containerd socket path (auto-detected if empty)")
	joinCmd.Flags().String("leader", "", "Address of an existing cluster replica")
	joinCmd.Flags().String("token", "", "Join token issued by the leader")
	joinCmd.MarkFlagRequired("leader")
	joinCmd.MarkFlagRequired("token")
}
