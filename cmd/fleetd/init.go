package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetd/pkg/config"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/security"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new fleetd control-plane cluster on this node",
	Long: `init starts this node as the first replica of a new control-plane
cluster: it bootstraps the Raft quorum, initializes the cluster's
Certificate Authority, and then serves the bridge gRPC listener and the
public HTTP API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		bridgeAddr, _ := cmd.Flags().GetString("bridge-addr")
		debugAddr, _ := cmd.Flags().GetString("debug-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		containerdSock, _ := cmd.Flags().GetString("containerd-socket")
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Println("bootstrapping fleetd control plane...")
		fmt.Printf("  node id:    %s\n", nodeID)
		fmt.Printf("  raft addr:  %s\n", bindAddr)
		fmt.Printf("  http addr:  %s\n", httpAddr)
		fmt.Printf("  bridge addr: %s\n", bridgeAddr)
		fmt.Printf("  data dir:   %s\n", dataDir)

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("create manager: %w", err)
		}

		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		fmt.Println("cluster bootstrapped, this replica is the leader")

		if err := persistNodeCertificate(mgr, nodeID); err != nil {
			return fmt.Errorf("issue manager certificate: %w", err)
		}

		token, err := mgr.GenerateJoinToken()
		if err != nil {
			return fmt.Errorf("generate join token: %w", err)
		}
		fmt.Println()
		fmt.Println("join token for additional replicas (valid 24h):")
		fmt.Printf("  %s\n", token.Token)
		fmt.Printf("  fleetd join --leader %s --token %s\n", bindAddr, token.Token)
		fmt.Println()

		return serve(mgr, cfg, serveOptions{
			dataDir:        dataDir,
			httpAddr:       httpAddr,
			bridgeAddr:     bridgeAddr,
			debugAddr:      debugAddr,
			containerdSock: containerdSock,
		})
	},
}

// persistNodeCertificate issues this node's manager-role mTLS certificate
// from the cluster CA and writes it where pkg/api.NewServer expects to find
// it on every subsequent start.
func persistNodeCertificate(mgr *manager.Manager, nodeID string) error {
	certDir, err := security.GetCertDir("manager", nodeID)
	if err != nil {
		return fmt.Errorf("resolve cert dir: %w", err)
	}
	if security.CertExists(certDir) {
		return nil
	}

	cert, err := mgr.IssueCertificate(nodeID, "manager")
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("save certificate: %w", err)
	}
	if err := security.SaveCACertToFile(mgr.GetCACertPEM(), certDir); err != nil {
		return fmt.Errorf("save CA certificate: %w", err)
	}
	return nil
}

func init() {
	initCmd.Flags().String("node-id", "fleetd-1", "Unique node ID for this replica")
	initCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	initCmd.Flags().String("http-addr", "127.0.0.1:8080", "Address for the public HTTP API")
	initCmd.Flags().String("bridge-addr", "127.0.0.1:7443", "Address for the pod bridge gRPC listener")
	initCmd.Flags().String("debug-addr", "", "Address for pprof/debug endpoints (disabled if empty)")
	initCmd.Flags().String("data-dir", "./fleetd-data", "Data directory for cluster state")
	initCmd.Flags().String("containerd-socket", "", "containerd socket path (auto-detected if empty)")
}
