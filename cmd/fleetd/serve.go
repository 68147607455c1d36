package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/bridge"
	"github.com/cuemby/fleetd/pkg/config"
	"github.com/cuemby/fleetd/pkg/filesync"
	"github.com/cuemby/fleetd/pkg/heartbeat"
	"github.com/cuemby/fleetd/pkg/httpapi"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/placement"
	"github.com/cuemby/fleetd/pkg/proxy"
	"github.com/cuemby/fleetd/pkg/runtime"
	"github.com/cuemby/fleetd/pkg/store"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/cuemby/fleetd/pkg/workspace"
)

// serveOptions carries the addresses a running replica listens on, on top
// of the already-bootstrapped or already-joined *manager.Manager.
type serveOptions struct {
	dataDir        string
	httpAddr       string
	bridgeAddr     string
	debugAddr      string
	containerdSock string
}

// serve wires every control-plane component around mgr and blocks until
// shutdown. Both `fleetd init` and `fleetd join` call this once the Raft
// side of the manager is ready.
func serve(mgr *manager.Manager, cfg *config.Config, opts serveOptions) error {
	rt, err := runtime.NewContainerdRuntime(opts.containerdSock)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer rt.Close()
	metrics.RegisterComponent("containerd", true, "connected")

	wsStore, err := store.NewBoltWorkspaceStore(filepath.Join(opts.dataDir, "workspaces"))
	if err != nil {
		return fmt.Errorf("open workspace store: %w", err)
	}
	defer wsStore.Close()

	placementEngine := placement.NewEngine(mgr, placement.Config{
		MaxRetries: cfg.Placement.MaxRetries,
	})

	var fsEngine workspace.FileSync
	if cfg.ObjectStore.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		engine, err := filesync.NewEngine(ctx, filesync.Config{
			Bucket:   cfg.ObjectStore.Bucket,
			Prefix:   cfg.ObjectStore.Prefix,
			Region:   cfg.ObjectStore.Region,
			Endpoint: cfg.ObjectStore.Endpoint,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("build file sync engine: %w", err)
		}
		fsEngine = engine
	} else {
		fmt.Println("file sync disabled: no object_store.bucket configured")
	}

	wsCfg := workspace.DefaultConfig()
	if cfg.Workspace.PathBase != "" {
		wsCfg.PathBase = cfg.Workspace.PathBase
	}
	if len(cfg.Workspace.DefaultImageByVariant) > 0 {
		wsCfg.DefaultImageByVariant = cfg.Workspace.DefaultImageByVariant
	}

	wsManager := workspace.NewManager(mgr, wsStore, placementEngine, rt, workspace.DefaultCatalogue(), fsEngine, wsCfg)

	heartbeatCfg := heartbeat.DefaultConfig()
	if cfg.Heartbeat.IntervalSeconds > 0 {
		heartbeatCfg.Interval = time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second
	}
	if cfg.Heartbeat.FailureThreshold > 0 {
		heartbeatCfg.FailureThreshold = cfg.Heartbeat.FailureThreshold
	}
	if cfg.Heartbeat.StaleThresholdSeconds > 0 {
		heartbeatCfg.StaleThreshold = time.Duration(cfg.Heartbeat.StaleThresholdSeconds) * time.Second
	}
	probe := heartbeat.NewHTTPProbe(heartbeatCfg.PingTimeout)
	heartbeatSvc := heartbeat.NewService(mgr, wsStore, probe, probe, heartbeatCfg)
	heartbeatSvc.Start()
	defer heartbeatSvc.Stop()
	fmt.Println("heartbeat service started")

	rp := proxy.NewProxy(wsStore, proxy.DefaultConfig(), proxy.NoopRewriter)

	// The bridge gRPC listener needs a manager certificate; a replica that
	// just joined may not have one yet (see join.go), so its absence is a
	// degraded mode rather than a fatal error.
	br := bridge.NewBridge(mgr.GetEventBroker())
	bridgeErrCh := make(chan error, 1)
	bridgeServer, err := api.NewServer(mgr, br)
	if err != nil {
		fmt.Printf("bridge gRPC listener disabled: %v\n", err)
	} else {
		go func() {
			if err := bridgeServer.Start(opts.bridgeAddr); err != nil {
				bridgeErrCh <- fmt.Errorf("bridge gRPC server: %w", err)
			}
		}()
		defer bridgeServer.Stop()
		fmt.Printf("bridge gRPC listening on %s\n", opts.bridgeAddr)
	}

	hwSpecs := hardwareRequirementsByTier()
	httpServer := httpapi.NewServer(mgr, wsManager, wsStore, rp, cfg.Security.InternalServiceToken, hwSpecs)
	srv := &http.Server{Addr: opts.httpAddr, Handler: httpServer.Handler()}
	httpErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("http api server: %w", err)
		}
	}()
	defer srv.Close()
	fmt.Printf("http api listening on %s\n", opts.httpAddr)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "ready")
	metrics.RegisterComponent("api", true, "ready")

	if opts.debugAddr != "" {
		startDebugServer(opts.debugAddr)
	}

	mergedErrCh := make(chan error, 2)
	go func() { mergedErrCh <- <-bridgeErrCh }()
	go func() { mergedErrCh <- <-httpErrCh }()

	if err := waitForShutdown(mergedErrCh); err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("shutdown complete")
	return nil
}

// hardwareRequirementsByTier flattens the built-in hardware catalogue into
// the map httpapi.Server serves at /internal/hardware-specs.
func hardwareRequirementsByTier() map[string]types.WorkspaceRequirements {
	tiers := []string{"small", "medium", "large", "gpu-small"}
	catalogue := workspace.DefaultCatalogue()
	out := make(map[string]types.WorkspaceRequirements, len(tiers))
	for _, tier := range tiers {
		spec, err := catalogue.Resolve(tier)
		if err != nil {
			continue
		}
		out[tier] = types.WorkspaceRequirements{
			CPUCores:      spec.CPU,
			MemoryMB:      spec.MemoryMB,
			DiskGB:        spec.DiskGB,
			BandwidthMbps: spec.BandwidthMbps,
			Architecture:  spec.Architecture,
			RequiresGPU:   spec.IsGPU,
			GPUKind:       spec.GPUKind,
		}
	}
	return out
}
