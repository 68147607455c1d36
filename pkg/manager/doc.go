/*
Package manager implements the Raft-backed control-plane replica for the
fleet control plane.

The manager package owns two of the spec's components: the Fleet Registry
(Server Records, reservation bookkeeping) and Distributed Coordination
(named, TTL'd leases used to serialize cross-replica decisions like
placement and the file-sync backup cycle). Both are backed by the same
Raft group so every control-plane replica converges on one state.

# Architecture

A control-plane cluster consists of 1-7 replicas forming a Raft quorum:

	┌─────────────────────── CONTROL-PLANE REPLICA ───────────────────┐
	│                                                                    │
	│  ┌──────────────────────────────────────────────┐                │
	│  │         Public + Internal HTTP API            │                │
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                              │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │              Manager                          │                │
	│  │  - Server Record CRUD                         │                │
	│  │  - Lease acquire/release                      │                │
	│  │  - Per-server reservation locking             │                │
	│  │  - Cluster membership (bootstrap/join)        │                │
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                              │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │          Raft Consensus Layer                 │                │
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                              │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │              FleetFSM                          │               │
	│  │  - Apply(): create/update/delete server,      │               │
	│  │    acquire/release lease, save CA             │               │
	│  └──────────────────┬───────────────────────────┘                │
	│                     │                                              │
	│  ┌──────────────────▼───────────────────────────┐                │
	│  │              BoltDB Store                      │               │
	│  │  - Server Records, leases, CA material        │               │
	│  └────────────────────────────────────────────────┘               │
	└────────────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Registers, updates, and deregisters Server Records
  - Proposes Raft commands for all state changes
  - Grants and releases named leases
  - Serializes per-server reservation arithmetic (WithServerLock)
  - Bootstraps the first replica or joins an existing cluster
  - Owns the cluster's certificate authority

FleetFSM:
  - Raft finite state machine implementation
  - Applies committed log entries to the BoltDB store
  - Snapshot/Restore for fast recovery of new replicas

TokenManager:
  - Generates and validates join tokens for new replicas

# Raft Consensus

Cluster Sizes:
  - 1 replica: development only (no HA)
  - 3 replicas: tolerates 1 failure
  - 5 replicas: tolerates 2 failures

Data Replication:
  - All Server Record and lease changes replicated via Raft log
  - New replicas sync via snapshot + log replay; there is no separate
    state-transfer RPC, Join only needs the leader to add the new node
    as a voter

# Distributed Coordination

Leases are named strings with a holder and an expiry, acquired and
released through the same FSM as Server Records so that lease grants are
linearizable across the cluster. Acquiring an unheld or expired lease
always succeeds; acquiring a lease held by someone else before its
expiry fails and returns the current holder so the caller can back off.
Re-acquiring your own held lease refreshes its TTL. Releasing a lease you
don't hold is rejected, so a replica that lost its lease to expiry can't
clobber whoever acquired it next.

# Usage

Creating a Manager:

	cfg := &manager.Config{
		NodeID:   "replica-1",
		BindAddr: "192.168.1.10:8300",
		DataDir:  "/var/lib/fleetd/replica-1",
	}

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}

Bootstrapping the first replica:

	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err)
	}

Joining additional replicas:

	token := "replica-join-token-abc123"
	if err := mgr.Join("192.168.1.10:8300", token); err != nil {
		log.Fatal(err)
	}

Acquiring a lease:

	lease, acquired, err := mgr.AcquireLease("placement/server-7", "workspace-engine", 30*time.Second)

# See Also

  - pkg/storage for state persistence
  - pkg/placement for the lease's principal consumer
  - pkg/security for the CA this package owns
*/
package manager
