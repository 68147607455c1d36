// Package workspace implements the Workspace Lifecycle Manager.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                        Manager                           │
//	│  Create / Stop / Restart / Delete / Scale / CheckHealth   │
//	│  serialised per workspace_id via an internal lock table   │
//	└───────┬───────────────┬───────────────┬──────────────────┘
//	        │               │               │
//	        ▼               ▼               ▼
//	  placement.Engine   Runtime       store.WorkspaceStore
//	 (capacity reserve) (container     (durable record,
//	                      driver)        secondary indexes)
//
// Create, Stop, Restart, Delete, and Scale follow the state machine in
// SPEC_FULL.md §4.4.1: CREATING leads to RUNNING or ERROR; RUNNING and
// STOPPED transition into each other via Stop/Restart; DELETING is the
// terminal transition out of any non-terminal state. Every transition is
// persisted to the Workspace Store before the operation that caused it is
// considered complete, and every failure after a reservation is taken rolls
// the reservation back through placement.Engine.Release so capacity never
// leaks.
//
// # Reconciliation
//
// Reconciler runs the two jobs from §4.4.6, each gated by its own
// Distributed Coordination lease: Discovery reconciles the Store against
// observed container reality, and Metering emits usage ticks for billing.
// Both are independent of Manager's request-path operations so a stuck
// reconciliation cycle cannot block a user-initiated create/stop/delete.
//
// # See also
//
// pkg/placement for capacity reservation, pkg/heartbeat for the health
// samples that feed proxy/UI availability decisions, pkg/store for the
// durable index, pkg/runtime for the containerd-backed Runtime
// implementation.
package workspace
