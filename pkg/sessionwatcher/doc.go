// Package sessionwatcher implements the laptop-side half of the Local-Pod
// Bridge (SPEC_FULL.md §4.7.2): it watches local conversation files for
// append events, debounces bursts of writes, and emits the newly-appended
// entries to every subscriber the control plane reports for that
// conversation.
//
// It mirrors the conversation-sync behavior of the Python original at
// original_source/services/local-pod/src/podex_local_pod/session_watcher.py,
// replacing its watchdog-based watcher with fsnotify and its socket.io
// emit/call with the Bridge's Envelope RPC (pkg/bridge, pkg/rpc).
package sessionwatcher
