/*
Package api hosts the control plane's mTLS gRPC listener.

Unlike a broad CRUD API, the only RPC registered here is the bridge's
bidirectional Channel stream (pkg/rpc, pkg/bridge) that local pods use to
receive calls and emit conversation-sync events. Server and workspace
management is served over plain HTTPS by pkg/httpapi instead; this
listener exists because the bridge stream needs gRPC's framing and the
client-cert identity mTLS provides per pod.

# Certificates

Server and client certificates come from pkg/security's CA. A connecting
pod is not required to present a certificate at handshake time (its first
Channel message is the hello event carrying its pod_id), but a manager
certificate is required to start the listener at all.

# Usage

	srv, err := api.NewServer(mgr, bridgeInstance)
	if err != nil {
		log.Fatal(err)
	}
	go srv.Start("0.0.0.0:7443")
	defer srv.Stop()
*/
package api
