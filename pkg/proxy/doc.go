// Package proxy implements the control plane's Reverse Proxy (SPEC_FULL.md
// §4.6): it routes a request carrying {workspace_id, port, path} to the
// workspace's assigned host, stripping hop-by-hop headers on the way in and
// content-encoding/transfer-encoding headers on the way out, rewriting an
// HTML response body through a pluggable BodyRewriter.
//
// Unlike pkg/ingress's host/path rule matching and round-robin service
// discovery, a workspace has exactly one assigned host_address at a time —
// there is nothing to load-balance across, so routing here is a direct
// Resolver.Get lookup rather than a rule table.
package proxy
