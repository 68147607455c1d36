// Package httpapi is the control plane's public HTTP surface (SPEC_FULL.md
// §6.1, §6.2): server and workspace CRUD for the API collaborator, the
// small internal endpoints the Admin/Billing collaborators call, the
// reverse-proxy mount, and the ambient /health, /ready, /metrics endpoints.
package httpapi
