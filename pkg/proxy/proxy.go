// Package proxy implements the Reverse Proxy: it forwards HTTP traffic to a
// running workspace's container, identified by workspace_id and port.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/types"
)

// hopByHopHeaders are stripped from the forwarded request, per §4.6.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// responseStripHeaders are stripped from the upstream response before it is
// written back to the caller.
var responseStripHeaders = []string{"Content-Encoding", "Transfer-Encoding", "Connection"}

// Resolver is the subset of store.WorkspaceStore the proxy needs to resolve
// a workspace_id to a backend address.
type Resolver interface {
	Get(workspaceID string) (*types.WorkspaceRecord, error)
}

// Config tunes the pooled HTTP client the proxy uses to reach backends.
type Config struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig matches the suggested pool cap from §4.6: 100 connections,
// 20 keepalive per control-plane replica.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		DialTimeout:           5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// Proxy forwards requests to workspace containers.
type Proxy struct {
	resolver Resolver
	client   *http.Client
	rewriter BodyRewriter
}

// BodyRewriter injects content into an HTML response body, returning the new
// body and whether it changed. The actual tracer-script content is opaque to
// this package; NoopRewriter is used when none is configured.
type BodyRewriter func(body []byte) []byte

// NoopRewriter leaves the body untouched.
func NoopRewriter(body []byte) []byte { return body }

// NewProxy builds a Proxy with a pooled transport sized per cfg.
func NewProxy(resolver Resolver, cfg Config, rewriter BodyRewriter) *Proxy {
	if rewriter == nil {
		rewriter = NoopRewriter
	}
	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
	}
	return &Proxy{
		resolver: resolver,
		rewriter: rewriter,
		client: &http.Client{
			Transport: transport,
			// The proxy forwards exactly one hop; it never follows redirects
			// itself, leaving that decision to the caller's own browser/client.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Router mounts the proxy's handler on a gorilla/mux router at
// /proxy/{workspace_id}/{port}/{rest:.*}, matching the control-plane's public
// HTTP route-mux convention (SPEC_FULL.md §6.2).
func (p *Proxy) Router() *mux.Router {
	r := mux.NewRouter()
	r.PathPrefix("/proxy/{workspace_id}/{port}/").HandlerFunc(p.ServeHTTP)
	return r
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspaceID := vars["workspace_id"]
	port := vars["port"]

	timer := metrics.NewTimer()
	status := "success"
	defer func() {
		metrics.ProxyRequestsTotal.WithLabelValues(workspaceID, status).Inc()
		timer.ObserveDurationVec(metrics.ProxyRequestDuration, workspaceID)
	}()

	record, err := p.resolver.Get(workspaceID)
	if err != nil {
		status = "not_found"
		writeError(w, errs.New(errs.NotFound, "workspace not found"))
		return
	}
	if record.Status != types.WorkspaceRunning {
		status = "not_running"
		writeError(w, errs.New(errs.InvalidState, "workspace is not running"))
		return
	}

	prefix := fmt.Sprintf("/proxy/%s/%s", workspaceID, port)
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" {
		path = "/"
	}

	targetURL := fmt.Sprintf("http://%s:%s%s", record.Assigned.HostAddress, port, path)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		status = "error"
		writeError(w, errs.Wrap(errs.Internal, "building backend request", err))
		return
	}
	copyRequestHeaders(outReq, r)

	resp, err := p.client.Do(outReq)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			status = "upstream_timeout"
			writeError(w, errs.Wrap(errs.UpstreamTimeout, "backend did not respond in time", err))
			return
		}
		status = "upstream_unreachable"
		writeError(w, errs.Wrap(errs.UpstreamUnreachable, "backend connection failed", err))
		return
	}
	defer resp.Body.Close()

	p.writeResponse(w, resp)
}

func copyRequestHeaders(outReq *http.Request, r *http.Request) {
	for key, values := range r.Header {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	outReq.Header.Del("Host")
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, err *errs.ControlError) {
	log.WithComponent("proxy").Warn().Err(err).Msg("proxy request failed")
	http.Error(w, err.Message, errs.HTTPStatus(err.Kind))
}
