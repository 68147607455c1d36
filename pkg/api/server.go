package api

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/fleetd/pkg/bridge"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/manager"
	"github.com/cuemby/fleetd/pkg/rpc"
	"github.com/cuemby/fleetd/pkg/security"
)

// Server is the control plane's mTLS gRPC listener. It hosts the bridge
// service pods use to open their persistent Channel stream.
type Server struct {
	manager *manager.Manager
	bridge  *bridge.Bridge
	grpc    *grpc.Server
}

// NewServer builds the gRPC server with mTLS credentials loaded from this
// manager's certificate directory. Client certificates are requested but
// verified per-RPC rather than required at the handshake, so a pod can
// still complete its first hello before holding a certificate.
func NewServer(mgr *manager.Manager, br *bridge.Bridge) (*Server, error) {
	certDir, err := security.GetCertDir("manager", mgr.NodeID())
	if err != nil {
		return nil, fmt.Errorf("get cert directory: %w", err)
	}
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("manager certificate not found at %s - ensure cluster is initialized", certDir)
	}

	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load manager certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}

	grpcServer := grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc.StreamInterceptor(StreamLoggingInterceptor()),
	)
	grpcServer.RegisterService(&rpc.BridgeServiceDesc, br)

	return &Server{
		manager: mgr,
		bridge:  br,
		grpc:    grpcServer,
	}, nil
}

// Start blocks, serving the bridge gRPC service on addr.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info(fmt.Sprintf("bridge gRPC listening on %s", addr))
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight pod streams before returning.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}
