package api

import (
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/fleetd/pkg/log"
)

// StreamLoggingInterceptor logs the lifetime of each bridge Channel stream.
// The bridge service exposes a single long-lived streaming RPC rather than
// the request/response pairs a read-only/write split would apply to, so
// this replaces a per-method allow list with connection-lifecycle logging.
func StreamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		logger := log.WithComponent("bridge-rpc")
		logger.Info().Str("method", info.FullMethod).Msg("stream opened")

		err := handler(srv, ss)

		event := logger.Info()
		if err != nil {
			event = logger.Warn()
		}
		event.Str("method", info.FullMethod).Dur("duration", time.Since(start)).Err(err).Msg("stream closed")
		return err
	}
}
