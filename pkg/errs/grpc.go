package errs

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps a Kind to the status code the internal bridge/manager gRPC
// surface returns, mirroring the codes.* mapping the teacher's interceptor
// already does for permission errors.
func GRPCCode(k Kind) codes.Code {
	switch k {
	case NotFound:
		return codes.NotFound
	case AlreadyExists:
		return codes.AlreadyExists
	case PlacementConflict:
		return codes.Aborted
	case CapacityUnsatisfiable, RegionUnsatisfiable, SameServerCapacity,
		InvalidState, HasActiveWorkspaces:
		return codes.FailedPrecondition
	case UpstreamUnreachable, PodNotConnected:
		return codes.Unavailable
	case UpstreamTimeout, PodTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// ToGRPCStatus converts a ControlError into a *status.Status error ready to
// return from a unary or streaming handler.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var ce *ControlError
	if e, ok := err.(*ControlError); ok {
		ce = e
	} else {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(GRPCCode(ce.Kind), ce.Error())
}
