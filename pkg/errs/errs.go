// Package errs implements the control plane's error taxonomy: a small set of
// named Kinds that every component returns instead of ad-hoc strings, so the
// public HTTP API and the internal gRPC surface can each map them to their
// own wire representation at the edge.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a ControlError for edge-level status mapping.
type Kind string

const (
	NotFound              Kind = "NOT_FOUND"
	CapacityUnsatisfiable Kind = "CAPACITY_UNSATISFIABLE"
	RegionUnsatisfiable   Kind = "REGION_UNSATISFIABLE"
	SameServerCapacity    Kind = "SAME_SERVER_CAPACITY"
	PlacementConflict     Kind = "PLACEMENT_CONFLICT"
	AlreadyExists         Kind = "ALREADY_EXISTS"
	InvalidState          Kind = "INVALID_STATE"
	HasActiveWorkspaces   Kind = "HAS_ACTIVE_WORKSPACES"
	UpstreamUnreachable   Kind = "UPSTREAM_UNREACHABLE"
	UpstreamTimeout       Kind = "UPSTREAM_TIMEOUT"
	PodNotConnected       Kind = "POD_NOT_CONNECTED"
	PodTimeout            Kind = "POD_TIMEOUT"
	Internal              Kind = "INTERNAL"
)

// ControlError is the error type every component-level function should
// return once it has something more specific to say than "something broke".
type ControlError struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, if any
}

func (e *ControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// New builds a ControlError with no wrapped cause.
func New(kind Kind, message string) *ControlError {
	return &ControlError{Kind: kind, Message: message}
}

// Wrap builds a ControlError around an existing error.
func Wrap(kind Kind, message string, err error) *ControlError {
	return &ControlError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err, defaulting to Internal for anything that
// is not (or does not wrap) a *ControlError.
func KindOf(err error) Kind {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code the public HTTP API returns.
func HTTPStatus(k Kind) int {
	switch k {
	case NotFound:
		return 404
	case AlreadyExists, PlacementConflict:
		return 409
	case CapacityUnsatisfiable, RegionUnsatisfiable, SameServerCapacity,
		InvalidState, HasActiveWorkspaces:
		return 400
	case UpstreamUnreachable, PodNotConnected:
		return 503
	case UpstreamTimeout, PodTimeout:
		return 504
	default:
		return 500
	}
}
