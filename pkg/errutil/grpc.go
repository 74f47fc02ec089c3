package errutil

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps the classes this service produces. Everything else is
// Internal.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return codes.InvalidArgument
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusNotFound:
		return codes.NotFound
	case StatusConflict:
		return codes.AlreadyExists
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	case StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ToGRPCError turns err into a status error carrying only the public
// message. Wrapped causes stay in the logs.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if base, ok := As(err); ok {
		return status.Error(base.Code.GRPCCode(), base.Message)
	}
	return status.Error(codes.Internal, "internal server error")
}
