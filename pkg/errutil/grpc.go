package errutil

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusForbidden:
		return codes.PermissionDenied
	case StatusNotFound:
		return codes.NotFound
	case StatusTimeout, StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case StatusBadRequest, StatusValidationFailed, StatusUnsupportedMediaType:
		return codes.InvalidArgument
	case StatusConflict:
		return codes.Aborted
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	case StatusClientClosedRequest:
		return codes.Canceled
	case StatusNotImplemented:
		return codes.Unimplemented
	case StatusBadGateway, StatusServiceUnavailable:
		return codes.Unavailable
	case StatusInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// outcomeCode picks a code for the business outcome kinds, which are more
// specific than the CoreStatus they travel in.
func outcomeCode(err error) (codes.Code, bool) {
	switch {
	case errors.Is(err, ErrExhausted):
		return codes.ResourceExhausted, true
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrPolicyViolation):
		return codes.FailedPrecondition, true
	case errors.Is(err, ErrIntegrity):
		return codes.DataLoss, true
	}
	return codes.OK, false
}

// ToGRPCError turns a domain error into a gRPC status error.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		code := base.Code.GRPCCode()
		if c, ok := outcomeCode(err); ok {
			code = c
		}
		return status.Error(code, base.Message)
	}

	if c, ok := outcomeCode(err); ok {
		return status.Error(c, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
