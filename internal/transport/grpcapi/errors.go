package grpcapi

import (
	"github.com/kelpejol/reel/internal/apperr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toGRPCStatus translates the internal apperr taxonomy into gRPC status
// codes, decoupling transport concerns from apperr.Kind per spec.md §7.
func toGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	ae, ok := err.(*apperr.Error)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}

	var code codes.Code
	switch ae.Kind {
	case apperr.Validation:
		code = codes.InvalidArgument
	case apperr.Authorization:
		code = codes.PermissionDenied
	case apperr.InsufficientFunds:
		code = codes.FailedPrecondition
	case apperr.Conflict:
		code = codes.AlreadyExists
	case apperr.NotFound:
		code = codes.NotFound
	case apperr.TransientIO:
		code = codes.Unavailable
	case apperr.PermanentFailure:
		code = codes.Aborted
	default:
		code = codes.Internal
	}
	return status.Error(code, ae.Message)
}
