package grpcstore

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/certledger/storage"
)

// sentinels travel as status messages so the client can restore them exactly.
var sentinels = []error{
	storage.ErrNotFound,
	storage.ErrAlreadyExists,
	storage.ErrInvalidAddress,
	storage.ErrMissingPayer,
	storage.ErrInvalidSize,
	storage.ErrRegionOverflow,
	storage.ErrHandleClosed,
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, storage.ErrNotFound.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, storage.ErrAlreadyExists.Error())
	case errors.Is(err, storage.ErrInvalidAddress):
		return status.Error(codes.InvalidArgument, storage.ErrInvalidAddress.Error())
	case errors.Is(err, storage.ErrMissingPayer):
		return status.Error(codes.InvalidArgument, storage.ErrMissingPayer.Error())
	case errors.Is(err, storage.ErrInvalidSize):
		return status.Error(codes.InvalidArgument, storage.ErrInvalidSize.Error())
	case errors.Is(err, storage.ErrRegionOverflow):
		return status.Error(codes.OutOfRange, storage.ErrRegionOverflow.Error())
	case errors.Is(err, storage.ErrHandleClosed):
		return status.Error(codes.FailedPrecondition, storage.ErrHandleClosed.Error())
	case errors.Is(err, storage.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, s := range sentinels {
		if st.Message() == s.Error() {
			return s
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.AlreadyExists:
		return storage.ErrAlreadyExists
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", storage.ErrUnauthorized, st.Message())
	default:
		return err
	}
}
