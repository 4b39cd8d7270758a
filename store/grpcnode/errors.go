package grpcnode

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/pinfetch/store"
)

// errEmptyStep is the status message the server uses when the node produced
// an empty stream step.
const errEmptyStep = "store: empty stream step"

var known = []error{
	store.ErrNotFound,
	store.ErrNotAFile,
	store.ErrInvalidCID,
	store.ErrCIDMismatch,
	store.ErrImmutable,
	store.ErrStopped,
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.InvalidArgument:
		// Server uses InvalidArgument for malformed/undefined CIDs.
		return store.ErrInvalidCID
	case codes.DataLoss:
		// Server uses DataLoss when bytes do not match the requested CID.
		return store.ErrCIDMismatch
	case codes.FailedPrecondition:
		if st.Message() == store.ErrNotAFile.Error() {
			return store.ErrNotAFile
		}
	case codes.AlreadyExists:
		return store.ErrImmutable
	case codes.Unavailable:
		if st.Message() == store.ErrStopped.Error() {
			return store.ErrStopped
		}
	}
	// Best-effort: if the server sent a known store error message, preserve it.
	for _, k := range known {
		if st.Message() == k.Error() {
			return k
		}
	}
	return err
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, store.ErrNotFound.Error())
	case errors.Is(err, store.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, store.ErrInvalidCID.Error())
	case errors.Is(err, store.ErrCIDMismatch):
		return status.Error(codes.DataLoss, store.ErrCIDMismatch.Error())
	case errors.Is(err, store.ErrNotAFile):
		return status.Error(codes.FailedPrecondition, store.ErrNotAFile.Error())
	case errors.Is(err, store.ErrImmutable):
		return status.Error(codes.AlreadyExists, store.ErrImmutable.Error())
	case errors.Is(err, store.ErrStopped):
		return status.Error(codes.Unavailable, store.ErrStopped.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func isEmptyStep(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Aborted && st.Message() == errEmptyStep
}
