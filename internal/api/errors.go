package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/casesync/internal/inbox"
	"github.com/matheus3301/casesync/internal/sync"
	"github.com/matheus3301/casesync/internal/transport"
)

// toStatus maps engine errors to gRPC status errors.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	var apiErr *transport.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, sync.ErrEmptyMessage):
		return codes.InvalidArgument
	case errors.Is(err, sync.ErrNoRecipient):
		return codes.FailedPrecondition
	case errors.Is(err, sync.ErrNotStarted), errors.Is(err, sync.ErrClosed):
		return codes.Unavailable
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return codes.Unauthenticated
		case apiErr.Status == http.StatusForbidden:
			return codes.PermissionDenied
		case apiErr.Status == http.StatusNotFound:
			return codes.NotFound
		case apiErr.Temporary():
			return codes.Unavailable
		default:
			return codes.InvalidArgument
		}
	case errors.Is(err, sync.ErrSendFailed), errors.Is(err, sync.ErrFetchFailed), errors.Is(err, inbox.ErrFetchFailed):
		return codes.Unavailable
	}
	return codes.Internal
}
