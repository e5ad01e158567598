package node

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/participant"
	"rfstore/internal/txn"
)

// statusReport converts an outcome to the wire report.
func statusReport(ok bool) *api.StatusReport {
	if ok {
		return &api.StatusReport{Status: api.StatusSuccessful}
	}
	return &api.StatusReport{Status: api.StatusFailed}
}

// committed converts a transaction outcome to the wire report.
func committed(s txn.Status) *api.StatusReport {
	return statusReport(s == txn.StatusCommit)
}

// readStatus maps a participant read error to a read status, or to a gRPC
// error for requests that cannot be answered with one.
func readStatus(err error) (api.ReadStatus, error) {
	switch {
	case err == nil:
		return api.ReadFound, nil
	case errors.Is(err, participant.ErrNotFound):
		return api.ReadNotFound, nil
	case errors.Is(err, participant.ErrBusy):
		return api.ReadBusy, nil
	case errors.Is(err, participant.ErrInvalidFilename):
		return api.ReadUnspecified, status.Error(codes.InvalidArgument, err.Error())
	default:
		return api.ReadUnspecified, status.Error(codes.Internal, err.Error())
	}
}
