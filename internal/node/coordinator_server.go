package node

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/coordinator"
	"rfstore/internal/txn"
)

// Coordinator is the engine behind a CoordinatorServer.
type Coordinator interface {
	SubmitWrite(ctx context.Context, filename, clientID string, content []byte) (txn.Status, error)
	SubmitDelete(ctx context.Context, filename, clientID string) (txn.Status, error)
	SubmitRead(ctx context.Context, filename, clientID string) (coordinator.ReadResult, error)
	ResolveRecovery(ctx context.Context, id int64, participantAddr string) (txn.Status, error)
}

// CoordinatorServer implements the FileStore gRPC service.
type CoordinatorServer struct {
	engine Coordinator
}

// NewCoordinatorServer creates a new coordinator server.
func NewCoordinatorServer(engine Coordinator) *CoordinatorServer {
	return &CoordinatorServer{engine: engine}
}

// WriteFile handles client writes.
func (s *CoordinatorServer) WriteFile(ctx context.Context, req *api.RFile) (*api.StatusReport, error) {
	outcome, err := s.engine.SubmitWrite(ctx, req.Filename, req.ClientID, req.Content)
	if errors.Is(err, coordinator.ErrInvalidRequest) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return committed(outcome), nil
}

// DeleteFile handles client deletes.
func (s *CoordinatorServer) DeleteFile(ctx context.Context, req *api.FileRequest) (*api.StatusReport, error) {
	outcome, err := s.engine.SubmitDelete(ctx, req.Filename, req.ClientID)
	if errors.Is(err, coordinator.ErrInvalidRequest) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return committed(outcome), nil
}

// ReadFile handles client reads.
func (s *CoordinatorServer) ReadFile(ctx context.Context, req *api.FileRequest) (*api.RFile, error) {
	res, err := s.engine.SubmitRead(ctx, req.Filename, req.ClientID)
	if errors.Is(err, coordinator.ErrInvalidRequest) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &api.RFile{
		Filename:   req.Filename,
		Content:    res.Content,
		ClientID:   req.ClientID,
		ReadStatus: res.Status,
	}, nil
}

// GetTransactionStatus handles recovery queries from participants.
func (s *CoordinatorServer) GetTransactionStatus(ctx context.Context, req *api.TransactionStatusRequest) (*api.TransactionStatusReply, error) {
	if req.TxnID <= 0 || req.ParticipantAddr == "" || req.ParticipantPort <= 0 {
		return nil, status.Error(codes.InvalidArgument, "transaction id and participant address are required")
	}

	outcome, err := s.engine.ResolveRecovery(ctx, req.TxnID, req.Target())
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &api.TransactionStatusReply{Status: outcome}, nil
}
