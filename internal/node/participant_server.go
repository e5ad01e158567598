package node

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/txn"
)

// Participant is the engine behind a ParticipantServer.
type Participant interface {
	CanCommit(ctx context.Context, t *txn.Transaction) bool
	DoCommit(ctx context.Context, id int64) error
	DoAbort(ctx context.Context, id int64) error
	ReadFile(ctx context.Context, t *txn.Transaction) ([]byte, error)
}

// ParticipantServer implements the Participant gRPC service.
type ParticipantServer struct {
	engine Participant
}

// NewParticipantServer creates a new participant server.
func NewParticipantServer(engine Participant) *ParticipantServer {
	return &ParticipantServer{engine: engine}
}

// CanCommit handles phase-1 vote requests.
func (s *ParticipantServer) CanCommit(ctx context.Context, t *txn.Transaction) (*api.StatusReport, error) {
	if t.ID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "transaction id is required")
	}
	return statusReport(s.engine.CanCommit(ctx, t)), nil
}

// DoCommit handles phase-2 commit decisions.
func (s *ParticipantServer) DoCommit(ctx context.Context, ref *api.TxnRef) (*api.Empty, error) {
	if err := s.engine.DoCommit(ctx, ref.ID); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.Empty{}, nil
}

// DoAbort handles phase-2 abort decisions.
func (s *ParticipantServer) DoAbort(ctx context.Context, ref *api.TxnRef) (*api.Empty, error) {
	if err := s.engine.DoAbort(ctx, ref.ID); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &api.Empty{}, nil
}

// ReadFile handles reads routed by the coordinator.
func (s *ParticipantServer) ReadFile(ctx context.Context, t *txn.Transaction) (*api.RFile, error) {
	content, err := s.engine.ReadFile(ctx, t)
	rs, err := readStatus(err)
	if err != nil {
		return nil, err
	}
	return &api.RFile{
		Filename:   t.Filename,
		Content:    content,
		ClientID:   t.ClientID,
		ReadStatus: rs,
	}, nil
}
