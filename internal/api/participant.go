package api

import (
	"context"

	"google.golang.org/grpc"

	"rfstore/internal/txn"
)

const (
	ParticipantServiceName = "rfstore.Participant"

	Participant_CanCommit_FullMethodName = "/rfstore.Participant/CanCommit"
	Participant_DoCommit_FullMethodName  = "/rfstore.Participant/DoCommit"
	Participant_DoAbort_FullMethodName   = "/rfstore.Participant/DoAbort"
	Participant_ReadFile_FullMethodName  = "/rfstore.Participant/ReadFile"
)

// ParticipantServer is the service each replica exposes to the coordinator.
type ParticipantServer interface {
	CanCommit(context.Context, *txn.Transaction) (*StatusReport, error)
	DoCommit(context.Context, *TxnRef) (*Empty, error)
	DoAbort(context.Context, *TxnRef) (*Empty, error)
	ReadFile(context.Context, *txn.Transaction) (*RFile, error)
}

// Participant_ServiceDesc is the grpc.ServiceDesc for the Participant service.
var Participant_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ParticipantServiceName,
	HandlerType: (*ParticipantServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CanCommit",
			Handler:    unary(Participant_CanCommit_FullMethodName, ParticipantServer.CanCommit),
		},
		{
			MethodName: "DoCommit",
			Handler:    unary(Participant_DoCommit_FullMethodName, ParticipantServer.DoCommit),
		},
		{
			MethodName: "DoAbort",
			Handler:    unary(Participant_DoAbort_FullMethodName, ParticipantServer.DoAbort),
		},
		{
			MethodName: "ReadFile",
			Handler:    unary(Participant_ReadFile_FullMethodName, ParticipantServer.ReadFile),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rfstore.proto",
}

// RegisterParticipantServer registers srv on s.
func RegisterParticipantServer(s grpc.ServiceRegistrar, srv ParticipantServer) {
	s.RegisterService(&Participant_ServiceDesc, srv)
}

// ParticipantClient is the client API for the Participant service.
type ParticipantClient interface {
	CanCommit(ctx context.Context, in *txn.Transaction, opts ...grpc.CallOption) (*StatusReport, error)
	DoCommit(ctx context.Context, in *TxnRef, opts ...grpc.CallOption) (*Empty, error)
	DoAbort(ctx context.Context, in *TxnRef, opts ...grpc.CallOption) (*Empty, error)
	ReadFile(ctx context.Context, in *txn.Transaction, opts ...grpc.CallOption) (*RFile, error)
}

type participantClient struct {
	cc grpc.ClientConnInterface
}

// NewParticipantClient returns a Participant client over cc.
func NewParticipantClient(cc grpc.ClientConnInterface) ParticipantClient {
	return &participantClient{cc}
}

func (c *participantClient) CanCommit(ctx context.Context, in *txn.Transaction, opts ...grpc.CallOption) (*StatusReport, error) {
	out := new(StatusReport)
	if err := c.cc.Invoke(ctx, Participant_CanCommit_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *participantClient) DoCommit(ctx context.Context, in *TxnRef, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, Participant_DoCommit_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *participantClient) DoAbort(ctx context.Context, in *TxnRef, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, Participant_DoAbort_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *participantClient) ReadFile(ctx context.Context, in *txn.Transaction, opts ...grpc.CallOption) (*RFile, error) {
	out := new(RFile)
	if err := c.cc.Invoke(ctx, Participant_ReadFile_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
