package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	FileStoreServiceName = "rfstore.FileStore"

	FileStore_WriteFile_FullMethodName            = "/rfstore.FileStore/WriteFile"
	FileStore_DeleteFile_FullMethodName           = "/rfstore.FileStore/DeleteFile"
	FileStore_ReadFile_FullMethodName             = "/rfstore.FileStore/ReadFile"
	FileStore_GetTransactionStatus_FullMethodName = "/rfstore.FileStore/GetTransactionStatus"
)

// FileStoreServer is the coordinator's client-facing service.
type FileStoreServer interface {
	WriteFile(context.Context, *RFile) (*StatusReport, error)
	DeleteFile(context.Context, *FileRequest) (*StatusReport, error)
	ReadFile(context.Context, *FileRequest) (*RFile, error)
	// GetTransactionStatus is called by recovering participants.
	GetTransactionStatus(context.Context, *TransactionStatusRequest) (*TransactionStatusReply, error)
}

// FileStore_ServiceDesc is the grpc.ServiceDesc for the FileStore service.
var FileStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: FileStoreServiceName,
	HandlerType: (*FileStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "WriteFile",
			Handler:    unary(FileStore_WriteFile_FullMethodName, FileStoreServer.WriteFile),
		},
		{
			MethodName: "DeleteFile",
			Handler:    unary(FileStore_DeleteFile_FullMethodName, FileStoreServer.DeleteFile),
		},
		{
			MethodName: "ReadFile",
			Handler:    unary(FileStore_ReadFile_FullMethodName, FileStoreServer.ReadFile),
		},
		{
			MethodName: "GetTransactionStatus",
			Handler:    unary(FileStore_GetTransactionStatus_FullMethodName, FileStoreServer.GetTransactionStatus),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rfstore.proto",
}

// RegisterFileStoreServer registers srv on s.
func RegisterFileStoreServer(s grpc.ServiceRegistrar, srv FileStoreServer) {
	s.RegisterService(&FileStore_ServiceDesc, srv)
}

// FileStoreClient is the client API for the FileStore service.
type FileStoreClient interface {
	WriteFile(ctx context.Context, in *RFile, opts ...grpc.CallOption) (*StatusReport, error)
	DeleteFile(ctx context.Context, in *FileRequest, opts ...grpc.CallOption) (*StatusReport, error)
	ReadFile(ctx context.Context, in *FileRequest, opts ...grpc.CallOption) (*RFile, error)
	GetTransactionStatus(ctx context.Context, in *TransactionStatusRequest, opts ...grpc.CallOption) (*TransactionStatusReply, error)
}

type fileStoreClient struct {
	cc grpc.ClientConnInterface
}

// NewFileStoreClient returns a FileStore client over cc.
func NewFileStoreClient(cc grpc.ClientConnInterface) FileStoreClient {
	return &fileStoreClient{cc}
}

func (c *fileStoreClient) WriteFile(ctx context.Context, in *RFile, opts ...grpc.CallOption) (*StatusReport, error) {
	out := new(StatusReport)
	if err := c.cc.Invoke(ctx, FileStore_WriteFile_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileStoreClient) DeleteFile(ctx context.Context, in *FileRequest, opts ...grpc.CallOption) (*StatusReport, error) {
	out := new(StatusReport)
	if err := c.cc.Invoke(ctx, FileStore_DeleteFile_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileStoreClient) ReadFile(ctx context.Context, in *FileRequest, opts ...grpc.CallOption) (*RFile, error) {
	out := new(RFile)
	if err := c.cc.Invoke(ctx, FileStore_ReadFile_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileStoreClient) GetTransactionStatus(ctx context.Context, in *TransactionStatusRequest, opts ...grpc.CallOption) (*TransactionStatusReply, error) {
	out := new(TransactionStatusReply)
	if err := c.cc.Invoke(ctx, FileStore_GetTransactionStatus_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
