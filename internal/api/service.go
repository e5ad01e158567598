package api

import (
	"context"

	"google.golang.org/grpc"

	"rfstore/internal/wire"
)

// unary builds a grpc.MethodHandler for a method of server type S.
func unary[S any, Req any, Resp any, PReq interface {
	*Req
	wire.Message
}](fullMethod string, call func(S, context.Context, PReq) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// callOptions prepends the rfs content subtype to opts.
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
}
