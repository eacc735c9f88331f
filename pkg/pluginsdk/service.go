// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// FilterServiceName is the fully qualified gRPC service name.
const FilterServiceName = "palaver.plugin.v1.TextFilter"

const (
	methodOnBeforeSend    = "OnBeforeSend"
	methodOnBeforeReceive = "OnBeforeReceive"
)

// The service carries plain strings, so requests and responses use the
// well-known StringValue wrapper instead of generated messages.
var filterServiceDesc = grpc.ServiceDesc{
	ServiceName: FilterServiceName,
	HandlerType: (*Filter)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodOnBeforeSend,
			Handler: unaryHandler(methodOnBeforeSend, func(ctx context.Context, f Filter, text string) (string, error) {
				return f.OnBeforeSend(ctx, text)
			}),
		},
		{
			MethodName: methodOnBeforeReceive,
			Handler: unaryHandler(methodOnBeforeReceive, func(ctx context.Context, f Filter, text string) (string, error) {
				return f.OnBeforeReceive(ctx, text)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "palaver/plugin/v1/filter.proto",
}

type filterCall func(ctx context.Context, f Filter, text string) (string, error)

func unaryHandler(method string, call filterCall) grpc.MethodHandler {
	fullMethod := "/" + FilterServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			out, err := call(ctx, srv.(Filter), req.(*wrapperspb.StringValue).GetValue())
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(out), nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterFilterServer registers f on s.
func RegisterFilterServer(s grpc.ServiceRegistrar, f Filter) {
	s.RegisterService(&filterServiceDesc, f)
}

// FilterClient calls a remote Filter over gRPC. It satisfies Filter.
type FilterClient struct {
	cc grpc.ClientConnInterface
}

// NewFilterClient wraps a client connection.
func NewFilterClient(cc grpc.ClientConnInterface) *FilterClient {
	return &FilterClient{cc: cc}
}

// OnBeforeSend implements Filter.
func (c *FilterClient) OnBeforeSend(ctx context.Context, text string) (string, error) {
	return c.invoke(ctx, methodOnBeforeSend, text)
}

// OnBeforeReceive implements Filter.
func (c *FilterClient) OnBeforeReceive(ctx context.Context, text string) (string, error) {
	return c.invoke(ctx, methodOnBeforeReceive, text)
}

func (c *FilterClient) invoke(ctx context.Context, method, text string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+FilterServiceName+"/"+method, wrapperspb.String(text), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
