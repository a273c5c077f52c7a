// Package rpc describes the gRPC service of the search daemon's local
// socket. Messages are protobuf well-known types so no generated code is
// needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "phosh.search.v1.SearchService"

// Full method names.
const (
	QueryMethod          = "/" + ServiceName + "/Query"
	GetSourcesMethod     = "/" + ServiceName + "/GetSources"
	GetLastResultsMethod = "/" + ServiceName + "/GetLastResults"
	ActivateResultMethod = "/" + ServiceName + "/ActivateResult"
	LaunchSourceMethod   = "/" + ServiceName + "/LaunchSource"
	GetStatusMethod      = "/" + ServiceName + "/GetStatus"
	SubscribeMethod      = "/" + ServiceName + "/Subscribe"
)

// SearchServiceServer is the server side of the socket API.
type SearchServiceServer interface {
	Query(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetSources(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetLastResults(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ActivateResult(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	LaunchSource(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedSearchServiceServer answers every method with Unimplemented.
// Embed it to stay compatible when methods are added.
type UnimplementedSearchServiceServer struct{}

func (UnimplementedSearchServiceServer) Query(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}

func (UnimplementedSearchServiceServer) GetSources(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSources not implemented")
}

func (UnimplementedSearchServiceServer) GetLastResults(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLastResults not implemented")
}

func (UnimplementedSearchServiceServer) ActivateResult(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ActivateResult not implemented")
}

func (UnimplementedSearchServiceServer) LaunchSource(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method LaunchSource not implemented")
}

func (UnimplementedSearchServiceServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

func (UnimplementedSearchServiceServer) Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// RegisterSearchServiceServer registers srv with s.
func RegisterSearchServiceServer(s grpc.ServiceRegistrar, srv SearchServiceServer) {
	s.RegisterService(&SearchServiceDesc, srv)
}

// unary builds a method handler for a unary call with request type Req.
func unary[Req any, Resp any](method string, call func(SearchServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SearchServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SearchServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SearchServiceServer).Subscribe(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// SearchServiceDesc describes the service for grpc.Server.
var SearchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SearchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    unary(QueryMethod, SearchServiceServer.Query),
		},
		{
			MethodName: "GetSources",
			Handler:    unary(GetSourcesMethod, SearchServiceServer.GetSources),
		},
		{
			MethodName: "GetLastResults",
			Handler:    unary(GetLastResultsMethod, SearchServiceServer.GetLastResults),
		},
		{
			MethodName: "ActivateResult",
			Handler:    unary(ActivateResultMethod, SearchServiceServer.ActivateResult),
		},
		{
			MethodName: "LaunchSource",
			Handler:    unary(LaunchSourceMethod, SearchServiceServer.LaunchSource),
		},
		{
			MethodName: "GetStatus",
			Handler:    unary(GetStatusMethod, SearchServiceServer.GetStatus),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "phosh/search/v1/search.proto",
}

// SearchServiceClient is the client side of the socket API.
type SearchServiceClient interface {
	Query(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	GetSources(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	GetLastResults(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ActivateResult(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	LaunchSource(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Subscribe(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type searchServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSearchServiceClient returns a client using cc.
func NewSearchServiceClient(cc grpc.ClientConnInterface) SearchServiceClient {
	return &searchServiceClient{cc}
}

func (c *searchServiceClient) Query(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, QueryMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) GetSources(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, GetSourcesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) GetLastResults(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetLastResultsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) ActivateResult(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ActivateResultMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) LaunchSource(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, LaunchSourceMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *searchServiceClient) Subscribe(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &SearchServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
