package bridge

import (
	"context"

	"google.golang.org/grpc"
)

// Hand-authored grpc.ServiceDesc values standing in for what protoc would
// otherwise generate from a .proto file. Method/stream names and the
// hyveos.bridge.* service names form the RPC surface applications dial
// against; see codec.go for why JSON carries the payloads instead of
// protobuf wire bytes.

func dhtServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.DHT",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "PutRecord", Handler: putRecordHandler},
			{MethodName: "StartProviding", Handler: startProvidingHandler},
		},
		Streams: []grpc.StreamDesc{
			{StreamName: "GetRecord", Handler: getRecordHandler, ServerStreams: true},
			{StreamName: "GetProviders", Handler: getProvidersHandler, ServerStreams: true},
		},
	}
}

func pubsubServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.PubSub",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Publish", Handler: publishHandler},
		},
		Streams: []grpc.StreamDesc{
			{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
		},
	}
}

func reqRespServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.ReqResp",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "SendRequest", Handler: sendRequestHandler},
			{MethodName: "Respond", Handler: respondHandler},
		},
		Streams: []grpc.StreamDesc{
			{StreamName: "ReceiveRequests", Handler: receiveRequestsHandler, ServerStreams: true},
		},
	}
}

func debugServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.Debug",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetPeerID", Handler: getPeerIDHandler},
			{MethodName: "GetKnownPeers", Handler: getKnownPeersHandler},
		},
	}
}

func fileTransferServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.FileTransfer",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{
			{StreamName: "Provide", Handler: provideHandler, ClientStreams: true},
			{StreamName: "Get", Handler: getFileHandler, ServerStreams: true},
		},
	}
}

func discoveryServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "hyveos.bridge.Discovery",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetNeighbours", Handler: getNeighboursHandler},
		},
	}
}

func putRecordHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PutRecordRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.putRecord(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.DHT/PutRecord"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.putRecord(ctx, req.(*PutRecordRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startProvidingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartProvidingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.startProviding(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.DHT/StartProviding"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.startProviding(ctx, req.(*StartProvidingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.PubSub/Publish"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendRequestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendRequestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.sendRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.ReqResp/SendRequest"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.sendRequest(ctx, req.(*SendRequestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func respondHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RespondRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.respond(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.ReqResp/Respond"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.respond(ctx, req.(*RespondRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getPeerIDHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetPeerIDRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.getPeerID(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.Debug/GetPeerID"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.getPeerID(ctx, req.(*GetPeerIDRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getKnownPeersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetKnownPeersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.getKnownPeers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.Debug/GetKnownPeers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.getKnownPeers(ctx, req.(*GetKnownPeersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getRecordHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(GetRecordRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).getRecord(in, stream)
}

func getProvidersHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(GetProvidersRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).getProviders(in, stream)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).subscribe(in, stream)
}

func receiveRequestsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(ReceiveRequestsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).receiveRequests(in, stream)
}

func provideHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*Server).provide(stream)
}

func getFileHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(GetFileRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).getFile(in, stream)
}

func getNeighboursHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetNeighboursRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.getNeighbours(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/hyveos.bridge.Discovery/GetNeighbours"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.getNeighbours(ctx, req.(*GetNeighboursRequest))
	}
	return interceptor(ctx, in, info, handler)
}
