package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "casesync.v1.ConversationService"

// ConversationServer is implemented by Service.
type ConversationServer interface {
	GetSnapshot(context.Context, *GetSnapshotRequest) (*SnapshotView, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	LoadMore(context.Context, *LoadMoreRequest) (*LoadMoreResponse, error)
	SetTyping(context.Context, *SetTypingRequest) (*SetTypingResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	UnreadCount(context.Context, *UnreadCountRequest) (*UnreadCountResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	WatchSnapshots(*WatchSnapshotsRequest, grpc.ServerStreamingServer[SnapshotView]) error
}

// ServiceDesc describes ConversationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSnapshot", ConversationServer.GetSnapshot),
		unary("SendMessage", ConversationServer.SendMessage),
		unary("MarkRead", ConversationServer.MarkRead),
		unary("LoadMore", ConversationServer.LoadMore),
		unary("SetTyping", ConversationServer.SetTyping),
		unary("ListConversations", ConversationServer.ListConversations),
		unary("UnreadCount", ConversationServer.UnreadCount),
		unary("History", ConversationServer.History),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSnapshots",
			Handler:       watchSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "casesync/v1/conversation",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(ConversationServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConversationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConversationServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchSnapshotsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConversationServer).WatchSnapshots(in, &grpc.GenericServerStream[WatchSnapshotsRequest, SnapshotView]{ServerStream: stream})
}
