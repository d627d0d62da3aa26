package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps the gRPC connection to a session daemon.
type Client struct {
	conn         *grpc.ClientConn
	Conversation *ConversationClient
	Health       healthpb.HealthClient
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// errors surface on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:         conn,
		Conversation: &ConversationClient{cc: conn},
		Health:       healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ConversationClient is the typed client for ConversationService.
type ConversationClient struct {
	cc grpc.ClientConnInterface
}

// NewConversationClient wraps an existing connection. Calls made through it
// must use the JSON content-subtype; it is added to every call.
func NewConversationClient(cc grpc.ClientConnInterface) *ConversationClient {
	return &ConversationClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ConversationClient) GetSnapshot(ctx context.Context, in *GetSnapshotRequest, opts ...grpc.CallOption) (*SnapshotView, error) {
	return invoke[SnapshotView](ctx, c.cc, "GetSnapshot", in, opts)
}

func (c *ConversationClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, "SendMessage", in, opts)
}

func (c *ConversationClient) MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, "MarkRead", in, opts)
}

func (c *ConversationClient) LoadMore(ctx context.Context, in *LoadMoreRequest, opts ...grpc.CallOption) (*LoadMoreResponse, error) {
	return invoke[LoadMoreResponse](ctx, c.cc, "LoadMore", in, opts)
}

func (c *ConversationClient) SetTyping(ctx context.Context, in *SetTypingRequest, opts ...grpc.CallOption) (*SetTypingResponse, error) {
	return invoke[SetTypingResponse](ctx, c.cc, "SetTyping", in, opts)
}

func (c *ConversationClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, "ListConversations", in, opts)
}

func (c *ConversationClient) UnreadCount(ctx context.Context, in *UnreadCountRequest, opts ...grpc.CallOption) (*UnreadCountResponse, error) {
	return invoke[UnreadCountResponse](ctx, c.cc, "UnreadCount", in, opts)
}

func (c *ConversationClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c.cc, "History", in, opts)
}

// WatchSnapshots streams snapshots until ctx is cancelled. The first
// message is the snapshot current when the stream opened.
func (c *ConversationClient) WatchSnapshots(ctx context.Context, in *WatchSnapshotsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[SnapshotView], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchSnapshots"), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchSnapshotsRequest, SnapshotView]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
