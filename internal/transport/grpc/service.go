package grpcx

import (
	"context"

	"github.com/cwrk-planet/aidchat/internal/gateway"

	"google.golang.org/grpc"
)

const serviceName = "aidchat.Chat"

type HistoryRequest struct {
	GroupID gateway.WireID `json:"groupId"`
	Limit   int            `json:"limit"`
	Before  string         `json:"before,omitempty"`
}

type HistoryResponse struct {
	Messages   []gateway.MessagePayload `json:"messages"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}

type GroupRequest struct {
	GroupID gateway.WireID `json:"groupId"`
}

type GroupResponse struct {
	GroupID     int64   `json:"groupId"`
	Name        string  `json:"name,omitempty"`
	Members     []int64 `json:"members,omitempty"`
	MemberCount int     `json:"memberCount"`
}

// ChatServer: то, что регистрируется под aidchat.Chat.
type ChatServer interface {
	History(ctx context.Context, in *HistoryRequest) (*HistoryResponse, error)
	JoinGroup(ctx context.Context, in *GroupRequest) (*GroupResponse, error)
	LeaveGroup(ctx context.Context, in *GroupRequest) (*GroupResponse, error)
	// Session: двунаправленный поток кадров gateway.Inbound / gateway.Frame.
	Session(stream grpc.ServerStream) error
}

func unary[Req any, Resp any](method string, call func(ChatServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("History", ChatServer.History),
		unary("JoinGroup", ChatServer.JoinGroup),
		unary("LeaveGroup", ChatServer.LeaveGroup),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Session",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(ChatServer).Session(stream)
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "aidchat/chat.json",
}

func Register(s *grpc.Server, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// FullMethod возвращает полное имя метода для клиентского Invoke/NewStream.
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}
