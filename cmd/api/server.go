package main

import (
	"context"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/catalog"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/conversation"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

const serviceName = "hittalaget.conversations.v1.ConversationService"

// fullMethod returns the gRPC path of one of the service's methods.
func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// ConversationServiceServer is the method set registered through serviceDesc.
// Requests and responses are structpb.Struct documents.
type ConversationServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)

	SendDirect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDirect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LeaveDirect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDirect(context.Context, *structpb.Struct) (*structpb.Struct, error)

	Inquire(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAdConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PostAdMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseAdConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAdConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)

	CreateTeam(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAd(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePlayer(context.Context, *structpb.Struct) (*structpb.Struct, error)

	Watch(*structpb.Struct, StreamSender) error
}

// userRegistry creates the user record behind a token's handle.
type userRegistry interface {
	CreateUser(ctx context.Context, handle string) (*data.User, error)
}

// Server implements the conversation service on top of the managers.
type Server struct {
	users   userRegistry
	direct  *conversation.DirectManager
	ads     *conversation.AdManager
	catalog *catalog.Catalog
	hub     *ConnectionHub
	log     *log.Logger
}

// newServer returns a ready-to-use Server. hub may be nil, in which case
// nothing is pushed to watchers.
func newServer(users userRegistry, direct *conversation.DirectManager, ads *conversation.AdManager, cat *catalog.Catalog, hub *ConnectionHub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{users: users, direct: direct, ads: ads, catalog: cat, hub: hub, log: logger}
}

type unaryMethod func(ConversationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ConversationServiceServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// watchStream adapts a server stream to the hub's StreamSender.
type watchStream struct {
	grpc.ServerStream
}

func (w *watchStream) Send(m *structpb.Struct) error { return w.ServerStream.SendMsg(m) }

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConversationServiceServer).Watch(in, &watchStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ConversationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", ConversationServiceServer.Register),
		unary("SendDirect", ConversationServiceServer.SendDirect),
		unary("GetDirect", ConversationServiceServer.GetDirect),
		unary("LeaveDirect", ConversationServiceServer.LeaveDirect),
		unary("ListDirect", ConversationServiceServer.ListDirect),
		unary("Inquire", ConversationServiceServer.Inquire),
		unary("GetAdConversation", ConversationServiceServer.GetAdConversation),
		unary("PostAdMessage", ConversationServiceServer.PostAdMessage),
		unary("CloseAdConversation", ConversationServiceServer.CloseAdConversation),
		unary("ListAdConversations", ConversationServiceServer.ListAdConversations),
		unary("CreateTeam", ConversationServiceServer.CreateTeam),
		unary("CreateAd", ConversationServiceServer.CreateAd),
		unary("CreatePlayer", ConversationServiceServer.CreatePlayer),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "hittalaget/conversations/v1/conversations.proto",
}

// registerService registers the ConversationService on the given gRPC server.
func registerService(s grpc.ServiceRegistrar, srv ConversationServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// postingMethods are rate limited per caller.
var postingMethods = map[string]bool{
	fullMethod("SendDirect"):    true,
	fullMethod("Inquire"):       true,
	fullMethod("PostAdMessage"): true,
}
