package main

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

// grpcCodes maps application error codes to gRPC status codes. Codes not
// listed become Internal.
var grpcCodes = map[apperr.Code]codes.Code{
	apperr.CodeNotFound:           codes.NotFound,
	apperr.CodePermissionDenied:   codes.PermissionDenied,
	apperr.CodeInvalidTarget:      codes.InvalidArgument,
	apperr.CodeEmptyContent:       codes.InvalidArgument,
	apperr.CodeContentTooLong:     codes.InvalidArgument,
	apperr.CodeConversationClosed: codes.FailedPrecondition,
	apperr.CodeMissingProfile:     codes.FailedPrecondition,
	apperr.CodeNamespaceExhausted: codes.ResourceExhausted,
	apperr.CodeStoreUnavailable:   codes.Unavailable,
}

// toStatus converts a manager error into a gRPC status error. Internal
// failures are logged and reported without their cause.
func (s *Server) toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, data.ErrPlayerExists) || errors.Is(err, data.ErrUserExists) {
		return status.Error(codes.AlreadyExists, err.Error())
	}

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		if c, ok := grpcCodes[ae.Code]; ok {
			return status.Error(c, ae.Message)
		}
	}
	s.log.Error("request failed", "err", err, "request_id", requestIDOf(ctx))
	return status.Error(codes.Internal, "internal error")
}

func requestIDOf(ctx context.Context) string {
	if ci := callInfoFrom(ctx); ci != nil {
		return ci.requestID
	}
	return ""
}

// notify pushes ev to every handle except the author. Failures only get
// logged: the message is already stored and shows up in history.
func (s *Server) notify(ctx context.Context, ev map[string]interface{}, author string, to ...string) {
	if s.hub == nil {
		return
	}
	pb, err := structpb.NewStruct(ev)
	if err != nil {
		s.log.Warn("encode event", "err", err)
		return
	}
	for _, h := range to {
		if h == author || s.hub.Connected(h) == 0 {
			continue
		}
		if err := s.hub.SendToUser(h, pb); err != nil {
			s.log.Warn("delivery failed", "to", h, "err", err, "request_id", requestIDOf(ctx))
		}
	}
}

// Register creates the user record for the caller's handle. Calling it again
// is a no-op.
func (s *Server) Register(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	created := true
	if _, err := s.users.CreateUser(ctx, me.Handle); err != nil {
		if !errors.Is(err, data.ErrUserExists) {
			return nil, s.toStatus(ctx, err)
		}
		created = false
	}
	return reply(map[string]interface{}{"handle": me.Handle, "created": created})
}

// SendDirect posts content to the conversation with peer, starting it if
// needed.
func (s *Server) SendDirect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := stringArg(req, "peer")
	if err != nil {
		return nil, err
	}

	conv, err := s.direct.GetOrCreate(ctx, me, peer)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	msg, err := s.direct.PostMessage(ctx, conv, me, rawStringArg(req, "content"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.notify(ctx, map[string]interface{}{
		"event":        "message",
		"conversation": directDoc(conv, conv.Peer(me.Handle)),
		"message":      messageDoc(msg),
	}, me.Handle, conv.Members...)

	return reply(map[string]interface{}{
		"conversation": directDoc(conv, me.Handle),
		"message":      messageDoc(msg),
	})
}

// GetDirect returns the conversation with peer and its history.
func (s *Server) GetDirect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := stringArg(req, "peer")
	if err != nil {
		return nil, err
	}

	conv, err := s.direct.Find(ctx, me, peer)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	msgs, err := s.direct.Messages(ctx, conv, me)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]interface{}{
		"conversation": directDoc(conv, me.Handle),
		"messages":     messageDocs(msgs),
	})
}

// LeaveDirect removes the caller from the conversation with peer.
func (s *Server) LeaveDirect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := stringArg(req, "peer")
	if err != nil {
		return nil, err
	}

	conv, err := s.direct.Find(ctx, me, peer)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if err := s.direct.Leave(ctx, conv, me); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]interface{}{})
}

// ListDirect lists the caller's direct conversations.
func (s *Server) ListDirect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.direct.List(ctx, me)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := make([]interface{}, len(convs))
	for i, c := range convs {
		out[i] = directDoc(c, me.Handle)
	}
	return reply(map[string]interface{}{"conversations": out})
}

// Inquire posts content to the caller's open conversation about an ad,
// starting one if there is none.
func (s *Server) Inquire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	adID, err := intArg(req, "ad_id")
	if err != nil {
		return nil, err
	}

	conv, err := s.ads.GetOrCreate(ctx, me, adID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.postAd(ctx, me, conv, rawStringArg(req, "content"))
}

// GetAdConversation returns an ad conversation the caller belongs to, with
// its history.
func (s *Server) GetAdConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	id, err := intArg(req, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := s.ads.View(ctx, id, me)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	msgs, err := s.ads.Messages(ctx, conv, me)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]interface{}{
		"conversation": adDoc(conv),
		"messages":     messageDocs(msgs),
	})
}

// PostAdMessage appends to an existing ad conversation.
func (s *Server) PostAdMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	id, err := intArg(req, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := s.ads.Get(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.postAd(ctx, me, conv, rawStringArg(req, "content"))
}

func (s *Server) postAd(ctx context.Context, me data.Identity, conv *data.AdConversation, content string) (*structpb.Struct, error) {
	msg, err := s.ads.PostMessage(ctx, conv, me, content)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	doc := adDoc(conv)
	s.notify(ctx, map[string]interface{}{
		"event":        "message",
		"conversation": doc,
		"message":      messageDoc(msg),
	}, me.Handle, conv.Members...)

	return reply(map[string]interface{}{
		"conversation": doc,
		"message":      messageDoc(msg),
	})
}

// CloseAdConversation removes the caller from an ad conversation, closing it
// for the other side.
func (s *Server) CloseAdConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	id, err := intArg(req, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := s.ads.Get(ctx, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if err := s.ads.Close(ctx, conv, me); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.notify(ctx, map[string]interface{}{
		"event":           "closed",
		"conversation_id": conv.ConversationID,
		"by":              me.Handle,
	}, me.Handle, conv.Members...)
	return reply(map[string]interface{}{})
}

// ListAdConversations lists the caller's ad conversations, open and closed.
func (s *Server) ListAdConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.ads.List(ctx, me)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := make([]interface{}, len(convs))
	for i, c := range convs {
		out[i] = adDoc(c)
	}
	return reply(map[string]interface{}{"conversations": out})
}

// CreateTeam registers a team owned by the caller.
func (s *Server) CreateTeam(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.catalog.CreateTeam(ctx, me, rawStringArg(req, "sport"), rawStringArg(req, "name"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(teamDoc(t))
}

// CreateAd publishes an ad for one of the caller's teams.
func (s *Server) CreateAd(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	teamID, err := intArg(req, "team_id")
	if err != nil {
		return nil, err
	}
	a, err := s.catalog.CreateAd(ctx, me, teamID, rawStringArg(req, "position"), rawStringArg(req, "description"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(adListingDoc(a))
}

// CreatePlayer registers the caller as a player in a sport.
func (s *Server) CreatePlayer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	me, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.catalog.CreatePlayer(ctx, me, rawStringArg(req, "sport"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return reply(map[string]interface{}{"owner": p.Owner, "sport": p.Sport})
}

// Watch keeps a stream open and pushes conversation events addressed to the
// caller until the client goes away.
func (s *Server) Watch(_ *structpb.Struct, stream StreamSender) error {
	ss, ok := stream.(interface{ Context() context.Context })
	if !ok {
		return status.Error(codes.Internal, "stream has no context")
	}
	ctx := ss.Context()
	me, err := currentIdentity(ctx)
	if err != nil {
		return err
	}
	if s.hub == nil {
		return status.Error(codes.Unimplemented, "watching is disabled")
	}

	// the ready event and hub deliveries share the stream
	out := &lockedSender{s: stream}
	id := s.hub.Register(me.Handle, out)
	defer s.hub.Unregister(me.Handle, id)

	hello, err := reply(map[string]interface{}{"event": "ready", "handle": me.Handle})
	if err != nil {
		return err
	}
	if err := out.Send(hello); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
