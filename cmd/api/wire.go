package main

import (
	"math"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

// stringArg returns the trimmed string field name of req, or InvalidArgument
// when it is missing or blank.
func stringArg(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", name)
	}
	s := strings.TrimSpace(sv.StringValue)
	if s == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return s, nil
}

// rawStringArg returns field name untouched, so content validation stays with
// the managers. A missing field reads as "".
func rawStringArg(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// intArg returns the integral number field name of req.
func intArg(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	f := nv.NumberValue
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(f), nil
}

func timeValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func handles(hs []string) []interface{} {
	out := make([]interface{}, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func directDoc(c *data.DirectConversation, self string) map[string]interface{} {
	return map[string]interface{}{
		"kind":            string(data.KindDirect),
		"id":              c.ID.Hex(),
		"peer":            c.Peer(self),
		"members":         handles(c.Members),
		"created_at":      timeValue(c.CreatedAt),
		"last_message_at": timeValue(c.LastMessageAt),
	}
}

func adDoc(c *data.AdConversation) map[string]interface{} {
	return map[string]interface{}{
		"kind":            string(data.KindAd),
		"conversation_id": c.ConversationID,
		"ad_id":           c.AdID,
		"ad_title":        c.AdTitle,
		"inquirer":        c.Inquirer,
		"owner":           c.Owner,
		"members":         handles(c.Members),
		"active":          c.Active,
		"created_at":      timeValue(c.CreatedAt),
		"last_message_at": timeValue(c.LastMessageAt),
	}
}

func messageDoc(m *data.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID.Hex(),
		"author":     m.Author,
		"content":    m.Content,
		"created_at": timeValue(m.CreatedAt),
	}
}

func messageDocs(ms []*data.Message) []interface{} {
	out := make([]interface{}, len(ms))
	for i, m := range ms {
		out[i] = messageDoc(m)
	}
	return out
}

func teamDoc(t *data.Team) map[string]interface{} {
	return map[string]interface{}{
		"team_id": t.TeamID,
		"owner":   t.Owner,
		"sport":   t.Sport,
		"name":    t.Name,
		"slug":    t.Slug,
	}
}

func adListingDoc(a *data.Ad) map[string]interface{} {
	return map[string]interface{}{
		"ad_id":       a.AdID,
		"team_id":     a.TeamID,
		"owner":       a.Owner,
		"sport":       a.Sport,
		"position":    a.Position,
		"title":       a.Title,
		"slug":        a.Slug,
		"description": a.Description,
		"created_at":  timeValue(a.CreatedAt),
	}
}

// reply converts doc into a response struct.
func reply(doc map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}
