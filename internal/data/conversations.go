package data

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/db"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// ConversationsStore persists direct and ad conversations and their
// membership. Message rows live in MessagesStore; deleting a conversation
// cascades to them.
type ConversationsStore struct {
	direct *mongo.Collection
	ads    *mongo.Collection
	msgs   *MessagesStore
}

// NewConversationsStore returns a ConversationsStore over the given
// collections.
func NewConversationsStore(direct, ads *mongo.Collection, msgs *MessagesStore) *ConversationsStore {
	return &ConversationsStore{direct: direct, ads: ads, msgs: msgs}
}

func (s *ConversationsStore) collection(kind Kind) (*mongo.Collection, error) {
	switch kind {
	case KindDirect:
		return s.direct, nil
	case KindAd:
		return s.ads, nil
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", kind)
	}
}

// CreateDirectConversation inserts c. A concurrent create for the same pair
// fails with ErrDuplicateConversation.
func (s *ConversationsStore) CreateDirectConversation(ctx context.Context, c *DirectConversation) error {
	res, err := s.direct.InsertOne(ctx, c)
	if err != nil {
		if isDuplicateOn(err, db.IndexUniquePair) {
			return ErrDuplicateConversation
		}
		return wrapErr(err, "conversationsStore.CreateDirectConversation")
	}
	c.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// FindDirectConversation returns the conversation between a and b, or nil if
// none exists. Membership is not considered: a conversation both sides have
// left is already deleted.
func (s *ConversationsStore) FindDirectConversation(ctx context.Context, a, b string) (*DirectConversation, error) {
	var c DirectConversation
	lo, hi := normalize.Pair(a, b)
	err := s.direct.FindOne(ctx, bson.M{"user_lo": lo, "user_hi": hi}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.FindDirectConversation")
	}
	return &c, nil
}

// GetDirectConversation loads a direct conversation by key.
func (s *ConversationsStore) GetDirectConversation(ctx context.Context, id bson.ObjectID) (*DirectConversation, error) {
	var c DirectConversation
	err := s.direct.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConversationGone
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.GetDirectConversation")
	}
	return &c, nil
}

// ListDirectConversations returns every direct conversation handle is a
// current member of, oldest first.
func (s *ConversationsStore) ListDirectConversations(ctx context.Context, handle string) ([]*DirectConversation, error) {
	cursor, err := s.direct.Find(ctx, bson.M{"members": normalize.Handle(handle)}, byCreation)
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.ListDirectConversations")
	}
	defer cursor.Close(ctx)

	var out []*DirectConversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, wrapErr(err, "conversationsStore.ListDirectConversations.decode")
	}
	return out, nil
}

// CreateAdConversation inserts c. A taken conversation_id surfaces as
// shortid.ErrCollision; a second open conversation for the same inquirer and
// ad surfaces as ErrDuplicateConversation.
func (s *ConversationsStore) CreateAdConversation(ctx context.Context, c *AdConversation) error {
	res, err := s.ads.InsertOne(ctx, c)
	if err != nil {
		switch {
		case isDuplicateOn(err, db.IndexUniqueConversationID):
			return shortid.ErrCollision
		case isDuplicateOn(err, db.IndexUniqueActiveInquiry):
			return ErrDuplicateConversation
		}
		return wrapErr(err, "conversationsStore.CreateAdConversation")
	}
	c.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// FindActiveAdConversation returns the open conversation inquirer has about
// adID, or nil.
func (s *ConversationsStore) FindActiveAdConversation(ctx context.Context, inquirer string, adID int) (*AdConversation, error) {
	var c AdConversation
	filter := bson.M{"inquirer": normalize.Handle(inquirer), "ad_id": adID, "active": true}
	err := s.ads.FindOne(ctx, filter).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.FindActiveAdConversation")
	}
	return &c, nil
}

// GetAdConversation looks an ad conversation up by its public id.
func (s *ConversationsStore) GetAdConversation(ctx context.Context, conversationID int) (*AdConversation, error) {
	var c AdConversation
	err := s.ads.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConversationGone
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.GetAdConversation")
	}
	return &c, nil
}

// GetAdConversationByKey loads an ad conversation by its internal key. Unlike
// the public id, the key is never reused after a delete.
func (s *ConversationsStore) GetAdConversationByKey(ctx context.Context, id bson.ObjectID) (*AdConversation, error) {
	var c AdConversation
	err := s.ads.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConversationGone
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.GetAdConversationByKey")
	}
	return &c, nil
}

// ListAdConversations returns every ad conversation handle is a current
// member of, open or closed, oldest first.
func (s *ConversationsStore) ListAdConversations(ctx context.Context, handle string) ([]*AdConversation, error) {
	cursor, err := s.ads.Find(ctx, bson.M{"members": normalize.Handle(handle)}, byCreation)
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.ListAdConversations")
	}
	defer cursor.Close(ctx)

	var out []*AdConversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, wrapErr(err, "conversationsStore.ListAdConversations.decode")
	}
	return out, nil
}

// SetAdConversationActive flips the open/closed flag.
func (s *ConversationsStore) SetAdConversationActive(ctx context.Context, id bson.ObjectID, active bool) error {
	res, err := s.ads.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"active": active}})
	if err != nil {
		return wrapErr(err, "conversationsStore.SetAdConversationActive")
	}
	if res.MatchedCount == 0 {
		return apperr.ErrConversationGone
	}
	return nil
}

var byCreation = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

type membersDoc struct {
	Members []string `bson:"members"`
}

// MutateMembership removes then adds members and reports the member count
// before and after. Callers that act on the result (teardown) must run it
// inside RunInTx.
func (s *ConversationsStore) MutateMembership(ctx context.Context, kind Kind, id bson.ObjectID, add, remove []string) (*Membership, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return nil, err
	}

	var cur membersDoc
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&cur); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrConversationGone
		}
		return nil, wrapErr(err, "conversationsStore.MutateMembership.load")
	}

	after := cur.Members
	// $pull and $addToSet on the same field cannot share one update.
	if rm := normalize.Handles(remove...); len(rm) > 0 {
		if after, err = s.updateMembers(ctx, coll, id, bson.M{"$pull": bson.M{"members": bson.M{"$in": rm}}}); err != nil {
			return nil, err
		}
	}
	if ad := normalize.Handles(add...); len(ad) > 0 {
		if after, err = s.updateMembers(ctx, coll, id, bson.M{"$addToSet": bson.M{"members": bson.M{"$each": ad}}}); err != nil {
			return nil, err
		}
	}

	return &Membership{Before: len(cur.Members), After: len(after), Members: after}, nil
}

func (s *ConversationsStore) updateMembers(ctx context.Context, coll *mongo.Collection, id bson.ObjectID, update bson.M) ([]string, error) {
	var doc membersDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrConversationGone
	}
	if err != nil {
		return nil, wrapErr(err, "conversationsStore.MutateMembership.update")
	}
	return doc.Members, nil
}

// TouchConversation records the time of the latest message and returns the
// time actually stored: at, or one millisecond past the previous message if
// at is not later. Per conversation the stored times therefore follow
// commit order even when API instances disagree about the clock. It fails
// with NotFound if the conversation was deleted.
func (s *ConversationsStore) TouchConversation(ctx context.Context, kind Kind, id bson.ObjectID, at time.Time) (time.Time, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return time.Time{}, err
	}
	// $add on a missing field yields null, which $max ignores
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{{Key: "last_message_at", Value: bson.D{
		{Key: "$max", Value: bson.A{at, bson.D{{Key: "$add", Value: bson.A{"$last_message_at", 1}}}}},
	}}}}}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"last_message_at": 1})

	var doc struct {
		LastMessageAt time.Time `bson:"last_message_at"`
	}
	err = coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, apperr.ErrConversationGone
	}
	if err != nil {
		return time.Time{}, wrapErr(err, "conversationsStore.TouchConversation")
	}
	return doc.LastMessageAt.UTC(), nil
}

// DeleteConversation removes the conversation and all of its messages. Run
// it inside RunInTx so readers never see messages without a conversation.
func (s *ConversationsStore) DeleteConversation(ctx context.Context, kind Kind, id bson.ObjectID) error {
	coll, err := s.collection(kind)
	if err != nil {
		return err
	}
	if err := s.msgs.DeleteConversationMessages(ctx, id); err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return wrapErr(err, "conversationsStore.DeleteConversation")
	}
	return nil
}
