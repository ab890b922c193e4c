package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// SaveMessage inserts a message document and returns the saved record.
func (m *MessagesStore) SaveMessage(ctx context.Context, kind Kind, conversationID bson.ObjectID, author, content string, createdAt time.Time) (*Message, error) {
	msg := &Message{
		ConversationID: conversationID,
		Kind:           kind,
		Author:         normalize.Handle(author),
		Content:        content,
		CreatedAt:      createdAt,
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, wrapErr(err, "messagesStore.SaveMessage")
	}

	// Extract MongoDB's auto-generated _id and populate in struct
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetMessageHistory returns all messages of a conversation ordered oldest to
// newest. Store.AppendMessage stamps created_at strictly increasing per
// conversation, so this is commit order; ObjectIDs only break ties for rows
// written around it.
func (m *MessagesStore) GetMessageHistory(ctx context.Context, conversationID bson.ObjectID) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, wrapErr(err, "messagesStore.GetMessageHistory")
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, wrapErr(err, "messagesStore.GetMessageHistory.decode")
	}
	return messages, nil
}

// DeleteConversationMessages removes every message of a conversation.
func (m *MessagesStore) DeleteConversationMessages(ctx context.Context, conversationID bson.ObjectID) error {
	_, err := m.coll.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return wrapErr(err, "messagesStore.DeleteConversationMessages")
}
