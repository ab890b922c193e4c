package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/db"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// Store bundles the MongoDB stores behind the single interface the
// conversation managers and the catalog consume.
type Store struct {
	*UsersStore
	*CatalogStore
	*ConversationsStore

	client   *db.Client
	messages *MessagesStore
	shortIDs map[shortid.Namespace]shortIDField
}

type shortIDField struct {
	coll  *mongo.Collection
	field string
}

// NewStore wires every store to its collection on c.
func NewStore(c *db.Client) *Store {
	msgs := NewMessagesStore(c.MessagesCollection())
	return &Store{
		UsersStore:         NewUsersStore(c.UsersCollection()),
		CatalogStore:       NewCatalogStore(c.TeamsCollection(), c.AdsCollection(), c.PlayersCollection()),
		ConversationsStore: NewConversationsStore(c.DirectConversationsCollection(), c.AdConversationsCollection(), msgs),
		client:             c,
		messages:           msgs,
		shortIDs: map[shortid.Namespace]shortIDField{
			shortid.Ads:           {c.AdsCollection(), "ad_id"},
			shortid.Teams:         {c.TeamsCollection(), "team_id"},
			shortid.Conversations: {c.AdConversationsCollection(), "conversation_id"},
		},
	}
}

// RunInTx runs fn in a MongoDB transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.client.RunInTx(ctx, fn)
}

// ShortIDExists reports whether value is assigned in ns.
func (s *Store) ShortIDExists(ctx context.Context, ns shortid.Namespace, value int) (bool, error) {
	f, ok := s.shortIDs[ns]
	if !ok {
		return false, fmt.Errorf("unknown short id namespace %q", ns)
	}
	n, err := f.coll.CountDocuments(ctx, bson.M{f.field: value})
	if err != nil {
		return false, wrapErr(err, "store.ShortIDExists")
	}
	return n > 0, nil
}

// AppendMessage stores a message and bumps the conversation's
// last_message_at. The message is stamped with the bumped time, so history
// sorted by created_at is commit order. Run inside RunInTx: the bump makes
// the append conflict with a concurrent append, close or delete of the same
// conversation.
func (s *Store) AppendMessage(ctx context.Context, kind Kind, conversationID bson.ObjectID, author, content string, createdAt time.Time) (*Message, error) {
	at, err := s.TouchConversation(ctx, kind, conversationID, createdAt)
	if err != nil {
		return nil, err
	}
	return s.messages.SaveMessage(ctx, kind, conversationID, author, content, at)
}

// ListMessages returns a conversation's messages in commit order.
func (s *Store) ListMessages(ctx context.Context, conversationID bson.ObjectID) ([]*Message, error) {
	return s.messages.GetMessageHistory(ctx, conversationID)
}
