// Package conversation implements the direct and ad conversation managers:
// find-or-create with dedup, membership teardown and the open/closed rules
// for posting.
package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// Store is the persistence contract the managers consume. data.Store (MongoDB)
// and memstore.Store implement it. Uniqueness of direct pairs, of open ad
// conversations per (inquirer, ad) and of short ids is enforced by the store.
type Store interface {
	shortid.Checker

	// RunInTx runs fn atomically; store calls made with the ctx passed to fn
	// join the transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	UserExists(ctx context.Context, handle string) (bool, error)
	GetAd(ctx context.Context, adID int) (*data.Ad, error)
	HasPlayerProfile(ctx context.Context, handle, sport string) (bool, error)

	CreateDirectConversation(ctx context.Context, c *data.DirectConversation) error
	FindDirectConversation(ctx context.Context, a, b string) (*data.DirectConversation, error)
	GetDirectConversation(ctx context.Context, id bson.ObjectID) (*data.DirectConversation, error)
	ListDirectConversations(ctx context.Context, handle string) ([]*data.DirectConversation, error)

	CreateAdConversation(ctx context.Context, c *data.AdConversation) error
	FindActiveAdConversation(ctx context.Context, inquirer string, adID int) (*data.AdConversation, error)
	GetAdConversation(ctx context.Context, conversationID int) (*data.AdConversation, error)
	GetAdConversationByKey(ctx context.Context, id bson.ObjectID) (*data.AdConversation, error)
	ListAdConversations(ctx context.Context, handle string) ([]*data.AdConversation, error)
	SetAdConversationActive(ctx context.Context, id bson.ObjectID, active bool) error

	AppendMessage(ctx context.Context, kind data.Kind, id bson.ObjectID, author, content string, createdAt time.Time) (*data.Message, error)
	ListMessages(ctx context.Context, id bson.ObjectID) ([]*data.Message, error)
	MutateMembership(ctx context.Context, kind data.Kind, id bson.ObjectID, add, remove []string) (*data.Membership, error)
	DeleteConversation(ctx context.Context, kind data.Kind, id bson.ObjectID) error
}
