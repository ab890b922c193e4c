package data

import (
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// Kind tags which conversation variant a message or membership change
// belongs to.
type Kind string

const (
	KindDirect Kind = "pm"
	KindAd     Kind = "ad"
)

// ErrDuplicateConversation is returned by stores when a create loses a
// dedup race (same direct pair, or a second active ad conversation for the
// same inquirer and ad).
var ErrDuplicateConversation = errors.New("conversation already exists")

// Identity is an authenticated principal, addressed by its handle.
type Identity struct {
	Handle string
}

// NewIdentity returns an Identity with a normalized handle.
func NewIdentity(handle string) Identity {
	return Identity{Handle: normalize.Handle(handle)}
}

// User maps to users collection (handle, timestamps)
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Handle    string        `bson:"handle"`
	CreatedAt time.Time     `bson:"created_at"`
}

// DirectConversation maps to direct_conversations collection. (UserLo,
// UserHi) is unique, so two handles share at most one conversation however
// often members leave and come back.
type DirectConversation struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	UserLo    string        `bson:"user_lo"`
	UserHi    string        `bson:"user_hi"`
	Members   []string      `bson:"members"`
	CreatedAt time.Time     `bson:"created_at"`
	// LastMessageAt is touched by every append so that appends conflict
	// with concurrent teardown inside transactions.
	LastMessageAt time.Time `bson:"last_message_at,omitempty"`
}

// NewDirectConversation returns a conversation between a and b with both as
// members.
func NewDirectConversation(a, b string, createdAt time.Time) *DirectConversation {
	lo, hi := normalize.Pair(a, b)
	return &DirectConversation{UserLo: lo, UserHi: hi, Members: []string{lo, hi}, CreatedAt: createdAt}
}

// IsPair reports whether the conversation is between exactly a and b.
func (c *DirectConversation) IsPair(a, b string) bool {
	lo, hi := normalize.Pair(a, b)
	return c.UserLo == lo && c.UserHi == hi
}

// HasMember reports whether handle is a current member.
func (c *DirectConversation) HasMember(handle string) bool {
	return slices.Contains(c.Members, normalize.Handle(handle))
}

// IsOpen is always true: direct conversations have no closed state.
func (c *DirectConversation) IsOpen() bool { return true }

// Key returns the internal conversation key.
func (c *DirectConversation) Key() bson.ObjectID { return c.ID }

// Peer returns the other side of the conversation from self's point of view,
// derived from the pair so it survives membership churn.
func (c *DirectConversation) Peer(self string) string {
	if c.UserLo == normalize.Handle(self) {
		return c.UserHi
	}
	return c.UserLo
}

// AdConversation maps to ad_conversations collection.
type AdConversation struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID int           `bson:"conversation_id"`
	AdID           int           `bson:"ad_id"`
	AdTitle        string        `bson:"ad_title"`
	Inquirer       string        `bson:"inquirer"`
	Owner          string        `bson:"owner"`
	Members        []string      `bson:"members"`
	Active         bool          `bson:"active"`
	CreatedAt      time.Time     `bson:"created_at"`
	LastMessageAt  time.Time     `bson:"last_message_at,omitempty"`
}

// HasMember reports whether handle is a current member.
func (c *AdConversation) HasMember(handle string) bool {
	return slices.Contains(c.Members, normalize.Handle(handle))
}

// IsParticipant reports whether handle was one of the two original parties,
// whether or not it is still a member.
func (c *AdConversation) IsParticipant(handle string) bool {
	h := normalize.Handle(handle)
	return h != "" && (h == c.Inquirer || h == c.Owner || c.HasMember(h))
}

// IsOpen reports whether new messages may be appended.
func (c *AdConversation) IsOpen() bool { return c.Active }

// Key returns the internal conversation key.
func (c *AdConversation) Key() bson.ObjectID { return c.ID }

// Message maps to messages collection. Both conversation kinds share it.
type Message struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID bson.ObjectID `bson:"conversation_id"`
	Kind           Kind          `bson:"kind"`
	Author         string        `bson:"author"`
	Content        string        `bson:"content"`
	CreatedAt      time.Time     `bson:"created_at"`
}

// Membership is the result of a membership mutation.
type Membership struct {
	Before  int
	After   int
	Members []string
}

// Team maps to teams collection.
type Team struct {
	ID     bson.ObjectID `bson:"_id,omitempty"`
	TeamID int           `bson:"team_id"`
	Owner  string        `bson:"owner"`
	Sport  string        `bson:"sport"`
	Name   string        `bson:"name"`
	Slug   string        `bson:"slug"`
}

// Ad maps to ads collection. Owner is the handle of the owning team's user.
type Ad struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	AdID        int           `bson:"ad_id"`
	TeamID      int           `bson:"team_id"`
	Owner       string        `bson:"owner"`
	Sport       string        `bson:"sport"`
	Position    string        `bson:"position"`
	Title       string        `bson:"title"`
	Slug        string        `bson:"slug"`
	Description string        `bson:"description"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// PlayerProfile maps to players collection; one per (owner, sport).
type PlayerProfile struct {
	ID    bson.ObjectID `bson:"_id,omitempty"`
	Owner string        `bson:"owner"`
	Sport string        `bson:"sport"`
}
