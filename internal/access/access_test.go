package access

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

var (
	alice = data.NewIdentity("alice")
	bob   = data.NewIdentity("bob")
	eve   = data.NewIdentity("eve")
)

func TestDirectConversationRules(t *testing.T) {
	c := data.NewDirectConversation("alice", "bob", time.Now())

	assert.True(t, CanView(alice, c))
	assert.True(t, CanPost(alice, c))
	assert.True(t, CanClose(bob, c))
	assert.False(t, CanView(eve, c))
	assert.False(t, CanPost(eve, c))
	assert.False(t, CanClose(eve, c))

	// a member who left loses access; the remaining one keeps it
	c.Members = []string{"bob"}
	assert.False(t, CanView(alice, c))
	assert.True(t, CanPost(bob, c))
}

func TestAdConversationRules(t *testing.T) {
	c := &data.AdConversation{Inquirer: "alice", Owner: "bob", Members: []string{"alice", "bob"}, Active: true}
	assert.True(t, CanPost(alice, c))
	assert.NoError(t, RequirePost(bob, c))

	c.Active = false
	c.Members = []string{"alice"}
	assert.True(t, CanView(alice, c))
	assert.False(t, CanPost(alice, c))
	assert.True(t, CanClose(alice, c))

	assert.True(t, errors.Is(RequirePost(alice, c), apperr.ErrConversationClosed))
	// the owner left, but a closed conversation reads as closed to both parties
	assert.True(t, errors.Is(RequirePost(bob, c), apperr.ErrConversationClosed))
	assert.True(t, errors.Is(RequirePost(eve, c), apperr.ErrPermissionDenied))
	assert.True(t, errors.Is(RequireView(bob, c), apperr.ErrPermissionDenied))
}

func TestRequireNeverReportsNotFound(t *testing.T) {
	c := &data.AdConversation{Members: []string{"alice"}}
	for _, err := range []error{RequireView(eve, c), RequirePost(eve, c), RequireClose(eve, c)} {
		assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
		assert.False(t, errors.Is(err, apperr.ErrNotFound))
	}
}

func TestMembershipIsExactAndNormalized(t *testing.T) {
	c := &data.DirectConversation{Members: []string{"annika"}}
	// substring of a member handle is not membership
	assert.False(t, CanView(data.NewIdentity("ann"), c))
	assert.True(t, CanView(data.Identity{Handle: " Annika "}, c))
	assert.False(t, CanView(data.Identity{}, c))
	assert.False(t, CanView(alice, nil))
}

func TestIsAdOwner(t *testing.T) {
	ad := &data.Ad{Owner: "Bob"}
	assert.True(t, IsAdOwner(bob, ad))
	assert.False(t, IsAdOwner(alice, ad))
	assert.False(t, IsAdOwner(bob, nil))
}
