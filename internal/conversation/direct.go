package conversation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/access"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// DirectManager manages peer-to-peer conversations. A pair of handles has at
// most one conversation; leaving only drops membership until nobody is left.
type DirectManager struct {
	*core
}

// NewDirectManager returns a DirectManager backed by store.
func NewDirectManager(store Store, opts ...Option) *DirectManager {
	return &DirectManager{core: newCore(store, opts)}
}

// GetOrCreate returns the conversation between self and peer, creating it on
// first contact. Both sides are (re-)added as members, so a side that left
// earlier rejoins the same conversation with its history intact.
func (m *DirectManager) GetOrCreate(ctx context.Context, self data.Identity, peerHandle string) (*data.DirectConversation, error) {
	me, peer := normalize.Handle(self.Handle), normalize.Handle(peerHandle)
	if me == peer {
		return nil, apperr.ErrSelfConversation
	}

	var conv *data.DirectConversation
	err := m.retry(ctx, func() error {
		ok, err := m.store.UserExists(ctx, peer)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrUserNotFound
		}

		conv, err = m.open(ctx, me, peer)
		if errors.Is(err, data.ErrDuplicateConversation) {
			// a concurrent request created it first; this pass finds theirs
			conv, err = m.open(ctx, me, peer)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (m *DirectManager) open(ctx context.Context, me, peer string) (*data.DirectConversation, error) {
	var conv *data.DirectConversation
	err := m.store.RunInTx(ctx, func(ctx context.Context) error {
		c, err := m.store.FindDirectConversation(ctx, me, peer)
		if err != nil {
			return err
		}
		if c == nil {
			c = data.NewDirectConversation(me, peer, m.clock.Now())
			if err := m.store.CreateDirectConversation(ctx, c); err != nil {
				return err
			}
			conv = c
			return nil
		}

		mem, err := m.store.MutateMembership(ctx, data.KindDirect, c.ID, []string{me, peer}, nil)
		if err != nil {
			return err
		}
		c.Members = mem.Members
		conv = c
		return nil
	})
	return conv, err
}

// Find returns the conversation self is a member of with peer, without
// creating or rejoining anything. A conversation self has left is reported
// as NotFound.
func (m *DirectManager) Find(ctx context.Context, self data.Identity, peerHandle string) (*data.DirectConversation, error) {
	me, peer := normalize.Handle(self.Handle), normalize.Handle(peerHandle)
	if me == peer {
		return nil, apperr.ErrSelfConversation
	}

	var conv *data.DirectConversation
	err := m.retry(ctx, func() error {
		c, err := m.store.FindDirectConversation(ctx, me, peer)
		if err != nil {
			return err
		}
		if c == nil || !c.HasMember(me) {
			return apperr.ErrConversationGone
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// PostMessage appends a message from author. Direct conversations are never
// closed, so only membership and content are checked.
func (m *DirectManager) PostMessage(ctx context.Context, conv *data.DirectConversation, author data.Identity, content string) (*data.Message, error) {
	var msg *data.Message
	err := m.inTx(ctx, func(ctx context.Context) error {
		fresh, err := m.store.GetDirectConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if err := access.RequirePost(author, fresh); err != nil {
			return err
		}
		body, err := m.content(content)
		if err != nil {
			return err
		}
		msg, err = m.store.AppendMessage(ctx, data.KindDirect, fresh.ID, author.Handle, body, m.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Leave removes who from the conversation. When the last member leaves the
// conversation is deleted together with its messages.
func (m *DirectManager) Leave(ctx context.Context, conv *data.DirectConversation, who data.Identity) error {
	return m.inTx(ctx, func(ctx context.Context) error {
		fresh, err := m.store.GetDirectConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if err := access.RequireClose(who, fresh); err != nil {
			return err
		}
		mem, err := m.store.MutateMembership(ctx, data.KindDirect, fresh.ID, nil, []string{who.Handle})
		if err != nil {
			return err
		}
		if mem.After == 0 {
			return m.store.DeleteConversation(ctx, data.KindDirect, fresh.ID)
		}
		return nil
	})
}

// List returns every direct conversation who is a current member of.
func (m *DirectManager) List(ctx context.Context, who data.Identity) ([]*data.DirectConversation, error) {
	var out []*data.DirectConversation
	err := m.retry(ctx, func() error {
		var err error
		out, err = m.store.ListDirectConversations(ctx, who.Handle)
		return err
	})
	return out, err
}

// Messages returns the conversation's history, oldest first.
func (m *DirectManager) Messages(ctx context.Context, conv *data.DirectConversation, who data.Identity) ([]*data.Message, error) {
	var out []*data.Message
	err := m.retry(ctx, func() error {
		fresh, err := m.store.GetDirectConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if err := access.RequireView(who, fresh); err != nil {
			return err
		}
		out, err = m.store.ListMessages(ctx, fresh.ID)
		return err
	})
	return out, err
}
