package conversation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/access"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// AdManager manages inquiry conversations anchored to an ad. Unlike direct
// conversations they close once one side leaves, and a closed conversation
// is never reopened: the next inquiry starts a fresh one.
type AdManager struct {
	*core
	ids *shortid.Allocator
}

// NewAdManager returns an AdManager that allocates conversation ids with ids.
func NewAdManager(store Store, ids *shortid.Allocator, opts ...Option) *AdManager {
	return &AdManager{core: newCore(store, opts), ids: ids}
}

// GetOrCreate returns the open conversation inquirer has about the ad,
// creating one with a fresh public id if there is none. Inquiring about your
// own ad fails with ErrSelfInquiry before anything is written.
func (m *AdManager) GetOrCreate(ctx context.Context, inquirer data.Identity, adID int) (*data.AdConversation, error) {
	me := normalize.Handle(inquirer.Handle)

	var conv *data.AdConversation
	err := m.retry(ctx, func() error {
		ad, err := m.store.GetAd(ctx, adID)
		if err != nil {
			return err
		}
		if access.IsAdOwner(inquirer, ad) {
			return apperr.ErrSelfInquiry
		}
		ok, err := m.store.HasPlayerProfile(ctx, me, ad.Sport)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrMissingProfile
		}

		conv, err = m.open(ctx, me, ad)
		if errors.Is(err, data.ErrDuplicateConversation) {
			// lost the race to a concurrent inquiry; return the winner
			conv, err = m.store.FindActiveAdConversation(ctx, me, ad.AdID)
			if err == nil && conv == nil {
				err = data.ErrDuplicateConversation
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (m *AdManager) open(ctx context.Context, me string, ad *data.Ad) (*data.AdConversation, error) {
	c, err := m.store.FindActiveAdConversation(ctx, me, ad.AdID)
	if err != nil || c != nil {
		return c, err
	}

	owner := normalize.Handle(ad.Owner)
	c = &data.AdConversation{
		AdID:      ad.AdID,
		AdTitle:   ad.Title,
		Inquirer:  me,
		Owner:     owner,
		Members:   []string{me, owner},
		Active:    true,
		CreatedAt: m.clock.Now(),
	}
	// Each attempt is a single insert guarded by the unique conversation_id
	// index; a collision at commit draws a new id.
	_, err = m.ids.Assign(ctx, shortid.Conversations, func(ctx context.Context, id int) error {
		c.ConversationID = id
		return m.store.CreateAdConversation(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get looks a conversation up by its public id.
func (m *AdManager) Get(ctx context.Context, conversationID int) (*data.AdConversation, error) {
	var conv *data.AdConversation
	err := m.retry(ctx, func() error {
		var err error
		conv, err = m.store.GetAdConversation(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// View is Get for a caller that must be a member: NotFound when the
// conversation does not exist, PermissionDenied when who is not part of it.
func (m *AdManager) View(ctx context.Context, conversationID int, who data.Identity) (*data.AdConversation, error) {
	conv, err := m.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := access.RequireView(who, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// PostMessage appends a message from author. Closed conversations accept
// nothing, from either side.
func (m *AdManager) PostMessage(ctx context.Context, conv *data.AdConversation, author data.Identity, content string) (*data.Message, error) {
	var msg *data.Message
	err := m.inTx(ctx, func(ctx context.Context) error {
		fresh, err := m.store.GetAdConversationByKey(ctx, conv.ID)
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
		msg, err = m.store.AppendMessage(ctx, data.KindAd, fresh.ID, author.Handle, body, m.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Close removes who from the conversation. If the other side is still a
// member the conversation is closed and kept as read-only history for them;
// if nobody is left it is deleted with its messages.
func (m *AdManager) Close(ctx context.Context, conv *data.AdConversation, who data.Identity) error {
	return m.inTx(ctx, func(ctx context.Context) error {
		fresh, err := m.store.GetAdConversationByKey(ctx, conv.ID)
		if err != nil {
			return err
		}
		if err := access.RequireClose(who, fresh); err != nil {
			return err
		}
		mem, err := m.store.MutateMembership(ctx, data.KindAd, fresh.ID, nil, []string{who.Handle})
		if err != nil {
			return err
		}
		switch {
		case mem.After == 0:
			return m.store.DeleteConversation(ctx, data.KindAd, fresh.ID)
		case mem.Before >= 2:
			return m.store.SetAdConversationActive(ctx, fresh.ID, false)
		}
		return nil
	})
}

// List returns every ad conversation who is a current member of.
func (m *AdManager) List(ctx context.Context, who data.Identity) ([]*data.AdConversation, error) {
	var out []*data.AdConversation
	err := m.retry(ctx, func() error {
		var err error
		out, err = m.store.ListAdConversations(ctx, who.Handle)
		return err
	})
	return out, err
}

// Messages returns the conversation's history, oldest first.
func (m *AdManager) Messages(ctx context.Context, conv *data.AdConversation, who data.Identity) ([]*data.Message, error) {
	var out []*data.Message
	err := m.retry(ctx, func() error {
		fresh, err := m.store.GetAdConversationByKey(ctx, conv.ID)
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
