// Package memstore is an in-process implementation of the conversation and
// catalog stores. It enforces the same uniqueness constraints as the MongoDB
// indexes and backs STORE=memory runs and the tests.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

type txKey struct{}

// Store keeps everything in maps behind one mutex. A transaction holds the
// mutex for its whole duration and restores a snapshot if fn fails.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	users    map[string]data.User
	teams    map[int]data.Team
	ads      map[int]data.Ad
	players  map[playerKey]data.PlayerProfile
	direct   map[bson.ObjectID]data.DirectConversation
	adConvs  map[bson.ObjectID]data.AdConversation
	messages map[bson.ObjectID][]data.Message
}

func newState() *state {
	return &state{
		users:    map[string]data.User{},
		teams:    map[int]data.Team{},
		ads:      map[int]data.Ad{},
		players:  map[playerKey]data.PlayerProfile{},
		direct:   map[bson.ObjectID]data.DirectConversation{},
		adConvs:  map[bson.ObjectID]data.AdConversation{},
		messages: map[bson.ObjectID][]data.Message{},
	}
}

// clone copies the maps and every slice they hold.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.ads {
		c.ads[k] = v
	}
	for k, v := range s.players {
		c.players[k] = v
	}
	for k, v := range s.direct {
		v.Members = slices.Clone(v.Members)
		c.direct[k] = v
	}
	for k, v := range s.adConvs {
		v.Members = slices.Clone(v.Members)
		c.adConvs[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = slices.Clone(v)
	}
	return c
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// lock takes the mutex unless ctx already belongs to a transaction on s.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn with exclusive access to the store. If fn returns an error
// every change it made is discarded.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// ShortIDExists reports whether value is assigned in ns.
func (s *Store) ShortIDExists(ctx context.Context, ns shortid.Namespace, value int) (bool, error) {
	defer s.lock(ctx)()
	switch ns {
	case shortid.Ads:
		_, ok := s.st.ads[value]
		return ok, nil
	case shortid.Teams:
		_, ok := s.st.teams[value]
		return ok, nil
	case shortid.Conversations:
		return s.conversationIDTaken(value), nil
	default:
		return false, fmt.Errorf("unknown short id namespace %q", ns)
	}
}

func (s *Store) conversationIDTaken(id int) bool {
	for _, c := range s.st.adConvs {
		if c.ConversationID == id {
			return true
		}
	}
	return false
}

// CreateUser registers a handle.
func (s *Store) CreateUser(ctx context.Context, handle string) (*data.User, error) {
	defer s.lock(ctx)()
	h := normalize.Handle(handle)
	if _, ok := s.st.users[h]; ok {
		return nil, data.ErrUserExists
	}
	u := data.User{ID: bson.NewObjectID(), Handle: h, CreatedAt: time.Now()}
	s.st.users[h] = u
	return &u, nil
}

// GetUserByHandle finds a user by handle.
func (s *Store) GetUserByHandle(ctx context.Context, handle string) (*data.User, error) {
	defer s.lock(ctx)()
	u, ok := s.st.users[normalize.Handle(handle)]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return &u, nil
}

// UserExists checks if a user exists by handle.
func (s *Store) UserExists(ctx context.Context, handle string) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.st.users[normalize.Handle(handle)]
	return ok, nil
}

// CreateTeam inserts t; a taken team id is a shortid.ErrCollision.
func (s *Store) CreateTeam(ctx context.Context, t *data.Team) error {
	defer s.lock(ctx)()
	if _, ok := s.st.teams[t.TeamID]; ok {
		return shortid.ErrCollision
	}
	t.ID = bson.NewObjectID()
	s.st.teams[t.TeamID] = *t
	return nil
}

// GetTeam looks a team up by its public id.
func (s *Store) GetTeam(ctx context.Context, teamID int) (*data.Team, error) {
	defer s.lock(ctx)()
	t, ok := s.st.teams[teamID]
	if !ok {
		return nil, apperr.NotFound("team not found")
	}
	return &t, nil
}

// CreateAd inserts a; a taken ad id is a shortid.ErrCollision.
func (s *Store) CreateAd(ctx context.Context, a *data.Ad) error {
	defer s.lock(ctx)()
	if _, ok := s.st.ads[a.AdID]; ok {
		return shortid.ErrCollision
	}
	a.ID = bson.NewObjectID()
	s.st.ads[a.AdID] = *a
	return nil
}

// GetAd looks an ad up by its public id.
func (s *Store) GetAd(ctx context.Context, adID int) (*data.Ad, error) {
	defer s.lock(ctx)()
	a, ok := s.st.ads[adID]
	if !ok {
		return nil, apperr.ErrAdNotFound
	}
	return &a, nil
}

// byCreation orders oldest first with ties broken by key, the same order the
// Mongo store sorts lists in.
func byCreation(ta, tb time.Time, ka, kb bson.ObjectID) int {
	if c := ta.Compare(tb); c != 0 {
		return c
	}
	return bytes.Compare(ka[:], kb[:])
}

type playerKey struct {
	owner, sport string
}

func newPlayerKey(owner, sport string) playerKey {
	return playerKey{owner: normalize.Handle(owner), sport: sport}
}

// CreatePlayer registers a player profile for (owner, sport).
func (s *Store) CreatePlayer(ctx context.Context, p *data.PlayerProfile) error {
	defer s.lock(ctx)()
	k := newPlayerKey(p.Owner, p.Sport)
	if _, ok := s.st.players[k]; ok {
		return data.ErrPlayerExists
	}
	p.ID = bson.NewObjectID()
	p.Owner = normalize.Handle(p.Owner)
	s.st.players[k] = *p
	return nil
}

// HasPlayerProfile reports whether handle has a player profile for sport.
func (s *Store) HasPlayerProfile(ctx context.Context, handle, sport string) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.st.players[newPlayerKey(handle, sport)]
	return ok, nil
}

// CreateDirectConversation inserts c unless its pair already has one.
func (s *Store) CreateDirectConversation(ctx context.Context, c *data.DirectConversation) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.direct {
		if existing.UserLo == c.UserLo && existing.UserHi == c.UserHi {
			return data.ErrDuplicateConversation
		}
	}
	c.ID = bson.NewObjectID()
	stored := *c
	stored.Members = normalize.Handles(c.Members...)
	s.st.direct[c.ID] = stored
	return nil
}

// FindDirectConversation returns the conversation between a and b, or nil.
func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (*data.DirectConversation, error) {
	defer s.lock(ctx)()
	for _, c := range s.st.direct {
		if c.IsPair(a, b) {
			return copyDirect(c), nil
		}
	}
	return nil, nil
}

// GetDirectConversation loads a direct conversation by key.
func (s *Store) GetDirectConversation(ctx context.Context, id bson.ObjectID) (*data.DirectConversation, error) {
	defer s.lock(ctx)()
	c, ok := s.st.direct[id]
	if !ok {
		return nil, apperr.ErrConversationGone
	}
	return copyDirect(c), nil
}

// ListDirectConversations returns the conversations handle is a member of,
// oldest first.
func (s *Store) ListDirectConversations(ctx context.Context, handle string) ([]*data.DirectConversation, error) {
	defer s.lock(ctx)()
	h := normalize.Handle(handle)
	var out []*data.DirectConversation
	for _, c := range s.st.direct {
		if slices.Contains(c.Members, h) {
			out = append(out, copyDirect(c))
		}
	}
	slices.SortStableFunc(out, func(a, b *data.DirectConversation) int { return byCreation(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return out, nil
}

// CreateAdConversation inserts c. A taken public id is a
// shortid.ErrCollision; a second open conversation for the same inquirer
// and ad is ErrDuplicateConversation.
func (s *Store) CreateAdConversation(ctx context.Context, c *data.AdConversation) error {
	defer s.lock(ctx)()
	if s.conversationIDTaken(c.ConversationID) {
		return shortid.ErrCollision
	}
	inquirer := normalize.Handle(c.Inquirer)
	if c.Active {
		for _, existing := range s.st.adConvs {
			if existing.Active && existing.Inquirer == inquirer && existing.AdID == c.AdID {
				return data.ErrDuplicateConversation
			}
		}
	}
	c.ID = bson.NewObjectID()
	stored := *c
	stored.Inquirer = inquirer
	stored.Members = normalize.Handles(c.Members...)
	s.st.adConvs[c.ID] = stored
	return nil
}

// FindActiveAdConversation returns the open conversation inquirer has about
// adID, or nil.
func (s *Store) FindActiveAdConversation(ctx context.Context, inquirer string, adID int) (*data.AdConversation, error) {
	defer s.lock(ctx)()
	h := normalize.Handle(inquirer)
	for _, c := range s.st.adConvs {
		if c.Active && c.Inquirer == h && c.AdID == adID {
			return copyAd(c), nil
		}
	}
	return nil, nil
}

// GetAdConversation looks an ad conversation up by its public id.
func (s *Store) GetAdConversation(ctx context.Context, conversationID int) (*data.AdConversation, error) {
	defer s.lock(ctx)()
	for _, c := range s.st.adConvs {
		if c.ConversationID == conversationID {
			return copyAd(c), nil
		}
	}
	return nil, apperr.ErrConversationGone
}

// GetAdConversationByKey loads an ad conversation by its internal key.
func (s *Store) GetAdConversationByKey(ctx context.Context, id bson.ObjectID) (*data.AdConversation, error) {
	defer s.lock(ctx)()
	c, ok := s.st.adConvs[id]
	if !ok {
		return nil, apperr.ErrConversationGone
	}
	return copyAd(c), nil
}

// ListAdConversations returns the ad conversations handle is a member of,
// oldest first.
func (s *Store) ListAdConversations(ctx context.Context, handle string) ([]*data.AdConversation, error) {
	defer s.lock(ctx)()
	h := normalize.Handle(handle)
	var out []*data.AdConversation
	for _, c := range s.st.adConvs {
		if slices.Contains(c.Members, h) {
			out = append(out, copyAd(c))
		}
	}
	slices.SortStableFunc(out, func(a, b *data.AdConversation) int { return byCreation(a.CreatedAt, b.CreatedAt, a.ID, b.ID) })
	return out, nil
}

// SetAdConversationActive flips the open/closed flag.
func (s *Store) SetAdConversationActive(ctx context.Context, id bson.ObjectID, active bool) error {
	defer s.lock(ctx)()
	c, ok := s.st.adConvs[id]
	if !ok {
		return apperr.ErrConversationGone
	}
	c.Active = active
	s.st.adConvs[id] = c
	return nil
}

// AppendMessage stores a message at the end of the conversation's history.
func (s *Store) AppendMessage(ctx context.Context, kind data.Kind, id bson.ObjectID, author, content string, createdAt time.Time) (*data.Message, error) {
	defer s.lock(ctx)()
	if !s.exists(kind, id) {
		return nil, apperr.ErrConversationGone
	}
	m := data.Message{
		ID:             bson.NewObjectID(),
		ConversationID: id,
		Kind:           kind,
		Author:         normalize.Handle(author),
		Content:        content,
		CreatedAt:      s.touch(kind, id, createdAt),
	}
	s.st.messages[id] = append(s.st.messages[id], m)
	return &m, nil
}

// ListMessages returns a conversation's messages in append order.
func (s *Store) ListMessages(ctx context.Context, id bson.ObjectID) ([]*data.Message, error) {
	defer s.lock(ctx)()
	msgs := s.st.messages[id]
	out := make([]*data.Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		out = append(out, &m)
	}
	return out, nil
}

// MutateMembership removes then adds members and reports the member count
// before and after.
func (s *Store) MutateMembership(ctx context.Context, kind data.Kind, id bson.ObjectID, add, remove []string) (*data.Membership, error) {
	defer s.lock(ctx)()

	var members []string
	switch kind {
	case data.KindDirect:
		c, ok := s.st.direct[id]
		if !ok {
			return nil, apperr.ErrConversationGone
		}
		members = c.Members
	case data.KindAd:
		c, ok := s.st.adConvs[id]
		if !ok {
			return nil, apperr.ErrConversationGone
		}
		members = c.Members
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", kind)
	}

	before := len(members)
	rm := normalize.Handles(remove...)
	after := slices.DeleteFunc(slices.Clone(members), func(h string) bool { return slices.Contains(rm, h) })
	for _, h := range normalize.Handles(add...) {
		if !slices.Contains(after, h) {
			after = append(after, h)
		}
	}

	switch kind {
	case data.KindDirect:
		c := s.st.direct[id]
		c.Members = after
		s.st.direct[id] = c
	case data.KindAd:
		c := s.st.adConvs[id]
		c.Members = after
		s.st.adConvs[id] = c
	}
	return &data.Membership{Before: before, After: len(after), Members: slices.Clone(after)}, nil
}

// DeleteConversation removes the conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, kind data.Kind, id bson.ObjectID) error {
	defer s.lock(ctx)()
	switch kind {
	case data.KindDirect:
		delete(s.st.direct, id)
	case data.KindAd:
		delete(s.st.adConvs, id)
	default:
		return fmt.Errorf("unknown conversation kind %q", kind)
	}
	delete(s.st.messages, id)
	return nil
}

func (s *Store) exists(kind data.Kind, id bson.ObjectID) bool {
	switch kind {
	case data.KindDirect:
		_, ok := s.st.direct[id]
		return ok
	case data.KindAd:
		_, ok := s.st.adConvs[id]
		return ok
	}
	return false
}

// touch bumps last_message_at to at, or one millisecond past the previous
// message, and returns the stored time.
func (s *Store) touch(kind data.Kind, id bson.ObjectID, at time.Time) time.Time {
	after := func(last time.Time) time.Time {
		if !last.IsZero() && !at.After(last) {
			return last.Add(time.Millisecond)
		}
		return at
	}
	switch kind {
	case data.KindDirect:
		c := s.st.direct[id]
		c.LastMessageAt = after(c.LastMessageAt)
		s.st.direct[id] = c
		return c.LastMessageAt
	case data.KindAd:
		c := s.st.adConvs[id]
		c.LastMessageAt = after(c.LastMessageAt)
		s.st.adConvs[id] = c
		return c.LastMessageAt
	}
	return at
}

func copyDirect(c data.DirectConversation) *data.DirectConversation {
	c.Members = slices.Clone(c.Members)
	return &c
}

func copyAd(c data.AdConversation) *data.AdConversation {
	c.Members = slices.Clone(c.Members)
	return &c
}
