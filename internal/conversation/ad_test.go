package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/memstore"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

var (
	owner    = data.NewIdentity("olle")
	inquirer = data.NewIdentity("ida")
	other    = data.NewIdentity("oskar")
)

const adID = 424242

func seedAd(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for _, h := range []string{"olle", "ida", "oskar"} {
		_, err := store.CreateUser(ctx, h)
		require.NoError(t, err)
	}
	require.NoError(t, store.CreateAd(ctx, &data.Ad{
		AdID:     adID,
		Owner:    "olle",
		Sport:    "fotboll",
		Position: "målvakt",
		Title:    "IFK söker målvakt",
	}))
	require.NoError(t, store.CreatePlayer(ctx, &data.PlayerProfile{Owner: "ida", Sport: "fotboll"}))
	require.NoError(t, store.CreatePlayer(ctx, &data.PlayerProfile{Owner: "oskar", Sport: "fotboll"}))
	return store
}

func newAdFixture(t *testing.T) (*memstore.Store, *AdManager) {
	store := seedAd(t)
	return store, NewAdManager(store, shortid.NewAllocator(store), WithStoreRetries(3, time.Millisecond))
}

func TestAdGetOrCreate(t *testing.T) {
	ctx := context.Background()
	_, m := newAdFixture(t)

	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	assert.True(t, conv.Active)
	assert.ElementsMatch(t, []string{"ida", "olle"}, conv.Members)
	assert.GreaterOrEqual(t, conv.ConversationID, shortid.Min)
	assert.LessOrEqual(t, conv.ConversationID, shortid.Max)
	assert.Equal(t, "IFK söker målvakt", conv.AdTitle)

	again, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	assert.Equal(t, conv.ConversationID, again.ConversationID)

	// a second inquirer gets a separate conversation about the same ad
	theirs, err := m.GetOrCreate(ctx, other, adID)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ConversationID, theirs.ConversationID)
}

func TestAdSelfInquiryWritesNothing(t *testing.T) {
	ctx := context.Background()
	store, m := newAdFixture(t)
	require.NoError(t, store.CreatePlayer(ctx, &data.PlayerProfile{Owner: "olle", Sport: "fotboll"}))

	_, err := m.GetOrCreate(ctx, data.NewIdentity(" OLLE "), adID)
	assert.True(t, errors.Is(err, apperr.ErrSelfInquiry))
	assert.True(t, errors.Is(err, apperr.ErrInvalidTarget))

	convs, err := store.ListAdConversations(ctx, "olle")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAdRequiresPlayerProfile(t *testing.T) {
	ctx := context.Background()
	store, m := newAdFixture(t)
	_, err := store.CreateUser(ctx, "nils")
	require.NoError(t, err)

	_, err = m.GetOrCreate(ctx, data.NewIdentity("nils"), adID)
	assert.Equal(t, apperr.CodeMissingProfile, apperr.CodeOf(err))

	// a profile for another sport does not count
	require.NoError(t, store.CreatePlayer(ctx, &data.PlayerProfile{Owner: "nils", Sport: "bandy"}))
	_, err = m.GetOrCreate(ctx, data.NewIdentity("nils"), adID)
	assert.True(t, errors.Is(err, apperr.ErrMissingProfile))
}

func TestAdUnknownAd(t *testing.T) {
	_, m := newAdFixture(t)
	_, err := m.GetOrCreate(context.Background(), inquirer, 111111)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAdCloseByOwnerThenReinquire(t *testing.T) {
	ctx := context.Background()
	store, m := newAdFixture(t)

	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	_, err = m.PostMessage(ctx, conv, inquirer, "Hej, är platsen ledig?")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, conv, owner))

	closed, err := m.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.False(t, closed.Active)
	assert.Equal(t, []string{"ida"}, closed.Members)

	_, err = m.PostMessage(ctx, conv, inquirer, "hallå?")
	assert.True(t, errors.Is(err, apperr.ErrConversationClosed))
	_, err = m.PostMessage(ctx, conv, owner, "sorry")
	assert.True(t, errors.Is(err, apperr.ErrConversationClosed))
	_, err = m.PostMessage(ctx, conv, other, "me too")
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	// the inquirer keeps the history readable
	history, err := m.Messages(ctx, conv, inquirer)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	_, err = m.View(ctx, conv.ConversationID, owner)
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	fresh, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ConversationID, fresh.ConversationID)
	assert.True(t, fresh.Active)
	assert.ElementsMatch(t, []string{"ida", "olle"}, fresh.Members)

	all, err := store.ListAdConversations(ctx, "ida")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAdCloseByBothDeletes(t *testing.T) {
	ctx := context.Background()
	store, m := newAdFixture(t)

	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	_, err = m.PostMessage(ctx, conv, owner, "Välkommen på provträning")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, conv, inquirer))
	require.NoError(t, m.Close(ctx, conv, owner))

	_, err = m.Get(ctx, conv.ConversationID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	taken, err := store.ShortIDExists(ctx, shortid.Conversations, conv.ConversationID)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestAdStaleHandleAfterIdReuse(t *testing.T) {
	ctx := context.Background()
	store := seedAd(t)
	// every draw lands on the same id, so a freed id is handed out again
	ids := shortid.NewAllocator(store, shortid.WithRand(func(int) int { return 0 }))
	m := NewAdManager(store, ids)

	old, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, old, inquirer))
	require.NoError(t, m.Close(ctx, old, owner))

	fresh, err := m.GetOrCreate(ctx, other, adID)
	require.NoError(t, err)
	require.Equal(t, old.ConversationID, fresh.ConversationID)
	require.NotEqual(t, old.ID, fresh.ID)

	_, err = m.PostMessage(ctx, old, owner, "till fel konversation")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, err = m.Messages(ctx, old, owner)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	err = m.Close(ctx, old, owner)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	still, err := m.Get(ctx, fresh.ConversationID)
	require.NoError(t, err)
	assert.True(t, still.Active)
	assert.ElementsMatch(t, []string{"oskar", "olle"}, still.Members)
	msgs, err := store.ListMessages(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAdCloseByNonMember(t *testing.T) {
	ctx := context.Background()
	_, m := newAdFixture(t)
	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)

	err = m.Close(ctx, conv, other)
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	still, err := m.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.True(t, still.Active)
}

func TestAdPostMessageChecksGuardBeforeContent(t *testing.T) {
	ctx := context.Background()
	_, m := newAdFixture(t)
	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)

	_, err = m.PostMessage(ctx, conv, other, "")
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	_, err = m.PostMessage(ctx, conv, inquirer, "   ")
	assert.True(t, errors.Is(err, apperr.ErrEmptyContent))
}

func TestAdNamespaceExhausted(t *testing.T) {
	ctx := context.Background()
	store := seedAd(t)
	// every draw lands on the same id
	ids := shortid.NewAllocator(store, shortid.WithMaxAttempts(5), shortid.WithRand(func(int) int { return 0 }))
	m := NewAdManager(store, ids)

	_, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)

	_, err = m.GetOrCreate(ctx, other, adID)
	assert.True(t, errors.Is(err, apperr.ErrNamespaceExhausted))

	convs, err := store.ListAdConversations(ctx, "oskar")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAdConcurrentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store, m := newAdFixture(t)

	var wg sync.WaitGroup
	got := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.GetOrCreate(ctx, inquirer, adID)
			if assert.NoError(t, err) {
				got <- c.ConversationID
			}
		}()
	}
	wg.Wait()
	close(got)

	seen := map[int]bool{}
	for id := range got {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	convs, err := store.ListAdConversations(ctx, "ida")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestAdRetriesStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := seedAd(t)
	flaky := &flakyStore{Store: store}
	flaky.failures.Store(1)

	m := NewAdManager(flaky, shortid.NewAllocator(flaky), WithStoreRetries(2, time.Millisecond))
	conv, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	assert.True(t, conv.Active)
}

func TestAdList(t *testing.T) {
	ctx := context.Background()
	_, m := newAdFixture(t)

	a, err := m.GetOrCreate(ctx, inquirer, adID)
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, other, adID)
	require.NoError(t, err)

	mine, err := m.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	require.NoError(t, m.Close(ctx, a, owner))
	mine, err = m.List(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
