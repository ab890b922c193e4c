package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/memstore"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

var olle = data.NewIdentity("olle")

func newCatalog() (*memstore.Store, *Catalog) {
	store := memstore.New()
	return store, New(store, shortid.NewAllocator(store))
}

func TestCreateTeamAndAd(t *testing.T) {
	ctx := context.Background()
	store, c := newCatalog()

	team, err := c.CreateTeam(ctx, olle, " Fotboll ", "Älvsjö AIK")
	require.NoError(t, err)
	assert.Equal(t, "fotboll", team.Sport)
	assert.Equal(t, "alvsjo-aik", team.Slug)
	assert.GreaterOrEqual(t, team.TeamID, shortid.Min)

	ad, err := c.CreateAd(ctx, olle, team.TeamID, "Målvakt", "Vi tränar två gånger i veckan.")
	require.NoError(t, err)
	assert.Equal(t, "Älvsjö AIK söker målvakt", ad.Title)
	assert.Equal(t, "alvsjo-aik-soker-malvakt", ad.Slug)
	assert.Equal(t, "olle", ad.Owner)
	assert.Equal(t, "fotboll", ad.Sport)
	assert.Equal(t, team.TeamID, ad.TeamID)

	stored, err := store.GetAd(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, ad.Title, stored.Title)
}

func TestCreateAdRequiresTeamOwner(t *testing.T) {
	ctx := context.Background()
	_, c := newCatalog()

	team, err := c.CreateTeam(ctx, olle, "bandy", "Hammarby")
	require.NoError(t, err)

	_, err = c.CreateAd(ctx, data.NewIdentity("ida"), team.TeamID, "back", "")
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	_, err = c.CreateAd(ctx, olle, 999998, "back", "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = c.CreateAd(ctx, olle, team.TeamID, "  ", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTarget))
}

func TestTeamAndAdNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	// both namespaces draw the same first value
	c := New(store, shortid.NewAllocator(store, shortid.WithRand(func(int) int { return 0 })))

	team, err := c.CreateTeam(ctx, olle, "fotboll", "IFK")
	require.NoError(t, err)
	ad, err := c.CreateAd(ctx, olle, team.TeamID, "anfallare", "")
	require.NoError(t, err)
	assert.Equal(t, team.TeamID, ad.AdID)

	_, err = c.CreateTeam(ctx, olle, "fotboll", "IFK 2")
	assert.True(t, errors.Is(err, apperr.ErrNamespaceExhausted))
}

func TestCreatePlayer(t *testing.T) {
	ctx := context.Background()
	store, c := newCatalog()

	p, err := c.CreatePlayer(ctx, data.NewIdentity(" Ida "), "Fotboll")
	require.NoError(t, err)
	assert.Equal(t, "ida", p.Owner)

	ok, err := store.HasPlayerProfile(ctx, "ida", "fotboll")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.CreatePlayer(ctx, data.NewIdentity("ida"), "fotboll")
	assert.ErrorIs(t, err, data.ErrPlayerExists)

	_, err = c.CreatePlayer(ctx, data.NewIdentity("ida"), "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTarget))
}
