// Package catalog creates the teams, ads and player profiles that ad
// conversations are anchored to.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// Store is what the catalog needs from persistence.
type Store interface {
	shortid.Checker
	CreateTeam(ctx context.Context, t *data.Team) error
	GetTeam(ctx context.Context, teamID int) (*data.Team, error)
	CreateAd(ctx context.Context, a *data.Ad) error
	CreatePlayer(ctx context.Context, p *data.PlayerProfile) error
}

var ErrNotTeamOwner = apperr.PermissionDenied("only the team owner can publish ads")

// Catalog is safe for concurrent use.
type Catalog struct {
	store Store
	ids   *shortid.Allocator
	now   func() time.Time
}

func New(store Store, ids *shortid.Allocator) *Catalog {
	return &Catalog{store: store, ids: ids, now: time.Now}
}

// CreateTeam registers a team owned by owner and gives it a public id.
func (c *Catalog) CreateTeam(ctx context.Context, owner data.Identity, sport, name string) (*data.Team, error) {
	name = strings.TrimSpace(name)
	sport = normalizeSport(sport)
	if name == "" || sport == "" {
		return nil, apperr.InvalidTarget("team needs a name and a sport")
	}
	t := &data.Team{
		Owner: normalize.Handle(owner.Handle),
		Sport: sport,
		Name:  name,
		Slug:  slug.MakeLang(name, "sv"),
	}
	_, err := c.ids.Assign(ctx, shortid.Teams, func(ctx context.Context, id int) error {
		t.TeamID = id
		return c.store.CreateTeam(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateAd publishes an ad for teamID looking for position. Only the team's
// owner may publish, and the ad inherits the team's owner and sport.
func (c *Catalog) CreateAd(ctx context.Context, owner data.Identity, teamID int, position, description string) (*data.Ad, error) {
	position = strings.TrimSpace(position)
	if position == "" {
		return nil, apperr.InvalidTarget("ad needs a position")
	}
	team, err := c.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.Owner != normalize.Handle(owner.Handle) {
		return nil, ErrNotTeamOwner
	}

	title := Title(team.Name, position)
	a := &data.Ad{
		TeamID:      team.TeamID,
		Owner:       team.Owner,
		Sport:       team.Sport,
		Position:    position,
		Title:       title,
		Slug:        slug.MakeLang(title, "sv"),
		Description: strings.TrimSpace(description),
		CreatedAt:   c.now().UTC(),
	}
	_, err = c.ids.Assign(ctx, shortid.Ads, func(ctx context.Context, id int) error {
		a.AdID = id
		return c.store.CreateAd(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreatePlayer registers owner as a player in sport, which is what allows
// them to inquire about that sport's ads.
func (c *Catalog) CreatePlayer(ctx context.Context, owner data.Identity, sport string) (*data.PlayerProfile, error) {
	sport = normalizeSport(sport)
	if sport == "" {
		return nil, apperr.InvalidTarget("player profile needs a sport")
	}
	p := &data.PlayerProfile{Owner: normalize.Handle(owner.Handle), Sport: sport}
	if err := c.store.CreatePlayer(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Title is the display title of an ad.
func Title(team, position string) string {
	return fmt.Sprintf("%s söker %s", team, strings.ToLower(position))
}

func normalizeSport(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
