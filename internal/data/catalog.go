package data

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/db"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/shortid"
)

// ErrPlayerExists is returned when a handle already has a profile for a sport.
var ErrPlayerExists = errors.New("player profile already exists")

// CatalogStore persists teams, ads and player profiles. Conversations only
// read from it.
type CatalogStore struct {
	teams   *mongo.Collection
	ads     *mongo.Collection
	players *mongo.Collection
}

// NewCatalogStore returns a CatalogStore over the given collections.
func NewCatalogStore(teams, ads, players *mongo.Collection) *CatalogStore {
	return &CatalogStore{teams: teams, ads: ads, players: players}
}

// CreateTeam inserts t; a taken team_id surfaces as shortid.ErrCollision.
func (s *CatalogStore) CreateTeam(ctx context.Context, t *Team) error {
	res, err := s.teams.InsertOne(ctx, t)
	if err != nil {
		if isDuplicateOn(err, db.IndexUniqueTeamID) {
			return shortid.ErrCollision
		}
		return wrapErr(err, "catalogStore.CreateTeam")
	}
	t.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// GetTeam looks a team up by its public id.
func (s *CatalogStore) GetTeam(ctx context.Context, teamID int) (*Team, error) {
	var t Team
	err := s.teams.FindOne(ctx, bson.M{"team_id": teamID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("team not found")
	}
	if err != nil {
		return nil, wrapErr(err, "catalogStore.GetTeam")
	}
	return &t, nil
}

// CreateAd inserts a; a taken ad_id surfaces as shortid.ErrCollision.
func (s *CatalogStore) CreateAd(ctx context.Context, a *Ad) error {
	res, err := s.ads.InsertOne(ctx, a)
	if err != nil {
		if isDuplicateOn(err, db.IndexUniqueAdID) {
			return shortid.ErrCollision
		}
		return wrapErr(err, "catalogStore.CreateAd")
	}
	a.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// GetAd looks an ad up by its public id.
func (s *CatalogStore) GetAd(ctx context.Context, adID int) (*Ad, error) {
	var a Ad
	err := s.ads.FindOne(ctx, bson.M{"ad_id": adID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.ErrAdNotFound
	}
	if err != nil {
		return nil, wrapErr(err, "catalogStore.GetAd")
	}
	return &a, nil
}

// CreatePlayer registers a player profile for (owner, sport).
func (s *CatalogStore) CreatePlayer(ctx context.Context, p *PlayerProfile) error {
	p.Owner = normalize.Handle(p.Owner)
	res, err := s.players.InsertOne(ctx, p)
	if err != nil {
		if isDuplicateOn(err, db.IndexUniquePlayer) {
			return ErrPlayerExists
		}
		return wrapErr(err, "catalogStore.CreatePlayer")
	}
	p.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// HasPlayerProfile reports whether handle has a player profile for sport.
func (s *CatalogStore) HasPlayerProfile(ctx context.Context, handle, sport string) (bool, error) {
	n, err := s.players.CountDocuments(ctx, bson.M{"owner": normalize.Handle(handle), "sport": sport})
	if err != nil {
		return false, wrapErr(err, "catalogStore.HasPlayerProfile")
	}
	return n > 0, nil
}
