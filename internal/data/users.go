// Package data provides DB models and the MongoDB-backed stores.
package data

import (
	"context" // Used for cancellation and timeouts
	"time"    // Timestamps

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// ErrUserExists is returned when a handle is already registered.
var ErrUserExists = errors.New("user already exists")

// UsersStore is the user directory. Accounts are provisioned elsewhere; this
// service only needs to know whether a handle exists.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document.
func (u *UsersStore) CreateUser(ctx context.Context, handle string) (*User, error) {
	user := &User{
		Handle:    normalize.Handle(handle),
		CreatedAt: time.Now(),
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// Check if error is due to duplicate handle (unique constraint violation)
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, wrapErr(err, "usersStore.CreateUser")
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByHandle finds a user by handle.
func (u *UsersStore) GetUserByHandle(ctx context.Context, handle string) (*User, error) {
	var user User

	err := u.coll.FindOne(ctx, bson.M{"handle": normalize.Handle(handle)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, wrapErr(err, "usersStore.GetUserByHandle")
	}

	return &user, nil
}

// UserExists checks if a user exists by handle.
func (u *UsersStore) UserExists(ctx context.Context, handle string) (bool, error) {
	// CountDocuments is cheaper than FindOne when you only need to know if it exists
	count, err := u.coll.CountDocuments(ctx, bson.M{"handle": normalize.Handle(handle)})
	if err != nil {
		return false, wrapErr(err, "usersStore.UserExists")
	}

	return count > 0, nil
}
