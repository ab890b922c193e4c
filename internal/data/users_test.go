package data

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
)

func TestUsersCreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "  Ida ")
	require.NoError(t, err)
	assert.False(t, u.ID.IsZero())
	assert.Equal(t, "ida", u.Handle)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.GetUserByHandle(ctx, "IDA")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.CreateUser(ctx, "ida")
	assert.True(t, errors.Is(err, ErrUserExists), "got %v", err)

	_, err = s.GetUserByHandle(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound), "got %v", err)
}

func TestUserExists(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ok, err := s.UserExists(ctx, "olle")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreateUser(ctx, "Olle")
	require.NoError(t, err)

	ok, err = s.UserExists(ctx, "OLLE")
	require.NoError(t, err)
	assert.True(t, ok)
}
