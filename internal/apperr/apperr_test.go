package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	assert.True(t, errors.Is(ErrSelfInquiry, ErrInvalidTarget))
	assert.True(t, errors.Is(ErrSelfConversation, ErrInvalidTarget))
	assert.True(t, errors.Is(ErrSelfInquiry, ErrSelfInquiry))
	assert.False(t, errors.Is(ErrSelfInquiry, ErrSelfConversation))
	assert.False(t, errors.Is(ErrNotMember, ErrNotFound))
	assert.False(t, errors.Is(ErrConversationGone, ErrPermissionDenied))
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("leave: %w", ErrNotMember)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
	assert.True(t, IsCode(err, CodePermissionDenied))

	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestStoreUnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := StoreUnavailable(cause)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "store unavailable: connection reset", err.Error())
}
