package data

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/apperr"
)

// wrapErr annotates a driver error with the failing operation. Network
// failures and timeouts become StoreUnavailable so callers can retry them.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.StoreUnavailable(errors.Wrap(err, op))
	}
	return errors.Wrap(err, op)
}

// isDuplicateOn reports whether err is a duplicate key error raised by the
// named unique index.
func isDuplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}
