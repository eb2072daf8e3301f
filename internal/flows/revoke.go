package flows

import (
	"context"
	"time"

	"github.com/tokenwarden/authcore/refresh"
)

// RevokeDeps captures logout dependencies.
type RevokeDeps struct {
	Store RevokeStore
	Now   func() time.Time
}

// RunInvalidateOne consumes the row behind one presented refresh token. Malformed,
// unknown and already consumed tokens report false without error, so repeated
// calls are harmless.
func RunInvalidateOne(ctx context.Context, presented string, deps RevokeDeps) (bool, error) {
	if refresh.Validate(presented) != nil {
		return false, nil
	}
	return deps.Store.RevokeRefreshToken(ctx, refresh.Digest(presented), nowFunc(deps.Now)().UTC())
}

// RunInvalidateAll consumes every Active row of userID in one store statement.
func RunInvalidateAll(ctx context.Context, userID string, deps RevokeDeps) (int64, error) {
	return deps.Store.RevokeAllRefreshTokens(ctx, userID, nowFunc(deps.Now)().UTC())
}
