package mongostore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokenwarden/authcore/storage"
)

// tokenRows models the used_at guard of the tokens collection.
type tokenRows struct {
	consumed map[string]bool
	stored   map[string]bool
}

func newTokenRows(hashes ...string) *tokenRows {
	r := &tokenRows{consumed: map[string]bool{}, stored: map[string]bool{}}
	for _, h := range hashes {
		r.stored[h] = true
	}
	return r
}

func (r *tokenRows) claim(hash string) func(context.Context) error {
	return func(context.Context) error {
		if !r.stored[hash] || r.consumed[hash] {
			return errNotClaimed
		}
		r.consumed[hash] = true
		return nil
	}
}

// revokeActive mirrors RevokeAllRefreshTokens: only unconsumed rows are touched.
func (r *tokenRows) revokeActive() int {
	n := 0
	for h := range r.stored {
		if !r.consumed[h] {
			r.consumed[h] = true
			n++
		}
	}
	return n
}

func (r *tokenRows) active(hash string) bool {
	return r.stored[hash] && !r.consumed[hash]
}

func TestClaimThenInsertFirstAttempt(t *testing.T) {
	rows := newTokenRows("old")
	inserts := 0

	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		inserts++
		rows.stored["next"] = true
		return nil
	}, successorInsertAttempts)

	require.NoError(t, err)
	require.Equal(t, 1, inserts)
	require.False(t, rows.active("old"))
	require.True(t, rows.active("next"))
}

func TestClaimThenInsertLostClaimSkipsInsert(t *testing.T) {
	rows := newTokenRows("old")
	rows.consumed["old"] = true

	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		t.Fatal("insert must not run without a claim")
		return nil
	}, successorInsertAttempts)

	require.ErrorIs(t, err, errNotClaimed)
}

func TestClaimThenInsertRetriesTransientFailure(t *testing.T) {
	rows := newTokenRows("old")
	inserts := 0

	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		inserts++
		if inserts == 1 {
			return errors.New("connection reset")
		}
		rows.stored["next"] = true
		return nil
	}, successorInsertAttempts)

	require.NoError(t, err)
	require.Equal(t, 2, inserts)
	require.True(t, rows.active("next"))
}

func TestClaimThenInsertDuplicateOnRetryMeansStored(t *testing.T) {
	rows := newTokenRows("old")
	inserts := 0

	// First write lands but the acknowledgement is lost.
	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		inserts++
		if rows.stored["next"] {
			return storage.ErrTokenExists
		}
		rows.stored["next"] = true
		return errors.New("write concern timeout")
	}, successorInsertAttempts)

	require.NoError(t, err)
	require.Equal(t, 2, inserts)
}

func TestClaimThenInsertDuplicateOnFirstAttemptFails(t *testing.T) {
	rows := newTokenRows("old")

	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		return storage.ErrTokenExists
	}, successorInsertAttempts)

	require.ErrorIs(t, err, storage.ErrTokenExists)
	require.False(t, rows.active("old"))
}

func TestClaimThenInsertFailureKeepsConcurrentRevocation(t *testing.T) {
	rows := newTokenRows("old", "sibling")
	insertErr := errors.New("primary stepped down")
	revoked := -1

	err := claimThenInsert(context.Background(), rows.claim("old"), func(context.Context) error {
		if revoked < 0 {
			// A concurrent presenter of the same token loses the claim and revokes
			// the family. The claimed row is already consumed and is skipped.
			require.ErrorIs(t, rows.claim("old")(context.Background()), errNotClaimed)
			revoked = rows.revokeActive()
		}
		return insertErr
	}, successorInsertAttempts)

	require.ErrorIs(t, err, insertErr)
	require.Equal(t, 1, revoked)
	require.False(t, rows.active("old"), "claimed row must stay consumed after a failed insert")
	require.False(t, rows.active("sibling"))
	require.False(t, rows.stored["next"])
}

func TestClaimThenInsertStopsOnCancelledContext(t *testing.T) {
	rows := newTokenRows("old")
	ctx, cancel := context.WithCancel(context.Background())
	inserts := 0

	err := claimThenInsert(ctx, rows.claim("old"), func(ctx context.Context) error {
		inserts++
		cancel()
		return ctx.Err()
	}, successorInsertAttempts)

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, inserts)
	require.False(t, rows.active("old"))
}
