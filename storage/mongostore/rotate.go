package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokenwarden/authcore/storage"
)

const successorInsertAttempts = 3

// claimThenInsert rotates without a transaction. Once claim succeeds the old row stays
// consumed whatever happens next: a concurrent loser may already have revoked the
// family around it, and releasing the claim would hand that row back as Active.
//
// The successor insert is retried with the same document. A duplicate key on a retry
// means an earlier attempt was stored even though it reported an error.
func claimThenInsert(ctx context.Context, claim, insert func(context.Context) error, attempts int) error {
	if err := claim(ctx); err != nil {
		return err
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = insert(ctx)
		switch {
		case err == nil:
			return nil
		case i > 0 && errors.Is(err, storage.ErrTokenExists):
			return nil
		case errors.Is(err, storage.ErrTokenExists):
			return fmt.Errorf("insert successor: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("insert successor after claim: %w", err)
}
