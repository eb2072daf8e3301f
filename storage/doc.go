// Package storage defines the persistence contract shared by every store backend:
// row models, sentinel errors and the [Store] interface.
//
// Backends live in sub-packages (gormstore, redisstore, mongostore) and are verified
// against one conformance suite in storagetest.
//
// # Atomicity requirements
//
// [Store.RotateRefreshToken] must claim the old token (set used_at only where it is
// still null) and insert its successor as one unit: either both happen or neither
// does. [Store.RevokeRefreshToken] and [Store.RevokeAllRefreshTokens] must be single
// conditional writes so concurrent callers never double-count.
package storage
