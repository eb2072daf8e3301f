// Package authcore is a credential and token engine: Argon2id password
// verification, short-lived JWT access tokens, and rotating opaque refresh
// tokens with reuse detection.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], the
// [Error] type and value types ([User], [TokenPair], [MetricsSnapshot]). Flow
// orchestration, audit dispatch and logging live under internal/. Persistence is
// supplied by the caller as a [storage.Store]; gormstore, redisstore and
// mongostore are the bundled implementations.
//
// # Refresh rotation
//
// A refresh token is usable exactly once. Presenting a consumed token, or losing
// the atomic claim to a concurrent caller, is treated as theft: every active
// refresh token of the user is revoked and [ErrRefreshTokenReuse] is returned.
//
// # What this package must NOT do
//
//   - Store raw refresh tokens. Only their SHA-256 digest reaches the store.
//   - Distinguish unknown identifiers from wrong passwords in returned errors.
//   - Touch the store in [Engine.ValidateAccess].
package authcore
