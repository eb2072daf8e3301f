// Package refresh implements generation and validation utilities for opaque rotating
// refresh tokens.
//
// # Token format
//
// 32 bytes from a cryptographically secure source, base64url-encoded without padding
// (43 characters). Tokens carry no structure: they are bearer secrets and are never
// stored in plaintext. Stores retain only [Digest], the hex SHA-256 of the token.
//
// # Architecture boundaries
//
// This package owns token encoding and structural validation. Rotation policy, reuse
// detection and mass revocation are handled by the Engine and the store.
//
// # What this package must NOT do
//
//   - Perform storage or network I/O.
//   - Import authcore, jwt, or storage.
//   - Implement rotation or replay logic.
package refresh
