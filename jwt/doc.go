// Package jwt signs and verifies the short-lived access tokens handed out next to
// every refresh token.
//
// Access tokens are stateless: verification needs only the configured public key (or
// HMAC secret) and never touches storage. Claims carry the user id, role and email
// plus the registered iat/exp and optional iss/aud.
package jwt
