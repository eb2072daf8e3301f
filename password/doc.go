// Package password implements the credential hasher: Argon2id with parameters fixed
// at construction.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The parameters travel with every hash, so [Argon2.Verify] keeps working after the
// configured cost changes. [Argon2.NeedsUpgrade] reports hashes produced with weaker
// parameters so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length limits)
// is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
