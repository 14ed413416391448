// Package password hashes and verifies the operator-provisioned passwords of
// the status backend.
//
// Two encodings are understood and told apart by prefix:
//
//	$2a$/$2b$/$2y$...                                 bcrypt
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Verify] dispatches on the prefix, so a user table may mix both.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords.
package password
