// Package password hashes backup-store credentials with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The backup store keeps only these strings, never plaintext. Password policy
// is the remote backend's concern; any non-empty password is accepted here.
package password
