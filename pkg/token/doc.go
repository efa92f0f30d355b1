// Package token provides random token generation and digest utilities.
//
// This package implements cryptographically secure token generation,
// used for admin request ids.
//
// Security:
//
//   - Uses crypto/rand for CSPRNG
//   - SHA-256 hashing with constant-time comparison
//   - Tokens are never stored, only hashes
//
// @design DS-0101
// @adr AD-0101
package token
