// Package adaptive provides adaptive encryption for corestore.
//
// This package implements a cipher abstraction whose New selects the
// encryption algorithm by target architecture.
//
// Supported Algorithms:
//
//   - AES-GCM (AES-128/192/256 by key length): selected by New on amd64 and arm64
//   - ChaCha20-Poly1305 (32-byte key): selected by New on other architectures
//
// Features:
//
//   - Architecture-based selection: runtime.GOARCH decides; CPU features are not probed
//   - AEAD: Authenticated encryption with associated data
//   - Keys are used as given; the package does no key derivation
//   - Thread Safety: All cipher operations are thread-safe
//
// Usage:
//
//	cipher, err := adaptive.New(key)
//	encrypted, err := cipher.Encrypt(plaintext, aad)
//	plaintext, err := cipher.Decrypt(encrypted, aad)
//
// @adr AD-0201
package adaptive
